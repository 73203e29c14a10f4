package service

import (
	"DriveVault/internal/repo"
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing record and one owned by someone else.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidArgument reports malformed input such as an empty name or term.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstream reports a failing blob store or metadata store.
	ErrUpstream = errors.New("upstream failure")
	// ErrConflict reports a storage key collision.
	ErrConflict = errors.New("storage key conflict")
)

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}

// recordError folds record store errors into the broker taxonomy.
func recordError(op string, err error) error {
	if errors.Is(err, repo.ErrRecordNotFound) {
		return ErrNotFound
	}
	return upstream(op, err)
}

// resultLabel names the outcome of an operation for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "upstream"
	}
}
