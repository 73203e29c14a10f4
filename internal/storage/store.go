package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by StatObject when no blob exists at the key.
var ErrObjectNotFound = errors.New("object not found")

// PutOptions describes upload options for object storage.
type PutOptions struct {
	ContentType string
}

// ObjectInfo is the subset of blob metadata the service needs.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// BlobStore abstracts the object store: byte storage keyed by an opaque
// string plus time-limited signed retrieval URLs.
type BlobStore interface {
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) error
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	// RemoveObject treats an absent key as success.
	RemoveObject(ctx context.Context, key string) error
	// PresignedGetObject signs a GET for key valid for expiry. params may
	// carry response-* overrides (content type, disposition).
	PresignedGetObject(ctx context.Context, key string, expiry time.Duration, params map[string]string) (string, error)
}
