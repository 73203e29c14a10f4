package service

import (
	"DriveVault/model"
	"context"
	"io"
	"time"
)

// Principal is the caller every broker operation is scoped to.
type Principal = model.Principal

// Upload carries the bytes and client metadata of a new file. Body is
// streamed to the blob store; Size must be known up front.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AccessLink is a signed, time-limited URL for one blob.
type AccessLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessibleFile pairs a record with a freshly minted link to its bytes.
type AccessibleFile struct {
	Record model.FileRecord
	URL    string
}

// RecordStore is the metadata side of the broker. Lookups and mutations
// take the owner so foreign records behave as missing.
type RecordStore interface {
	Create(ctx context.Context, record *model.FileRecord) error
	FindOwned(ctx context.Context, ownerID, id string) (*model.FileRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error)
	SearchByOwner(ctx context.Context, ownerID, term string) ([]model.FileRecord, error)
	UpdateName(ctx context.Context, ownerID, id, name string, at time.Time) (*model.FileRecord, error)
	DeleteOwned(ctx context.Context, ownerID, id string) error
}

// ListCache caches an owner's full listing per generation. Invalidate
// must move the owner to a new generation, so a listing loaded before it
// is never served after it.
type ListCache interface {
	Generation(ctx context.Context, ownerID string) (int64, error)
	Get(ctx context.Context, ownerID string, gen int64) ([]model.FileRecord, bool, error)
	Set(ctx context.Context, ownerID string, gen int64, records []model.FileRecord) error
	Invalidate(ctx context.Context, ownerID string) error
}

// OrphanReporter receives blob keys that no record references and that
// could not be removed inline.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, storageKey string) error
}
