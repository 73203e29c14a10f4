package service

import (
	"DriveVault/internal/metrics"
	"DriveVault/internal/repo"
	"DriveVault/internal/storage"
	"DriveVault/model"
	"DriveVault/utils"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLinkTTL is how long a minted access link stays valid.
	DefaultLinkTTL = 5 * time.Minute

	defaultCompensationTimeout = 30 * time.Second
	listLoadTimeout            = 30 * time.Second
	maxKeyAttempts             = 3
)

// Broker decides whether a principal may touch a file record and keeps the
// blob store and the record store consistent with each other.
type Broker struct {
	records RecordStore
	blobs   storage.BlobStore
	cache   ListCache
	orphans OrphanReporter

	now                 func() time.Time
	newID               func() string
	linkTTL             time.Duration
	compensationTimeout time.Duration

	lists singleflight.Group
}

// Option configures a Broker.
type Option func(*Broker)

// WithListCache serves List from cache and invalidates it on writes.
func WithListCache(cache ListCache) Option {
	return func(b *Broker) { b.cache = cache }
}

// WithOrphanReporter hands over blobs the broker failed to clean up.
func WithOrphanReporter(r OrphanReporter) Option {
	return func(b *Broker) { b.orphans = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithIDGenerator overrides record id and key nonce generation.
func WithIDGenerator(newID func() string) Option {
	return func(b *Broker) { b.newID = newID }
}

// WithLinkTTL sets the validity window of access links.
func WithLinkTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.linkTTL = ttl
		}
	}
}

// WithCompensationTimeout bounds the cleanup delete after a failed Store.
func WithCompensationTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.compensationTimeout = d
		}
	}
}

// NewBroker builds a broker over a record store and a blob store.
func NewBroker(records RecordStore, blobs storage.BlobStore, opts ...Option) *Broker {
	b := &Broker{
		records:             records,
		blobs:               blobs,
		now:                 time.Now,
		newID:               utils.NewID,
		linkTTL:             DefaultLinkTTL,
		compensationTimeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func observe(op string, err error) {
	metrics.BrokerOperations.WithLabelValues(op, resultLabel(err)).Inc()
}

func requirePrincipal(p *Principal) error {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return invalidArgument("principal is required")
	}
	return nil
}

// Store writes the blob first and only then the record. When the record
// cannot be created the blob is removed again on a context that survives
// the caller's cancellation.
func (b *Broker) Store(ctx context.Context, p *Principal, up Upload) (record *model.FileRecord, err error) {
	defer func() { observe("store", err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(up.Name)
	if name == "" {
		return nil, invalidArgument("file name is required")
	}
	if up.Body == nil || up.Size <= 0 {
		return nil, invalidArgument("file is empty")
	}
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}

	key, err := b.reserveKey(ctx, p.ID, name)
	if err != nil {
		return nil, err
	}

	if err := b.blobs.PutObject(ctx, key, up.Body, up.Size, storage.PutOptions{
		ContentType: contentType,
	}); err != nil {
		// a failed put may still have landed
		b.compensate(ctx, key)
		return nil, upstream("put blob", err)
	}

	now := b.now().UTC()
	record = &model.FileRecord{
		ID:          b.newID(),
		OwnerID:     p.ID,
		Name:        name,
		StorageKey:  key,
		ContentType: contentType,
		Size:        up.Size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.records.Create(ctx, record); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			// the key may belong to another record; never remove its blob
			log.Printf("[broker] duplicate record for key=%s: %v", key, err)
			return nil, ErrConflict
		}
		b.compensate(ctx, key)
		return nil, upstream("create record", err)
	}

	b.invalidate(ctx, p.ID)
	return record, nil
}

// reserveKey derives a key that no blob currently occupies.
func (b *Broker) reserveKey(ctx context.Context, ownerID, name string) (string, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key := BuildStorageKey(ownerID, name, b.now(), b.newID())
		_, err := b.blobs.StatObject(ctx, key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return key, nil
		}
		if err != nil {
			return "", upstream("stat blob", err)
		}
		log.Printf("[broker] storage key collision key=%s attempt=%d", key, attempt+1)
	}
	return "", ErrConflict
}

func (b *Broker) compensate(ctx context.Context, key string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.compensationTimeout)
	defer cancel()

	err := b.blobs.RemoveObject(cctx, key)
	if err == nil {
		return
	}
	log.Printf("[broker] compensating delete failed key=%s: %v", key, err)
	metrics.OrphanedBlobs.Inc()
	if b.orphans == nil {
		return
	}
	if err := b.orphans.ReportOrphan(cctx, key); err != nil {
		log.Printf("[broker] report orphan failed key=%s: %v", key, err)
	}
}

func (b *Broker) invalidate(ctx context.Context, ownerID string) {
	if b.cache == nil {
		return
	}
	// the write already happened; a cancelled caller must still bump the listing
	if err := b.cache.Invalidate(context.WithoutCancel(ctx), ownerID); err != nil {
		log.Printf("[broker] invalidate list cache owner=%s: %v", ownerID, err)
	}
}

// List returns every record owned by p, newest first.
func (b *Broker) List(ctx context.Context, p *Principal) (records []model.FileRecord, err error) {
	defer func() { observe("list", err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if b.cache == nil {
		return b.listUncached(ctx, p.ID)
	}

	gen, err := b.cache.Generation(ctx, p.ID)
	if err != nil {
		log.Printf("[broker] read list generation owner=%s: %v", p.ID, err)
		return b.listUncached(ctx, p.ID)
	}
	cached, ok, err := b.cache.Get(ctx, p.ID, gen)
	if err != nil {
		log.Printf("[broker] read list cache owner=%s: %v", p.ID, err)
	}
	if ok {
		metrics.ListCacheHits.Inc()
		return cached, nil
	}
	metrics.ListCacheMisses.Inc()

	// callers only share a load taken under the generation they saw
	v, err, _ := b.lists.Do(fmt.Sprintf("%s:%d", p.ID, gen), func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listLoadTimeout)
		defer cancel()

		records, err := b.records.ListByOwner(lctx, p.ID)
		if err != nil {
			return nil, err
		}
		if err := b.cache.Set(lctx, p.ID, gen, records); err != nil {
			log.Printf("[broker] write list cache owner=%s: %v", p.ID, err)
		}
		return records, nil
	})
	if err != nil {
		return nil, upstream("list records", err)
	}
	shared := v.([]model.FileRecord)
	records = make([]model.FileRecord, len(shared))
	copy(records, shared)
	return records, nil
}

func (b *Broker) listUncached(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	records, err := b.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, upstream("list records", err)
	}
	return records, nil
}

// ListWithLinks is List plus a fresh access link for every record. One
// failed signature fails the whole call.
func (b *Broker) ListWithLinks(ctx context.Context, p *Principal) (files []AccessibleFile, err error) {
	records, err := b.List(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { observe("list_links", err) }()

	files = make([]AccessibleFile, 0, len(records))
	for _, record := range records {
		link, err := b.sign(ctx, &record)
		if err != nil {
			return nil, err
		}
		files = append(files, AccessibleFile{Record: record, URL: link.URL})
	}
	return files, nil
}

// Search returns p's records whose name contains term, ignoring case.
func (b *Broker) Search(ctx context.Context, p *Principal, term string) (records []model.FileRecord, err error) {
	defer func() { observe("search", err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, invalidArgument("search term is required")
	}
	records, err = b.records.SearchByOwner(ctx, p.ID, term)
	if err != nil {
		return nil, upstream("search records", err)
	}
	return records, nil
}

// Rename changes the display name of an owned record. Renaming to the
// current name leaves the record untouched.
func (b *Broker) Rename(ctx context.Context, p *Principal, fileID, newName string) (record *model.FileRecord, err error) {
	defer func() { observe("rename", err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return nil, invalidArgument("new name is required")
	}

	current, err := b.records.FindOwned(ctx, p.ID, fileID)
	if err != nil {
		return nil, recordError("find record", err)
	}
	if current.Name == name {
		return current, nil
	}

	record, err = b.records.UpdateName(ctx, p.ID, fileID, name, b.now().UTC())
	if err != nil {
		return nil, recordError("rename record", err)
	}
	b.invalidate(ctx, p.ID)
	return record, nil
}

// Delete removes the blob, then the record. If the blob cannot be removed
// the record stays so the delete can be retried.
func (b *Broker) Delete(ctx context.Context, p *Principal, fileID string) (err error) {
	defer func() { observe("delete", err) }()

	if err := requirePrincipal(p); err != nil {
		return err
	}
	record, err := b.records.FindOwned(ctx, p.ID, fileID)
	if err != nil {
		return recordError("find record", err)
	}

	if record.StorageKey != "" {
		if err := b.blobs.RemoveObject(ctx, record.StorageKey); err != nil {
			return upstream("remove blob", err)
		}
	}
	if err := b.records.DeleteOwned(ctx, p.ID, fileID); err != nil {
		return upstream("delete record", err)
	}
	b.invalidate(ctx, p.ID)
	return nil
}

// GenerateAccessLink mints a signed URL for an owned record. The broker
// never serves bytes itself.
func (b *Broker) GenerateAccessLink(ctx context.Context, p *Principal, fileID string) (link *AccessLink, err error) {
	defer func() { observe("access_link", err) }()

	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	record, err := b.records.FindOwned(ctx, p.ID, fileID)
	if err != nil {
		return nil, recordError("find record", err)
	}
	return b.sign(ctx, record)
}

func (b *Broker) sign(ctx context.Context, record *model.FileRecord) (*AccessLink, error) {
	if record.StorageKey == "" {
		return nil, invalidArgument("record has no storage key")
	}
	contentType := record.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(record.Name)
	}
	expiresAt := b.now().UTC().Add(b.linkTTL)
	url, err := b.blobs.PresignedGetObject(ctx, record.StorageKey, b.linkTTL, map[string]string{
		"response-content-type":        contentType,
		"response-content-disposition": inlineDisposition(record.Name),
	})
	if err != nil {
		return nil, upstream("presign", err)
	}
	return &AccessLink{URL: url, ExpiresAt: expiresAt}, nil
}
