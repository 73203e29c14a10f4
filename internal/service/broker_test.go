package service

import (
	"DriveVault/internal/repo"
	"DriveVault/internal/storage"
	"DriveVault/model"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeBlobStore keeps blobs in memory and can be told to fail.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	failPut     error
	failStat    error
	failRemove  error
	failPresign error

	removed        []string
	removeCtxError error
	onPut          func()
	lastPresign    presignCall
}

type presignCall struct {
	key    string
	expiry time.Duration
	params map[string]string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, opts storage.PutOptions) error {
	if f.onPut != nil {
		f.onPut()
	}
	if f.failPut != nil {
		return f.failPut
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) StatObject(ctx context.Context, key string) (storage.ObjectInfo, error) {
	if f.failStat != nil {
		return storage.ObjectInfo{}, f.failStat
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeBlobStore) RemoveObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	f.removeCtxError = ctx.Err()
	if f.failRemove != nil {
		return f.failRemove
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) PresignedGetObject(ctx context.Context, key string, expiry time.Duration, params map[string]string) (string, error) {
	if f.failPresign != nil {
		return "", f.failPresign
	}
	f.lastPresign = presignCall{key: key, expiry: expiry, params: params}
	return fmt.Sprintf("https://blobs.test/%s?expires=%d", key, int(expiry.Seconds())), nil
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

// failingRecords wraps a real store and fails Create.
type failingRecords struct {
	RecordStore
	createErr func(ctx context.Context) error
	listCalls int
}

func (f *failingRecords) Create(ctx context.Context, record *model.FileRecord) error {
	if f.createErr != nil {
		if err := f.createErr(ctx); err != nil {
			return err
		}
	}
	return f.RecordStore.Create(ctx, record)
}

func (f *failingRecords) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	f.listCalls++
	return f.RecordStore.ListByOwner(ctx, ownerID)
}

// fakeListCache mirrors utils.ListCache: entries live per generation and
// Invalidate moves the owner to the next one.
type fakeListCache struct {
	mu          sync.Mutex
	gens        map[string]int64
	entries     map[string][]model.FileRecord
	getErr      error
	genErr      error
	invalidated []string
}

func newFakeListCache() *fakeListCache {
	return &fakeListCache{gens: map[string]int64{}, entries: map[string][]model.FileRecord{}}
}

func entryKey(ownerID string, gen int64) string {
	return fmt.Sprintf("%s:%d", ownerID, gen)
}

func (c *fakeListCache) Generation(ctx context.Context, ownerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genErr != nil {
		return 0, c.genErr
	}
	return c.gens[ownerID], nil
}

func (c *fakeListCache) Get(ctx context.Context, ownerID string, gen int64) ([]model.FileRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	records, ok := c.entries[entryKey(ownerID, gen)]
	return records, ok, nil
}

func (c *fakeListCache) Set(ctx context.Context, ownerID string, gen int64, records []model.FileRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entryKey(ownerID, gen)] = records
	return nil
}

func (c *fakeListCache) Invalidate(ctx context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ownerID)
	c.gens[ownerID]++
	return nil
}

// pausingRecords holds the first ListByOwner after its read until released.
type pausingRecords struct {
	RecordStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (p *pausingRecords) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	records, err := p.RecordStore.ListByOwner(ctx, ownerID)
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
	return records, err
}

// ctxRecords fails reads on a done context, like a real driver would.
type ctxRecords struct {
	RecordStore
}

func (c ctxRecords) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.RecordStore.ListByOwner(ctx, ownerID)
}

type fakeReporter struct {
	keys []string
}

func (r *fakeReporter) ReportOrphan(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func newRecordStore(t *testing.T) *repo.FileRecordStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return repo.NewFileRecordStore(db)
}

type brokerFixture struct {
	broker  *Broker
	blobs   *fakeBlobStore
	records *failingRecords
	clock   *testClock
}

func newFixture(t *testing.T, opts ...Option) *brokerFixture {
	t.Helper()
	f := &brokerFixture{
		blobs:   newFakeBlobStore(),
		records: &failingRecords{RecordStore: newRecordStore(t)},
		clock:   &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	base := []Option{WithClock(f.clock.Now), WithIDGenerator(sequentialIDs())}
	f.broker = NewBroker(f.records, f.blobs, append(base, opts...)...)
	return f
}

func upload(name, body string) Upload {
	return Upload{Name: name, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func (f *brokerFixture) store(t *testing.T, p *Principal, name string) *model.FileRecord {
	t.Helper()
	record, err := f.broker.Store(context.Background(), p, upload(name, "content of "+name))
	if err != nil {
		t.Fatalf("Store(%s) failed: %v", name, err)
	}
	f.clock.Advance(time.Second)
	return record
}

var (
	u1 = &Principal{ID: "u1", Email: "u1@example.com", Name: "User One"}
	u2 = &Principal{ID: "u2", Email: "u2@example.com", Name: "User Two"}
)

func TestScenarioUploadRenameDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := f.store(t, u1, "notes.txt")
	if record.Name != "notes.txt" || record.OwnerID != "u1" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if !f.blobs.has(record.StorageKey) {
		t.Fatal("blob missing after store")
	}

	if _, err := f.broker.Rename(ctx, u1, record.ID, "notes-final.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	list, err := f.broker.List(ctx, u1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "notes-final.txt" {
		t.Fatalf("expect one renamed record, got %+v", list)
	}

	if err := f.broker.Delete(ctx, u2, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect NotFound for u2 delete, got %v", err)
	}

	if err := f.broker.Delete(ctx, u1, record.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	list, err = f.broker.List(ctx, u1)
	if err != nil || len(list) != 0 {
		t.Fatalf("expect empty list, got %+v err=%v", list, err)
	}
	if _, err := f.broker.GenerateAccessLink(ctx, u1, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect NotFound link after delete, got %v", err)
	}
	if f.blobs.has(record.StorageKey) {
		t.Fatal("blob still present after delete")
	}
}

func TestOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.store(t, u1, "secret.pdf")

	if _, err := f.broker.Rename(ctx, u2, record.ID, "mine.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rename: expect NotFound, got %v", err)
	}
	if err := f.broker.Delete(ctx, u2, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expect NotFound, got %v", err)
	}
	if _, err := f.broker.GenerateAccessLink(ctx, u2, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("link: expect NotFound, got %v", err)
	}
	list, _ := f.broker.List(ctx, u2)
	found, _ := f.broker.Search(ctx, u2, "secret")
	if len(list) != 0 || len(found) != 0 {
		t.Fatalf("u2 sees u1's data: list=%v search=%v", list, found)
	}

	// the record and blob are untouched
	owned, err := f.broker.List(ctx, u1)
	if err != nil || len(owned) != 1 || owned[0].Name != "secret.pdf" {
		t.Fatalf("u1 record changed: %+v err=%v", owned, err)
	}
	if !f.blobs.has(record.StorageKey) {
		t.Fatal("u1 blob removed by u2")
	}
}

func TestMissingRecordIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.broker.Delete(ctx, u1, "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect NotFound, got %v", err)
	}
	if _, err := f.broker.Rename(ctx, u1, "does-not-exist", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect NotFound, got %v", err)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		p    *Principal
		up   Upload
	}{
		{"nil principal", nil, upload("a.txt", "x")},
		{"empty principal", &Principal{}, upload("a.txt", "x")},
		{"empty body", u1, upload("a.txt", "")},
		{"nil body", u1, Upload{Name: "a.txt", Size: 3}},
		{"blank name", u1, upload("   ", "x")},
	}
	for _, tc := range cases {
		if _, err := f.broker.Store(ctx, tc.p, tc.up); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expect InvalidArgument, got %v", tc.name, err)
		}
	}
	if len(f.blobs.objects) != 0 {
		t.Fatal("rejected uploads must not write blobs")
	}
}

func TestStoreInfersContentType(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "photo.PNG")
	if record.ContentType != "image/png" {
		t.Fatalf("expect image/png, got %s", record.ContentType)
	}

	explicit, err := f.broker.Store(context.Background(), u1, Upload{
		Name: "data.bin", ContentType: "application/x-custom", Size: 1, Body: strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if explicit.ContentType != "application/x-custom" {
		t.Fatalf("explicit content type lost: %s", explicit.ContentType)
	}
}

func TestStoreKeyFormat(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "notes.txt")
	want := fmt.Sprintf("u1/%d-id-0001-notes.txt", f.clock.now.Add(-time.Second).UnixMilli())
	if record.StorageKey != want {
		t.Fatalf("expect key %s, got %s", want, record.StorageKey)
	}
	if record.ID != "id-0002" {
		t.Fatalf("expect record id id-0002, got %s", record.ID)
	}
}

func TestStoreCompensatesWhenRecordFails(t *testing.T) {
	reporter := &fakeReporter{}
	f := newFixture(t, WithOrphanReporter(reporter))
	f.records.createErr = func(context.Context) error { return errors.New("db down") }

	_, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	if len(f.blobs.objects) != 0 {
		t.Fatal("orphaned blob left behind")
	}
	if len(f.blobs.removed) != 1 {
		t.Fatalf("expect one compensating delete, got %v", f.blobs.removed)
	}
	if len(reporter.keys) != 0 {
		t.Fatalf("successful compensation must not report orphans: %v", reporter.keys)
	}
	list, _ := f.broker.List(context.Background(), u1)
	if len(list) != 0 {
		t.Fatalf("no record may exist after failed store: %+v", list)
	}
}

func TestStoreReportsOrphanWhenCompensationFails(t *testing.T) {
	reporter := &fakeReporter{}
	f := newFixture(t, WithOrphanReporter(reporter))
	f.records.createErr = func(context.Context) error { return errors.New("db down") }
	f.blobs.failRemove = errors.New("blob store down")

	_, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	if len(reporter.keys) != 1 || reporter.keys[0] != f.blobs.removed[0] {
		t.Fatalf("expect orphan key reported, got %v (removed %v)", reporter.keys, f.blobs.removed)
	}
}

func TestStoreCompensatesAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.blobs.onPut = cancel
	f.records.createErr = func(ctx context.Context) error { return ctx.Err() }

	_, err := f.broker.Store(ctx, u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	if len(f.blobs.removed) != 1 {
		t.Fatalf("expect compensating delete, got %v", f.blobs.removed)
	}
	if f.blobs.removeCtxError != nil {
		t.Fatalf("compensation ran on a cancelled context: %v", f.blobs.removeCtxError)
	}
	if len(f.blobs.objects) != 0 {
		t.Fatal("blob left behind after cancellation")
	}
}

func TestStorePutFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.failPut = errors.New("unreachable")
	_, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	list, _ := f.broker.List(context.Background(), u1)
	if len(list) != 0 {
		t.Fatalf("record created despite failed put: %+v", list)
	}
}

func TestStoreDuplicateRecordIsConflictWithoutCleanup(t *testing.T) {
	f := newFixture(t)
	f.records.createErr = func(context.Context) error { return repo.ErrDuplicateKey }
	_, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expect Conflict, got %v", err)
	}
	if len(f.blobs.removed) != 0 {
		t.Fatalf("conflict must not delete blobs: %v", f.blobs.removed)
	}
}

func TestStoreRederivesCollidingKey(t *testing.T) {
	f := newFixture(t)
	f.broker.newID = func() string { return "fixed" }
	taken := BuildStorageKey("u1", "notes.txt", f.clock.now, "fixed")
	f.blobs.objects[taken] = []byte("someone else")

	_, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expect Conflict after exhausting keys, got %v", err)
	}
	if string(f.blobs.objects[taken]) != "someone else" {
		t.Fatal("existing blob overwritten")
	}

	ids := []string{"fixed", "fresh", "rec-1"}
	f.broker.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	record, err := f.broker.Store(context.Background(), u1, upload("notes.txt", "hello"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if record.StorageKey == taken || !strings.Contains(record.StorageKey, "-fresh-") {
		t.Fatalf("expect re-derived key, got %s", record.StorageKey)
	}
}

func TestStoreStatFailureIsUpstream(t *testing.T) {
	f := newFixture(t)
	f.blobs.failStat = errors.New("timeout")
	if _, err := f.broker.Store(context.Background(), u1, upload("a.txt", "x")); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	f.store(t, u1, "first.txt")
	f.store(t, u1, "second.txt")
	f.store(t, u1, "third.txt")

	list, err := f.broker.List(context.Background(), u1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var names []string
	for _, r := range list {
		names = append(names, r.Name)
	}
	if strings.Join(names, ",") != "third.txt,second.txt,first.txt" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestSearchMatchesListSubset(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Report-2023.pdf", "annual REPORT.docx", "photo.png", "reports", "misc.txt"} {
		f.store(t, u1, name)
	}
	f.store(t, u2, "report-u2.txt")
	ctx := context.Background()

	all, _ := f.broker.List(ctx, u1)
	var want []string
	for _, r := range all {
		if strings.Contains(strings.ToLower(r.Name), "report") {
			want = append(want, r.ID)
		}
	}
	found, err := f.broker.Search(ctx, u1, "report")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	var got []string
	for _, r := range found {
		got = append(got, r.ID)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) || len(got) != 3 {
		t.Fatalf("expect %v, got %v", want, got)
	}

	for _, term := range []string{"", "   "} {
		if _, err := f.broker.Search(ctx, u1, term); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Search(%q): expect InvalidArgument, got %v", term, err)
		}
	}
}

func TestRenameIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.store(t, u1, "draft.txt")

	first, err := f.broker.Rename(ctx, u1, record.ID, "  X  ")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if first.Name != "X" {
		t.Fatalf("expect trimmed name X, got %q", first.Name)
	}
	if !first.UpdatedAt.After(record.UpdatedAt) {
		t.Fatalf("updatedAt not refreshed: %v -> %v", record.UpdatedAt, first.UpdatedAt)
	}

	f.clock.Advance(time.Minute)
	second, err := f.broker.Rename(ctx, u1, record.ID, "X")
	if err != nil {
		t.Fatalf("second Rename failed: %v", err)
	}
	if second.Name != "X" || !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("second rename changed the record: %+v", second)
	}
	if !second.CreatedAt.Equal(record.CreatedAt) || second.StorageKey != record.StorageKey {
		t.Fatalf("rename touched immutable fields: %+v", second)
	}
}

func TestRenameRejectsEmptyName(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "draft.txt")
	for _, name := range []string{"", " \t "} {
		if _, err := f.broker.Rename(context.Background(), u1, record.ID, name); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Rename(%q): expect InvalidArgument, got %v", name, err)
		}
	}
}

func TestDeleteKeepsRecordWhenBlobRemovalFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	record := f.store(t, u1, "keep.txt")

	f.blobs.failRemove = errors.New("blob store down")
	if err := f.broker.Delete(ctx, u1, record.ID); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	list, _ := f.broker.List(ctx, u1)
	if len(list) != 1 {
		t.Fatalf("record must survive a failed blob delete, got %+v", list)
	}

	f.blobs.failRemove = nil
	if err := f.broker.Delete(ctx, u1, record.ID); err != nil {
		t.Fatalf("retried Delete failed: %v", err)
	}
	if f.blobs.has(record.StorageKey) {
		t.Fatal("blob survived retried delete")
	}
}

func TestDeleteWithAbsentBlobSucceeds(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "gone.txt")
	delete(f.blobs.objects, record.StorageKey)

	if err := f.broker.Delete(context.Background(), u1, record.ID); err != nil {
		t.Fatalf("Delete with missing blob failed: %v", err)
	}
}

func TestGenerateAccessLink(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "report \"final\".pdf")

	link, err := f.broker.GenerateAccessLink(context.Background(), u1, record.ID)
	if err != nil {
		t.Fatalf("GenerateAccessLink failed: %v", err)
	}
	call := f.blobs.lastPresign
	if call.key != record.StorageKey || call.expiry != 5*time.Minute {
		t.Fatalf("unexpected presign call: %+v", call)
	}
	if call.params["response-content-type"] != "application/pdf" {
		t.Fatalf("unexpected content type param: %v", call.params)
	}
	if call.params["response-content-disposition"] != `inline; filename="report final.pdf"` {
		t.Fatalf("unexpected disposition: %q", call.params["response-content-disposition"])
	}
	if !link.ExpiresAt.Equal(f.clock.now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", link.ExpiresAt)
	}
	if !strings.Contains(link.URL, record.StorageKey) {
		t.Fatalf("url does not target the record's key: %s", link.URL)
	}
}

func TestGenerateAccessLinkUsesConfiguredTTL(t *testing.T) {
	f := newFixture(t, WithLinkTTL(time.Minute))
	record := f.store(t, u1, "a.txt")
	if _, err := f.broker.GenerateAccessLink(context.Background(), u1, record.ID); err != nil {
		t.Fatalf("GenerateAccessLink failed: %v", err)
	}
	if f.blobs.lastPresign.expiry != time.Minute {
		t.Fatalf("expect 1m expiry, got %v", f.blobs.lastPresign.expiry)
	}
}

func TestGenerateAccessLinkPresignFailure(t *testing.T) {
	f := newFixture(t)
	record := f.store(t, u1, "a.txt")
	f.blobs.failPresign = errors.New("no credentials")
	if _, err := f.broker.GenerateAccessLink(context.Background(), u1, record.ID); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expect Upstream, got %v", err)
	}
	if _, err := f.broker.ListWithLinks(context.Background(), u1); !errors.Is(err, ErrUpstream) {
		t.Fatalf("ListWithLinks: expect Upstream, got %v", err)
	}
}

func TestListWithLinks(t *testing.T) {
	f := newFixture(t)
	f.store(t, u1, "a.txt")
	f.store(t, u1, "b.txt")

	files, err := f.broker.ListWithLinks(context.Background(), u1)
	if err != nil {
		t.Fatalf("ListWithLinks failed: %v", err)
	}
	if len(files) != 2 || files[0].Record.Name != "b.txt" {
		t.Fatalf("unexpected files: %+v", files)
	}
	for _, file := range files {
		if !strings.Contains(file.URL, file.Record.StorageKey) {
			t.Fatalf("link %s does not match key %s", file.URL, file.Record.StorageKey)
		}
	}
}

func TestListCacheReadThroughAndInvalidation(t *testing.T) {
	cache := newFakeListCache()
	f := newFixture(t, WithListCache(cache))
	ctx := context.Background()
	record := f.store(t, u1, "a.txt")

	if _, err := f.broker.List(ctx, u1); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if _, err := f.broker.List(ctx, u1); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if f.records.listCalls != 1 {
		t.Fatalf("expect one store read behind the cache, got %d", f.records.listCalls)
	}

	if _, err := f.broker.Rename(ctx, u1, record.ID, "b.txt"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	list, _ := f.broker.List(ctx, u1)
	if len(list) != 1 || list[0].Name != "b.txt" {
		t.Fatalf("stale list after rename: %+v", list)
	}
	if f.records.listCalls != 2 {
		t.Fatalf("rename should invalidate the cache, store reads=%d", f.records.listCalls)
	}

	if err := f.broker.Delete(ctx, u1, record.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	list, _ = f.broker.List(ctx, u1)
	if len(list) != 0 {
		t.Fatalf("stale list after delete: %+v", list)
	}
	if fmt.Sprint(cache.invalidated) != "[u1 u1 u1]" {
		t.Fatalf("unexpected invalidations: %v", cache.invalidated)
	}
}

func TestListCacheErrorFallsBackToStore(t *testing.T) {
	cache := newFakeListCache()
	cache.getErr = errors.New("redis down")
	f := newFixture(t, WithListCache(cache))
	f.store(t, u1, "a.txt")

	list, err := f.broker.List(context.Background(), u1)
	if err != nil || len(list) != 1 {
		t.Fatalf("expect store fallback, got %+v err=%v", list, err)
	}

	cache.getErr = nil
	cache.genErr = errors.New("redis down")
	list, err = f.broker.List(context.Background(), u1)
	if err != nil || len(list) != 1 {
		t.Fatalf("expect store fallback without generation, got %+v err=%v", list, err)
	}
	if len(cache.entries) != 1 {
		t.Fatalf("listing cached without a generation: %v", cache.entries)
	}
}

func TestListRacingDeleteDoesNotRepopulateCache(t *testing.T) {
	cache := newFakeListCache()
	f := newFixture(t, WithListCache(cache))
	ctx := context.Background()
	record := f.store(t, u1, "notes.txt")

	paused := &pausingRecords{RecordStore: f.records, loaded: make(chan struct{}), release: make(chan struct{})}
	f.broker.records = paused

	done := make(chan error, 1)
	go func() {
		_, err := f.broker.List(ctx, u1)
		done <- err
	}()
	<-paused.loaded

	if err := f.broker.Delete(ctx, u1, record.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	close(paused.release)
	if err := <-done; err != nil {
		t.Fatalf("racing List failed: %v", err)
	}

	list, err := f.broker.List(ctx, u1)
	if err != nil || len(list) != 0 {
		t.Fatalf("deleted record still listed: %+v err=%v", list, err)
	}
	files, err := f.broker.ListWithLinks(ctx, u1)
	if err != nil || len(files) != 0 {
		t.Fatalf("deleted record still linked: %+v err=%v", files, err)
	}
}

func TestListLoadSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, WithListCache(newFakeListCache()))
	f.store(t, u1, "a.txt")
	f.broker.records = ctxRecords{RecordStore: f.records}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	list, err := f.broker.List(ctx, u1)
	if err != nil || len(list) != 1 {
		t.Fatalf("shared load should not inherit cancellation, got %+v err=%v", list, err)
	}
}

func TestBuildStorageKeySanitizes(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	cases := []struct {
		owner, name, want string
	}{
		{"u1", "notes.txt", "u1/1700000000000-n-notes.txt"},
		{"u1", "../../etc/passwd", "u1/1700000000000-n-_.._etc_passwd"},
		{"a/b", "x\\y\n.txt", "a_b/1700000000000-n-x_y.txt"},
		{"u1", "   ", "u1/1700000000000-n-file"},
		{"", "a", "owner/1700000000000-n-a"},
	}
	for _, tc := range cases {
		if got := BuildStorageKey(tc.owner, tc.name, at, "n"); got != tc.want {
			t.Fatalf("BuildStorageKey(%q, %q) = %q, want %q", tc.owner, tc.name, got, tc.want)
		}
	}

	long := strings.Repeat("é", 100)
	key := BuildStorageKey("u1", long, at, "n")
	segment := strings.TrimPrefix(key, "u1/1700000000000-n-")
	if len(segment) > maxKeyNameBytes || !strings.HasPrefix(long, segment) {
		t.Fatalf("long name not cut on a rune boundary: %q", segment)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.JPG":     "image/jpeg",
		"b.png":     "image/png",
		"c.txt":     "text/plain; charset=utf-8",
		"d.pdf":     "application/pdf",
		"e.tar.gz":  "application/gzip",
		"folder":    "application/octet-stream",
		"weird.xyz": "application/octet-stream",
	}
	for name, want := range cases {
		if got := ContentTypeFor(name); got != want {
			t.Fatalf("ContentTypeFor(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestStoreStreamsBody(t *testing.T) {
	f := newFixture(t)
	payload := bytes.Repeat([]byte("a"), 4096)
	record, err := f.broker.Store(context.Background(), u1, Upload{
		Name: "big.bin", Size: int64(len(payload)), Body: bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !bytes.Equal(f.blobs.objects[record.StorageKey], payload) {
		t.Fatal("stored bytes differ")
	}
	if record.Size != int64(len(payload)) {
		t.Fatalf("expect size %d, got %d", len(payload), record.Size)
	}
}
