package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"servicemanual/api/internal/config"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/search"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/tagging"
)

type apiCall struct {
	Op        string
	ContentID string
	Payload   any
}

type fakePublishingAPI struct {
	mu    sync.Mutex
	calls []apiCall
	errFn func(op string) error
}

func (f *fakePublishingAPI) record(op, contentID string, payload any) error {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Op: op, ContentID: contentID, Payload: payload})
	errFn := f.errFn
	f.mu.Unlock()
	if errFn != nil {
		return errFn(op)
	}
	return nil
}

func (f *fakePublishingAPI) PutContent(_ context.Context, contentID string, payload any) error {
	return f.record("put_content", contentID, payload)
}

func (f *fakePublishingAPI) Publish(_ context.Context, contentID, updateType string) error {
	return f.record("publish", contentID, updateType)
}

func (f *fakePublishingAPI) PatchLinks(_ context.Context, contentID string, payload any) error {
	return f.record("patch_links", contentID, payload)
}

func (f *fakePublishingAPI) PutLinks(_ context.Context, contentID string, payload any) error {
	return f.record("put_links", contentID, payload)
}

func (f *fakePublishingAPI) Unpublish(_ context.Context, contentID string, req publishing.UnpublishRequest) error {
	return f.record("unpublish", contentID, req)
}

func (f *fakePublishingAPI) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ops = append(ops, c.Op)
	}
	return ops
}

func (f *fakePublishingAPI) reset() {
	f.mu.Lock()
	f.calls = nil
	f.errFn = nil
	f.mu.Unlock()
}

// failFirst returns an errFn that holds the first call to op until release
// is closed and then fails it. Every other call succeeds.
func failFirst(op string, entered chan<- struct{}, release <-chan struct{}) func(string) error {
	var once sync.Once
	return func(got string) error {
		if got != op {
			return nil
		}
		first := false
		once.Do(func() { first = true })
		if !first {
			return nil
		}
		close(entered)
		<-release
		return &publishing.Error{Status: 503, Message: "publishing api unavailable"}
	}
}

// tickingClock advances one second per call so concurrent writes never share
// a timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Now().UTC().Truncate(time.Second)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type recordingIndex struct {
	mu      sync.Mutex
	records []search.GuideRecord
}

func (r *recordingIndex) Search(context.Context, search.Query) search.Response {
	return search.Response{}
}

func (r *recordingIndex) IndexGuide(rec search.GuideRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recordingIndex) last() (search.GuideRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return search.GuideRecord{}, false
	}
	return r.records[len(r.records)-1], true
}

// conflictingStore fails InsertEdition with store.ErrConflict for the first
// conflicts calls, or for every call when always is set.
type conflictingStore struct {
	store.Repository
	always bool

	mu        sync.Mutex
	conflicts int
	inserts   int
}

func (c *conflictingStore) InTx(ctx context.Context, fn func(store.Repository) error) error {
	return c.Repository.InTx(ctx, func(tx store.Repository) error {
		return fn(conflictingTx{Repository: tx, parent: c})
	})
}

func (c *conflictingStore) conflict() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserts++
	if c.always {
		return true
	}
	if c.conflicts > 0 {
		c.conflicts--
		return true
	}
	return false
}

func (c *conflictingStore) insertCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inserts
}

type conflictingTx struct {
	store.Repository
	parent *conflictingStore
}

func (tx conflictingTx) InsertEdition(ctx context.Context, e store.Edition) error {
	if tx.parent.conflict() {
		return fmt.Errorf("edition %s version %d: %w", e.GuideID, e.Version, store.ErrConflict)
	}
	return tx.Repository.InsertEdition(ctx, e)
}

type testEnv struct {
	service *Service
	store   *store.MemoryStore
	api     *fakePublishingAPI
	queue   *tagging.ChannelQueue
}

// newTestEnv returns a service over a bootstrapped memory store.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	repo := store.NewMemoryStore()
	api := &fakePublishingAPI{}
	queue := tagging.NewChannelQueue(64)
	t.Cleanup(func() { _ = queue.Close() })

	svc := New(config.Config{SaveMaxAttempts: 3}, repo, api, queue, nil, nil, nil)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return testEnv{service: svc, store: repo, api: api, queue: queue}
}

func strPtr(v string) *string { return &v }

// validAttributes is a complete first save for a guide under the agile
// delivery topic.
func validAttributes(slug string) GuideAttributes {
	return GuideAttributes{
		Slug:           strPtr(slug),
		Title:          strPtr("Agile methods"),
		Body:           strPtr("## How to work in an agile way"),
		Description:    strPtr("An introduction to agile"),
		ContentOwnerID: strPtr("agile-community"),
		TopicSectionID: strPtr("agile-delivery-section-1"),
	}
}

var (
	writer    = store.User{ID: "user-writer", Name: "Wendy Writer"}
	reviewer  = store.User{ID: "user-reviewer", Name: "Rita Reviewer"}
	publisher = store.User{ID: "user-publisher", Name: "Pat Publisher"}
)
