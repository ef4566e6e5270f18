package migrator

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/store"
)

type call struct {
	op        string
	contentID string
	payload   any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeAPI) record(op, contentID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op: op, contentID: contentID, payload: payload})
	return f.err
}

func (f *fakeAPI) PutContent(_ context.Context, contentID string, payload any) error {
	return f.record("put_content", contentID, payload)
}

func (f *fakeAPI) Publish(_ context.Context, contentID, updateType string) error {
	return f.record("publish", contentID, updateType)
}

func (f *fakeAPI) PatchLinks(_ context.Context, contentID string, payload any) error {
	return f.record("patch_links", contentID, payload)
}

func (f *fakeAPI) PutLinks(_ context.Context, contentID string, payload any) error {
	return f.record("put_links", contentID, payload)
}

func (f *fakeAPI) Unpublish(_ context.Context, contentID string, req publishing.UnpublishRequest) error {
	return f.record("unpublish", contentID, req)
}

// seed stores a guide with one edition in state.
func seed(t *testing.T, state string) (*store.MemoryStore, store.Edition) {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemoryStore()
	now := time.Now().UTC()

	guide := store.Guide{ID: "guide-1", ContentID: "content-1", Slug: "/service-manual/test/slug_published", Type: store.GuideTypeGuide, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.InsertGuide(ctx, guide))
	e := store.Edition{
		ID: "edition-1", GuideID: guide.ID, Version: 1, State: state,
		UpdateType: store.UpdateTypeMajor, Phase: "beta",
		Title: "Published guide", Body: "Body", Description: "Description",
		ChangeNote: "Original note", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.InsertEdition(ctx, e))
	return repo, e
}

func TestMakeMinorRepublishes(t *testing.T) {
	repo, e := seed(t, store.StatePublished)
	api := &fakeAPI{}
	m := New(repo, api, nil, nil)

	updated, err := m.MakeMinor(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.UpdateTypeMinor, updated.UpdateType)

	stored, err := repo.GetEdition(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, store.UpdateTypeMinor, stored.UpdateType)

	require.Len(t, api.calls, 3)
	assert.Equal(t, "put_content", api.calls[0].op)
	assert.Equal(t, "patch_links", api.calls[1].op)
	assert.Equal(t, call{op: "publish", contentID: "content-1", payload: "republish"}, api.calls[2])
}

func TestMakeMajorSetsNote(t *testing.T) {
	repo, e := seed(t, store.StatePublished)
	e.UpdateType = store.UpdateTypeMinor
	require.NoError(t, repo.UpdateEdition(context.Background(), e))

	m := New(repo, &fakeAPI{}, nil, nil)
	updated, err := m.MakeMajor(context.Background(), e.ID, "Rewrote the guidance")
	require.NoError(t, err)
	assert.Equal(t, store.UpdateTypeMajor, updated.UpdateType)
	assert.Equal(t, "Rewrote the guidance", updated.ChangeNote)
}

func TestDryRunSkipsPublishingAPI(t *testing.T) {
	repo, e := seed(t, store.StatePublished)
	api := &fakeAPI{}
	m := New(repo, api, nil, nil, WithDryRun(true))
	ctx := context.Background()

	_, err := m.UpdateChangeNote(ctx, e.ID, "Corrected note")
	require.NoError(t, err)
	_, err = m.MakeMinor(ctx, e.ID)
	require.NoError(t, err)
	_, err = m.MakeMajor(ctx, e.ID, "Major note")
	require.NoError(t, err)

	assert.Empty(t, api.calls)
	stored, err := repo.GetEdition(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Major note", stored.ChangeNote)
	assert.Equal(t, store.UpdateTypeMajor, stored.UpdateType)
}

func TestCorrectionsRequirePublishedEdition(t *testing.T) {
	repo, e := seed(t, store.StateDraft)
	api := &fakeAPI{}
	m := New(repo, api, nil, nil)
	ctx := context.Background()

	_, err := m.UpdateChangeNote(ctx, e.ID, "note")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = m.MakeMajor(ctx, e.ID, "note")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.MakeMinor(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, api.calls)
	stored, _ := repo.GetEdition(ctx, e.ID)
	assert.Equal(t, "Original note", stored.ChangeNote)
}

func TestPublishingFailureKeepsLocalCorrection(t *testing.T) {
	repo, e := seed(t, store.StatePublished)
	api := &fakeAPI{err: &publishing.Error{Status: 422, Message: "Content item not found"}}
	m := New(repo, api, nil, nil)

	_, err := m.UpdateChangeNote(context.Background(), e.ID, "Corrected note")
	require.Error(t, err)
	assert.Equal(t, "Content item not found", err.Error())

	stored, _ := repo.GetEdition(context.Background(), e.ID)
	assert.Equal(t, "Corrected note", stored.ChangeNote)
	assert.Len(t, api.calls, 1)
}

func TestReviseVersionHasNoStateGuard(t *testing.T) {
	repo, e := seed(t, store.StateDraft)
	api := &fakeAPI{}
	m := New(repo, api, nil, nil)

	updated, err := m.ReviseVersion(context.Background(), e.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
	assert.Empty(t, api.calls)

	_, err = m.ReviseVersion(context.Background(), e.ID, 0)
	assert.Error(t, err)

	_, err = m.ReviseVersion(context.Background(), "missing", 2)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplyBatch(t *testing.T) {
	repo, e := seed(t, store.StatePublished)
	m := New(repo, &fakeAPI{}, nil, nil, WithDryRun(true))

	batch, err := DecodeBatch(strings.NewReader(`
continue_on_error: true
corrections:
  - operation: make-minor
    edition: missing
  - operation: change-note
    edition: edition-1
    note: Fixed a broken link
  - operation: revise-version
    edition: edition-1
    version: 2
`))
	require.NoError(t, err)

	results, err := m.Apply(context.Background(), batch)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.True(t, errors.Is(results[0].Err, ErrNotFound))
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 2, results[2].Version)

	stored, _ := repo.GetEdition(context.Background(), e.ID)
	assert.Equal(t, "Fixed a broken link", stored.ChangeNote)
}

func TestApplyStopsAtFirstError(t *testing.T) {
	repo, _ := seed(t, store.StatePublished)
	m := New(repo, &fakeAPI{}, nil, nil, WithDryRun(true))

	results, err := m.Apply(context.Background(), Batch{Corrections: []Correction{
		{Operation: "archive", EditionID: "edition-1"},
		{Operation: OpMakeMinor, EditionID: "edition-1"},
	}})
	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestDecodeBatchRejectsUnknownFields(t *testing.T) {
	_, err := DecodeBatch(strings.NewReader("corrections:\n  - operation: make-minor\n    edition_id: e1\n"))
	assert.Error(t, err)
}
