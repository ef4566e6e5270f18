package edition

import (
	"testing"
	"time"

	"servicemanual/api/internal/store"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func ed(id string, version int, state string, at time.Duration) store.Edition {
	return store.Edition{
		ID:            id,
		GuideID:       "g1",
		Version:       version,
		State:         state,
		UpdateType:    store.UpdateTypeMinor,
		Phase:         "live",
		Title:         "A guide to agile",
		Body:          "Body",
		Description:   "Description",
		AuthorID:      "original-author",
		ChangeNote:    "note",
		ChangeSummary: "summary",
		CreatedAt:     t0.Add(at),
		UpdatedAt:     t0.Add(at),
	}
}

func TestPrepareFirstEdition(t *testing.T) {
	draft := Prepare(nil, "g1", "user-5", t0)

	if !draft.New {
		t.Fatal("Prepare() New = false, want true")
	}
	e := draft.Edition
	if e.Version != 1 || e.State != store.StateDraft || e.UpdateType != store.UpdateTypeMajor {
		t.Fatalf("Prepare() = %+v, want version 1 draft major", e)
	}
	if e.AuthorID != "user-5" {
		t.Fatalf("AuthorID = %q, want user-5", e.AuthorID)
	}
	if e.Phase != DefaultPhase {
		t.Fatalf("Phase = %q, want %q", e.Phase, DefaultPhase)
	}
}

func TestPrepareAfterPublishCreatesNextVersion(t *testing.T) {
	editions := []store.Edition{
		ed("e1", 1, store.StateDraft, 0),
		ed("e2", 1, store.StateReviewRequested, time.Minute),
		ed("e3", 1, store.StateReady, 2*time.Minute),
		ed("e4", 1, store.StatePublished, 3*time.Minute),
	}

	draft := Prepare(editions, "g1", "user-8", t0.Add(time.Hour))

	if !draft.New {
		t.Fatal("Prepare() New = false, want a new edition after publication")
	}
	e := draft.Edition
	if e.ID != "" {
		t.Fatalf("ID = %q, want empty for caller assignment", e.ID)
	}
	if e.Version != 2 {
		t.Fatalf("Version = %d, want 2", e.Version)
	}
	if e.UpdateType != store.UpdateTypeMajor {
		t.Fatalf("UpdateType = %q, want major", e.UpdateType)
	}
	if e.ChangeNote != "" || e.ChangeSummary != "" {
		t.Fatalf("change note/summary not cleared: %q / %q", e.ChangeNote, e.ChangeSummary)
	}
	if e.AuthorID != "user-8" {
		t.Fatalf("AuthorID = %q, want user-8", e.AuthorID)
	}
	if e.Title != "A guide to agile" || e.Phase != "live" {
		t.Fatalf("content not carried forward: %+v", e)
	}
	if editions[3].State != store.StatePublished || editions[3].ChangeNote != "note" {
		t.Fatalf("published edition mutated: %+v", editions[3])
	}
}

func TestPrepareContinuesUnpublishedWork(t *testing.T) {
	for _, state := range []string{store.StateDraft, store.StateReviewRequested, store.StateReady} {
		t.Run(state, func(t *testing.T) {
			editions := []store.Edition{
				ed("e1", 1, store.StatePublished, 0),
				ed("e2", 2, state, time.Minute),
			}

			draft := Prepare(editions, "g1", "someone-else", t0.Add(time.Hour))

			if draft.New {
				t.Fatal("Prepare() New = true, want in-place continuation")
			}
			e := draft.Edition
			if e.ID != "e2" || e.Version != 2 {
				t.Fatalf("Prepare() = %s v%d, want e2 v2", e.ID, e.Version)
			}
			if e.State != store.StateDraft {
				t.Fatalf("State = %q, want draft", e.State)
			}
			if e.UpdateType != store.UpdateTypeMinor || e.ChangeNote != "note" {
				t.Fatalf("caller-owned fields reset: %+v", e)
			}
			if e.AuthorID != "original-author" {
				t.Fatalf("AuthorID = %q, want original-author", e.AuthorID)
			}
		})
	}
}

func TestPrepareDraftsOfUnpublishedGuideStayAtVersionOne(t *testing.T) {
	editions := []store.Edition{ed("e1", 1, store.StateDraft, 0)}

	draft := Prepare(editions, "g1", "u", t0.Add(time.Hour))

	if draft.New || draft.Edition.Version != 1 {
		t.Fatalf("Prepare() = new=%v v%d, want in-place v1", draft.New, draft.Edition.Version)
	}
}

func TestPrepareAfterUnpublishCreatesNextVersion(t *testing.T) {
	editions := []store.Edition{
		ed("e1", 1, store.StatePublished, 0),
		ed("e2", 2, store.StateUnpublished, time.Minute),
	}

	draft := Prepare(editions, "g1", "u", t0.Add(time.Hour))

	if !draft.New || draft.Edition.Version != 3 {
		t.Fatalf("Prepare() = new=%v v%d, want new v3", draft.New, draft.Edition.Version)
	}
}
