// Package edition holds the editorial rules for guides: which edition a save
// writes to, which workflow transitions are legal, and the guide-level
// invariants checked before anything is persisted.
package edition

import (
	"time"

	"servicemanual/api/internal/store"
)

// DefaultPhase is assigned to the first edition of a guide.
const DefaultPhase = "beta"

// Draft is the edition a save writes to.
type Draft struct {
	Edition store.Edition
	// New is true when Edition has to be inserted rather than updated. The
	// caller assigns its ID.
	New bool
}

// Prepare picks the edition that a save against a guide with the given
// editions writes to, with version and workflow defaults applied.
//
// A guide without editions gets version 1. A published or unpublished latest
// edition is never touched: the save gets a new edition one version higher,
// with update type reset to major and an empty change note and summary. Any
// other latest edition is continued in place and moves back to draft.
// actingUserID becomes the author of every new edition.
func Prepare(editions []store.Edition, guideID, actingUserID string, now time.Time) Draft {
	latest, ok := Latest(editions)
	if !ok {
		return Draft{
			New: true,
			Edition: store.Edition{
				GuideID:    guideID,
				Version:    1,
				State:      store.StateDraft,
				UpdateType: store.UpdateTypeMajor,
				Phase:      DefaultPhase,
				AuthorID:   actingUserID,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
		}
	}

	if isTerminal(latest.State) {
		next := latest
		next.ID = ""
		next.Version = nextVersion(editions, latest)
		next.State = store.StateDraft
		next.UpdateType = store.UpdateTypeMajor
		next.ChangeNote = ""
		next.ChangeSummary = ""
		next.AuthorID = actingUserID
		next.CreatedAt = now
		next.UpdatedAt = now
		return Draft{New: true, Edition: next}
	}

	current := latest
	current.State = store.StateDraft
	current.UpdatedAt = now
	return Draft{Edition: current}
}

func isTerminal(state string) bool {
	return state == store.StatePublished || state == store.StateUnpublished
}

// nextVersion is one past the latest edition's version. It skips past any
// higher version already stored, which only happens after a manual revision.
func nextVersion(editions []store.Edition, latest store.Edition) int {
	highest := latest.Version
	for _, e := range editions {
		if e.Version > highest {
			highest = e.Version
		}
	}
	return highest + 1
}
