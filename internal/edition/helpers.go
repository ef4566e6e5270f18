package edition

import (
	"strings"

	"servicemanual/api/internal/store"
)

// Latest returns the most recently created edition. editions must be ordered
// oldest first, as ListEditions returns them.
func Latest(editions []store.Edition) (store.Edition, bool) {
	if len(editions) == 0 {
		return store.Edition{}, false
	}
	return editions[len(editions)-1], true
}

func HasPublished(editions []store.Edition) bool {
	return hasState(editions, store.StatePublished)
}

func HasUnpublished(editions []store.Edition) bool {
	return hasState(editions, store.StateUnpublished)
}

// CanBeUnpublished is false once any edition has been unpublished.
func CanBeUnpublished(editions []store.Edition) bool {
	return HasPublished(editions) && !HasUnpublished(editions)
}

// WorkInProgress reports whether the latest edition has not been published.
func WorkInProgress(editions []store.Edition) bool {
	latest, ok := Latest(editions)
	return ok && latest.State != store.StatePublished
}

// SinceLastPublished returns the editions created after the most recently
// published one, or nil if nothing was ever published.
func SinceLastPublished(editions []store.Edition) []store.Edition {
	last := -1
	for i, e := range editions {
		if e.State == store.StatePublished {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	var since []store.Edition
	for _, e := range editions[last+1:] {
		if e.CreatedAt.After(editions[last].CreatedAt) {
			since = append(since, e)
		}
	}
	return since
}

// TitleSlug is the final segment of a guide slug.
func TitleSlug(slug string) string {
	trimmed := strings.TrimRight(slug, "/")
	if trimmed == "" {
		return ""
	}
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

func hasState(editions []store.Edition, state string) bool {
	for _, e := range editions {
		if e.State == state {
			return true
		}
	}
	return false
}
