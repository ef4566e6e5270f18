package edition

import (
	"regexp"

	"servicemanual/api/internal/store"
)

// Kind describes a guide variant.
type Kind struct {
	Name                 string
	RequiresContentOwner bool
}

var kinds = map[string]Kind{
	store.GuideTypeGuide:     {Name: store.GuideTypeGuide, RequiresContentOwner: true},
	store.GuideTypeCommunity: {Name: store.GuideTypeCommunity, RequiresContentOwner: false},
}

// KindOf looks up a guide type. An empty type is a plain Guide.
func KindOf(guideType string) (Kind, bool) {
	if guideType == "" {
		guideType = store.GuideTypeGuide
	}
	kind, ok := kinds[guideType]
	return kind, ok
}

var (
	slugPrefix     = regexp.MustCompile(`^/service-manual/`)
	slugFilled     = regexp.MustCompile(`^/service-manual/\w+`)
	slugCharacters = regexp.MustCompile(`^/service-manual/[a-z0-9\-/]+$`)
	slugWithTopic  = regexp.MustCompile(`^/service-manual/[a-z0-9-]+/[a-z0-9-]+`)
)

// SlugProblem returns the first rule slug breaks, or "" if it is well formed.
func SlugProblem(slug string) string {
	switch {
	case !slugPrefix.MatchString(slug):
		return "must be present and start with '/service-manual/'"
	case !slugFilled.MatchString(slug):
		return "must be filled in"
	case !slugCharacters.MatchString(slug):
		return "can only contain letters, numbers and dashes"
	case !slugWithTopic.MatchString(slug):
		return "must be present and start with '/service-manual/[topic]'"
	default:
		return ""
	}
}

var phases = map[string]bool{"alpha": true, "beta": true, "live": true}

// ValidPhase reports whether phase is a known service phase.
func ValidPhase(phase string) bool {
	return phases[phase]
}

// ValidUpdateType reports whether updateType is major or minor.
func ValidUpdateType(updateType string) bool {
	return updateType == store.UpdateTypeMajor || updateType == store.UpdateTypeMinor
}
