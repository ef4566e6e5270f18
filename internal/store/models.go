package store

import "time"

// Edition states.
const (
	StateDraft           = "draft"
	StateReviewRequested = "review_requested"
	StateReady           = "ready"
	StatePublished       = "published"
	StateUnpublished     = "unpublished"
)

// Update types. UpdateTypeRepublish is only ever sent to the publishing API.
const (
	UpdateTypeMajor     = "major"
	UpdateTypeMinor     = "minor"
	UpdateTypeRepublish = "republish"
)

// Guide kinds.
const (
	GuideTypeGuide     = "Guide"
	GuideTypeCommunity = "GuideCommunity"
)

type Guide struct {
	ID        string    `json:"id"`
	ContentID string    `json:"contentId"`
	Slug      string    `json:"slug"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Edition struct {
	ID                     string    `json:"id"`
	GuideID                string    `json:"guideId"`
	Version                int       `json:"version"`
	State                  string    `json:"state"`
	UpdateType             string    `json:"updateType"`
	Phase                  string    `json:"phase"`
	Title                  string    `json:"title"`
	Body                   string    `json:"body"`
	Description            string    `json:"description"`
	AuthorID               string    `json:"authorId"`
	ContentOwnerID         string    `json:"contentOwnerId,omitempty"`
	ChangeNote             string    `json:"changeNote"`
	ChangeSummary          string    `json:"changeSummary"`
	RelatedDiscussionTitle string    `json:"relatedDiscussionTitle,omitempty"`
	RelatedDiscussionHref  string    `json:"relatedDiscussionHref,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

type Topic struct {
	ID          string    `json:"id"`
	ContentID   string    `json:"contentId"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TopicSection struct {
	ID          string `json:"id"`
	TopicID     string `json:"topicId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// TopicSectionGuide places a guide in a topic section. A guide has at most one.
type TopicSectionGuide struct {
	ID             string    `json:"id"`
	TopicSectionID string    `json:"topicSectionId"`
	GuideID        string    `json:"guideId"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"createdAt"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// GuideFilter narrows ListGuides. Empty fields are ignored. AuthorID, State and
// ContentOwnerID must all match the same edition; PublishedOnly requires some
// edition of the guide to be published.
type GuideFilter struct {
	AuthorID       string
	State          string
	ContentOwnerID string
	PublishedOnly  bool
	Type           string
}
