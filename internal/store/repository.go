package store

import (
	"context"
	"errors"
)

// ErrConflict reports a uniqueness violation, typically two writers racing for
// the same (guide, version) or slug. Callers retry the read-then-write.
var ErrConflict = errors.New("store: conflict")

// Repository is the edition store. Lookups that find nothing return
// sql.ErrNoRows.
type Repository interface {
	// InTx runs fn against a transactional view of the store. The transaction
	// commits when fn returns nil and rolls back otherwise. Calling InTx on a
	// transactional view runs fn in the same transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
	Ping(ctx context.Context) error

	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, userID string) (User, error)

	GetGuide(ctx context.Context, guideID string) (Guide, error)
	// LockGuide is GetGuide taking a row lock until the transaction ends.
	LockGuide(ctx context.Context, guideID string) (Guide, error)
	GetGuideBySlug(ctx context.Context, slug string) (Guide, error)
	InsertGuide(ctx context.Context, guide Guide) error
	UpdateGuide(ctx context.Context, guide Guide) error
	DeleteGuide(ctx context.Context, guideID string) error
	ListGuides(ctx context.Context, filter GuideFilter) ([]Guide, error)
	CountGuides(ctx context.Context) (int, error)

	GetEdition(ctx context.Context, editionID string) (Edition, error)
	GetPublishedEdition(ctx context.Context, editionID string) (Edition, error)
	// ListEditions returns the guide's editions oldest first.
	ListEditions(ctx context.Context, guideID string) ([]Edition, error)
	InsertEdition(ctx context.Context, edition Edition) error
	UpdateEdition(ctx context.Context, edition Edition) error
	DeleteEdition(ctx context.Context, editionID string) error
	CountEditions(ctx context.Context) (int, error)

	GetTopic(ctx context.Context, topicID string) (Topic, error)
	InsertTopic(ctx context.Context, topic Topic) error
	GetTopicSection(ctx context.Context, sectionID string) (TopicSection, error)
	InsertTopicSection(ctx context.Context, section TopicSection) error
	ListTopicSections(ctx context.Context, topicID string) ([]TopicSection, error)

	GetGuideTopicSection(ctx context.Context, guideID string) (TopicSectionGuide, error)
	// AssignGuideTopicSection removes any other section row for the guide and
	// stores link. Reassigning the current section keeps the existing row.
	AssignGuideTopicSection(ctx context.Context, link TopicSectionGuide) error
	RemoveGuideTopicSection(ctx context.Context, guideID string) error
	ListSectionGuides(ctx context.Context, sectionID string) ([]Guide, error)
	CountTopicSectionGuides(ctx context.Context, guideID string) (int, error)
}

var (
	_ Repository = (*PostgresStore)(nil)
	_ Repository = (*MemoryStore)(nil)
)
