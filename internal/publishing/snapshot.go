package publishing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"servicemanual/api/internal/edition"
	"servicemanual/api/internal/store"
)

// Reader is the read side of the edition store needed to build payloads.
type Reader interface {
	GetGuide(ctx context.Context, guideID string) (store.Guide, error)
	GetEdition(ctx context.Context, editionID string) (store.Edition, error)
	ListEditions(ctx context.Context, guideID string) ([]store.Edition, error)
	GetGuideTopicSection(ctx context.Context, guideID string) (store.TopicSectionGuide, error)
	GetTopicSection(ctx context.Context, sectionID string) (store.TopicSection, error)
	GetTopic(ctx context.Context, topicID string) (store.Topic, error)
	ListTopicSections(ctx context.Context, topicID string) ([]store.TopicSection, error)
	ListSectionGuides(ctx context.Context, sectionID string) ([]store.Guide, error)
}

// GuideSnapshot is everything the guide presenters read.
type GuideSnapshot struct {
	Guide        store.Guide
	Edition      store.Edition
	ContentOwner *Owner
	Topic        *store.Topic
}

// Owner is the content owner community as presented to the publishing API.
type Owner struct {
	ContentID string
	Title     string
	Slug      string
}

type TopicSnapshot struct {
	Topic    store.Topic
	Sections []SectionSnapshot
}

type SectionSnapshot struct {
	Section         store.TopicSection
	GuideContentIDs []string
}

type Snapshotter struct {
	reader Reader
}

func NewSnapshotter(reader Reader) *Snapshotter {
	return &Snapshotter{reader: reader}
}

// Guide loads the guide with editionID, or with its latest edition when
// editionID is empty.
func (s *Snapshotter) Guide(ctx context.Context, guideID, editionID string) (GuideSnapshot, error) {
	guide, err := s.reader.GetGuide(ctx, guideID)
	if err != nil {
		return GuideSnapshot{}, fmt.Errorf("load guide %s: %w", guideID, err)
	}

	var current store.Edition
	if editionID != "" {
		current, err = s.reader.GetEdition(ctx, editionID)
		if err != nil {
			return GuideSnapshot{}, fmt.Errorf("load edition %s: %w", editionID, err)
		}
	} else {
		editions, err := s.reader.ListEditions(ctx, guideID)
		if err != nil {
			return GuideSnapshot{}, fmt.Errorf("list editions: %w", err)
		}
		latest, ok := edition.Latest(editions)
		if !ok {
			return GuideSnapshot{}, fmt.Errorf("guide %s has no editions: %w", guideID, sql.ErrNoRows)
		}
		current = latest
	}

	snap := GuideSnapshot{Guide: guide, Edition: current}

	if current.ContentOwnerID != "" {
		owner, err := s.owner(ctx, current.ContentOwnerID)
		if err != nil {
			return GuideSnapshot{}, err
		}
		snap.ContentOwner = owner
	}

	link, err := s.reader.GetGuideTopicSection(ctx, guideID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return GuideSnapshot{}, fmt.Errorf("load topic section link: %w", err)
	default:
		section, err := s.reader.GetTopicSection(ctx, link.TopicSectionID)
		if err != nil {
			return GuideSnapshot{}, fmt.Errorf("load topic section: %w", err)
		}
		topic, err := s.reader.GetTopic(ctx, section.TopicID)
		if err != nil {
			return GuideSnapshot{}, fmt.Errorf("load topic: %w", err)
		}
		snap.Topic = &topic
	}

	return snap, nil
}

func (s *Snapshotter) owner(ctx context.Context, ownerID string) (*Owner, error) {
	community, err := s.reader.GetGuide(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load content owner: %w", err)
	}
	editions, err := s.reader.ListEditions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list content owner editions: %w", err)
	}
	owner := &Owner{ContentID: community.ContentID, Slug: community.Slug}
	if latest, ok := edition.Latest(editions); ok {
		owner.Title = latest.Title
	}
	return owner, nil
}

// Topic loads a topic with its sections in position order and the content
// ids of the guides in each section.
func (s *Snapshotter) Topic(ctx context.Context, topicID string) (TopicSnapshot, error) {
	topic, err := s.reader.GetTopic(ctx, topicID)
	if err != nil {
		return TopicSnapshot{}, fmt.Errorf("load topic %s: %w", topicID, err)
	}
	sections, err := s.reader.ListTopicSections(ctx, topicID)
	if err != nil {
		return TopicSnapshot{}, fmt.Errorf("list topic sections: %w", err)
	}

	snap := TopicSnapshot{Topic: topic, Sections: make([]SectionSnapshot, 0, len(sections))}
	for _, section := range sections {
		guides, err := s.reader.ListSectionGuides(ctx, section.ID)
		if err != nil {
			return TopicSnapshot{}, fmt.Errorf("list guides in section %s: %w", section.ID, err)
		}
		ids := make([]string, 0, len(guides))
		for _, g := range guides {
			ids = append(ids, g.ContentID)
		}
		snap.Sections = append(snap.Sections, SectionSnapshot{Section: section, GuideContentIDs: ids})
	}
	return snap, nil
}
