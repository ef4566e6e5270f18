package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"servicemanual/api/internal/edition"
	"servicemanual/api/internal/search"
	"servicemanual/api/internal/store"
)

type GuideView struct {
	Guide                      store.Guide     `json:"guide"`
	Editions                   []store.Edition `json:"editions"`
	LatestEdition              *store.Edition  `json:"latestEdition"`
	CanBeUnpublished           bool            `json:"canBeUnpublished"`
	WorkInProgress             bool            `json:"workInProgress"`
	EditionsSinceLastPublished []store.Edition `json:"editionsSinceLastPublished"`
	TopicSectionID             string          `json:"topicSectionId,omitempty"`
	TitleSlug                  string          `json:"titleSlug"`
}

func (s *Service) GetGuide(ctx context.Context, guideID string) (GuideView, error) {
	guide, err := s.store.GetGuide(ctx, guideID)
	if err != nil {
		return GuideView{}, fmt.Errorf("load guide: %w", err)
	}
	editions, err := s.store.ListEditions(ctx, guideID)
	if err != nil {
		return GuideView{}, fmt.Errorf("list editions: %w", err)
	}

	view := GuideView{
		Guide:                      guide,
		Editions:                   nonNilEditions(editions),
		CanBeUnpublished:           edition.CanBeUnpublished(editions),
		WorkInProgress:             edition.WorkInProgress(editions),
		EditionsSinceLastPublished: nonNilEditions(edition.SinceLastPublished(editions)),
		TitleSlug:                  edition.TitleSlug(guide.Slug),
	}
	if latest, ok := edition.Latest(editions); ok {
		view.LatestEdition = &latest
	}

	link, err := s.store.GetGuideTopicSection(ctx, guideID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return GuideView{}, fmt.Errorf("load topic section link: %w", err)
	default:
		view.TopicSectionID = link.TopicSectionID
	}
	return view, nil
}

type ListGuidesInput struct {
	Author        string
	State         string
	ContentOwner  string
	PublishedOnly bool
	Type          string
	Query         string
}

type GuideSummary struct {
	Guide         store.Guide    `json:"guide"`
	LatestEdition *store.Edition `json:"latestEdition"`
}

// ListGuides filters guides by their editions. A text query goes through
// search when it is configured and matches titles and descriptions otherwise.
func (s *Service) ListGuides(ctx context.Context, input ListGuidesInput) ([]GuideSummary, error) {
	guides, err := s.store.ListGuides(ctx, store.GuideFilter{
		AuthorID:       strings.TrimSpace(input.Author),
		State:          strings.TrimSpace(input.State),
		ContentOwnerID: strings.TrimSpace(input.ContentOwner),
		PublishedOnly:  input.PublishedOnly,
		Type:           strings.TrimSpace(input.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}

	query := strings.TrimSpace(input.Query)
	var hits map[string]bool
	if query != "" && s.search != nil {
		resp := s.search.Search(ctx, search.Query{Text: query, Limit: 100})
		hits = make(map[string]bool, len(resp.Results))
		for _, result := range resp.Results {
			hits[result.GuideID] = true
		}
	}

	summaries := make([]GuideSummary, 0, len(guides))
	for _, guide := range guides {
		if hits != nil && !hits[guide.ID] {
			continue
		}
		editions, err := s.store.ListEditions(ctx, guide.ID)
		if err != nil {
			return nil, fmt.Errorf("list editions: %w", err)
		}
		summary := GuideSummary{Guide: guide}
		if latest, ok := edition.Latest(editions); ok {
			summary.LatestEdition = &latest
		}
		if query != "" && hits == nil && !matchesText(summary, query) {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func matchesText(summary GuideSummary, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(summary.Guide.Slug), q) {
		return true
	}
	if summary.LatestEdition == nil {
		return false
	}
	return strings.Contains(strings.ToLower(summary.LatestEdition.Title), q) ||
		strings.Contains(strings.ToLower(summary.LatestEdition.Description), q)
}

func nonNilEditions(editions []store.Edition) []store.Edition {
	if editions == nil {
		return []store.Edition{}
	}
	return editions
}
