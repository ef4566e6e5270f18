package search

import (
	"context"

	"servicemanual/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to the
// fallback searcher (Postgres FTS in production).
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *logger.Logger
}

// NewService creates a search service. meili and fallback may be nil.
func NewService(meili *Meili, fallback Searcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, log: log.With("component", "search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexGuide pushes the guide to Meilisearch without waiting.
func (s *Service) IndexGuide(rec GuideRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGuide(rec); err != nil {
			s.log.Warn("index guide", "guide_id", rec.ID, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every guide from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) {
	if s.meili == nil || !s.meili.Healthy() || pg == nil {
		return
	}
	records, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error("reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexGuides(records); err != nil {
		s.log.Error("reindex guides", "error", err)
		return
	}
	s.log.Info("reindexed guides", "count", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
