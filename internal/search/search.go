// Package search finds guides by text. Meilisearch serves queries while it is
// healthy and Postgres full-text search over editions covers the rest.
package search

import "context"

// Result is a single guide hit.
type Result struct {
	GuideID string `json:"guideId"`
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	State   string `json:"state"`
}

type Query struct {
	Text   string
	State  string // latest edition state, empty = any
	Limit  int
	Offset int
}

// Response is the envelope returned to callers.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// GuideRecord is what gets indexed for a guide: its latest edition.
type GuideRecord struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
	State       string `json:"state"`
	AuthorID    string `json:"authorId"`
}
