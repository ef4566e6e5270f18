package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// latestEditions joins every guide to its latest edition.
const latestEditions = `
	FROM guides g
	JOIN LATERAL (
		SELECT e.title, e.description, e.body, e.state, e.author_id, e.tsv
		FROM editions e
		WHERE e.guide_id = g.id
		ORDER BY e.created_at DESC, e.version DESC
		LIMIT 1
	) le ON true`

// PgFTS implements Searcher with PostgreSQL full-text search over the
// editions.tsv column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "le.tsv @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.State != "" {
		where += " AND le.state = $2"
		args = append(args, q.State)
	}

	var total int
	countSQL := "SELECT count(*) " + latestEditions + " WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT g.id, g.slug, le.title,
			ts_headline('english', coalesce(le.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			le.state
		%s
		WHERE %s
		ORDER BY ts_rank(le.tsv, plainto_tsquery('english', $1)) DESC, g.slug
		LIMIT %d OFFSET %d`, latestEditions, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.GuideID, &r.Slug, &r.Title, &r.Snippet, &r.State); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every guide with its latest edition for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GuideRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT g.id, g.slug, le.title, le.description, le.body, le.state, le.author_id`+latestEditions)
	if err != nil {
		return nil, fmt.Errorf("load guides: %w", err)
	}
	defer rows.Close()

	records := make([]GuideRecord, 0)
	for rows.Next() {
		var r GuideRecord
		if err := rows.Scan(&r.ID, &r.Slug, &r.Title, &r.Description, &r.Body, &r.State, &r.AuthorID); err != nil {
			return nil, fmt.Errorf("scan guide: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guides: %w", err)
	}
	return records, nil
}
