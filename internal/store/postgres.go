package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  querier
	tx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Repository) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, user.ID, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id=$1`, userID).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const guideColumns = `g.id, g.content_id, g.slug, g.type, g.created_at, g.updated_at`

func scanGuide(row interface{ Scan(...any) error }) (Guide, error) {
	var guide Guide
	err := row.Scan(&guide.ID, &guide.ContentID, &guide.Slug, &guide.Type, &guide.CreatedAt, &guide.UpdatedAt)
	return guide, err
}

func (s *PostgresStore) GetGuide(ctx context.Context, guideID string) (Guide, error) {
	return scanGuide(s.q.QueryRowContext(ctx, `SELECT `+guideColumns+` FROM guides g WHERE g.id=$1`, guideID))
}

func (s *PostgresStore) LockGuide(ctx context.Context, guideID string) (Guide, error) {
	return scanGuide(s.q.QueryRowContext(ctx, `SELECT `+guideColumns+` FROM guides g WHERE g.id=$1 FOR UPDATE`, guideID))
}

func (s *PostgresStore) GetGuideBySlug(ctx context.Context, slug string) (Guide, error) {
	return scanGuide(s.q.QueryRowContext(ctx, `SELECT `+guideColumns+` FROM guides g WHERE g.slug=$1`, slug))
}

func (s *PostgresStore) InsertGuide(ctx context.Context, guide Guide) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO guides (id, content_id, slug, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, guide.ID, guide.ContentID, guide.Slug, guide.Type, guide.CreatedAt, guide.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert guide: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) UpdateGuide(ctx context.Context, guide Guide) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE guides SET slug=$2, type=$3, updated_at=$4 WHERE id=$1
	`, guide.ID, guide.Slug, guide.Type, guide.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update guide: %w", translate(err))
	}
	return expectRow(result)
}

func (s *PostgresStore) DeleteGuide(ctx context.Context, guideID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM guides WHERE id=$1`, guideID); err != nil {
		return fmt.Errorf("delete guide: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGuides(ctx context.Context, filter GuideFilter) ([]Guide, error) {
	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	var editionWhere []string
	if filter.AuthorID != "" {
		editionWhere = append(editionWhere, "e.author_id = "+arg(filter.AuthorID))
	}
	if filter.State != "" {
		editionWhere = append(editionWhere, "e.state = "+arg(filter.State))
	}
	if filter.ContentOwnerID != "" {
		editionWhere = append(editionWhere, "e.content_owner_id = "+arg(filter.ContentOwnerID))
	}
	if len(editionWhere) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM editions e WHERE e.guide_id = g.id AND "+strings.Join(editionWhere, " AND ")+")")
	}
	if filter.PublishedOnly {
		where = append(where, "EXISTS (SELECT 1 FROM editions p WHERE p.guide_id = g.id AND p.state = 'published')")
	}
	if filter.Type != "" {
		where = append(where, "g.type = "+arg(filter.Type))
	}

	query := `SELECT ` + guideColumns + ` FROM guides g`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY g.updated_at DESC, g.id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}
	defer rows.Close()

	var guides []Guide
	for rows.Next() {
		guide, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guide: %w", err)
		}
		guides = append(guides, guide)
	}
	return guides, rows.Err()
}

func (s *PostgresStore) CountGuides(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM guides`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count guides: %w", err)
	}
	return count, nil
}

const editionColumns = `id, guide_id, version, state, update_type, phase, title, body, description,
	author_id, content_owner_id, change_note, change_summary, related_discussion_title,
	related_discussion_href, created_at, updated_at`

func scanEdition(row interface{ Scan(...any) error }) (Edition, error) {
	var (
		edition Edition
		owner   sql.NullString
	)
	err := row.Scan(
		&edition.ID, &edition.GuideID, &edition.Version, &edition.State, &edition.UpdateType,
		&edition.Phase, &edition.Title, &edition.Body, &edition.Description, &edition.AuthorID,
		&owner, &edition.ChangeNote, &edition.ChangeSummary, &edition.RelatedDiscussionTitle,
		&edition.RelatedDiscussionHref, &edition.CreatedAt, &edition.UpdatedAt,
	)
	edition.ContentOwnerID = owner.String
	return edition, err
}

func (s *PostgresStore) GetEdition(ctx context.Context, editionID string) (Edition, error) {
	return scanEdition(s.q.QueryRowContext(ctx, `SELECT `+editionColumns+` FROM editions WHERE id=$1`, editionID))
}

func (s *PostgresStore) GetPublishedEdition(ctx context.Context, editionID string) (Edition, error) {
	return scanEdition(s.q.QueryRowContext(ctx, `SELECT `+editionColumns+` FROM editions WHERE id=$1 AND state='published'`, editionID))
}

func (s *PostgresStore) ListEditions(ctx context.Context, guideID string) ([]Edition, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+editionColumns+`
		FROM editions
		WHERE guide_id=$1
		ORDER BY created_at ASC, version ASC, id ASC
	`, guideID)
	if err != nil {
		return nil, fmt.Errorf("list editions: %w", err)
	}
	defer rows.Close()

	var editions []Edition
	for rows.Next() {
		edition, err := scanEdition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edition: %w", err)
		}
		editions = append(editions, edition)
	}
	return editions, rows.Err()
}

func (s *PostgresStore) InsertEdition(ctx context.Context, e Edition) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO editions (
			id, guide_id, version, state, update_type, phase, title, body, description,
			author_id, content_owner_id, change_note, change_summary, related_discussion_title,
			related_discussion_href, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, e.ID, e.GuideID, e.Version, e.State, e.UpdateType, e.Phase, e.Title, e.Body, e.Description,
		e.AuthorID, nullString(e.ContentOwnerID), e.ChangeNote, e.ChangeSummary, e.RelatedDiscussionTitle,
		e.RelatedDiscussionHref, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert edition: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) UpdateEdition(ctx context.Context, e Edition) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE editions SET
			version=$2, state=$3, update_type=$4, phase=$5, title=$6, body=$7, description=$8,
			author_id=$9, content_owner_id=$10, change_note=$11, change_summary=$12,
			related_discussion_title=$13, related_discussion_href=$14, updated_at=$15
		WHERE id=$1
	`, e.ID, e.Version, e.State, e.UpdateType, e.Phase, e.Title, e.Body, e.Description,
		e.AuthorID, nullString(e.ContentOwnerID), e.ChangeNote, e.ChangeSummary,
		e.RelatedDiscussionTitle, e.RelatedDiscussionHref, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update edition: %w", translate(err))
	}
	return expectRow(result)
}

func (s *PostgresStore) DeleteEdition(ctx context.Context, editionID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM editions WHERE id=$1`, editionID); err != nil {
		return fmt.Errorf("delete edition: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountEditions(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM editions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count editions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID string) (Topic, error) {
	var topic Topic
	err := s.q.QueryRowContext(ctx, `
		SELECT id, content_id, path, title, description, created_at FROM topics WHERE id=$1
	`, topicID).Scan(&topic.ID, &topic.ContentID, &topic.Path, &topic.Title, &topic.Description, &topic.CreatedAt)
	if err != nil {
		return Topic{}, err
	}
	return topic, nil
}

func (s *PostgresStore) InsertTopic(ctx context.Context, topic Topic) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO topics (id, content_id, path, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, topic.ID, topic.ContentID, topic.Path, topic.Title, topic.Description, topic.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert topic: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetTopicSection(ctx context.Context, sectionID string) (TopicSection, error) {
	var section TopicSection
	err := s.q.QueryRowContext(ctx, `
		SELECT id, topic_id, title, description, position FROM topic_sections WHERE id=$1
	`, sectionID).Scan(&section.ID, &section.TopicID, &section.Title, &section.Description, &section.Position)
	if err != nil {
		return TopicSection{}, err
	}
	return section, nil
}

func (s *PostgresStore) InsertTopicSection(ctx context.Context, section TopicSection) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO topic_sections (id, topic_id, title, description, position)
		VALUES ($1, $2, $3, $4, $5)
	`, section.ID, section.TopicID, section.Title, section.Description, section.Position)
	if err != nil {
		return fmt.Errorf("insert topic section: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) ListTopicSections(ctx context.Context, topicID string) ([]TopicSection, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, topic_id, title, description, position
		FROM topic_sections
		WHERE topic_id=$1
		ORDER BY position ASC, id ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list topic sections: %w", err)
	}
	defer rows.Close()

	var sections []TopicSection
	for rows.Next() {
		var section TopicSection
		if err := rows.Scan(&section.ID, &section.TopicID, &section.Title, &section.Description, &section.Position); err != nil {
			return nil, fmt.Errorf("scan topic section: %w", err)
		}
		sections = append(sections, section)
	}
	return sections, rows.Err()
}

func (s *PostgresStore) GetGuideTopicSection(ctx context.Context, guideID string) (TopicSectionGuide, error) {
	var link TopicSectionGuide
	err := s.q.QueryRowContext(ctx, `
		SELECT id, topic_section_id, guide_id, position, created_at
		FROM topic_section_guides
		WHERE guide_id=$1
	`, guideID).Scan(&link.ID, &link.TopicSectionID, &link.GuideID, &link.Position, &link.CreatedAt)
	if err != nil {
		return TopicSectionGuide{}, err
	}
	return link, nil
}

func (s *PostgresStore) AssignGuideTopicSection(ctx context.Context, link TopicSectionGuide) error {
	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM topic_section_guides WHERE guide_id=$1 AND topic_section_id <> $2
	`, link.GuideID, link.TopicSectionID); err != nil {
		return fmt.Errorf("remove previous topic section: %w", err)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO topic_section_guides (id, topic_section_id, guide_id, position, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (guide_id) DO NOTHING
	`, link.ID, link.TopicSectionID, link.GuideID, link.Position, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("assign topic section: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) RemoveGuideTopicSection(ctx context.Context, guideID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM topic_section_guides WHERE guide_id=$1`, guideID); err != nil {
		return fmt.Errorf("remove topic section: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSectionGuides(ctx context.Context, sectionID string) ([]Guide, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+guideColumns+`
		FROM topic_section_guides tsg
		JOIN guides g ON g.id = tsg.guide_id
		WHERE tsg.topic_section_id=$1
		ORDER BY tsg.position ASC, tsg.created_at ASC
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list section guides: %w", err)
	}
	defer rows.Close()

	var guides []Guide
	for rows.Next() {
		guide, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guide: %w", err)
		}
		guides = append(guides, guide)
	}
	return guides, rows.Err()
}

func (s *PostgresStore) CountTopicSectionGuides(ctx context.Context, guideID string) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM topic_section_guides WHERE guide_id=$1`, guideID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count topic section guides: %w", err)
	}
	return count, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// translate maps unique violations onto ErrConflict.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
