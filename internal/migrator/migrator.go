// Package migrator corrects metadata on published editions outside the
// review workflow.
package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/telemetry"
)

// ErrNotFound is returned when the edition does not exist or is not
// published. It also matches sql.ErrNoRows.
var ErrNotFound = errors.New("published edition not found")

type Migrator struct {
	repo      store.Repository
	publisher *publishing.GuidePublisher
	snapshots *publishing.Snapshotter
	log       *logger.Logger
	metrics   *telemetry.Metrics
	dryRun    bool
}

type Option func(*Migrator)

// WithDryRun keeps local writes but skips every publishing API call.
func WithDryRun(dryRun bool) Option {
	return func(m *Migrator) { m.dryRun = dryRun }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Migrator) { m.metrics = metrics }
}

func New(repo store.Repository, api publishing.API, snapshots *publishing.Snapshotter, log *logger.Logger, opts ...Option) *Migrator {
	if log == nil {
		log = logger.NewNop()
	}
	if snapshots == nil {
		snapshots = publishing.NewSnapshotter(repo)
	}
	m := &Migrator{
		repo:      repo,
		publisher: publishing.NewGuidePublisher(api),
		snapshots: snapshots,
		log:       log.With("component", "migrator"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Migrator) DryRun() bool { return m.dryRun }

// UpdateChangeNote rewrites the change note of a published edition and
// republishes it.
func (m *Migrator) UpdateChangeNote(ctx context.Context, editionID, note string) (store.Edition, error) {
	return m.correct(ctx, "update_change_note", editionID, func(e *store.Edition) {
		e.ChangeNote = note
	})
}

// MakeMajor marks a published edition as a major update with note as its
// change note, and republishes it.
func (m *Migrator) MakeMajor(ctx context.Context, editionID, note string) (store.Edition, error) {
	return m.correct(ctx, "make_major", editionID, func(e *store.Edition) {
		e.UpdateType = store.UpdateTypeMajor
		e.ChangeNote = note
	})
}

// MakeMinor marks a published edition as a minor update and republishes it.
func (m *Migrator) MakeMinor(ctx context.Context, editionID string) (store.Edition, error) {
	return m.correct(ctx, "make_minor", editionID, func(e *store.Edition) {
		e.UpdateType = store.UpdateTypeMinor
	})
}

// ReviseVersion overwrites the version of an edition in any state. Nothing is
// sent to the publishing API.
func (m *Migrator) ReviseVersion(ctx context.Context, editionID string, version int) (store.Edition, error) {
	if version < 1 {
		m.metrics.Maintenance("revise_version", false, m.dryRun)
		return store.Edition{}, fmt.Errorf("revise version: version must be greater than 0, got %d", version)
	}
	var updated store.Edition
	err := m.repo.InTx(ctx, func(tx store.Repository) error {
		current, err := tx.GetEdition(ctx, editionID)
		if err != nil {
			return fmt.Errorf("load edition %s: %w", editionID, err)
		}
		current.Version = version
		if err := tx.UpdateEdition(ctx, current); err != nil {
			return fmt.Errorf("update edition: %w", err)
		}
		updated = current
		return nil
	})
	m.metrics.Maintenance("revise_version", err == nil, m.dryRun)
	if err != nil {
		return store.Edition{}, err
	}
	m.log.Info("edition version revised", "edition_id", editionID, "version", version)
	return updated, nil
}

func (m *Migrator) correct(ctx context.Context, op, editionID string, mutate func(*store.Edition)) (store.Edition, error) {
	updated, err := m.commit(ctx, editionID, mutate)
	if err != nil {
		m.metrics.Maintenance(op, false, m.dryRun)
		return store.Edition{}, err
	}
	if m.dryRun {
		m.metrics.Maintenance(op, true, true)
		m.log.Info("edition corrected locally", "operation", op, "edition_id", editionID, "dry_run", true)
		return updated, nil
	}

	// The local write is committed. A failure from here on leaves the
	// publishing API behind and is reported, not retried.
	if err := m.republish(ctx, updated); err != nil {
		m.metrics.Maintenance(op, false, false)
		m.log.Error("republish after correction", "operation", op, "edition_id", editionID, "error", err)
		return updated, err
	}
	m.metrics.Maintenance(op, true, false)
	m.log.Info("edition corrected", "operation", op, "edition_id", editionID, "update_type", updated.UpdateType)
	return updated, nil
}

func (m *Migrator) commit(ctx context.Context, editionID string, mutate func(*store.Edition)) (store.Edition, error) {
	var updated store.Edition
	err := m.repo.InTx(ctx, func(tx store.Repository) error {
		current, err := tx.GetPublishedEdition(ctx, editionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s: %w", ErrNotFound, editionID, err)
			}
			return fmt.Errorf("load edition: %w", err)
		}
		mutate(&current)
		if err := tx.UpdateEdition(ctx, current); err != nil {
			return fmt.Errorf("update edition: %w", err)
		}
		updated = current
		return nil
	})
	return updated, err
}

func (m *Migrator) republish(ctx context.Context, e store.Edition) error {
	snap, err := m.snapshots.Guide(ctx, e.GuideID, e.ID)
	if err != nil {
		return fmt.Errorf("load guide snapshot: %w", err)
	}
	if err := m.publisher.Process(ctx, snap); err != nil {
		return err
	}
	return m.publisher.Publish(ctx, snap, store.UpdateTypeRepublish)
}

// Operation names accepted in batch files.
const (
	OpChangeNote    = "change-note"
	OpMakeMajor     = "make-major"
	OpMakeMinor     = "make-minor"
	OpReviseVersion = "revise-version"
)

// Run dispatches one correction by operation name.
func (m *Migrator) Run(ctx context.Context, c Correction) (store.Edition, error) {
	switch strings.TrimSpace(c.Operation) {
	case OpChangeNote:
		return m.UpdateChangeNote(ctx, c.EditionID, c.Note)
	case OpMakeMajor:
		return m.MakeMajor(ctx, c.EditionID, c.Note)
	case OpMakeMinor:
		return m.MakeMinor(ctx, c.EditionID)
	case OpReviseVersion:
		return m.ReviseVersion(ctx, c.EditionID, c.Version)
	default:
		return store.Edition{}, fmt.Errorf("unknown operation %q", c.Operation)
	}
}
