package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"servicemanual/api/internal/edition"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/store"
)

type TransitionOptions struct {
	// RedirectPath is where an unpublished guide should send readers.
	RedirectPath string `json:"redirect,omitempty"`
}

// Transition moves an edition through the review workflow. Publish and
// unpublish are pushed to the publishing API; if that fails the edition goes
// back to its previous state and the publishing error is returned.
func (s *Service) Transition(ctx context.Context, actor store.User, editionID string, action edition.Action, opts TransitionOptions) (store.Edition, error) {
	opts.RedirectPath = strings.TrimSpace(opts.RedirectPath)
	if action == edition.ActionUnpublish && opts.RedirectPath != "" && !strings.HasPrefix(opts.RedirectPath, "/") {
		verr := &ValidationError{}
		verr.add("redirect", "must be a path starting with '/'")
		s.metrics.Transition(string(action), "invalid")
		return store.Edition{}, verr
	}
	if err := s.store.UpsertUser(ctx, actor); err != nil {
		return store.Edition{}, fmt.Errorf("upsert user: %w", err)
	}

	var before, after store.Edition
	err := s.store.InTx(ctx, func(tx store.Repository) error {
		target, err := tx.GetEdition(ctx, editionID)
		if err != nil {
			return fmt.Errorf("load edition: %w", err)
		}
		if _, err := tx.LockGuide(ctx, target.GuideID); err != nil {
			return fmt.Errorf("lock guide: %w", err)
		}
		editions, err := tx.ListEditions(ctx, target.GuideID)
		if err != nil {
			return fmt.Errorf("list editions: %w", err)
		}
		next, err := edition.Transition(editions, target, action, actor.ID)
		if err != nil {
			return err
		}
		before = target
		after = target
		after.State = next
		after.UpdatedAt = s.now()
		if err := tx.UpdateEdition(ctx, after); err != nil {
			return fmt.Errorf("update edition: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.Transition(string(action), transitionResultLabel(err))
		return store.Edition{}, err
	}

	if err := s.syncTransition(ctx, after, action, opts); err != nil {
		s.log.Warn("publishing sync failed, restoring edition state", "edition_id", after.ID, "action", action, "error", err)
		s.restoreEdition(ctx, before, after)
		s.metrics.Transition(string(action), "sync_failed")
		return store.Edition{}, err
	}

	s.metrics.Transition(string(action), "ok")
	s.log.Info("edition transitioned", "edition_id", after.ID, "action", action, "state", after.State, "actor", actor.ID)
	s.indexLatest(ctx, after.GuideID)
	return after, nil
}

func (s *Service) syncTransition(ctx context.Context, e store.Edition, action edition.Action, opts TransitionOptions) error {
	if action != edition.ActionPublish && action != edition.ActionUnpublish {
		return nil
	}
	snap, err := publishing.NewSnapshotter(s.store).Guide(ctx, e.GuideID, e.ID)
	if err != nil {
		return fmt.Errorf("load guide snapshot: %w", err)
	}
	if action == edition.ActionUnpublish {
		return s.guides.Unpublish(ctx, snap, opts.RedirectPath)
	}
	if err := s.guides.Process(ctx, snap); err != nil {
		return err
	}
	return s.guides.Publish(ctx, snap, e.UpdateType)
}

// restoreEdition puts previous back unless the edition was written again
// after the transition stored written.
func (s *Service) restoreEdition(ctx context.Context, previous, written store.Edition) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.InTx(ctx, func(tx store.Repository) error {
		if _, err := tx.LockGuide(ctx, previous.GuideID); err != nil {
			return fmt.Errorf("lock guide: %w", err)
		}
		current, err := tx.GetEdition(ctx, previous.ID)
		if err != nil {
			return fmt.Errorf("load edition: %w", err)
		}
		if !current.UpdatedAt.Equal(written.UpdatedAt) || current.State != written.State {
			return errSuperseded
		}
		return tx.UpdateEdition(ctx, previous)
	})
	switch {
	case errors.Is(err, errSuperseded):
		s.metrics.Rollback("skipped")
		s.log.Warn("edition restore skipped, edition changed since transition", "edition_id", previous.ID)
	case err != nil:
		s.metrics.Rollback("error")
		s.log.Error("restore edition state", "edition_id", previous.ID, "error", err)
	default:
		s.metrics.Rollback("ok")
	}
}

// PublishTopic pushes a topic and its links, then publishes it.
func (s *Service) PublishTopic(ctx context.Context, actor store.User, topicID string) (store.Topic, error) {
	snap, err := publishing.NewSnapshotter(s.store).Topic(ctx, topicID)
	if err != nil {
		return store.Topic{}, err
	}
	if err := s.topics.Sync(ctx, snap); err != nil {
		return store.Topic{}, err
	}
	if err := s.topics.Publish(ctx, snap); err != nil {
		return store.Topic{}, err
	}
	s.log.Info("topic published", "topic_id", topicID, "actor", actor.ID)
	return snap.Topic, nil
}

// ParseAction maps a URL action segment to a workflow action.
func ParseAction(value string) (edition.Action, error) {
	action, ok := edition.ParseAction(value)
	if !ok || action == edition.ActionEdit {
		return "", domainError(http.StatusNotFound, "NOT_FOUND", "Unknown workflow action", map[string]any{"action": value})
	}
	return action, nil
}

func transitionResultLabel(err error) string {
	var guard *edition.GuardError
	if errors.As(err, &guard) {
		return "guard"
	}
	return "error"
}
