package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicemanual/api/internal/config"
	"servicemanual/api/internal/edition"
	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/publishing"
	"servicemanual/api/internal/search"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/tagging"
	"servicemanual/api/internal/telemetry"
	"servicemanual/api/internal/util"
)

// guideIndex is the part of the search service the orchestrator uses.
type guideIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexGuide(rec search.GuideRecord)
}

type Service struct {
	store       store.Repository
	guides      *publishing.GuidePublisher
	topics      *publishing.TopicPublisher
	search      guideIndex
	log         *logger.Logger
	metrics     *telemetry.Metrics
	maxAttempts int
	now         func() time.Time
}

// New wires the orchestrator. queue receives tagging jobs when topics are
// synchronized; searcher may be nil.
func New(cfg config.Config, repo store.Repository, api publishing.API, queue tagging.Enqueuer, searcher *search.Service, log *logger.Logger, metrics *telemetry.Metrics) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	attempts := cfg.SaveMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	s := &Service{
		store:       repo,
		guides:      publishing.NewGuidePublisher(api),
		topics:      publishing.NewTopicPublisher(api, queue, log, metrics),
		log:         log.With("component", "app"),
		metrics:     metrics,
		maxAttempts: attempts,
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	if searcher != nil {
		s.search = searcher
	}
	return s
}

// GuideAttributes are the editable fields of a guide and its edition. A nil
// field keeps the stored value.
type GuideAttributes struct {
	Slug                   *string `json:"slug,omitempty"`
	Type                   *string `json:"type,omitempty"`
	Title                  *string `json:"title,omitempty"`
	Body                   *string `json:"body,omitempty"`
	Description            *string `json:"description,omitempty"`
	UpdateType             *string `json:"updateType,omitempty"`
	ChangeNote             *string `json:"changeNote,omitempty"`
	ChangeSummary          *string `json:"changeSummary,omitempty"`
	ContentOwnerID         *string `json:"contentOwnerId,omitempty"`
	AuthorID               *string `json:"authorId,omitempty"`
	Phase                  *string `json:"phase,omitempty"`
	RelatedDiscussionTitle *string `json:"relatedDiscussionTitle,omitempty"`
	RelatedDiscussionHref  *string `json:"relatedDiscussionHref,omitempty"`
	TopicSectionID         *string `json:"topicSectionId,omitempty"`
}

type SaveRequest struct {
	// GuideID is empty for a new guide.
	GuideID string
	// EditionID, when set, must name the guide's latest edition.
	EditionID  string
	Attributes GuideAttributes
}

type SaveResult struct {
	Guide      store.Guide   `json:"guide"`
	Edition    store.Edition `json:"edition"`
	Created    bool          `json:"created"`
	NewEdition bool          `json:"newEdition"`
}

// priorState is what a save overwrote, kept so a failed sync can put it back.
type priorState struct {
	guideCreated   bool
	guide          store.Guide
	editionCreated bool
	edition        store.Edition
	editionID      string
	linkChanged    bool
	link           *store.TopicSectionGuide
	topicIDs       []string

	// writtenGuide and writtenEdition are the rows this save stored. A
	// rollback only touches rows still carrying their UpdatedAt.
	writtenGuide   store.Guide
	writtenEdition store.Edition
}

// SaveGuide validates and stores a guide edition, then pushes the guide and
// any topic whose membership changed to the publishing API. When the push
// fails the local write is undone and the publishing error is returned as is.
func (s *Service) SaveGuide(ctx context.Context, actor store.User, req SaveRequest) (SaveResult, error) {
	if err := s.store.UpsertUser(ctx, actor); err != nil {
		s.metrics.Save("error")
		return SaveResult{}, fmt.Errorf("upsert user: %w", err)
	}

	var (
		result SaveResult
		prior  priorState
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, prior, err = s.saveLocal(ctx, actor, req)
		if err == nil || !errors.Is(err, store.ErrConflict) || attempt >= s.maxAttempts {
			break
		}
		s.log.Warn("save conflict, retrying", "guide_id", req.GuideID, "attempt", attempt, "error", err)
	}
	if err != nil {
		s.metrics.Save(saveResultLabel(err))
		return SaveResult{}, err
	}

	if err := s.syncSave(ctx, result, prior); err != nil {
		s.log.Warn("publishing sync failed, rolling back", "guide_id", result.Guide.ID, "edition_id", result.Edition.ID, "error", err)
		s.compensate(ctx, prior)
		s.metrics.Save("sync_failed")
		return SaveResult{}, err
	}

	s.metrics.Save("ok")
	s.index(result.Guide, result.Edition)
	s.log.Info("guide saved", "guide_id", result.Guide.ID, "edition_id", result.Edition.ID, "version", result.Edition.Version, "created", result.Created)
	return result, nil
}

func (s *Service) saveLocal(ctx context.Context, actor store.User, req SaveRequest) (SaveResult, priorState, error) {
	var (
		result SaveResult
		prior  priorState
	)
	err := s.store.InTx(ctx, func(tx store.Repository) error {
		now := s.now()
		attrs := req.Attributes

		var (
			guide    store.Guide
			editions []store.Edition
			link     *store.TopicSectionGuide
		)
		if req.GuideID == "" {
			guide = store.Guide{
				ID:        util.NewID("guide"),
				ContentID: util.NewContentID(),
				Type:      valueOr(attrs.Type, store.GuideTypeGuide),
				CreatedAt: now,
				UpdatedAt: now,
			}
			prior.guideCreated = true
		} else {
			var err error
			guide, err = tx.LockGuide(ctx, req.GuideID)
			if err != nil {
				return fmt.Errorf("lock guide: %w", err)
			}
			editions, err = tx.ListEditions(ctx, guide.ID)
			if err != nil {
				return fmt.Errorf("list editions: %w", err)
			}
			current, err := tx.GetGuideTopicSection(ctx, guide.ID)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("load topic section link: %w", err)
			default:
				link = &current
			}
		}
		prior.guide = guide
		prior.link = link

		if err := edition.CheckEditable(editions, req.EditionID); err != nil {
			return err
		}

		draft := edition.Prepare(editions, guide.ID, actor.ID, now)
		if draft.New {
			draft.Edition.ID = util.NewID("edition")
		} else {
			prior.edition, _ = edition.Latest(editions)
		}
		prior.editionCreated = draft.New
		prior.editionID = draft.Edition.ID

		next := draft.Edition
		applyEditionAttributes(&next, attrs)
		if attrs.Slug != nil {
			guide.Slug = strings.TrimSpace(*attrs.Slug)
		}
		guide.UpdatedAt = now

		sectionID := ""
		if link != nil {
			sectionID = link.TopicSectionID
		}
		if attrs.TopicSectionID != nil {
			sectionID = strings.TrimSpace(*attrs.TopicSectionID)
		}

		section, err := s.validate(ctx, tx, prior, guide, editions, next, sectionID)
		if err != nil {
			return err
		}

		if prior.guideCreated {
			if err := tx.InsertGuide(ctx, guide); err != nil {
				return fmt.Errorf("insert guide: %w", err)
			}
		} else if err := tx.UpdateGuide(ctx, guide); err != nil {
			return fmt.Errorf("update guide: %w", err)
		}

		if draft.New {
			if err := tx.InsertEdition(ctx, next); err != nil {
				return fmt.Errorf("insert edition: %w", err)
			}
		} else if err := tx.UpdateEdition(ctx, next); err != nil {
			return fmt.Errorf("update edition: %w", err)
		}

		if link == nil || link.TopicSectionID != section.ID {
			if err := tx.AssignGuideTopicSection(ctx, store.TopicSectionGuide{
				ID:             util.NewID("tsg"),
				TopicSectionID: section.ID,
				GuideID:        guide.ID,
				CreatedAt:      now,
			}); err != nil {
				return fmt.Errorf("assign topic section: %w", err)
			}
			prior.linkChanged = true
			prior.topicIDs = appendTopic(prior.topicIDs, section.TopicID)
			if link != nil {
				old, err := tx.GetTopicSection(ctx, link.TopicSectionID)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("load previous topic section: %w", err)
				}
				if err == nil {
					prior.topicIDs = appendTopic(prior.topicIDs, old.TopicID)
				}
			}
		}

		prior.writtenGuide = guide
		prior.writtenEdition = next
		result = SaveResult{Guide: guide, Edition: next, Created: prior.guideCreated, NewEdition: draft.New}
		return nil
	})
	return result, prior, err
}

func applyEditionAttributes(e *store.Edition, attrs GuideAttributes) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&e.Title, attrs.Title)
	set(&e.Body, attrs.Body)
	set(&e.Description, attrs.Description)
	set(&e.UpdateType, attrs.UpdateType)
	set(&e.ChangeNote, attrs.ChangeNote)
	set(&e.ChangeSummary, attrs.ChangeSummary)
	set(&e.ContentOwnerID, attrs.ContentOwnerID)
	set(&e.AuthorID, attrs.AuthorID)
	set(&e.Phase, attrs.Phase)
	set(&e.RelatedDiscussionTitle, attrs.RelatedDiscussionTitle)
	set(&e.RelatedDiscussionHref, attrs.RelatedDiscussionHref)
	e.ContentOwnerID = strings.TrimSpace(e.ContentOwnerID)
}

// validate checks the guide about to be written. It returns the topic
// section the guide will belong to.
func (s *Service) validate(ctx context.Context, tx store.Repository, prior priorState, guide store.Guide, editions []store.Edition, next store.Edition, sectionID string) (store.TopicSection, error) {
	verr := &ValidationError{}

	if problem := edition.SlugProblem(guide.Slug); problem != "" {
		verr.add("slug", problem)
	} else {
		if !prior.guideCreated && guide.Slug != prior.guide.Slug && edition.HasPublished(editions) {
			verr.add("slug", "can't be changed if guide has a published edition")
		}
		other, err := tx.GetGuideBySlug(ctx, guide.Slug)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return store.TopicSection{}, fmt.Errorf("check slug: %w", err)
		case other.ID != guide.ID:
			verr.add("slug", "has already been taken")
		}
	}

	kind, ok := edition.KindOf(guide.Type)
	if !ok {
		verr.add("type", "is not included in the list")
	}

	if next.ContentOwnerID == "" {
		if ok && kind.RequiresContentOwner {
			verr.add("latest_edition", "must have a content owner")
		}
	} else {
		owner, err := tx.GetGuide(ctx, next.ContentOwnerID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			verr.add("content_owner", "is invalid")
		case err != nil:
			return store.TopicSection{}, fmt.Errorf("load content owner: %w", err)
		case owner.Type != store.GuideTypeCommunity:
			verr.add("content_owner", "is invalid")
		}
	}

	var section store.TopicSection
	if sectionID == "" {
		verr.add("topic_section", "can't be blank")
	} else {
		var err error
		section, err = tx.GetTopicSection(ctx, sectionID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			verr.add("topic_section", "is invalid")
		case err != nil:
			return store.TopicSection{}, fmt.Errorf("load topic section: %w", err)
		}
	}

	for _, field := range []struct{ name, value string }{
		{"title", next.Title},
		{"body", next.Body},
		{"description", next.Description},
	} {
		if strings.TrimSpace(field.value) == "" {
			verr.add(field.name, "can't be blank")
		}
	}
	if !edition.ValidUpdateType(next.UpdateType) {
		verr.add("update_type", "is not included in the list")
	}
	if !edition.ValidPhase(next.Phase) {
		verr.add("phase", "is not included in the list")
	}
	if next.Version < 1 {
		verr.add("version", "must be greater than 0")
	}

	if !verr.empty() {
		return store.TopicSection{}, verr
	}
	return section, nil
}

// syncSave pushes the saved guide, then every topic whose membership changed.
func (s *Service) syncSave(ctx context.Context, result SaveResult, prior priorState) error {
	snap, err := publishing.NewSnapshotter(s.store).Guide(ctx, result.Guide.ID, result.Edition.ID)
	if err != nil {
		return fmt.Errorf("load guide snapshot: %w", err)
	}
	if err := s.guides.Process(ctx, snap); err != nil {
		return err
	}
	for _, topicID := range prior.topicIDs {
		topic, err := publishing.NewSnapshotter(s.store).Topic(ctx, topicID)
		if err != nil {
			return fmt.Errorf("load topic snapshot: %w", err)
		}
		if err := s.topics.Sync(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// errSuperseded aborts a rollback whose rows were rewritten after this save.
var errSuperseded = errors.New("rows changed since the failed save")

// compensate restores the rows a save overwrote. It is best effort: a
// failure is logged and counted, and the caller still sees the sync error.
// Rows another request has written since are left as they are.
func (s *Service) compensate(ctx context.Context, prior priorState) {
	ctx = context.WithoutCancel(ctx)
	err := s.store.InTx(ctx, func(tx store.Repository) error {
		guide, err := tx.LockGuide(ctx, prior.writtenGuide.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return errSuperseded
		case err != nil:
			return fmt.Errorf("lock guide: %w", err)
		}
		if !guide.UpdatedAt.Equal(prior.writtenGuide.UpdatedAt) {
			return errSuperseded
		}
		current, err := tx.GetEdition(ctx, prior.editionID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return errSuperseded
		case err != nil:
			return fmt.Errorf("load edition: %w", err)
		}
		if !current.UpdatedAt.Equal(prior.writtenEdition.UpdatedAt) {
			return errSuperseded
		}

		if prior.guideCreated {
			return tx.DeleteGuide(ctx, prior.guide.ID)
		}
		if err := tx.UpdateGuide(ctx, prior.guide); err != nil {
			return fmt.Errorf("restore guide: %w", err)
		}
		if prior.editionCreated {
			if err := tx.DeleteEdition(ctx, prior.editionID); err != nil {
				return fmt.Errorf("remove edition: %w", err)
			}
		} else if err := tx.UpdateEdition(ctx, prior.edition); err != nil {
			return fmt.Errorf("restore edition: %w", err)
		}
		if !prior.linkChanged {
			return nil
		}
		if prior.link == nil {
			if err := tx.RemoveGuideTopicSection(ctx, prior.guide.ID); err != nil {
				return fmt.Errorf("remove topic section link: %w", err)
			}
			return nil
		}
		if err := tx.AssignGuideTopicSection(ctx, *prior.link); err != nil {
			return fmt.Errorf("restore topic section link: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, errSuperseded):
		s.metrics.Rollback("skipped")
		s.log.Warn("rollback skipped, guide changed since save", "guide_id", prior.writtenGuide.ID, "edition_id", prior.editionID)
	case err != nil:
		s.metrics.Rollback("error")
		s.log.Error("rollback after failed sync", "guide_id", prior.writtenGuide.ID, "edition_id", prior.editionID, "error", err)
	default:
		s.metrics.Rollback("ok")
	}
}

// indexLatest reindexes a guide from its latest edition.
func (s *Service) indexLatest(ctx context.Context, guideID string) {
	if s.search == nil {
		return
	}
	guide, err := s.store.GetGuide(ctx, guideID)
	if err != nil {
		s.log.Warn("load guide for indexing", "guide_id", guideID, "error", err)
		return
	}
	editions, err := s.store.ListEditions(ctx, guideID)
	if err != nil {
		s.log.Warn("load editions for indexing", "guide_id", guideID, "error", err)
		return
	}
	if latest, ok := edition.Latest(editions); ok {
		s.index(guide, latest)
	}
}

func (s *Service) index(guide store.Guide, e store.Edition) {
	if s.search == nil {
		return
	}
	s.search.IndexGuide(search.GuideRecord{
		ID:          guide.ID,
		Slug:        guide.Slug,
		Title:       e.Title,
		Description: e.Description,
		Body:        e.Body,
		State:       e.State,
		AuthorID:    e.AuthorID,
	})
}

// Bootstrap seeds a community, a topic and its sections into an empty store
// so a fresh in-memory instance has something to save guides against.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountGuides(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return s.store.InTx(ctx, func(tx store.Repository) error {
		now := s.now()
		owner := store.User{ID: "user-seed", Name: "Service Manual team"}
		if err := tx.UpsertUser(ctx, owner); err != nil {
			return err
		}
		community := store.Guide{
			ID:        "agile-community",
			ContentID: util.NewContentID(),
			Slug:      "/service-manual/communities/agile-delivery-community",
			Type:      store.GuideTypeCommunity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertGuide(ctx, community); err != nil {
			return err
		}
		if err := tx.InsertEdition(ctx, store.Edition{
			ID:          util.NewID("edition"),
			GuideID:     community.ID,
			Version:     1,
			State:       store.StatePublished,
			UpdateType:  store.UpdateTypeMajor,
			Phase:       edition.DefaultPhase,
			Title:       "Agile delivery community",
			Body:        "A community for people working in agile delivery.",
			Description: "Agile delivery community",
			AuthorID:    owner.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}

		topic := store.Topic{
			ID:          "agile-delivery",
			ContentID:   util.NewContentID(),
			Path:        "/service-manual/agile-delivery",
			Title:       "Agile delivery",
			Description: "How to work in an agile way",
			CreatedAt:   now,
		}
		if err := tx.InsertTopic(ctx, topic); err != nil {
			return err
		}
		for i, title := range []string{"Working with agile methods", "Governance"} {
			if err := tx.InsertTopicSection(ctx, store.TopicSection{
				ID:       fmt.Sprintf("%s-section-%d", topic.ID, i+1),
				TopicID:  topic.ID,
				Title:    title,
				Position: i,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveResultLabel(err error) string {
	var verr *ValidationError
	var guard *edition.GuardError
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &guard):
		return "guard"
	default:
		return "error"
	}
}

func appendTopic(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func valueOr(value *string, fallback string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return fallback
	}
	return strings.TrimSpace(*value)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
