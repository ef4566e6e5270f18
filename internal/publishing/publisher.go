package publishing

import (
	"context"

	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/store"
	"servicemanual/api/internal/tagging"
	"servicemanual/api/internal/telemetry"
)

type GuidePublisher struct {
	api API
}

func NewGuidePublisher(api API) *GuidePublisher {
	return &GuidePublisher{api: api}
}

func (p *GuidePublisher) PutDraft(ctx context.Context, s GuideSnapshot) error {
	return p.api.PutContent(ctx, s.Guide.ContentID, GuideContent(s))
}

func (p *GuidePublisher) PatchLinks(ctx context.Context, s GuideSnapshot) error {
	return p.api.PatchLinks(ctx, s.Guide.ContentID, GuideLinks(s))
}

func (p *GuidePublisher) Publish(ctx context.Context, s GuideSnapshot, updateType string) error {
	return p.api.Publish(ctx, s.Guide.ContentID, updateType)
}

// Process puts the draft and then its links.
func (p *GuidePublisher) Process(ctx context.Context, s GuideSnapshot) error {
	if err := p.PutDraft(ctx, s); err != nil {
		return err
	}
	return p.PatchLinks(ctx, s)
}

// Unpublish withdraws the guide, redirecting to redirectPath when one is given.
func (p *GuidePublisher) Unpublish(ctx context.Context, s GuideSnapshot, redirectPath string) error {
	req := UnpublishRequest{Type: UnpublishGone}
	if redirectPath != "" {
		req = UnpublishRequest{Type: UnpublishRedirect, AlternativePath: redirectPath}
	}
	return p.api.Unpublish(ctx, s.Guide.ContentID, req)
}

type TopicPublisher struct {
	api     API
	queue   tagging.Enqueuer
	log     *logger.Logger
	metrics *telemetry.Metrics
}

func NewTopicPublisher(api API, queue tagging.Enqueuer, log *logger.Logger, metrics *telemetry.Metrics) *TopicPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &TopicPublisher{api: api, queue: queue, log: log, metrics: metrics}
}

func (p *TopicPublisher) PutDraft(ctx context.Context, s TopicSnapshot) error {
	return p.api.PutContent(ctx, s.Topic.ContentID, TopicContent(s))
}

// Publish always announces a topic as a minor update.
func (p *TopicPublisher) Publish(ctx context.Context, s TopicSnapshot) error {
	return p.api.Publish(ctx, s.Topic.ContentID, store.UpdateTypeMinor)
}

// PutLinks replaces the topic's linked items, then enqueues a tagging job for
// every item in order. Enqueue failures are logged and do not fail the call.
func (p *TopicPublisher) PutLinks(ctx context.Context, s TopicSnapshot) error {
	links := TopicLinks(s)
	if err := p.api.PutLinks(ctx, s.Topic.ContentID, links); err != nil {
		return err
	}
	if p.queue == nil {
		return nil
	}
	for _, item := range links.Links["linked_items"] {
		job := tagging.Job{ContentID: item, TopicID: s.Topic.ContentID}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			p.metrics.TaggingJob("enqueue_failed")
			p.log.Warn("enqueue tagging job", "content_id", item, "topic_id", s.Topic.ContentID, "error", err)
			continue
		}
		p.metrics.TaggingJob("enqueued")
	}
	return nil
}

// Sync puts the topic draft and its links.
func (p *TopicPublisher) Sync(ctx context.Context, s TopicSnapshot) error {
	if err := p.PutDraft(ctx, s); err != nil {
		return err
	}
	return p.PutLinks(ctx, s)
}
