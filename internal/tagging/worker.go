package tagging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"servicemanual/api/internal/logger"
	"servicemanual/api/internal/telemetry"
)

const defaultMaxAttempts = 5

// LinksPatcher is the part of the publishing API the worker needs.
type LinksPatcher interface {
	PatchLinks(ctx context.Context, contentID string, payload any) error
}

type topicLinks struct {
	Links map[string][]string `json:"links"`
}

type Worker struct {
	queue       Queue
	api         LinksPatcher
	workers     int
	maxAttempts int
	backoff     time.Duration
	log         *logger.Logger
	metrics     *telemetry.Metrics

	// requeueTimeout bounds a requeue on backends that talk to a server.
	requeueTimeout time.Duration
}

func NewWorker(queue Queue, api LinksPatcher, workers int, log *logger.Logger, metrics *telemetry.Metrics) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		queue:       queue,
		api:         api,
		workers:     workers,
		maxAttempts: defaultMaxAttempts,
		backoff:     time.Second,
		log:         log.With("component", "tagging.worker"),
		metrics:     metrics,

		requeueTimeout: 5 * time.Second,
	}
}

// Run drains the queue with the configured number of goroutines until ctx is
// cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			return w.loop(ctx, id)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			w.log.Warn("dequeue failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}

		if err := w.Handle(ctx, job); err != nil {
			w.retry(ctx, job, err)
		}
	}
}

// Handle tags one guide with one topic.
func (w *Worker) Handle(ctx context.Context, job Job) error {
	payload := topicLinks{Links: map[string][]string{"topics": {job.TopicID}}}
	if err := w.api.PatchLinks(ctx, job.ContentID, payload); err != nil {
		w.metrics.TaggingJob("failed")
		return fmt.Errorf("tag %s with topic %s: %w", job.ContentID, job.TopicID, err)
	}
	w.metrics.TaggingJob("tagged")
	w.log.Debug("guide tagged", "content_id", job.ContentID, "topic_id", job.TopicID)
	return nil
}

func (w *Worker) retry(ctx context.Context, job Job, cause error) {
	job.Attempts++
	if job.Attempts >= w.maxAttempts {
		w.metrics.TaggingJob("dropped")
		w.log.Error("tagging job dropped", "content_id", job.ContentID, "topic_id", job.TopicID, "attempts", job.Attempts, "error", cause)
		return
	}
	w.log.Warn("tagging job failed, requeueing", "content_id", job.ContentID, "topic_id", job.TopicID, "attempts", job.Attempts, "error", cause)

	ctx, cancel := context.WithTimeout(ctx, w.requeueTimeout)
	defer cancel()
	if err := w.queue.Enqueue(ctx, job); err != nil {
		w.metrics.TaggingJob("dropped")
		w.log.Error("requeue tagging job", "content_id", job.ContentID, "topic_id", job.TopicID, "error", err)
	}
}
