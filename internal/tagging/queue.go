// Package tagging tags guides with the topics that link to them. Topic
// publication enqueues one Job per linked item and a Worker drains the queue
// against the publishing API.
package tagging

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Dequeue after the queue has been closed.
	ErrClosed = errors.New("tagging: queue closed")
	// ErrFull is returned by ChannelQueue.Enqueue when the buffer is full.
	ErrFull = errors.New("tagging: queue full")
)

// Job tags one piece of content with one topic.
type Job struct {
	ContentID string `json:"content_id"`
	TopicID   string `json:"topic_id"`
	Attempts  int    `json:"attempts,omitempty"`
}

func (j Job) validate() error {
	if j.ContentID == "" || j.TopicID == "" {
		return fmt.Errorf("tagging job requires content_id and topic_id")
	}
	return nil
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue delivers jobs at least once. Dequeue blocks until a job is available
// or ctx is done.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// ChannelQueue is an in-process queue backed by a buffered channel.
type ChannelQueue struct {
	jobs chan Job
	done chan struct{}
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 64
	}
	return &ChannelQueue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

// Enqueue never waits for room in the buffer. A full queue drops the job and
// returns ErrFull.
func (q *ChannelQueue) Enqueue(_ context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return Job{}, ErrClosed
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len reports the number of buffered jobs.
func (q *ChannelQueue) Len() int {
	return len(q.jobs)
}

func (q *ChannelQueue) Close() error {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
	return nil
}
