package tagging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type patchCall struct {
	contentID string
	payload   any
}

type fakePatcher struct {
	mu      sync.Mutex
	calls   []patchCall
	patchFn func(contentID string) error
}

func (f *fakePatcher) PatchLinks(_ context.Context, contentID string, payload any) error {
	f.mu.Lock()
	f.calls = append(f.calls, patchCall{contentID: contentID, payload: payload})
	f.mu.Unlock()
	if f.patchFn != nil {
		return f.patchFn(contentID)
	}
	return nil
}

func (f *fakePatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestWorkerHandleSendsTopicLinks(t *testing.T) {
	api := &fakePatcher{}
	w := NewWorker(NewChannelQueue(1), api, 1, nil, nil)

	require.NoError(t, w.Handle(context.Background(), Job{ContentID: "guide-1", TopicID: "topic-1"}))

	require.Len(t, api.calls, 1)
	assert.Equal(t, "guide-1", api.calls[0].contentID)
	assert.Equal(t, topicLinks{Links: map[string][]string{"topics": {"topic-1"}}}, api.calls[0].payload)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	q := NewChannelQueue(8)
	api := &fakePatcher{}
	w := NewWorker(q, api, 3, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"guide-1", "guide-2", "guide-2", "guide-3"} {
		require.NoError(t, q.Enqueue(ctx, Job{ContentID: id, TopicID: "topic-1"}))
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return api.count() == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWorkerRequeuesFailedJobs(t *testing.T) {
	q := NewChannelQueue(8)
	var failures int
	var mu sync.Mutex
	api := &fakePatcher{patchFn: func(string) error {
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++
			return errors.New("publishing api unavailable")
		}
		return nil
	}}
	w := NewWorker(q, api, 1, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Enqueue(ctx, Job{ContentID: "guide-1", TopicID: "topic-1"}))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return api.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, q.Len())
}

func TestWorkerDropsAfterMaxAttempts(t *testing.T) {
	q := NewChannelQueue(8)
	api := &fakePatcher{patchFn: func(string) error { return errors.New("boom") }}
	w := NewWorker(q, api, 1, nil, nil)
	w.maxAttempts = 2

	w.retry(context.Background(), Job{ContentID: "guide-1", TopicID: "topic-1", Attempts: 1}, errors.New("boom"))
	assert.Equal(t, 0, q.Len())

	w.retry(context.Background(), Job{ContentID: "guide-1", TopicID: "topic-1"}, errors.New("boom"))
	assert.Equal(t, 1, q.Len())
}

func TestWorkerRequeueOnFullQueueReturns(t *testing.T) {
	q := NewChannelQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), Job{ContentID: "guide-2", TopicID: "topic-1"}))
	w := NewWorker(q, &fakePatcher{}, 1, nil, nil)

	done := make(chan struct{})
	go func() {
		w.retry(context.Background(), Job{ContentID: "guide-1", TopicID: "topic-1"}, errors.New("boom"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry blocked on a full queue")
	}
	assert.Equal(t, 1, q.Len())
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	q := NewChannelQueue(1)
	w := NewWorker(q, &fakePatcher{}, 2, nil, nil)
	require.NoError(t, q.Close())

	require.NoError(t, w.Run(context.Background()))
}
