package tagging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsConsumer = "guide-tagger"

// NatsQueue publishes jobs to a JetStream subject and consumes them through a
// shared durable consumer, so several API processes split the work.
type NatsQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	subject  string
	consumer jetstream.Consumer
	wait     time.Duration
}

func NewNatsQueue(ctx context.Context, url, subject string) (*NatsQueue, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats queue requires a subject")
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream := streamName(subject)
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       natsConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subject,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer %s: %w", natsConsumer, err)
	}

	return &NatsQueue{
		nc:       nc,
		js:       js,
		subject:  subject,
		consumer: consumer,
		wait:     time.Second,
	}, nil
}

func (q *NatsQueue) Enqueue(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal tagging job: %w", err)
	}
	msg := &nats.Msg{
		Subject: q.subject,
		Data:    data,
		Header:  nats.Header{"content_id": []string{job.ContentID}},
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", q.subject, err)
	}
	return nil
}

// Dequeue acks a message as soon as it is decoded. Failed jobs are
// re-enqueued by the Worker.
func (q *NatsQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.wait))
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("fetch tagging job: %w", err)
		}
		for msg := range batch.Messages() {
			var job Job
			if err := json.Unmarshal(msg.Data(), &job); err != nil {
				_ = msg.Term()
				return Job{}, fmt.Errorf("unmarshal tagging job: %w", err)
			}
			if err := msg.Ack(); err != nil {
				return Job{}, fmt.Errorf("ack tagging job: %w", err)
			}
			return job, nil
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return Job{}, fmt.Errorf("fetch tagging job: %w", err)
		}
	}
}

func (q *NatsQueue) Close() error {
	if q.nc != nil {
		q.nc.Close()
	}
	return nil
}

func streamName(subject string) string {
	name := strings.ToUpper(subject)
	name = strings.NewReplacer(".", "_", "*", "ALL", ">", "ALL").Replace(name)
	return name
}
