package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/queue"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

const (
	// StreamName is the name of the reply job stream.
	StreamName = "RELAY_JOBS"

	// SubjectPrefix is the prefix for all job subjects.
	SubjectPrefix = "relay.jobs"

	// ConsumerName is the durable consumer shared by all workers.
	ConsumerName = "relay-workers"
)

// QueueConfig tunes the job stream and its consumer.
type QueueConfig struct {
	MaxAttempts     int
	JobTimeout      time.Duration
	DuplicateWindow time.Duration
	MaxAge          time.Duration
	Replicas        int
}

// JobQueue is a JetStream work queue of reply jobs.
type JobQueue struct {
	client *Client
	cfg    QueueConfig
	logger *logger.Logger
}

var (
	_ queue.Publisher = (*JobQueue)(nil)
	_ queue.Consumer  = (*JobQueue)(nil)
)

// NewJobQueue creates a new job queue.
func NewJobQueue(client *Client, cfg QueueConfig, log *logger.Logger) *JobQueue {
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 2 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	return &JobQueue{client: client, cfg: cfg, logger: log}
}

// JobSubject returns the subject a tenant's jobs are published on.
func JobSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, tenantID)
}

// EnsureStream ensures the job stream exists with proper configuration.
func (q *JobQueue) EnsureStream(ctx context.Context) error {
	_, err := q.client.JetStream().CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      q.cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    q.cfg.Replicas,
		Duplicates:  q.cfg.DuplicateWindow,
		Description: "Pending reply jobs",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish stores job durably. The JobID is the message id, so a
// republished job within the duplicate window is stored once.
func (q *JobQueue) Publish(ctx context.Context, job model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	ack, err := q.client.JetStream().Publish(ctx, JobSubject(job.TenantID), data, jetstream.WithMsgID(job.JobID))
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	if ack.Duplicate {
		q.logger.Debug("Job already enqueued", zap.String("job_id", job.JobID))
	}
	return nil
}

func (q *JobQueue) consumer(ctx context.Context) (jetstream.Consumer, error) {
	ackWait := q.cfg.JobTimeout + 30*time.Second
	return q.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    q.cfg.MaxAttempts,
		FilterSubject: SubjectPrefix + ".>",
		Description:   "Reply workers",
	})
}

// Deliveries pulls jobs from the durable consumer until ctx is done.
func (q *JobQueue) Deliveries(ctx context.Context) (<-chan queue.Delivery, error) {
	cons, err := q.consumer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	iter, err := cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	out := make(chan queue.Delivery)
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	go func() {
		defer close(out)
		for {
			msg, err := iter.Next()
			if err != nil {
				if !errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					q.logger.Error("Job consumer stopped", zap.Error(err))
				}
				return
			}

			d, err := newDelivery(msg)
			if err != nil {
				q.logger.Error("Dropping undecodable job", zap.String("subject", msg.Subject()), zap.Error(err))
				_ = msg.Term()
				continue
			}

			select {
			case out <- d:
			case <-ctx.Done():
				// Unacked; JetStream redelivers after AckWait.
				return
			}
		}
	}()

	return out, nil
}

// ReportPending updates the consumer backlog gauge.
func (q *JobQueue) ReportPending(ctx context.Context) error {
	cons, err := q.client.JetStream().Consumer(ctx, StreamName, ConsumerName)
	if err != nil {
		return err
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return err
	}
	metrics.NATSConsumerPending.WithLabelValues(StreamName, ConsumerName).Set(float64(info.NumPending + uint64(info.NumAckPending)))
	return nil
}

type delivery struct {
	msg jetstream.Msg
	job model.Job
}

func newDelivery(msg jetstream.Msg) (*delivery, error) {
	var job model.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return nil, err
	}

	job.Attempts = 1
	if meta, err := msg.Metadata(); err == nil {
		job.Attempts = int(meta.NumDelivered)
	}
	return &delivery{msg: msg, job: job}, nil
}

func (d *delivery) Job() model.Job { return d.job }

func (d *delivery) Ack() error { return d.msg.Ack() }

func (d *delivery) NakWithDelay(delay time.Duration) error { return d.msg.NakWithDelay(delay) }

func (d *delivery) Term() error { return d.msg.Term() }
