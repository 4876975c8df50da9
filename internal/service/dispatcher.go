package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/queue"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// Dispatcher publishes committed jobs to the queue.
type Dispatcher struct {
	publisher queue.Publisher
	outbox    repository.OutboxRepository
	emitter   *events.Emitter
	logger    *logger.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(publisher queue.Publisher, outbox repository.OutboxRepository, emitter *events.Emitter, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		outbox:    outbox,
		emitter:   emitter,
		logger:    log,
	}
}

// Dispatch publishes job and marks its outbox row published. Failures are
// reported through events only; the outbox sweeper picks the job up later.
func (d *Dispatcher) Dispatch(ctx context.Context, job model.Job) bool {
	corr := job.Correlation()

	if err := d.publisher.Publish(ctx, job); err != nil {
		metrics.OutboxPublished.WithLabelValues("inline", "error").Inc()
		d.emitter.Emit(ctx, model.EventJobEnqueueFailed, corr, zap.Error(err))
		return false
	}
	metrics.OutboxPublished.WithLabelValues("inline", "ok").Inc()

	if err := d.outbox.MarkPublished(ctx, job.JobID, time.Now().UTC()); err != nil {
		// Harmless: the sweeper republishes under the same message id.
		d.logger.Warn("Failed to mark outbox entry published",
			append(events.CorrelationFields(corr), zap.Error(err))...,
		)
	}

	d.emitter.Emit(ctx, model.EventJobAdded, corr)
	return true
}
