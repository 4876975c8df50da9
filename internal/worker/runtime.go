package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/queue"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// JobProcessor processes one job attempt.
type JobProcessor interface {
	Process(ctx context.Context, job model.Job) (State, error)
}

// Config sizes the worker pool.
type Config struct {
	Concurrency int
	JobTimeout  time.Duration
	Retry       RetryPolicy
}

// Runtime feeds deliveries from the queue to a fixed pool of workers.
type Runtime struct {
	consumer  queue.Consumer
	processor JobProcessor
	cfg       Config
	emitter   *events.Emitter
	logger    *logger.Logger
}

// NewRuntime creates a new worker runtime.
func NewRuntime(consumer queue.Consumer, processor JobProcessor, cfg Config, emitter *events.Emitter, log *logger.Logger) *Runtime {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runtime{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		emitter:   emitter,
		logger:    log,
	}
}

// Run blocks until ctx is cancelled or the delivery stream ends. Jobs in
// flight when ctx is cancelled run to completion.
func (r *Runtime) Run(ctx context.Context) error {
	deliveries, err := r.consumer.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume jobs: %w", err)
	}

	r.logger.Info("Worker pool started", zap.Int("concurrency", r.cfg.Concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					r.handle(gctx, d)
				}
			}
		})
	}

	err = g.Wait()
	r.logger.Info("Worker pool stopped")
	return err
}

func (r *Runtime) handle(ctx context.Context, d queue.Delivery) {
	job := d.Job()
	corr := job.Correlation()

	jobCtx := context.WithoutCancel(ctx)
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, r.cfg.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	state, err := r.processor.Process(jobCtx, job)
	elapsed := time.Since(start)

	if err == nil {
		metrics.RecordJob(string(state), elapsed.Seconds())
		r.emitter.Emit(ctx, model.EventJobCompleted, corr,
			zap.String("state", string(state)),
			zap.Int("attempt", job.Attempts),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
		r.settle(corr, "ack", d.Ack())
		return
	}

	terminal := IsTerminal(err)
	exhausted := r.cfg.Retry.Exhausted(job.Attempts)

	if !terminal && !exhausted {
		delay := r.cfg.Retry.Delay(job.Attempts)
		metrics.RecordJob(string(StateFailedRetryable), elapsed.Seconds())
		r.emitter.Emit(ctx, model.EventJobFailed, corr,
			zap.String("state", string(state)),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", r.cfg.Retry.MaxAttempts),
			zap.Bool("retry_scheduled", true),
			zap.Error(err),
		)
		r.emitter.Emit(ctx, model.EventJobRetryScheduled, corr,
			zap.Int("attempt", job.Attempts),
			zap.Int("next_attempt", job.Attempts+1),
			zap.Duration("delay", delay),
		)
		r.settle(corr, "nak", d.NakWithDelay(delay))
		return
	}

	metrics.RecordJob(string(StateFailedExhausted), elapsed.Seconds())
	r.emitter.EmitAt(ctx, zapcore.ErrorLevel, model.EventJobFailed, corr,
		zap.String("state", string(state)),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", r.cfg.Retry.MaxAttempts),
		zap.Bool("retry_scheduled", false),
		zap.Bool("exhausted", exhausted),
		zap.Bool("terminal", terminal),
		zap.Error(err),
	)
	r.settle(corr, "term", d.Term())
}

func (r *Runtime) settle(corr model.Correlation, action string, err error) {
	if err != nil {
		r.logger.Error("Failed to settle job",
			append(events.CorrelationFields(corr), zap.String("action", action), zap.Error(err))...,
		)
	}
}
