package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/queue"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// SweeperConfig controls the outbox reconciliation sweep.
type SweeperConfig struct {
	Schedule string
	MinAge   time.Duration
	Batch    int
}

// OutboxSweeper republishes jobs whose inline dispatch never completed.
type OutboxSweeper struct {
	outbox    repository.OutboxRepository
	publisher queue.Publisher
	cfg       SweeperConfig
	logger    *logger.Logger

	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

// NewOutboxSweeper creates a new outbox sweeper.
func NewOutboxSweeper(outbox repository.OutboxRepository, publisher queue.Publisher, cfg SweeperConfig, log *logger.Logger) *OutboxSweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15s"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &OutboxSweeper{
		outbox:    outbox,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules the sweep. Stop must be called on shutdown.
func (s *OutboxSweeper) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Outbox sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid outbox sweep schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron = c
	c.Start()
	s.logger.Info("Outbox sweeper started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *OutboxSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep republishes one batch of stale unpublished jobs and returns how
// many were published.
func (s *OutboxSweeper) Sweep(ctx context.Context) (int, error) {
	// cron may overlap runs on a slow database.
	if !s.mu.TryLock() {
		return 0, nil
	}
	defer s.mu.Unlock()

	entries, err := s.outbox.Pending(ctx, s.now().Add(-s.cfg.MinAge), s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending outbox entries: %w", err)
	}
	metrics.OutboxPending.Set(float64(len(entries)))

	published := 0
	for _, entry := range entries {
		if err := s.republish(ctx, entry); err != nil {
			metrics.OutboxPublished.WithLabelValues("sweep", "error").Inc()
			s.logger.Warn("Outbox republish failed",
				zap.String("job_id", entry.ID),
				zap.String("tenant_id", entry.TenantID),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err),
			)
			if recErr := s.outbox.RecordFailure(ctx, entry.ID, err.Error()); recErr != nil {
				s.logger.Error("Failed to record outbox failure", zap.String("job_id", entry.ID), zap.Error(recErr))
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues("sweep", "ok").Inc()
		published++
	}

	if published > 0 {
		s.logger.Info("Outbox sweep republished jobs", zap.Int("count", published))
	}
	return published, nil
}

func (s *OutboxSweeper) republish(ctx context.Context, entry model.OutboxEntry) error {
	var job model.Job
	if err := json.Unmarshal([]byte(entry.Payload), &job); err != nil {
		return fmt.Errorf("undecodable payload: %w", err)
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		return err
	}
	return s.outbox.MarkPublished(ctx, entry.ID, s.now())
}
