package worker

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/protection"
	"github.com/capitalize-ai/chat-relay/internal/reply"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

// ErrConversationNotFound means the job references a conversation that is
// not visible under its tenant.
var ErrConversationNotFound = errors.New("conversation not found")

// State is a step of the per-job state machine.
type State string

const (
	StateReceived        State = "received"
	StateDeduplicated    State = "deduplicated"
	StateRateLimited     State = "rate_limited"
	StateQuotaBlocked    State = "quota_blocked"
	StateModelInvoked    State = "model_invoked"
	StateReplyPersisted  State = "reply_persisted"
	StateReplySent       State = "reply_sent"
	StateCompleted       State = "completed"
	StateFailedRetryable State = "failed_retryable"
	StateFailedExhausted State = "failed_exhausted"
)

// Replier produces replies and policy notices.
type Replier interface {
	Reply(ctx context.Context, job model.Job, conv *model.Conversation) (*reply.Result, error)
	SendNotice(ctx context.Context, job model.Job, conv *model.Conversation, reason, body string)
}

// Notices holds the user-facing policy notice texts.
type Notices struct {
	RateLimit string
	Quota     string
}

// Processor runs one job through the protection gates and the reply tail.
type Processor struct {
	dedup         *protection.Deduplicator
	rate          protection.Gate
	quota         protection.Gate
	conversations repository.ConversationRepository
	replier       Replier
	notices       Notices
	emitter       *events.Emitter
	tracer        trace.Tracer
	logger        *logger.Logger
}

// NewProcessor creates a new job processor.
func NewProcessor(
	dedup *protection.Deduplicator,
	rate protection.Gate,
	quota protection.Gate,
	conversations repository.ConversationRepository,
	replier Replier,
	notices Notices,
	emitter *events.Emitter,
	log *logger.Logger,
) *Processor {
	return &Processor{
		dedup:         dedup,
		rate:          rate,
		quota:         quota,
		conversations: conversations,
		replier:       replier,
		notices:       notices,
		emitter:       emitter,
		tracer:        otel.Tracer("github.com/capitalize-ai/chat-relay/internal/worker"),
		logger:        log,
	}
}

// Process returns the state the job finished in. A nil error means the job
// is done, including when a gate blocked it.
func (p *Processor) Process(ctx context.Context, job model.Job) (State, error) {
	ctx, span := p.tracer.Start(ctx, "worker.process_job", trace.WithAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("tenant.id", job.TenantID),
		attribute.String("conversation.id", job.ConversationID),
		attribute.String("message.id", job.MessageID),
		attribute.String("provider_message.id", job.ProviderMessageID),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	state, err := p.process(ctx, job)
	span.SetAttributes(attribute.String("job.state", string(state)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return state, err
}

func (p *Processor) process(ctx context.Context, job model.Job) (State, error) {
	corr := job.Correlation()

	d := p.dedup.Check(ctx, protection.Subject{Job: job})
	if d.Outcome == protection.Blocked {
		p.emitter.Emit(ctx, model.EventDuplicateMessageDropped, corr, zap.String("reason", d.Reason))
		return StateDeduplicated, nil
	}
	p.degraded(ctx, corr, d)

	conv, err := p.conversations.ByID(ctx, job.TenantID, job.ConversationID)
	if err != nil {
		return StateReceived, err
	}
	if conv == nil {
		return StateReceived, Terminal(ErrConversationNotFound)
	}
	subject := protection.Subject{Job: job, Conversation: conv}

	d = p.rate.Check(ctx, subject)
	if d.Outcome == protection.Blocked {
		p.emitter.Emit(ctx, model.EventRateLimited, corr,
			zap.String("reason", d.Reason),
			zap.Bool("notified", d.Notify),
		)
		if d.Notify {
			p.replier.SendNotice(ctx, job, conv, string(model.EventRateLimited), p.notices.RateLimit)
		}
		p.complete(ctx, job)
		return StateRateLimited, nil
	}
	p.degraded(ctx, corr, d)

	d = p.quota.Check(ctx, subject)
	if d.Outcome == protection.Blocked {
		p.emitter.Emit(ctx, model.EventQuotaExceeded, corr,
			zap.String("reason", d.Reason),
			zap.Bool("notified", d.Notify),
		)
		if d.Notify {
			p.replier.SendNotice(ctx, job, conv, string(model.EventQuotaExceeded), p.notices.Quota)
		}
		p.complete(ctx, job)
		return StateQuotaBlocked, nil
	}
	p.degraded(ctx, corr, d)

	res, err := p.replier.Reply(ctx, job, conv)
	if err != nil {
		return StateModelInvoked, err
	}

	p.logger.Debug("Reply delivered",
		zap.String("job_id", job.JobID),
		zap.String("outcome", string(res.Outcome)),
		zap.Bool("model_invoked", res.ModelInvoked),
	)

	p.complete(ctx, job)
	return StateCompleted, nil
}

func (p *Processor) degraded(ctx context.Context, corr model.Correlation, d protection.Decision) {
	if d.Outcome != protection.Unknown {
		return
	}
	p.emitter.Emit(ctx, model.EventProtectionDegraded, corr,
		zap.String("gate", d.Gate),
		zap.Error(d.Err),
	)
}

func (p *Processor) complete(ctx context.Context, job model.Job) {
	if err := p.dedup.Complete(ctx, job); err != nil {
		p.logger.Warn("Failed to mark message processed",
			append(events.CorrelationFields(job.Correlation()), zap.Error(err))...,
		)
	}
}
