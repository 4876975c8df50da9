// Package reply generates, persists and delivers assistant replies.
package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/events"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/outbound"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/internal/retrieval"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

var (
	// ErrInboundNotFound means the job points at a message that does not exist.
	ErrInboundNotFound = errors.New("inbound message not found")
	// ErrAssistantNotFound means the conversation's assistant is gone.
	ErrAssistantNotFound = errors.New("assistant not found")
	// ErrEmptyCompletion means the model returned no text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// ClientResolver picks a language model client for a provider name.
type ClientResolver interface {
	For(provider string) (llm.Client, error)
}

// Config tunes reply generation.
type Config struct {
	HistoryLimit   int
	MaxTokens      int
	LLMTimeout     time.Duration
	DefaultModel   string
	ScoreThreshold float64
	TokenBudget    int
}

// Outcome describes how Reply finished.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeResent      Outcome = "resent"
	OutcomeAlreadySent Outcome = "already_sent"
)

// Result is returned by a successful Reply.
type Result struct {
	Outcome    Outcome
	MessageID  string
	DeliveryID string
	// ModelInvoked is false when a persisted reply was reused.
	ModelInvoked bool
}

// Orchestrator builds the prompt, calls the model and delivers the reply.
type Orchestrator struct {
	repos     *repository.Repositories
	llms      ClientResolver
	retriever retrieval.Retriever
	sender    outbound.Sender
	emitter   *events.Emitter
	cfg       Config
	logger    *logger.Logger
}

// NewOrchestrator creates a new reply orchestrator. retriever may be nil.
func NewOrchestrator(
	repos *repository.Repositories,
	llms ClientResolver,
	retriever retrieval.Retriever,
	sender outbound.Sender,
	emitter *events.Emitter,
	cfg Config,
	log *logger.Logger,
) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Orchestrator{
		repos:     repos,
		llms:      llms,
		retriever: retriever,
		sender:    sender,
		emitter:   emitter,
		cfg:       cfg,
		logger:    log,
	}
}

// Reply produces and delivers the answer to job's inbound message. It
// re-reads persisted state first, so a retried job never creates a second
// outbound message.
func (o *Orchestrator) Reply(ctx context.Context, job model.Job, conv *model.Conversation) (*Result, error) {
	corr := job.Correlation()

	existing, err := o.repos.Messages.ReplyTo(ctx, job.TenantID, job.MessageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == model.StatusSent {
			return &Result{Outcome: OutcomeAlreadySent, MessageID: existing.ID}, nil
		}
		deliveryID, err := o.deliver(ctx, corr, conv, existing)
		if err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeResent, MessageID: existing.ID, DeliveryID: deliveryID}, nil
	}

	inbound, err := o.repos.Messages.ByID(ctx, job.TenantID, job.MessageID)
	if err != nil {
		return nil, err
	}
	if inbound == nil {
		return nil, ErrInboundNotFound
	}

	assistant, err := o.repos.Assistants.ByID(ctx, job.TenantID, conv.AssistantID)
	if err != nil {
		return nil, err
	}
	if assistant == nil {
		return nil, ErrAssistantNotFound
	}

	req, err := o.buildRequest(ctx, corr, conv, assistant, inbound)
	if err != nil {
		return nil, err
	}

	resp, err := o.complete(ctx, corr, assistant, req)
	if err != nil {
		return nil, err
	}

	msg, err := o.persist(ctx, job, conv, inbound, resp)
	if err != nil {
		return nil, err
	}

	deliveryID, err := o.deliver(ctx, corr, conv, msg)
	if err != nil {
		return nil, err
	}

	return &Result{Outcome: OutcomeSent, MessageID: msg.ID, DeliveryID: deliveryID, ModelInvoked: true}, nil
}

func (o *Orchestrator) buildRequest(
	ctx context.Context,
	corr model.Correlation,
	conv *model.Conversation,
	assistant *model.Assistant,
	inbound *model.Message,
) (*llm.CompletionRequest, error) {
	recent, err := o.repos.Messages.Recent(ctx, conv.TenantID, conv.ID, inbound, o.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	history := BuildHistory(recent)
	if len(history) == 0 {
		history = []llm.ChatMessage{{Role: llm.RoleUser, Content: inbound.Content}}
	}

	var chunks []retrieval.Chunk
	if assistant.RAGEnabled && o.retriever != nil {
		found, err := o.retriever.GetContext(ctx, conv.TenantID, assistant.ID, inbound.Content)
		if err != nil {
			o.logger.Warn("Retrieval failed, replying without context",
				append(events.CorrelationFields(corr), zap.Error(err))...,
			)
		} else {
			chunks = SelectChunks(found, o.cfg.ScoreThreshold, o.cfg.TokenBudget)
		}
	}

	model := assistant.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}

	return &llm.CompletionRequest{
		Model:     model,
		System:    SystemPrompt(assistant.SystemPrompt, chunks),
		Messages:  history,
		MaxTokens: o.cfg.MaxTokens,
	}, nil
}

func (o *Orchestrator) complete(ctx context.Context, corr model.Correlation, assistant *model.Assistant, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	client, err := o.llms.For(assistant.Provider)
	if err != nil {
		return nil, err
	}

	o.emitter.Emit(ctx, model.EventModelRequestStarted, corr,
		zap.String("provider", client.Name()),
		zap.String("model", req.Model),
		zap.Int("history_turns", len(req.Messages)),
	)

	llmCtx := ctx
	if o.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, o.cfg.LLMTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Complete(llmCtx, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordLLMRequest(req.Model, "error", elapsed.Seconds(), 0, 0)
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	metrics.RecordLLMRequest(resp.Model, "ok", elapsed.Seconds(), resp.TokensIn, resp.TokensOut)
	o.emitter.Emit(ctx, model.EventModelRequestCompleted, corr,
		zap.String("provider", client.Name()),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", elapsed.Milliseconds()),
		zap.String("stop_reason", resp.StopReason),
	)

	if resp.Content == "" {
		return nil, ErrEmptyCompletion
	}
	return resp, nil
}

func (o *Orchestrator) persist(
	ctx context.Context,
	job model.Job,
	conv *model.Conversation,
	inbound *model.Message,
	resp *llm.CompletionResponse,
) (*model.Message, error) {
	now := time.Now().UTC()
	latency := resp.LatencyMs
	msg := &model.Message{
		ID:               uuid.Must(uuid.NewV7()).String(),
		TenantID:         job.TenantID,
		ConversationID:   conv.ID,
		Direction:        model.DirectionOutbound,
		Kind:             model.KindReply,
		Content:          resp.Content,
		ReplyToMessageID: &inbound.ID,
		Status:           model.StatusPending,
		Model:            &resp.Model,
		TokensIn:         &resp.TokensIn,
		TokensOut:        &resp.TokensOut,
		LatencyMs:        &latency,
		CreatedAt:        now,
	}

	err := o.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.repos.Messages.Create(ctx, msg); err != nil {
			return err
		}
		return o.repos.Conversations.TouchMessage(ctx, job.TenantID, conv.ID, now)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Another attempt persisted the reply first; deliver that one.
		winner, lookupErr := o.repos.Messages.ReplyTo(ctx, job.TenantID, inbound.ID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if winner != nil {
			return winner, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(job.TenantID, string(model.DirectionOutbound)).Inc()
	return msg, nil
}

func (o *Orchestrator) deliver(ctx context.Context, corr model.Correlation, conv *model.Conversation, msg *model.Message) (string, error) {
	if msg.Status == model.StatusSent && msg.ProviderDeliveryID != nil {
		return *msg.ProviderDeliveryID, nil
	}

	deliveryID, err := o.sender.SendText(ctx, conv.SenderIdentifier, msg.Content, outbound.Metadata{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		MessageID:      msg.ID,
	})
	if err != nil {
		metrics.OutboundSendsTotal.WithLabelValues(string(msg.Kind), "error").Inc()
		if !outbound.IsRetryable(err) {
			if markErr := o.repos.Messages.MarkFailed(ctx, conv.TenantID, msg.ID, err.Error()); markErr != nil {
				o.logger.Error("Failed to mark message failed", zap.String("message_id", msg.ID), zap.Error(markErr))
			}
		}
		return "", fmt.Errorf("send failed: %w", err)
	}

	if err := o.repos.Messages.MarkSent(ctx, conv.TenantID, msg.ID, deliveryID, time.Now().UTC()); err != nil {
		// The provider has the message; a retry would resend it.
		o.logger.Error("Failed to mark message sent",
			append(events.CorrelationFields(corr), zap.String("reply_id", msg.ID), zap.Error(err))...,
		)
	}

	metrics.OutboundSendsTotal.WithLabelValues(string(msg.Kind), "ok").Inc()
	event := model.EventMessageSent
	if msg.Kind == model.KindNotice {
		event = model.EventNoticeSent
	}
	o.emitter.Emit(ctx, event, corr,
		zap.String("reply_id", msg.ID),
		zap.String("delivery_id", deliveryID),
	)
	return deliveryID, nil
}

// SendNotice persists and sends a policy notice. Delivery is best-effort:
// failures are logged and never retried.
func (o *Orchestrator) SendNotice(ctx context.Context, job model.Job, conv *model.Conversation, reason, body string) {
	corr := job.Correlation()
	now := time.Now().UTC()
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       job.TenantID,
		ConversationID: conv.ID,
		Direction:      model.DirectionOutbound,
		Kind:           model.KindNotice,
		Content:        body,
		Status:         model.StatusPending,
		CreatedAt:      now,
	}

	err := o.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := o.repos.Messages.Create(ctx, msg); err != nil {
			return err
		}
		return o.repos.Conversations.TouchMessage(ctx, job.TenantID, conv.ID, now)
	})
	if err != nil {
		o.logger.Warn("Failed to persist notice",
			append(events.CorrelationFields(corr), zap.String("reason", reason), zap.Error(err))...,
		)
		return
	}

	if _, err := o.deliver(ctx, corr, conv, msg); err != nil {
		o.logger.Warn("Failed to send notice",
			append(events.CorrelationFields(corr), zap.String("reason", reason), zap.Error(err))...,
		)
	}
}
