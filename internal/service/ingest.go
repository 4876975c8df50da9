// Package service provides business logic for the chat relay.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

var (
	// ErrChannelNotFound means no active channel owns the destination number.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrNoDefaultAssistant means the tenant has no assistant to bind a new conversation to.
	ErrNoDefaultAssistant = errors.New("tenant has no default assistant")
)

// IngestResult is the outcome of persisting one inbound message.
type IngestResult struct {
	Job                 model.Job
	Duplicate           bool
	ConversationCreated bool
}

// IngestService resolves the tenant context of an inbound message and
// persists it together with its job in one transaction.
type IngestService struct {
	repos  *repository.Repositories
	logger *logger.Logger
	now    func() time.Time
}

// NewIngestService creates a new ingest service.
func NewIngestService(repos *repository.Repositories, log *logger.Logger) *IngestService {
	return &IngestService{
		repos:  repos,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ingest persists msg and its outbox job. A unique-key race is retried
// once so the loser reads the winner's rows.
func (s *IngestService) Ingest(ctx context.Context, msg *model.NormalizedIncomingMessage, requestID string) (*IngestResult, error) {
	res, err := s.ingest(ctx, msg, requestID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.logger.Debug("Ingest raced a concurrent delivery, retrying",
			zap.String("provider_message_id", msg.ProviderMessageID),
		)
		res, err = s.ingest(ctx, msg, requestID)
	}
	if err != nil {
		return nil, err
	}

	if res.ConversationCreated {
		metrics.ConversationsTotal.WithLabelValues(res.Job.TenantID).Inc()
	}
	if !res.Duplicate {
		metrics.MessagesTotal.WithLabelValues(res.Job.TenantID, string(model.DirectionInbound)).Inc()
	}
	return res, nil
}

func (s *IngestService) ingest(ctx context.Context, msg *model.NormalizedIncomingMessage, requestID string) (*IngestResult, error) {
	var res *IngestResult

	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		channel, err := s.repos.Channels.ActiveByPhone(ctx, msg.ToPhone)
		if err != nil {
			return fmt.Errorf("failed to resolve channel: %w", err)
		}
		if channel == nil {
			return ErrChannelNotFound
		}
		tenantID := channel.TenantID
		now := s.now()

		r := &IngestResult{}
		var conversationID, messageID string

		existing, err := s.repos.Messages.ByExternalID(ctx, tenantID, msg.ProviderMessageID)
		if err != nil {
			return err
		}
		if existing != nil {
			// Already stored: enqueue again so the worker's dedup gate drops it.
			r.Duplicate = true
			conversationID = existing.ConversationID
			messageID = existing.ID
		} else {
			conv, created, err := s.resolveConversation(ctx, channel, msg.FromPhone, now)
			if err != nil {
				return err
			}
			r.ConversationCreated = created
			conversationID = conv.ID

			externalID := msg.ProviderMessageID
			ts := msg.Timestamp
			inbound := &model.Message{
				ID:                uuid.Must(uuid.NewV7()).String(),
				TenantID:          tenantID,
				ConversationID:    conv.ID,
				Direction:         model.DirectionInbound,
				Kind:              model.KindText,
				Content:           msg.Text,
				ExternalID:        &externalID,
				Status:            model.StatusReceived,
				ProviderTimestamp: &ts,
				CreatedAt:         now,
			}
			if err := s.repos.Messages.Create(ctx, inbound); err != nil {
				return err
			}
			if err := s.repos.Conversations.TouchMessage(ctx, tenantID, conv.ID, now); err != nil {
				return err
			}
			messageID = inbound.ID
		}

		r.Job = model.Job{
			JobID:             uuid.Must(uuid.NewV7()).String(),
			TenantID:          tenantID,
			ChannelID:         channel.ID,
			ConversationID:    conversationID,
			MessageID:         messageID,
			ProviderMessageID: msg.ProviderMessageID,
			RequestID:         requestID,
			EnqueuedAt:        now,
		}

		payload, err := json.Marshal(r.Job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := s.repos.Outbox.Create(ctx, &model.OutboxEntry{
			ID:        r.Job.JobID,
			TenantID:  tenantID,
			Payload:   string(payload),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *IngestService) resolveConversation(ctx context.Context, channel *model.Channel, sender string, now time.Time) (*model.Conversation, bool, error) {
	conv, err := s.repos.Conversations.ActiveFor(ctx, channel.TenantID, channel.ID, sender)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}

	assistant, err := s.repos.Assistants.DefaultForTenant(ctx, channel.TenantID)
	if err != nil {
		return nil, false, err
	}
	if assistant == nil {
		return nil, false, ErrNoDefaultAssistant
	}

	conv = &model.Conversation{
		ID:               uuid.Must(uuid.NewV7()).String(),
		TenantID:         channel.TenantID,
		ChannelID:        channel.ID,
		AssistantID:      assistant.ID,
		SenderIdentifier: sender,
		Status:           model.ConversationActive,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repos.Conversations.Create(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}
