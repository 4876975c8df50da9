package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// MessageRepositoryImpl implements MessageRepository
type MessageRepositoryImpl struct {
	*BaseRepository[model.Message]
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &MessageRepositoryImpl{BaseRepository: NewBaseRepository[model.Message](db)}
}

func (r *MessageRepositoryImpl) Create(ctx context.Context, m *model.Message) error {
	return r.Save(ctx, m)
}

func (r *MessageRepositoryImpl) ByID(ctx context.Context, tenantID, id string) (*model.Message, error) {
	return r.byTenantID(ctx, tenantID, id)
}

func (r *MessageRepositoryImpl) ByExternalID(ctx context.Context, tenantID, externalID string) (*model.Message, error) {
	m, err := first[model.Message](r.getDB(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID))
	if err != nil {
		return nil, fmt.Errorf("failed to find message by external id: %w", err)
	}
	return m, nil
}

func (r *MessageRepositoryImpl) ReplyTo(ctx context.Context, tenantID, inboundID string) (*model.Message, error) {
	m, err := first[model.Message](r.getDB(ctx).
		Where("tenant_id = ? AND reply_to_message_id = ?", tenantID, inboundID))
	if err != nil {
		return nil, fmt.Errorf("failed to find reply: %w", err)
	}
	return m, nil
}

func (r *MessageRepositoryImpl) Recent(ctx context.Context, tenantID, conversationID string, until *model.Message, limit int) ([]model.Message, error) {
	var messages []model.Message
	err := r.getDB(ctx).
		Where("tenant_id = ? AND conversation_id = ? AND kind <> ?", tenantID, conversationID, model.KindNotice).
		Where("(created_at < ? OR (created_at = ? AND id <= ?))", until.CreatedAt, until.CreatedAt, until.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepositoryImpl) ListByConversation(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]model.Message, error) {
	var messages []model.Message
	err := r.getDB(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (r *MessageRepositoryImpl) MarkSent(ctx context.Context, tenantID, id, deliveryID string, at time.Time) error {
	result := r.getDB(ctx).Model(&model.Message{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"status":               model.StatusSent,
			"provider_delivery_id": deliveryID,
			"sent_at":              at,
			"updated_at":           at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message sent: %w", result.Error)
	}
	return nil
}

func (r *MessageRepositoryImpl) MarkFailed(ctx context.Context, tenantID, id, reason string) error {
	result := r.getDB(ctx).Model(&model.Message{}).
		Where("tenant_id = ? AND id = ? AND status <> ?", tenantID, id, model.StatusSent).
		Updates(map[string]any{
			"status":         model.StatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark message failed: %w", result.Error)
	}
	return nil
}
