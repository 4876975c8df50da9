package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// ConversationRepositoryImpl implements ConversationRepository
type ConversationRepositoryImpl struct {
	*BaseRepository[model.Conversation]
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &ConversationRepositoryImpl{BaseRepository: NewBaseRepository[model.Conversation](db)}
}

func (r *ConversationRepositoryImpl) ActiveFor(ctx context.Context, tenantID, channelID, sender string) (*model.Conversation, error) {
	c, err := first[model.Conversation](r.getDB(ctx).
		Where("tenant_id = ? AND channel_id = ? AND sender_identifier = ? AND status = ?",
			tenantID, channelID, sender, model.ConversationActive).
		Order("last_message_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find active conversation: %w", err)
	}
	return c, nil
}

func (r *ConversationRepositoryImpl) ByID(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	return r.byTenantID(ctx, tenantID, id)
}

func (r *ConversationRepositoryImpl) Create(ctx context.Context, c *model.Conversation) error {
	return r.Save(ctx, c)
}

func (r *ConversationRepositoryImpl) TouchMessage(ctx context.Context, tenantID, id string, at time.Time) error {
	result := r.getDB(ctx).Model(&model.Conversation{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"last_message_at": at,
			"message_count":   gorm.Expr("message_count + 1"),
			"updated_at":      at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to touch conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s not found for tenant", id)
	}
	return nil
}

func (r *ConversationRepositoryImpl) MarkQuotaBlocked(ctx context.Context, tenantID, id string, day time.Time) (bool, error) {
	day = model.QuotaDay(day)
	result := r.getDB(ctx).Model(&model.Conversation{}).
		Where("tenant_id = ? AND id = ? AND (quota_blocked_on IS NULL OR quota_blocked_on < ?)", tenantID, id, day).
		Update("quota_blocked_on", day)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark quota blocked: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *ConversationRepositoryImpl) ClearQuotaBlock(ctx context.Context, tenantID, id string, day time.Time) error {
	result := r.getDB(ctx).Model(&model.Conversation{}).
		Where("tenant_id = ? AND id = ? AND quota_blocked_on < ?", tenantID, id, model.QuotaDay(day)).
		Update("quota_blocked_on", nil)
	if result.Error != nil {
		return fmt.Errorf("failed to clear quota block: %w", result.Error)
	}
	return nil
}

func (r *ConversationRepositoryImpl) List(ctx context.Context, tenantID string, filter ConversationFilter) ([]model.Conversation, int64, error) {
	query := r.getDB(ctx).Model(&model.Conversation{}).Where("tenant_id = ?", tenantID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	var conversations []model.Conversation
	err := query.Order("last_message_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&conversations).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}

	return conversations, total, nil
}
