package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// OutboxRepositoryImpl implements OutboxRepository
type OutboxRepositoryImpl struct {
	*BaseRepository[model.OutboxEntry]
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &OutboxRepositoryImpl{BaseRepository: NewBaseRepository[model.OutboxEntry](db)}
}

func (r *OutboxRepositoryImpl) Create(ctx context.Context, e *model.OutboxEntry) error {
	return r.Save(ctx, e)
}

func (r *OutboxRepositoryImpl) MarkPublished(ctx context.Context, id string, at time.Time) error {
	result := r.getDB(ctx).Model(&model.OutboxEntry{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"published_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark outbox entry published: %w", result.Error)
	}
	return nil
}

func (r *OutboxRepositoryImpl) Pending(ctx context.Context, createdBefore time.Time, limit int) ([]model.OutboxEntry, error) {
	var entries []model.OutboxEntry
	err := r.getDB(ctx).
		Where("published_at IS NULL AND created_at <= ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox entries: %w", err)
	}
	return entries, nil
}

func (r *OutboxRepositoryImpl) RecordFailure(ctx context.Context, id, reason string) error {
	result := r.getDB(ctx).Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record outbox failure: %w", result.Error)
	}
	return nil
}
