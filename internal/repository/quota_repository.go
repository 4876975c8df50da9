package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

var errQuotaExhausted = errors.New("daily quota exhausted")

// QuotaRepositoryImpl implements QuotaRepository
type QuotaRepositoryImpl struct {
	*BaseRepository[model.DailyQuotaCounter]
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &QuotaRepositoryImpl{BaseRepository: NewBaseRepository[model.DailyQuotaCounter](db)}
}

func (r *QuotaRepositoryImpl) Charge(ctx context.Context, tenantID, messageID string, day time.Time, limit int) (ChargeResult, error) {
	day = model.QuotaDay(day)
	now := time.Now().UTC()

	var result ChargeResult
	err := r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		marked := tx.Model(&model.Message{}).
			Where("tenant_id = ? AND id = ? AND quota_charged_at IS NULL", tenantID, messageID).
			Update("quota_charged_at", now)
		if marked.Error != nil {
			return fmt.Errorf("failed to mark message charged: %w", marked.Error)
		}
		if marked.RowsAffected == 0 {
			result = ChargeResult{Allowed: true, AlreadyCharged: true}
			return nil
		}

		seed := model.DailyQuotaCounter{TenantID: tenantID, Day: day, DailyLimit: limit, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to seed quota counter: %w", err)
		}

		incremented := tx.Model(&model.DailyQuotaCounter{}).
			Where("tenant_id = ? AND day = ? AND count + 1 <= ?", tenantID, day, limit).
			Updates(map[string]any{
				"count":       gorm.Expr("count + 1"),
				"daily_limit": limit,
				"updated_at":  now,
			})
		if incremented.Error != nil {
			return fmt.Errorf("failed to increment quota counter: %w", incremented.Error)
		}
		if incremented.RowsAffected == 0 {
			return errQuotaExhausted
		}

		var counter model.DailyQuotaCounter
		if err := tx.Where("tenant_id = ? AND day = ?", tenantID, day).Take(&counter).Error; err != nil {
			return fmt.Errorf("failed to read quota counter: %w", err)
		}

		result = ChargeResult{Allowed: true, Count: counter.Count}
		return nil
	})

	if errors.Is(err, errQuotaExhausted) {
		return ChargeResult{Allowed: false}, nil
	}
	if err != nil {
		return ChargeResult{}, err
	}
	return result, nil
}
