package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// TenantRepositoryImpl implements TenantRepository
type TenantRepositoryImpl struct {
	*BaseRepository[model.Tenant]
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &TenantRepositoryImpl{BaseRepository: NewBaseRepository[model.Tenant](db)}
}

func (r *TenantRepositoryImpl) ByID(ctx context.Context, tenantID string) (*model.Tenant, error) {
	t, err := first[model.Tenant](r.getDB(ctx).Where("id = ?", tenantID))
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant %s: %w", tenantID, err)
	}
	return t, nil
}

// ChannelRepositoryImpl implements ChannelRepository
type ChannelRepositoryImpl struct {
	*BaseRepository[model.Channel]
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &ChannelRepositoryImpl{BaseRepository: NewBaseRepository[model.Channel](db)}
}

func (r *ChannelRepositoryImpl) ActiveByPhone(ctx context.Context, providerPhone string) (*model.Channel, error) {
	ch, err := first[model.Channel](r.getDB(ctx).
		Where("provider_phone = ? AND is_active = ?", providerPhone, true).
		Order("created_at ASC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find channel by phone: %w", err)
	}
	return ch, nil
}

// AssistantRepositoryImpl implements AssistantRepository
type AssistantRepositoryImpl struct {
	*BaseRepository[model.Assistant]
}

// NewAssistantRepository creates a new assistant repository
func NewAssistantRepository(db *gorm.DB) AssistantRepository {
	return &AssistantRepositoryImpl{BaseRepository: NewBaseRepository[model.Assistant](db)}
}

func (r *AssistantRepositoryImpl) ByID(ctx context.Context, tenantID, id string) (*model.Assistant, error) {
	return r.byTenantID(ctx, tenantID, id)
}

func (r *AssistantRepositoryImpl) DefaultForTenant(ctx context.Context, tenantID string) (*model.Assistant, error) {
	a, err := first[model.Assistant](r.getDB(ctx).
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		Order("created_at ASC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find default assistant: %w", err)
	}
	return a, nil
}
