// Package repository provides the data access layer for the relay.
//
// Every method that runs after channel resolution takes a tenant id and
// filters on it.
package repository

import (
	"context"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// TxManager runs fn inside one database transaction carried in ctx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TenantRepository reads tenants.
type TenantRepository interface {
	ByID(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// ChannelRepository resolves inbound addresses.
type ChannelRepository interface {
	// ActiveByPhone is the only unscoped lookup: it derives the tenant.
	ActiveByPhone(ctx context.Context, providerPhone string) (*model.Channel, error)
}

// AssistantRepository reads assistant configuration.
type AssistantRepository interface {
	ByID(ctx context.Context, tenantID, id string) (*model.Assistant, error)
	DefaultForTenant(ctx context.Context, tenantID string) (*model.Assistant, error)
}

// ConversationFilter narrows conversation listings.
type ConversationFilter struct {
	Status *model.ConversationStatus
	Limit  int
	Offset int
}

// ConversationRepository manages conversations.
type ConversationRepository interface {
	ActiveFor(ctx context.Context, tenantID, channelID, sender string) (*model.Conversation, error)
	ByID(ctx context.Context, tenantID, id string) (*model.Conversation, error)
	Create(ctx context.Context, c *model.Conversation) error
	TouchMessage(ctx context.Context, tenantID, id string, at time.Time) error
	// MarkQuotaBlocked sets the flag for day and reports whether this call set it.
	MarkQuotaBlocked(ctx context.Context, tenantID, id string, day time.Time) (bool, error)
	// ClearQuotaBlock removes a flag set on a day before day.
	ClearQuotaBlock(ctx context.Context, tenantID, id string, day time.Time) error
	List(ctx context.Context, tenantID string, filter ConversationFilter) ([]model.Conversation, int64, error)
}

// MessageRepository manages messages.
type MessageRepository interface {
	Create(ctx context.Context, m *model.Message) error
	ByID(ctx context.Context, tenantID, id string) (*model.Message, error)
	ByExternalID(ctx context.Context, tenantID, externalID string) (*model.Message, error)
	// ReplyTo returns the outbound reply to an inbound message, if any.
	ReplyTo(ctx context.Context, tenantID, inboundID string) (*model.Message, error)
	// Recent returns up to limit inbound and reply messages, oldest first,
	// ending at until. Messages stored after until are left out.
	Recent(ctx context.Context, tenantID, conversationID string, until *model.Message, limit int) ([]model.Message, error)
	ListByConversation(ctx context.Context, tenantID, conversationID string, limit, offset int) ([]model.Message, error)
	MarkSent(ctx context.Context, tenantID, id, deliveryID string, at time.Time) error
	MarkFailed(ctx context.Context, tenantID, id, reason string) error
}

// ChargeResult is the outcome of a quota charge.
type ChargeResult struct {
	Allowed        bool
	AlreadyCharged bool
	Count          int
}

// QuotaRepository enforces daily per-tenant message quotas.
type QuotaRepository interface {
	// Charge counts messageID against the tenant's quota for day. Charging
	// the same message twice is a no-op that reports AlreadyCharged.
	Charge(ctx context.Context, tenantID, messageID string, day time.Time, limit int) (ChargeResult, error)
}

// OutboxRepository stores jobs awaiting publication.
type OutboxRepository interface {
	Create(ctx context.Context, e *model.OutboxEntry) error
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// Pending lists unpublished rows across tenants for the sweeper.
	Pending(ctx context.Context, createdBefore time.Time, limit int) ([]model.OutboxEntry, error)
	RecordFailure(ctx context.Context, id, reason string) error
}

// Repositories bundles every repository the services need.
type Repositories struct {
	Tx            TxManager
	Tenants       TenantRepository
	Channels      ChannelRepository
	Assistants    AssistantRepository
	Conversations ConversationRepository
	Messages      MessageRepository
	Quota         QuotaRepository
	Outbox        OutboxRepository
}
