package protection

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const quotaGate = "quota"

// QuotaGate enforces the tenant's daily processed-message limit.
type QuotaGate struct {
	tenants       repository.TenantRepository
	conversations repository.ConversationRepository
	quota         repository.QuotaRepository
	defaultLimit  int
	now           Clock
	logger        *logger.Logger
}

// NewQuotaGate creates a new quota gate.
func NewQuotaGate(repos *repository.Repositories, defaultLimit int, log *logger.Logger) *QuotaGate {
	return &QuotaGate{
		tenants:       repos.Tenants,
		conversations: repos.Conversations,
		quota:         repos.Quota,
		defaultLimit:  defaultLimit,
		now:           systemClock,
		logger:        log,
	}
}

// WithClock replaces the time source.
func (g *QuotaGate) WithClock(now Clock) *QuotaGate {
	g.now = now
	return g
}

func (g *QuotaGate) Name() string { return quotaGate }

func (g *QuotaGate) Check(ctx context.Context, s Subject) Decision {
	conv := s.Conversation
	day := model.QuotaDay(g.now())

	if conv.QuotaBlocked(day) {
		return block(quotaGate, "conversation_flagged", false)
	}

	// A flag from an earlier day is stale: the date rolled over.
	if conv.QuotaBlockedOn != nil {
		if err := g.conversations.ClearQuotaBlock(ctx, conv.TenantID, conv.ID, day); err != nil {
			g.logger.Warn("Failed to clear stale quota flag",
				zap.String("tenant_id", conv.TenantID),
				zap.String("conversation_id", conv.ID),
				zap.Error(err),
			)
		}
	}

	limit := g.defaultLimit
	tenant, err := g.tenants.ByID(ctx, s.Job.TenantID)
	if err != nil {
		return unknown(quotaGate, err)
	}
	if tenant != nil && tenant.DailyMessageLimit > 0 {
		limit = tenant.DailyMessageLimit
	}

	res, err := g.quota.Charge(ctx, s.Job.TenantID, s.Job.MessageID, day, limit)
	if err != nil {
		return unknown(quotaGate, err)
	}
	if res.Allowed {
		if res.AlreadyCharged {
			return allow(quotaGate, "already_charged")
		}
		return allow(quotaGate, "charged")
	}

	first, err := g.conversations.MarkQuotaBlocked(ctx, s.Job.TenantID, conv.ID, day)
	if err != nil {
		d := block(quotaGate, "limit_reached", false)
		d.Err = err
		return d
	}
	return block(quotaGate, "limit_reached", first)
}
