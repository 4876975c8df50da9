// Package memstore implements the repository interfaces in memory for
// tests and single-process local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/internal/repository"
)

type quotaKey struct {
	tenantID string
	day      time.Time
}

type state struct {
	tenants       map[string]model.Tenant
	channels      map[string]model.Channel
	assistants    map[string]model.Assistant
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	counters      map[quotaKey]model.DailyQuotaCounter
	outbox        map[string]model.OutboxEntry
}

func newState() state {
	return state{
		tenants:       make(map[string]model.Tenant),
		channels:      make(map[string]model.Channel),
		assistants:    make(map[string]model.Assistant),
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
		counters:      make(map[quotaKey]model.DailyQuotaCounter),
		outbox:        make(map[string]model.OutboxEntry),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	return state{
		tenants:       cloneMap(s.tenants),
		channels:      cloneMap(s.channels),
		assistants:    cloneMap(s.assistants),
		conversations: cloneMap(s.conversations),
		messages:      cloneMap(s.messages),
		counters:      cloneMap(s.counters),
		outbox:        cloneMap(s.outbox),
	}
}

type txKey struct{}

// Store holds every table in memory. Transactions are serialized and
// roll back by restoring a snapshot.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data state
	now  func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Repositories returns the store behind every repository interface.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Tx:            s,
		Tenants:       &tenants{s},
		Channels:      &channels{s},
		Assistants:    &assistants{s},
		Conversations: &conversations{s},
		Messages:      &messages{s},
		Quota:         &quota{s},
		Outbox:        &outbox{s},
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Seed helpers for tests and local runs.

func (s *Store) AddTenant(t model.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.tenants[t.ID] = t
}

func (s *Store) AddChannel(c model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.channels[c.ID] = c
}

func (s *Store) AddAssistant(a model.Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assistants[a.ID] = a
}

// Messages returns a snapshot of every message, oldest first.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedMessages(s.data.messages, func(model.Message) bool { return true })
}

// Conversations returns a snapshot of every conversation.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0, len(s.data.conversations))
	for _, c := range s.data.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OutboxEntries returns a snapshot of the outbox.
func (s *Store) OutboxEntries() []model.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxEntry, 0, len(s.data.outbox))
	for _, e := range s.data.outbox {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func sortedMessages(all map[string]model.Message, keep func(model.Message) bool) []model.Message {
	out := make([]model.Message, 0)
	for _, m := range all {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type tenants struct{ s *Store }

func (r *tenants) ByID(_ context.Context, tenantID string) (*model.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.data.tenants[tenantID]; ok {
		return &t, nil
	}
	return nil, nil
}

type channels struct{ s *Store }

func (r *channels) ActiveByPhone(_ context.Context, providerPhone string) (*model.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.Channel
	for _, c := range r.s.data.channels {
		if c.ProviderPhone == providerPhone && c.IsActive {
			if found == nil || c.CreatedAt.Before(found.CreatedAt) {
				c := c
				found = &c
			}
		}
	}
	return found, nil
}

type assistants struct{ s *Store }

func (r *assistants) ByID(_ context.Context, tenantID, id string) (*model.Assistant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.data.assistants[id]; ok && a.TenantID == tenantID {
		return &a, nil
	}
	return nil, nil
}

func (r *assistants) DefaultForTenant(_ context.Context, tenantID string) (*model.Assistant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.data.assistants {
		if a.TenantID == tenantID && a.IsDefault {
			return &a, nil
		}
	}
	return nil, nil
}

type conversations struct{ s *Store }

func (r *conversations) ActiveFor(_ context.Context, tenantID, channelID, sender string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.Conversation
	for _, c := range r.s.data.conversations {
		if c.TenantID == tenantID && c.ChannelID == channelID && c.SenderIdentifier == sender && c.Status == model.ConversationActive {
			if found == nil || c.LastMessageAt.After(found.LastMessageAt) {
				c := c
				found = &c
			}
		}
	}
	return found, nil
}

func (r *conversations) ByID(_ context.Context, tenantID, id string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.data.conversations[id]; ok && c.TenantID == tenantID {
		return &c, nil
	}
	return nil, nil
}

func (r *conversations) Create(_ context.Context, c *model.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.conversations {
		if existing.ID == c.ID {
			return gorm.ErrDuplicatedKey
		}
		if c.Status == model.ConversationActive && existing.Status == model.ConversationActive &&
			existing.TenantID == c.TenantID && existing.ChannelID == c.ChannelID &&
			existing.SenderIdentifier == c.SenderIdentifier {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.s.data.conversations[c.ID] = *c
	return nil
}

func (r *conversations) TouchMessage(_ context.Context, tenantID, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.conversations[id]
	if !ok || c.TenantID != tenantID {
		return gorm.ErrRecordNotFound
	}
	c.LastMessageAt = at
	c.MessageCount++
	c.UpdatedAt = at
	r.s.data.conversations[id] = c
	return nil
}

func (r *conversations) MarkQuotaBlocked(_ context.Context, tenantID, id string, day time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.conversations[id]
	if !ok || c.TenantID != tenantID {
		return false, nil
	}
	day = model.QuotaDay(day)
	if c.QuotaBlockedOn != nil && !c.QuotaBlockedOn.Before(day) {
		return false, nil
	}
	c.QuotaBlockedOn = &day
	r.s.data.conversations[id] = c
	return true, nil
}

func (r *conversations) ClearQuotaBlock(_ context.Context, tenantID, id string, day time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.data.conversations[id]
	if !ok || c.TenantID != tenantID {
		return nil
	}
	if c.QuotaBlockedOn != nil && c.QuotaBlockedOn.Before(model.QuotaDay(day)) {
		c.QuotaBlockedOn = nil
		r.s.data.conversations[id] = c
	}
	return nil
}

func (r *conversations) List(_ context.Context, tenantID string, filter repository.ConversationFilter) ([]model.Conversation, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []model.Conversation
	for _, c := range r.s.data.conversations {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].LastMessageAt.After(matched[j].LastMessageAt) })

	total := int64(len(matched))
	return page(matched, filter.Limit, filter.Offset), total, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type messages struct{ s *Store }

func (r *messages) Create(_ context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.messages {
		if existing.ID == m.ID {
			return gorm.ErrDuplicatedKey
		}
		if m.ExternalID != nil && existing.ExternalID != nil &&
			existing.TenantID == m.TenantID && *existing.ExternalID == *m.ExternalID {
			return gorm.ErrDuplicatedKey
		}
		if m.ReplyToMessageID != nil && existing.ReplyToMessageID != nil &&
			*existing.ReplyToMessageID == *m.ReplyToMessageID {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	r.s.data.messages[m.ID] = *m
	return nil
}

func (r *messages) ByID(_ context.Context, tenantID, id string) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.data.messages[id]; ok && m.TenantID == tenantID {
		return &m, nil
	}
	return nil, nil
}

func (r *messages) ByExternalID(_ context.Context, tenantID, externalID string) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.data.messages {
		if m.TenantID == tenantID && m.ExternalID != nil && *m.ExternalID == externalID {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *messages) ReplyTo(_ context.Context, tenantID, inboundID string) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.data.messages {
		if m.TenantID == tenantID && m.ReplyToMessageID != nil && *m.ReplyToMessageID == inboundID {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *messages) Recent(_ context.Context, tenantID, conversationID string, until *model.Message, limit int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := sortedMessages(r.s.data.messages, func(m model.Message) bool {
		if m.TenantID != tenantID || m.ConversationID != conversationID || m.Kind == model.KindNotice {
			return false
		}
		return m.CreatedAt.Before(until.CreatedAt) || (m.CreatedAt.Equal(until.CreatedAt) && m.ID <= until.ID)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *messages) ListByConversation(_ context.Context, tenantID, conversationID string, limit, offset int) ([]model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := sortedMessages(r.s.data.messages, func(m model.Message) bool {
		return m.TenantID == tenantID && m.ConversationID == conversationID
	})
	return page(all, limit, offset), nil
}

func (r *messages) MarkSent(_ context.Context, tenantID, id, deliveryID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.messages[id]
	if !ok || m.TenantID != tenantID {
		return nil
	}
	m.Status = model.StatusSent
	m.ProviderDeliveryID = &deliveryID
	m.SentAt = &at
	m.UpdatedAt = at
	r.s.data.messages[id] = m
	return nil
}

func (r *messages) MarkFailed(_ context.Context, tenantID, id, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.messages[id]
	if !ok || m.TenantID != tenantID || m.Status == model.StatusSent {
		return nil
	}
	m.Status = model.StatusFailed
	m.FailureReason = &reason
	m.UpdatedAt = r.s.now()
	r.s.data.messages[id] = m
	return nil
}

type quota struct{ s *Store }

func (r *quota) Charge(_ context.Context, tenantID, messageID string, day time.Time, limit int) (repository.ChargeResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.data.messages[messageID]
	if !ok || m.TenantID != tenantID {
		return repository.ChargeResult{}, gorm.ErrRecordNotFound
	}
	if m.QuotaChargedAt != nil {
		return repository.ChargeResult{Allowed: true, AlreadyCharged: true}, nil
	}

	key := quotaKey{tenantID: tenantID, day: model.QuotaDay(day)}
	counter, ok := r.s.data.counters[key]
	if !ok {
		counter = model.DailyQuotaCounter{TenantID: tenantID, Day: key.day}
	}
	if counter.Count+1 > limit {
		return repository.ChargeResult{Allowed: false}, nil
	}

	now := r.s.now()
	counter.Count++
	counter.DailyLimit = limit
	counter.UpdatedAt = now
	r.s.data.counters[key] = counter

	m.QuotaChargedAt = &now
	r.s.data.messages[messageID] = m

	return repository.ChargeResult{Allowed: true, Count: counter.Count}, nil
}

type outbox struct{ s *Store }

func (r *outbox) Create(_ context.Context, e *model.OutboxEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.outbox[e.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	now := r.s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	r.s.data.outbox[e.ID] = *e
	return nil
}

func (r *outbox) MarkPublished(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.outbox[id]
	if !ok || e.PublishedAt != nil {
		return nil
	}
	e.PublishedAt = &at
	e.UpdatedAt = at
	r.s.data.outbox[id] = e
	return nil
}

func (r *outbox) Pending(_ context.Context, createdBefore time.Time, limit int) ([]model.OutboxEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pending []model.OutboxEntry
	for _, e := range r.s.data.outbox {
		if e.PublishedAt == nil && !e.CreatedAt.After(createdBefore) {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	return page(pending, limit, 0), nil
}

func (r *outbox) RecordFailure(_ context.Context, id, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.outbox[id]
	if !ok {
		return nil
	}
	e.Attempts++
	e.LastError = &reason
	e.UpdatedAt = r.s.now()
	r.s.data.outbox[id] = e
	return nil
}
