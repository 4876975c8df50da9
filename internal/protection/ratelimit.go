package protection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/cache"
)

const rateGate = "rate_limit"

// Scope selects what a rate window counts.
type Scope string

const (
	ScopeSender       Scope = "sender"
	ScopeConversation Scope = "conversation"
)

// RateLimiter is a sliding-window counter. The estimate weights the
// previous fixed window by how much of it still overlaps the sliding one,
// the same approximation httprate uses.
type RateLimiter struct {
	store  cache.Store
	limit  int
	window time.Duration
	scope  Scope
	now    Clock
}

// NewRateLimiter creates a new rate limiting gate.
func NewRateLimiter(store cache.Store, limit int, window time.Duration, scope Scope) *RateLimiter {
	return &RateLimiter{
		store:  store,
		limit:  limit,
		window: window,
		scope:  scope,
		now:    systemClock,
	}
}

// WithClock replaces the time source.
func (r *RateLimiter) WithClock(now Clock) *RateLimiter {
	r.now = now
	return r
}

func (r *RateLimiter) Name() string { return rateGate }

func (r *RateLimiter) scopeKey(s Subject) string {
	if r.scope == ScopeConversation {
		return "conv:" + s.Job.TenantID + ":" + s.Job.ConversationID
	}
	sender := ""
	if s.Conversation != nil {
		sender = s.Conversation.SenderIdentifier
	}
	return "sender:" + s.Job.TenantID + ":" + sender
}

func (r *RateLimiter) Check(ctx context.Context, s Subject) Decision {
	// A redelivery was already counted on its first attempt.
	if s.Job.Attempts > 1 {
		return allow(rateGate, "retry")
	}

	scope := r.scopeKey(s)
	now := r.now()
	start := now.Truncate(r.window)

	current, err := r.store.Incr(ctx, windowKey(scope, start), 2*r.window)
	if err != nil {
		return unknown(rateGate, err)
	}

	var previous int64
	raw, found, err := r.store.Get(ctx, windowKey(scope, start.Add(-r.window)))
	if err != nil {
		return unknown(rateGate, err)
	}
	if found {
		previous, _ = strconv.ParseInt(raw, 10, 64)
	}

	weight := float64(r.window-now.Sub(start)) / float64(r.window)
	estimate := float64(previous)*weight + float64(current)
	if estimate <= float64(r.limit) {
		return allow(rateGate, "under_limit")
	}

	notify, err := r.store.SetNX(ctx, notifiedKey(scope, start), "1", r.window)
	if err != nil {
		// Blocked either way; skip the notice rather than risk a repeat.
		d := block(rateGate, "over_limit", false)
		d.Err = err
		return d
	}
	return block(rateGate, "over_limit", notify)
}

func windowKey(scope string, start time.Time) string {
	return fmt.Sprintf("rate:%s:%d", scope, start.Unix())
}

func notifiedKey(scope string, start time.Time) string {
	return fmt.Sprintf("rate-notified:%s:%d", scope, start.Unix())
}
