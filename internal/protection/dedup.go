package protection

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/cache"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

const (
	dedupGate = "dedup"
	dedupDone = "done"
)

// Deduplicator claims a provider message id before any side effect.
// The claim stores the job id so a redelivery of the same job resumes,
// while any other job for the same message is dropped.
type Deduplicator struct {
	store cache.Store
	ttl   time.Duration
}

// NewDeduplicator creates a new duplicate-suppression gate.
func NewDeduplicator(store cache.Store, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduplicator{store: store, ttl: ttl}
}

func (d *Deduplicator) Name() string { return dedupGate }

func dedupKey(job model.Job) string {
	return fmt.Sprintf("dedup:%s:%s", job.TenantID, job.ProviderMessageID)
}

func (d *Deduplicator) Check(ctx context.Context, s Subject) Decision {
	key := dedupKey(s.Job)

	for i := 0; i < 2; i++ {
		claimed, err := d.store.SetNX(ctx, key, s.Job.JobID, d.ttl)
		if err != nil {
			return unknown(dedupGate, err)
		}
		if claimed {
			return allow(dedupGate, "claimed")
		}

		owner, found, err := d.store.Get(ctx, key)
		if err != nil {
			return unknown(dedupGate, err)
		}
		if !found {
			// Claim expired between the two calls.
			continue
		}
		if owner == s.Job.JobID {
			return allow(dedupGate, "resumed")
		}
		if owner == dedupDone {
			return block(dedupGate, "already_processed", false)
		}
		return block(dedupGate, "claimed_by_other_job", false)
	}

	return block(dedupGate, "claim_contended", false)
}

// Complete marks the message as fully processed.
func (d *Deduplicator) Complete(ctx context.Context, job model.Job) error {
	return d.store.Set(ctx, dedupKey(job), dedupDone, d.ttl)
}
