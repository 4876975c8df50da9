// Package protection implements the gates a job passes before the
// expensive reply tail: duplicate suppression, rate limiting and quota.
//
// Every gate fails open. A backing-store error yields Unknown, which
// callers treat as a pass but log differently from a real Allowed.
package protection

import (
	"context"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/metrics"
)

// Outcome is the result class of a gate check.
type Outcome int

const (
	Allowed Outcome = iota
	Blocked
	Unknown
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Decision is one gate's verdict.
type Decision struct {
	Gate    string
	Outcome Outcome
	Reason  string
	// Notify is set on the first block of a window; the caller sends one notice.
	Notify bool
	Err    error
}

// Passed reports whether the job may continue.
func (d Decision) Passed() bool {
	return d.Outcome != Blocked
}

// Subject is what a gate inspects.
type Subject struct {
	Job          model.Job
	Conversation *model.Conversation
}

// Gate is one protection check.
type Gate interface {
	Name() string
	Check(ctx context.Context, s Subject) Decision
}

func allow(gate, reason string) Decision {
	return record(Decision{Gate: gate, Outcome: Allowed, Reason: reason})
}

func block(gate, reason string, notify bool) Decision {
	return record(Decision{Gate: gate, Outcome: Blocked, Reason: reason, Notify: notify})
}

func unknown(gate string, err error) Decision {
	return record(Decision{Gate: gate, Outcome: Unknown, Reason: "store_unavailable", Err: err})
}

func record(d Decision) Decision {
	metrics.ProtectionDecisions.WithLabelValues(d.Gate, d.Outcome.String()).Inc()
	return d
}

// Clock returns the current time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
