// Package worker runs reply jobs from the durable queue.
package worker

import (
	"errors"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/outbound"
	"github.com/capitalize-ai/chat-relay/internal/reply"
)

// RetryPolicy bounds attempts and spaces them with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the attempt after attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	var t *terminalError
	switch {
	case errors.As(err, &t):
		return true
	case errors.Is(err, llm.ErrRequestRejected),
		errors.Is(err, outbound.ErrInvalidRecipient),
		errors.Is(err, reply.ErrInboundNotFound),
		errors.Is(err, reply.ErrAssistantNotFound):
		return true
	}
	return false
}
