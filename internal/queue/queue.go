// Package queue defines the durable job queue contract shared by the
// webhook dispatcher and the worker runtime.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

// Publisher enqueues reply jobs. Publishing the same JobID twice within the
// queue's duplicate window stores it once.
type Publisher interface {
	Publish(ctx context.Context, job model.Job) error
}

// Delivery is one attempt at a job handed to a worker. Exactly one of Ack,
// NakWithDelay or Term must be called.
type Delivery interface {
	// Job returns the job with Attempts set to this delivery's attempt number.
	Job() model.Job
	// Ack removes the job from the queue.
	Ack() error
	// NakWithDelay schedules another attempt after delay.
	NakWithDelay(delay time.Duration) error
	// Term drops the job without further attempts.
	Term() error
}

// Consumer streams deliveries until ctx is cancelled.
type Consumer interface {
	Deliveries(ctx context.Context) (<-chan Delivery, error)
}
