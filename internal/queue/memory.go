package queue

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-relay/internal/model"
)

// MemoryQueue is an in-process queue with the same redelivery semantics as
// the JetStream queue. It backs tests and single-process development runs.
type MemoryQueue struct {
	mu      sync.Mutex
	ch      chan Delivery
	seen    map[string]struct{}
	acked   []string
	termed  []string
	pending sync.WaitGroup
	closed  bool

	// sendMu is held shared by senders; Close takes it exclusively
	// before closing ch.
	sendMu sync.RWMutex
	done   chan struct{}
}

// NewMemoryQueue creates a queue buffering up to size deliveries.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:   make(chan Delivery, size),
		seen: make(map[string]struct{}),
		done: make(chan struct{}),
	}
}

// Publish enqueues job once per JobID.
func (q *MemoryQueue) Publish(ctx context.Context, job model.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, ok := q.seen[job.JobID]; ok {
		q.mu.Unlock()
		return nil
	}
	q.seen[job.JobID] = struct{}{}
	q.pending.Add(1)
	q.mu.Unlock()

	job.Attempts = 1
	return q.push(ctx, job)
}

func (q *MemoryQueue) push(ctx context.Context, job model.Job) error {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	select {
	case <-q.done:
		q.pending.Done()
		return ErrClosed
	default:
	}

	select {
	case q.ch <- &memoryDelivery{q: q, job: job}:
		return nil
	case <-q.done:
		q.pending.Done()
		return ErrClosed
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	}
}

// Deliveries returns the delivery channel. ctx is unused: the channel
// closes when Close is called.
func (q *MemoryQueue) Deliveries(context.Context) (<-chan Delivery, error) {
	return q.ch, nil
}

// Drain blocks until every published job has been acked or terminated.
func (q *MemoryQueue) Drain() {
	q.pending.Wait()
}

// Close stops accepting jobs and closes the delivery channel. Jobs still
// waiting for redelivery are dropped.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.sendMu.Lock()
	close(q.ch)
	q.sendMu.Unlock()
}

// Acked returns the job ids acknowledged so far.
func (q *MemoryQueue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// Terminated returns the job ids dropped without success.
func (q *MemoryQueue) Terminated() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.termed...)
}

type memoryDelivery struct {
	q    *MemoryQueue
	job  model.Job
	once sync.Once
}

func (d *memoryDelivery) Job() model.Job { return d.job }

func (d *memoryDelivery) Ack() error {
	d.once.Do(func() {
		d.q.mu.Lock()
		d.q.acked = append(d.q.acked, d.job.JobID)
		d.q.mu.Unlock()
		d.q.pending.Done()
	})
	return nil
}

func (d *memoryDelivery) Term() error {
	d.once.Do(func() {
		d.q.mu.Lock()
		d.q.termed = append(d.q.termed, d.job.JobID)
		d.q.mu.Unlock()
		d.q.pending.Done()
	})
	return nil
}

func (d *memoryDelivery) NakWithDelay(delay time.Duration) error {
	d.once.Do(func() {
		next := d.job
		next.Attempts++
		time.AfterFunc(delay, func() {
			_ = d.q.push(context.Background(), next)
		})
	})
	return nil
}
