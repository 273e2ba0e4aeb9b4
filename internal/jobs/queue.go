package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned once a queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Delivery is one dequeued envelope. Ack removes it from a durable backend.
type Delivery struct {
	Envelope Envelope
	ack      func(ctx context.Context) error
}

// NewDelivery pairs an envelope with its acknowledgement func.
func NewDelivery(env Envelope, ack func(ctx context.Context) error) *Delivery {
	return &Delivery{Envelope: env, ack: ack}
}

// Ack acknowledges the delivery.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Queue is an at-least-once FIFO of job envelopes.
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	// Retry re-enqueues env once delay has elapsed.
	Retry(ctx context.Context, env Envelope, delay time.Duration) error
	// Dequeue blocks until an envelope is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Len reports the approximate number of waiting envelopes.
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an unbounded in-process FIFO. Enqueue never blocks.
// Envelopes still queued when the process exits are lost.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []Envelope
	notify  chan struct{}
	closed  bool
	pending sync.WaitGroup
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, env Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, env Envelope, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, env)
	}
	q.pending.Add(1)
	time.AfterFunc(delay, func() {
		defer q.pending.Done()
		_ = q.Enqueue(context.Background(), env)
	})
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items[0] = Envelope{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return NewDelivery(env, nil), nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Close stops accepting envelopes. Already queued ones can still be dequeued.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// WaitRetries blocks until every scheduled Retry has been enqueued.
func (q *MemoryQueue) WaitRetries() {
	q.pending.Wait()
}
