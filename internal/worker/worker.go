// Package worker drains the job queue one job at a time. Running a single
// consumer is what keeps idempotency markers free of read-check-write races.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/imrishuroy/go-commerce-erpsync/internal/errorx"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	pollErrorBackoff   = time.Second
	maxBackoffShift    = 10
)

// Handler runs one decoded job.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) error
}

// Outcome is what Process did with an envelope.
type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomeRetried
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeRetried:
		return "retried"
	default:
		return "dropped"
	}
}

type Options struct {
	Queue        jobs.Queue
	Handler      Handler
	Logger       logger.Logger
	Metrics      *metrics.Recorder
	JobTimeout   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Worker struct {
	queue        jobs.Queue
	handler      Handler
	log          logger.Logger
	metrics      *metrics.Recorder
	jobTimeout   time.Duration
	maxAttempts  int
	retryBackoff time.Duration

	closing *atomic.Bool
	started *atomic.Bool
	done    chan struct{}
	mu      sync.Mutex
	stop    context.CancelFunc
}

func New(opts Options) *Worker {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.New(metrics.Options{Logger: log})
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Worker{
		queue:        opts.Queue,
		handler:      opts.Handler,
		log:          log,
		metrics:      rec,
		jobTimeout:   opts.JobTimeout,
		maxAttempts:  attempts,
		retryBackoff: opts.RetryBackoff,
		closing:      atomic.NewBool(false),
		started:      atomic.NewBool(false),
		done:         make(chan struct{}),
	}
}

// Run dequeues and processes jobs until ctx is done, the queue closes, or
// Stop is called. A job being processed when Stop is called runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CAS(false, true) {
		return errors.New("worker already running")
	}
	defer close(w.done)

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.stop = cancel
	w.mu.Unlock()
	if w.closing.Load() {
		return nil
	}

	w.log.Infof(ctx, "[worker] started (max_attempts=%d, job_timeout=%s)", w.maxAttempts, w.jobTimeout)
	for !w.closing.Load() {
		d, err := w.queue.Dequeue(pollCtx)
		if err != nil {
			if errors.Is(err, jobs.ErrQueueClosed) || pollCtx.Err() != nil {
				break
			}
			w.log.Errorf(ctx, "[worker] dequeue failed: %v", err)
			select {
			case <-pollCtx.Done():
			case <-time.After(pollErrorBackoff):
			}
			continue
		}

		// processing is not tied to pollCtx so Stop lets the job finish
		jobCtx := context.WithoutCancel(ctx)
		w.Process(jobCtx, d.Envelope)
		if err := d.Ack(jobCtx); err != nil {
			w.log.Warnf(jobCtx, "[worker] ack failed: %v", err)
		}
	}
	w.log.Infof(ctx, "[worker] stopped")
	return nil
}

// Stop stops dequeuing and waits for the job in flight.
func (w *Worker) Stop() {
	if !w.closing.CAS(false, true) {
		return
	}
	w.mu.Lock()
	if w.stop != nil {
		w.stop()
	}
	w.mu.Unlock()
	if w.started.Load() {
		<-w.done
	}
}

// Process runs one envelope. Retryable failures are re-enqueued with
// exponential backoff until MaxAttempts; everything else is logged and dropped.
// Process never panics and never returns an error.
func (w *Worker) Process(ctx context.Context, env jobs.Envelope) Outcome {
	ctx = logger.WithDeliveryID(ctx, env.DeliveryID)
	ctx = logger.WithJob(ctx, env.Type, env.Attempt)

	job, err := jobs.Decode(env)
	if err != nil {
		w.log.Warnf(ctx, "[worker] dropping job: %v", err)
		w.metrics.Dropped()
		return OutcomeDropped
	}

	start := time.Now()
	err = w.run(ctx, job)
	if err == nil {
		w.metrics.Processed()
		w.log.Infof(ctx, "[worker] %s done in %s", env.Type, time.Since(start).Round(time.Millisecond))
		return OutcomeDone
	}
	w.metrics.Failed()

	if retryable(err) && env.Attempt+1 < w.maxAttempts {
		delay := w.backoff(env.Attempt)
		next := env
		next.Attempt++
		rerr := w.queue.Retry(ctx, next, delay)
		if rerr == nil {
			w.metrics.Retried()
			w.log.Warnf(ctx, "[worker] %s failed, retry %d/%d in %s: %v", env.Type, next.Attempt, w.maxAttempts-1, delay, err)
			return OutcomeRetried
		}
		w.log.Errorf(ctx, "[worker] could not schedule retry: %v", rerr)
	}

	w.metrics.Dropped()
	w.log.Errorf(ctx, "[worker] %s dropped after attempt %d: %v", env.Type, env.Attempt+1, err)
	return OutcomeDropped
}

func (w *Worker) run(ctx context.Context, job jobs.Job) (err error) {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf(ctx, "[worker] panic: %v\n%s", r, debug.Stack())
			err = errorx.NonRetriable(0, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return w.handler.Handle(ctx, job)
}

func (w *Worker) backoff(attempt int) time.Duration {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return w.retryBackoff * time.Duration(1<<uint(attempt))
}

// retryable also covers a job that ran out of time.
func retryable(err error) bool {
	return errorx.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}
