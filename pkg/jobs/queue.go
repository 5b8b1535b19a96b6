package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one queued job, identified by its persisted ID. The
// job's parameters live in the database; the queue only dispatches IDs, so a
// restart can recover work by re-reading rows still marked queued.
type HandlerFunc func(ctx context.Context, jobID string) error

// Config tunes the worker pool.
type Config struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue dispatches persisted job IDs to a pool of workers. A failing job is
// retried in place with a delay between attempts; a job that exhausts its
// attempts is dropped from the queue and left to the database status for
// operators to inspect.
type Queue struct {
	name       string
	handle     HandlerFunc
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	ids    chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewQueue builds a queue over the given handler. Zero config fields fall
// back to one worker, three attempts and a one-second retry delay.
func NewQueue(name string, handle HandlerFunc, cfg Config) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:       name,
		handle:     handle,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With(zap.String("queue", name)),
		ids:        make(chan string, cfg.BufferSize),
	}
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.workers))
}

// Stop cancels the workers and blocks until they exit. In-flight handlers
// observe the cancelled context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// Enqueue hands a job ID to the pool. It fails when the queue has not been
// started or has been stopped; callers fall back on DB-driven recovery.
func (q *Queue) Enqueue(jobID string) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.ids <- jobID:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.ids:
			q.run(id)
		}
	}
}

// run drives one job through up to maxRetries attempts, pausing retryDelay
// between them. Retrying inline keeps ordering simple and avoids unbounded
// requeue goroutines at the cost of parking one worker during the delay.
func (q *Queue) run(jobID string) {
	for attempt := 1; ; attempt++ {
		err := q.handle(q.ctx, jobID)
		if err == nil {
			return
		}
		if attempt >= q.maxRetries {
			q.logger.Error("job exhausted retries",
				zap.String("job_id", jobID), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		q.logger.Warn("job failed, retrying",
			zap.String("job_id", jobID), zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
