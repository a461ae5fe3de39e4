package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RedeliveryConfig configures at-least-once redelivery of failed
// tasks. Redelivery is a transport concern: the pipeline itself never
// retries, it just has to be safe to re-run from the top.
type RedeliveryConfig struct {
	MaxRedeliveries int           // Redelivery attempts after the first delivery (0 = deliver once)
	InitialBackoff  time.Duration // Initial backoff duration
	MaxBackoff      time.Duration // Maximum backoff duration (cap)
	BackoffFactor   float64       // Multiplier for exponential backoff
}

// DefaultRedeliveryConfig returns sensible defaults for redelivery.
// Backoff schedule: 5s, 10s, 20s.
func DefaultRedeliveryConfig() RedeliveryConfig {
	return RedeliveryConfig{
		MaxRedeliveries: 3,
		InitialBackoff:  5 * time.Second,
		MaxBackoff:      60 * time.Second,
		BackoffFactor:   2.0,
	}
}

// Queue manages task execution with configurable concurrency control.
// The concurrency strategy determines how tasks are allowed to run:
// - SerializedStrategy: one task at a time (default)
// - ThrottledStrategy: up to N concurrent tasks (the worker pool)
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	// Terminal tasks are pruned from the slice and tallied here, so a
	// process-lifetime queue does not grow with every job delivered.
	completedCount int
	failedCount    int
	cancelledCount int
	firstFailure   error

	// Concurrency control strategy
	strategy ConcurrencyStrategy

	// Redelivery configuration for failed tasks
	redelivery RedeliveryConfig

	// done is closed when all tasks complete
	done chan struct{}
	// wg tracks running goroutines
	wg sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRedeliveryConfig sets the redelivery configuration.
func WithRedeliveryConfig(config RedeliveryConfig) QueueOption {
	return func(q *Queue) {
		q.redelivery = config
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:      make([]*TaskState, 0),
		strategy:   NewSerializedStrategy(),
		redelivery: DefaultRedeliveryConfig(),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue cancelled, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.tryStartTasksLocked()
}

// tryStartTasksLocked checks constraints and starts eligible tasks.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			continue
		}

		q.strategy.OnStart()
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask delivers a task, redelivering on failure up to the
// configured limit. Tasks are expected to be idempotent under
// redelivery; nothing here inspects why a task failed.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.redelivery.MaxRedeliveries; attempt++ {
		// Wait before redelivery (skip on first delivery)
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("redelivering task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_redeliveries", q.redelivery.MaxRedeliveries),
				zap.Duration("backoff", backoff))

			select {
			case <-q.ctx.Done():
				q.completeTaskFailure(ts, q.ctx.Err())
				return
			case <-time.After(backoff):
			}
		}

		deliveries := ts.IncrementDeliveries()

		err := ts.Task.Execute(q.ctx, q)
		if err == nil {
			q.completeTaskSuccess(ts)
			return
		}

		lastErr = err

		// Context cancellation is not redelivered
		if errors.Is(err, context.Canceled) {
			break
		}

		if attempt >= q.redelivery.MaxRedeliveries {
			q.logger.Error("task failed after max redeliveries",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("deliveries", deliveries),
				zap.Error(err))
			break
		}

		q.logger.Warn("task failed, will redeliver",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("deliveries", deliveries),
			zap.Error(err))
	}

	q.completeTaskFailure(ts, lastErr)
}

// calculateBackoff computes the backoff duration for a redelivery.
// Uses exponential backoff with jitter.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := float64(q.redelivery.InitialBackoff) *
		math.Pow(q.redelivery.BackoffFactor, float64(attempt-1))

	if backoff > float64(q.redelivery.MaxBackoff) {
		backoff = float64(q.redelivery.MaxBackoff)
	}

	// Jitter (±10%) to prevent thundering herd
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

// completeTaskSuccess marks a task as successfully completed.
func (q *Queue) completeTaskSuccess(ts *TaskState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()
	ts.SetStatus(TaskStatusCompleted)
	q.completedCount++
	q.removeTaskLocked(ts)

	q.logger.Info("task completed",
		zap.String("task_id", ts.Task.ID()),
		zap.String("task_name", ts.Task.Name()),
		zap.Int("deliveries", ts.GetDeliveries()))

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// completeTaskFailure marks a task as failed or cancelled.
func (q *Queue) completeTaskFailure(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	if errors.Is(err, context.Canceled) {
		ts.SetStatus(TaskStatusCancelled)
		q.cancelledCount++
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	} else {
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.failedCount++
		if q.firstFailure == nil {
			q.firstFailure = err
		}
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("deliveries", ts.GetDeliveries()),
			zap.Error(err))
	}
	q.removeTaskLocked(ts)

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// removeTaskLocked prunes one task state from the slice. Terminal
// tasks live on only as counters. Must be called with lock held.
func (q *Queue) removeTaskLocked(ts *TaskState) {
	for i, cur := range q.tasks {
		if cur == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// allTasksDoneLocked returns true if no pending or running tasks
// remain. Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
		// Already closed
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed.
// This allows the queue to be reused for multiple batches of work.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// GetTasks returns a snapshot of the pending and running tasks.
// Finished tasks are pruned; their outcomes survive in Progress.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns nil if all tasks completed successfully or queue is empty.
// Returns the first task error if any task failed.
// Returns ctx.Err() if the context was cancelled.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		err := q.firstFailure
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.firstFailure
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel marks the queue as cancelled, signals running tasks to stop,
// and stops accepting new tasks.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
			q.cancelledCount++
			continue
		}
		kept = append(kept, ts)
	}
	q.tasks = kept

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
}

// IsComplete returns true if all tasks have completed (success or failure).
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allTasksDoneLocked()
}

// HasFailures returns true if any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failedCount > 0
}

// Progress returns a progress summary covering the queue's lifetime.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		Total:     len(q.tasks) + q.completedCount + q.failedCount + q.cancelledCount,
		Completed: q.completedCount,
		Failed:    q.failedCount,
		Cancelled: q.cancelledCount,
	}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
