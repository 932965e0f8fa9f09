// Package logqueue serializes log-file appends for the whole process.
//
// A Queue runs at most one task at a time, in the order tasks were
// submitted. Every command run funnels its log appends through the same
// queue so concurrent appends can never interleave partial records.
package logqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/runtrail/internal/report"
)

// ErrNilTask is returned when Submit is called without a task.
var ErrNilTask = errors.New("logqueue: nil task")

// Task is one unit of serialized work, typically a single file append.
type Task func() error

type job struct {
	task Task
	done chan error
}

// Queue is a single-worker FIFO. The zero value is not usable; use New.
type Queue struct {
	jobs      chan *job
	startOnce sync.Once
	pending   atomic.Int64
	metrics   *report.Metrics
}

// Option configures a Queue
type Option func(*Queue)

// WithMetrics reports depth, task time and failures to m.
func WithMetrics(m *report.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New creates a queue. Its worker starts on first Submit and never stops;
// the queue holds nothing but pending tasks.
func New(opts ...Option) *Queue {
	q := &Queue{
		jobs: make(chan *job, 256),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var (
	defaultQueue *Queue
	defaultOnce  sync.Once
)

// Default returns the process-wide queue shared by every command.
func Default() *Queue {
	defaultOnce.Do(func() {
		defaultQueue = New(WithMetrics(report.Global()))
	})
	return defaultQueue
}

// Submit enqueues task and waits for it to run, returning the task's error.
// A failed task does not affect the tasks queued behind it.
//
// If ctx ends first Submit returns ctx.Err(). A task that was already
// enqueued is abandoned, not aborted: it still runs in its turn.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}
	q.startOnce.Do(func() {
		go q.run()
	})

	// Count the job before the worker can see it, so Depth never dips below
	// what is really queued.
	j := &job{task: task, done: make(chan error, 1)}
	q.pending.Add(1)
	if q.metrics != nil {
		q.metrics.QueueDepth.Inc()
	}
	select {
	case q.jobs <- j:
	case <-ctx.Done():
		q.pending.Add(-1)
		if q.metrics != nil {
			q.metrics.QueueDepth.Dec()
		}
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of tasks enqueued but not yet finished.
func (q *Queue) Depth() int {
	return int(q.pending.Load())
}

func (q *Queue) run() {
	for j := range q.jobs {
		start := time.Now()
		err := execute(j.task)

		q.pending.Add(-1)
		if q.metrics != nil {
			q.metrics.QueueDepth.Dec()
			q.metrics.QueueTaskTime.Observe(time.Since(start).Seconds())
			if err != nil {
				q.metrics.QueueFailures.Inc()
			}
		}
		j.done <- err
	}
}

// execute runs task, turning a panic into an error so the worker survives.
func execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("logqueue: task panicked: %v", r)
		}
	}()
	return task()
}
