// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"context"
	"sync"
	"time"
)

// An Executor runs tasks. Execute reports false without running the task if
// the executor no longer accepts tasks.
type Executor interface {
	Execute(task func()) bool
}

// A Loop is an Executor that runs tasks one at a time, in the order they were
// submitted, on the goroutine that calls Run. Submission never blocks: the
// task queue is unbounded.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1; closed by Close
}

// NewLoop constructs a new empty loop. Call Run to begin executing tasks.
func NewLoop() *Loop {
	return &Loop{signal: make(chan struct{}, 1)}
}

// Execute adds task to the back of the queue. It is safe to call from any
// goroutine, including from a task running on l. It reports false if l is
// closed.
func (l *Loop) Execute(task func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, task)
	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops l from accepting new tasks. Tasks already queued still run
// before Run returns.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.signal)
	}
}

// Len reports the number of tasks waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// take removes all queued tasks and reports whether l is closed.
func (l *Loop) take() ([]func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.tasks
	l.tasks = nil
	return batch, l.closed
}

// runPending runs queued tasks until the queue is empty, including tasks
// queued while it runs, and reports whether l is closed.
func (l *Loop) runPending() bool {
	for {
		batch, closed := l.take()
		if len(batch) == 0 {
			return closed
		}
		for _, task := range batch {
			task()
		}
	}
}

// Run executes tasks until l is closed and drained, or until ctx ends. If
// interval > 0 and tick != nil, Run also calls tick every interval between
// tasks. Run reports nil after Close, or the error from ctx.
func (l *Loop) Run(ctx context.Context, interval time.Duration, tick func()) error {
	var tc <-chan time.Time
	if interval > 0 && tick != nil {
		t := time.NewTicker(interval)
		defer t.Stop()
		tc = t.C
	}
	for {
		if l.runPending() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.signal:
		case <-tc:
			tick()
		}
	}
}
