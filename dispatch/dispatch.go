// Package dispatch provides the single-threaded executor that every host
// component runs on. Components never block: they post work and resume in
// callbacks, all of which run on the dispatcher goroutine.
package dispatch

import (
	"context"
	"sync"
	"time"
)

// Dispatcher runs posted functions one at a time, in order.
type Dispatcher interface {
	// Post queues fn to run on the dispatcher.
	Post(fn func())

	// PostDelayed queues fn to run after d. The returned task can be canceled.
	PostDelayed(d time.Duration, fn func()) *Task

	// Now returns the dispatcher clock.
	Now() time.Time
}

// Task is a delayed function. Canceling a task which already ran, or which
// fired but has not been run yet, is a no-op.
type Task struct {
	mu       sync.Mutex
	fn       func()
	canceled bool
	done     bool
	timer    *time.Timer
}

// Cancel prevents the task from running. It reports whether the task was
// still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done || t.canceled {
		return false
	}
	t.canceled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

// Pending reports whether the task will still run.
func (t *Task) Pending() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done && !t.canceled
}

func (t *Task) run() {
	t.mu.Lock()
	if t.done || t.canceled {
		t.mu.Unlock()
		return
	}
	t.done = true
	fn := t.fn
	t.mu.Unlock()

	fn()
}

// Loop is a Dispatcher backed by a goroutine running Run.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) PostDelayed(d time.Duration, fn func()) *Task {
	t := &Task{fn: fn}
	t.mu.Lock()
	t.timer = time.AfterFunc(d, func() { l.Post(t.run) })
	t.mu.Unlock()
	return t
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Run executes posted work until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Call posts fn and waits until it has run, or ctx is done. It must not be
// called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})

	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}

// Close stops Run and drops any queued work.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}
