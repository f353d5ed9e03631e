// Package reactor provides the single-threaded cooperative scheduler that
// drives connections, controllers and commands.
//
// All protocol state is owned by the reactor goroutine. I/O goroutines and
// timers never touch that state directly; they post closures which run one
// at a time, in post order, on the reactor goroutine. Work posted from within
// a task is queued behind the tasks already waiting, which is how long
// continuation chains avoid unbounded recursion.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Call when the reactor is not running.
var ErrStopped = errors.New("reactor stopped")

// Reactor runs posted tasks sequentially on a single goroutine.
type Reactor struct {
	logger *slog.Logger

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	running atomic.Bool
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a reactor. It does nothing until Run is called.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes posted tasks until ctx is done. Tasks still queued when ctx is
// canceled are discarded.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("reactor already running")
	}
	defer r.running.Store(false)

	defer func() {
		r.mu.Lock()
		r.queue = nil
		r.mu.Unlock()
	}()

	for {
		r.mu.Lock()
		batch := r.queue
		r.queue = nil
		r.mu.Unlock()

		for i, task := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.execute(task)
			batch[i] = nil
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}
	}
}

// Start runs the reactor on a new goroutine and returns immediately.
func (r *Reactor) Start(ctx context.Context) {
	go func() {
		_ = r.Run(ctx)
	}()
}

// Running reports whether Run is active.
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// Post queues fn for execution on the reactor goroutine.
// Safe to call from any goroutine, including from a running task.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the reactor goroutine and waits for it to return.
// It must not be called from a reactor task.
func (r *Reactor) Call(ctx context.Context, fn func()) error {
	if !r.Running() {
		return ErrStopped
	}

	done := make(chan struct{})
	r.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) execute(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in reactor task",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()))
		}
	}()
	task()
}

// Timer is a one-shot or repeating timer whose callback runs on the reactor.
type Timer struct {
	r        *Reactor
	fn       func()
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// AfterFunc runs fn on the reactor once d has elapsed.
func (r *Reactor) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{r: r, fn: fn}
	t.mu.Lock()
	t.timer = time.AfterFunc(d, t.fire)
	t.mu.Unlock()
	return t
}

// Every runs fn on the reactor every d until the timer is stopped.
// The next period starts after fn has run.
func (r *Reactor) Every(d time.Duration, fn func()) *Timer {
	if d < time.Millisecond {
		d = time.Millisecond
	}
	t := &Timer{r: r, fn: fn, interval: d}
	t.mu.Lock()
	t.timer = time.AfterFunc(d, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Timer) fire() {
	t.r.Post(func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		if t.interval == 0 {
			t.stopped = true
		}
		t.mu.Unlock()

		t.fn()

		t.mu.Lock()
		if !t.stopped && t.interval > 0 {
			t.timer.Reset(t.interval)
		}
		t.mu.Unlock()
	})
}

// Stop cancels the timer. fn will not run after Stop returns, even if the
// expiry has already been queued on the reactor.
// Returns false if the timer had already fired (one-shot) or was stopped.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}

// Active reports whether the timer can still fire.
func (t *Timer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}
