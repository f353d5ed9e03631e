package future

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
)

// Future errors.
var (
	// ErrAlreadyComplete is returned when completing a future twice.
	ErrAlreadyComplete = errors.New("future already complete")

	// ErrIncomplete is returned by Result while the future is pending.
	ErrIncomplete = errors.New("future incomplete")
)

// State is the completion state of a future.
type State uint8

const (
	// StatePending means no outcome has been stored yet.
	StatePending State = iota

	// StateFulfilled means the future holds a value.
	StateFulfilled

	// StateRejected means the future holds an error.
	StateRejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateFulfilled:
		return "FULFILLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Progress describes how far an operation has come.
type Progress struct {
	Current int
	Min     int
	Max     int
	Text    string
}

// Future is a single-assignment result of type T.
// It is safe for concurrent use.
type Future[T any] struct {
	mu    sync.Mutex
	state State
	value T
	err   error

	// observed is set once the outcome has been retrieved by a caller.
	observed bool

	ready             chan struct{}
	callbacks         []func(*Future[T])
	progressCallbacks []func(Progress)
	progress          Progress
}

// New creates a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{ready: make(chan struct{})}
}

// Resolved creates a future already fulfilled with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	_ = f.SetResult(v)
	return f
}

// Rejected creates a future already rejected with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	_ = f.SetError(err)
	return f
}

// SetResult fulfills the future with v.
// Returns ErrAlreadyComplete if the future is not pending; the stored
// outcome is left untouched in that case.
func (f *Future[T]) SetResult(v T) error {
	return f.complete(StateFulfilled, v, nil)
}

// SetError rejects the future with err.
// Returns ErrAlreadyComplete if the future is not pending.
func (f *Future[T]) SetError(err error) error {
	if err == nil {
		return errors.New("future: SetError called with nil error")
	}
	var zero T
	return f.complete(StateRejected, zero, err)
}

func (f *Future[T]) complete(state State, v T, err error) error {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return ErrAlreadyComplete
	}
	f.state = state
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.progressCallbacks = nil
	close(f.ready)
	f.mu.Unlock()

	if state == StateRejected {
		runtime.SetFinalizer(f, (*Future[T]).reportUnobserved)
	}

	for _, cb := range callbacks {
		f.invoke(cb)
	}
	return nil
}

// Done reports whether the future has been completed.
func (f *Future[T]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state != StatePending
}

// State returns the current completion state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Ready returns a channel that is closed once the future completes.
func (f *Future[T]) Ready() <-chan struct{} {
	return f.ready
}

// Result returns the stored value or error.
// Returns ErrIncomplete while the future is pending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StatePending {
		var zero T
		return zero, ErrIncomplete
	}
	f.observed = true
	return f.value, f.err
}

// Err returns the stored error, nil when fulfilled, or ErrIncomplete.
func (f *Future[T]) Err() error {
	_, err := f.Result()
	return err
}

// Peek returns the stored error like Err, but does not count as retrieving
// it: a rejection seen only through Peek is still reported as unobserved.
// Meant for instrumentation that watches outcomes it does not handle.
func (f *Future[T]) Peek() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StatePending {
		return ErrIncomplete
	}
	return f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.ready:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AddDoneCallback registers fn to run once the future completes.
// If the future is already complete, fn runs immediately.
func (f *Future[T]) AddDoneCallback(fn func(*Future[T])) {
	f.mu.Lock()
	if f.state == StatePending {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.invoke(fn)
}

// SetProgress stores p and notifies progress callbacks.
// Progress updates on a completed future are ignored.
func (f *Future[T]) SetProgress(p Progress) {
	f.mu.Lock()
	if f.state != StatePending {
		f.mu.Unlock()
		return
	}
	f.progress = p
	callbacks := slices.Clone(f.progressCallbacks)
	f.mu.Unlock()

	for _, cb := range callbacks {
		safeCall(func() { cb(p) })
	}
}

// Progress returns the last reported progress.
func (f *Future[T]) Progress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

// AddProgressCallback registers fn to receive progress updates.
func (f *Future[T]) AddProgressCallback(fn func(Progress)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return
	}
	f.progressCallbacks = append(f.progressCallbacks, fn)
}

func (f *Future[T]) invoke(fn func(*Future[T])) {
	safeCall(func() { fn(f) })
}

// reportUnobserved logs a rejection nobody retrieved.
func (f *Future[T]) reportUnobserved() {
	f.mu.Lock()
	observed, err := f.observed, f.err
	f.mu.Unlock()
	if observed || err == nil {
		return
	}
	slog.Default().Warn("future rejected and error never retrieved", "error", err)
}

// safeCall runs fn and logs a panic instead of propagating it.
func safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("panic in future callback",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Then returns a future fulfilled with fn(v) once f is fulfilled with v.
// Errors from f or fn reject the returned future.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := New[U]()
	f.AddDoneCallback(func(f *Future[T]) {
		v, err := f.Result()
		if err != nil {
			_ = out.SetError(err)
			return
		}
		u, err := fn(v)
		if err != nil {
			_ = out.SetError(err)
			return
		}
		_ = out.SetResult(u)
	})
	return out
}

// AllDone returns a future that is fulfilled once every input is complete.
// Its result lists the inputs in completion order. It never rejects; callers
// inspect the individual futures. With no inputs it is fulfilled immediately.
func AllDone[T any](fs ...*Future[T]) *Future[[]*Future[T]] {
	out := New[[]*Future[T]]()
	if len(fs) == 0 {
		_ = out.SetResult([]*Future[T]{})
		return out
	}

	var mu sync.Mutex
	completed := make([]*Future[T], 0, len(fs))
	total := len(fs)

	for _, f := range fs {
		f.AddDoneCallback(func(f *Future[T]) {
			mu.Lock()
			completed = append(completed, f)
			n := len(completed)
			var result []*Future[T]
			if n == total {
				result = completed
			}
			mu.Unlock()

			out.SetProgress(Progress{Current: n, Max: total})
			if result != nil {
				_ = out.SetResult(result)
			}
		})
	}
	return out
}
