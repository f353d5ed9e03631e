// Package command composes controller operations into workflows.
//
// A Command is a unit of possibly asynchronous work with an explicit
// lifecycle: it is started once, may be asked to stop, and eventually
// completes, successfully or not. Commands are driven by a reactor and are
// not safe for concurrent use; call them on the reactor goroutine.
//
// Groups run child commands one after another (Sequential) or all at once
// (Parallel). A group never handles a child's completion inline: the
// continuation is posted to the reactor, so long chains of commands that
// complete immediately do not grow the call stack.
package command

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mesycontrol/mrc-go/pkg/future"
)

// State is the lifecycle state of a command.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateComplete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Command errors.
var (
	// ErrAlreadyStarted is returned by Start on a command that was started
	// before. Commands cannot be restarted.
	ErrAlreadyStarted = errors.New("command already started")

	// ErrNotComplete is returned by Result before the command completed.
	ErrNotComplete = errors.New("command not complete")

	// ErrStopped is the error of a command that was stopped before it could
	// produce a result.
	ErrStopped = errors.New("command stopped")
)

// Progress reports how far a command has come.
type Progress = future.Progress

// Command is a unit of work with a start/stop/result lifecycle.
type Command interface {
	// Name identifies the command in group outcomes and logs.
	Name() string

	// Start begins the work. If the work fails synchronously the command
	// completes as failed and Start returns the error.
	Start() error

	// Stop requests cooperative cancellation. It has no effect unless the
	// command is running.
	Stop()

	State() State

	// Failed reports whether the command completed with an error.
	Failed() bool

	// Result returns the command's result. A captured error is returned
	// alongside whatever partial result the command has.
	Result() (any, error)

	// OnStopped registers fn to run once the command completes.
	OnStopped(fn func())

	// OnProgress registers fn to receive progress updates.
	OnProgress(fn func(Progress))
}

// Hooks are the command-specific parts of a Base.
type Hooks struct {
	// Begin starts the work. A returned error or panic fails the command.
	Begin func() error

	// Cancel asks running work to stop; the command must still call
	// Stopped or Fail eventually. Without Cancel, Stop completes the
	// command immediately.
	Cancel func()

	// Result returns the command's result once complete.
	Result func() any
}

// Base implements the Command lifecycle around Hooks. Concrete commands
// embed a *Base and report completion with Stopped or Fail.
type Base struct {
	name  string
	hooks Hooks

	state     State
	completed bool
	failed    bool
	err       error

	stopped  []func()
	progress []func(Progress)
}

// NewBase returns a command lifecycle named name.
func NewBase(name string, hooks Hooks) *Base {
	return &Base{name: name, hooks: hooks}
}

func (b *Base) Name() string { return b.name }

func (b *Base) State() State { return b.state }

func (b *Base) Failed() bool { return b.failed }

// Completed reports whether the command ran to its end rather than being
// stopped early.
func (b *Base) Completed() bool { return b.completed }

// Err returns the captured error, if any.
func (b *Base) Err() error { return b.err }

func (b *Base) Start() (err error) {
	if b.state != StateNotStarted {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, b.name)
	}
	b.state = StateRunning
	if b.hooks.Begin == nil {
		b.Stopped(true)
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s: panic: %v", b.name, rec)
			b.Fail(err)
		}
	}()
	if err := b.hooks.Begin(); err != nil {
		b.Fail(err)
		return err
	}
	return nil
}

func (b *Base) Stop() {
	if b.state != StateRunning {
		return
	}
	b.state = StateStopping
	if b.hooks.Cancel == nil {
		b.Stopped(false)
		return
	}
	b.hooks.Cancel()
}

func (b *Base) Result() (any, error) {
	if b.state != StateComplete {
		return nil, ErrNotComplete
	}
	var v any
	if b.hooks.Result != nil {
		v = b.hooks.Result()
	}
	if b.err != nil {
		return v, b.err
	}
	if !b.completed && !b.failed {
		return v, ErrStopped
	}
	return v, nil
}

func (b *Base) OnStopped(fn func()) {
	b.stopped = append(b.stopped, fn)
}

func (b *Base) OnProgress(fn func(Progress)) {
	b.progress = append(b.progress, fn)
}

// SetProgress notifies progress handlers.
func (b *Base) SetProgress(p Progress) {
	for _, fn := range b.progress {
		b.call("progress", func() { fn(p) })
	}
}

// Stopped completes the command. completed is false if the work was cut
// short by Stop. Calls after the first are ignored.
func (b *Base) Stopped(completed bool) {
	if b.state == StateComplete {
		return
	}
	b.state = StateComplete
	b.completed = completed
	for _, fn := range b.stopped {
		b.call("stopped", fn)
	}
}

// call runs a registered handler. A panic is logged and does not keep the
// remaining handlers from running.
func (b *Base) call(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Default().Error("panic in command handler",
				"command", b.name, "handler", kind, "panic", rec)
		}
	}()
	fn()
}

// Fail completes the command with err.
func (b *Base) Fail(err error) {
	if b.state == StateComplete {
		return
	}
	b.failed = true
	b.err = err
	b.Stopped(false)
}
