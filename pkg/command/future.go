package command

import (
	"errors"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
)

var errNilFuture = errors.New("command: operation returned no future")

// FutureCommand runs an operation that returns a Future and completes with
// the Future's outcome. The Future's progress is forwarded.
//
// Stop does not cancel the operation itself; the command completes as
// stopped and the late outcome is discarded.
type FutureCommand[T any] struct {
	*Base
	r     *reactor.Reactor
	op    func() *future.Future[T]
	fut   *future.Future[T]
	value T
}

// NewFuture creates a command running op.
func NewFuture[T any](r *reactor.Reactor, name string, op func() *future.Future[T]) *FutureCommand[T] {
	c := &FutureCommand[T]{r: r, op: op}
	c.Base = NewBase(name, Hooks{
		Begin:  c.begin,
		Result: func() any { return c.value },
	})
	return c
}

// Value returns the typed result; the zero value until the command
// completed successfully.
func (c *FutureCommand[T]) Value() T {
	return c.value
}

// Future returns the operation's future, nil before Start.
func (c *FutureCommand[T]) Future() *future.Future[T] {
	return c.fut
}

func (c *FutureCommand[T]) begin() error {
	c.fut = c.op()
	if c.fut == nil {
		return errNilFuture
	}
	c.fut.AddProgressCallback(func(p future.Progress) {
		c.r.Post(func() {
			if c.State() == StateRunning {
				c.SetProgress(p)
			}
		})
	})
	// Posted even if the future is already resolved.
	c.fut.AddDoneCallback(func(f *future.Future[T]) {
		c.r.Post(func() { c.done(f) })
	})
	return nil
}

func (c *FutureCommand[T]) done(f *future.Future[T]) {
	v, err := f.Result()
	if c.State() == StateComplete {
		return
	}
	if err != nil {
		c.Fail(err)
		return
	}
	c.value = v
	c.Stopped(true)
}

// Func is a command that runs a synchronous function.
type Func struct {
	*Base
	value any
}

// NewFunc creates a command running fn. An error from fn fails the command
// and is returned by Start.
func NewFunc(name string, fn func() (any, error)) *Func {
	c := &Func{}
	c.Base = NewBase(name, Hooks{
		Begin: func() error {
			v, err := fn()
			if err != nil {
				return err
			}
			c.value = v
			c.Stopped(true)
			return nil
		},
		Result: func() any { return c.value },
	})
	return c
}
