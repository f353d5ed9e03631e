package command

import (
	"errors"
	"fmt"

	"github.com/mesycontrol/mrc-go/pkg/reactor"
)

// ErrChildFailed is the error of a group with a failed child. It wraps the
// first child error.
var ErrChildFailed = errors.New("child command failed")

// Outcome is the result of one child of a group.
type Outcome struct {
	Name   string
	Result any
	Err    error
}

// group holds what Sequential and Parallel share.
type group struct {
	*Base
	r        *reactor.Reactor
	children []Command
	outcomes []Outcome
	firstErr error
}

func (g *group) add(cmds []Command) {
	if g.State() != StateNotStarted {
		panic("command: children added to a started group")
	}
	g.children = append(g.children, cmds...)
}

func (g *group) record(child Command) Outcome {
	v, err := child.Result()
	out := Outcome{Name: child.Name(), Result: v, Err: err}
	if child.Failed() && g.firstErr == nil {
		g.firstErr = fmt.Errorf("%w: %s: %w", ErrChildFailed, child.Name(), err)
	}
	return out
}

// refuse records a child that cannot be started because it already ran.
func (g *group) refuse(child Command) Outcome {
	err := fmt.Errorf("%w: %s", ErrAlreadyStarted, child.Name())
	if g.firstErr == nil {
		g.firstErr = fmt.Errorf("%w: %s: %w", ErrChildFailed, child.Name(), err)
	}
	return Outcome{Name: child.Name(), Err: err}
}

func (g *group) finish(completed bool) {
	if g.firstErr != nil {
		g.Fail(g.firstErr)
		return
	}
	g.Stopped(completed)
}

// watch posts fn to the reactor once child stops.
func (g *group) watch(child Command, fn func()) {
	child.OnStopped(func() { g.r.Post(fn) })
}

// Sequential runs its children one at a time in order.
//
// After a child stops, the group stops too if it is being stopped, or if the
// child failed and continueOnError is false. Otherwise it reports progress
// and starts the next child. The result is the []Outcome of the children
// that ran.
type Sequential struct {
	group
	continueOnError bool
	index           int
}

// NewSequential creates a sequential group.
func NewSequential(r *reactor.Reactor, name string, continueOnError bool, children ...Command) *Sequential {
	g := &Sequential{continueOnError: continueOnError}
	g.r = r
	g.children = children
	g.Base = NewBase(name, Hooks{
		Begin:  g.begin,
		Cancel: g.cancel,
		Result: g.result,
	})
	return g
}

// Add appends children. It panics once the group was started.
func (g *Sequential) Add(children ...Command) {
	g.add(children)
}

// Len returns the number of children.
func (g *Sequential) Len() int {
	return len(g.children)
}

func (g *Sequential) begin() error {
	g.index = 0
	g.startCurrent()
	return nil
}

func (g *Sequential) startCurrent() {
	if g.index >= len(g.children) {
		g.finish(true)
		return
	}
	child := g.children[g.index]
	if child.State() != StateNotStarted {
		g.r.Post(func() { g.advance(child, g.refuse(child), true) })
		return
	}
	g.watch(child, func() { g.childStopped(child) })
	// A synchronous failure stops the child, which lands in childStopped.
	_ = child.Start()
}

func (g *Sequential) childStopped(child Command) {
	g.advance(child, g.record(child), child.Failed())
}

func (g *Sequential) advance(child Command, out Outcome, failed bool) {
	g.outcomes = append(g.outcomes, out)

	if g.State() == StateStopping {
		g.finish(false)
		return
	}
	if failed && !g.continueOnError {
		g.finish(false)
		return
	}

	g.index++
	g.SetProgress(Progress{Current: g.index, Max: len(g.children), Text: child.Name()})
	g.startCurrent()
}

func (g *Sequential) cancel() {
	if g.index < len(g.children) {
		g.children[g.index].Stop()
	}
}

func (g *Sequential) result() any {
	return g.outcomes
}

// Parallel starts all children at once and completes when every child has
// stopped. Stopping the group stops every running child. The result lists
// the outcomes in declaration order.
type Parallel struct {
	group
	done int
}

// NewParallel creates a parallel group.
func NewParallel(r *reactor.Reactor, name string, children ...Command) *Parallel {
	g := &Parallel{}
	g.r = r
	g.children = children
	g.Base = NewBase(name, Hooks{
		Begin:  g.begin,
		Cancel: g.cancel,
		Result: g.result,
	})
	return g
}

// Add appends children. It panics once the group was started.
func (g *Parallel) Add(children ...Command) {
	g.add(children)
}

func (g *Parallel) begin() error {
	g.outcomes = make([]Outcome, len(g.children))
	if len(g.children) == 0 {
		g.finish(true)
		return nil
	}
	var startable []Command
	for i, child := range g.children {
		if child.State() != StateNotStarted {
			g.r.Post(func() { g.settle(i, child, g.refuse(child)) })
			continue
		}
		g.watch(child, func() { g.childStopped(i, child) })
		startable = append(startable, child)
	}
	for _, child := range startable {
		_ = child.Start()
	}
	return nil
}

func (g *Parallel) childStopped(i int, child Command) {
	g.settle(i, child, g.record(child))
}

func (g *Parallel) settle(i int, child Command, out Outcome) {
	g.outcomes[i] = out
	g.done++
	g.SetProgress(Progress{Current: g.done, Max: len(g.children), Text: child.Name()})
	if g.done == len(g.children) {
		g.finish(g.State() != StateStopping)
	}
}

func (g *Parallel) cancel() {
	for _, child := range g.children {
		if child.State() == StateRunning {
			child.Stop()
		}
	}
}

func (g *Parallel) result() any {
	return g.outcomes
}
