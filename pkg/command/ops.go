package command

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/controller"
	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// ErrVerifyMismatch fails ApplyParameters when a read-back value differs
// from the value written.
var ErrVerifyMismatch = errors.New("parameter verification failed")

// Controller is the part of *controller.Controller the commands use.
type Controller interface {
	Connect(timeout time.Duration) *future.Future[bool]
	Scanbus(bus uint8) *future.Future[wire.ScanbusResult]
	ReadParameter(bus, dev, addr uint8) *future.Future[controller.ReadResult]
	SetParameter(bus, dev, addr uint8, value int32) *future.Future[controller.SetResult]
	SetRC(bus, dev uint8, on bool) *future.Future[bool]
}

var _ Controller = (*controller.Controller)(nil)

// Connect connects c.
func Connect(r *reactor.Reactor, c Controller, timeout time.Duration) *FutureCommand[bool] {
	return NewFuture(r, "connect", func() *future.Future[bool] {
		return c.Connect(timeout)
	})
}

// Scanbus scans one bus.
func Scanbus(r *reactor.Reactor, c Controller, bus uint8) *FutureCommand[wire.ScanbusResult] {
	return NewFuture(r, fmt.Sprintf("scanbus %d", bus), func() *future.Future[wire.ScanbusResult] {
		return c.Scanbus(bus)
	})
}

// ReadParameter reads one parameter.
func ReadParameter(r *reactor.Reactor, c Controller, bus, dev, addr uint8) *FutureCommand[controller.ReadResult] {
	return NewFuture(r, fmt.Sprintf("read %d:%d:%d", bus, dev, addr), func() *future.Future[controller.ReadResult] {
		return c.ReadParameter(bus, dev, addr)
	})
}

// SetParameter writes one parameter.
func SetParameter(r *reactor.Reactor, c Controller, bus, dev, addr uint8, value int32) *FutureCommand[controller.SetResult] {
	return NewFuture(r, fmt.Sprintf("set %d:%d:%d=%d", bus, dev, addr, value), func() *future.Future[controller.SetResult] {
		return c.SetParameter(bus, dev, addr, value)
	})
}

// SetRC switches remote control of a device.
func SetRC(r *reactor.Reactor, c Controller, bus, dev uint8, on bool) *FutureCommand[bool] {
	return NewFuture(r, fmt.Sprintf("rc %d:%d=%t", bus, dev, on), func() *future.Future[bool] {
		return c.SetRC(bus, dev, on)
	})
}

// ReadRange reads the parameters from..to of a device in order, stopping at
// the first failed read.
func ReadRange(r *reactor.Reactor, c Controller, bus, dev, from, to uint8) *Sequential {
	g := NewSequential(r, fmt.Sprintf("read %d:%d:%d-%d", bus, dev, from, to), false)
	for addr := int(from); addr <= int(to); addr++ {
		g.Add(ReadParameter(r, c, bus, dev, uint8(addr)))
	}
	return g
}

// ApplyParameters writes values to a device in ascending address order and
// reads every parameter back. A read-back that differs from the written
// value fails with ErrVerifyMismatch and stops the sequence.
func ApplyParameters(r *reactor.Reactor, c Controller, bus, dev uint8, values map[uint8]int32) *Sequential {
	g := NewSequential(r, fmt.Sprintf("apply %d:%d", bus, dev), false)
	for _, addr := range slices.Sorted(maps.Keys(values)) {
		want := values[addr]
		g.Add(SetParameter(r, c, bus, dev, addr, want))
		g.Add(verify(r, c, bus, dev, addr, want))
	}
	return g
}

func verify(r *reactor.Reactor, c Controller, bus, dev, addr uint8, want int32) *FutureCommand[controller.ReadResult] {
	name := fmt.Sprintf("verify %d:%d:%d", bus, dev, addr)
	return NewFuture(r, name, func() *future.Future[controller.ReadResult] {
		return future.Then(c.ReadParameter(bus, dev, addr), func(res controller.ReadResult) (controller.ReadResult, error) {
			if res.Value != want {
				return res, fmt.Errorf("%w: %d:%d:%d is %d, want %d",
					ErrVerifyMismatch, bus, dev, addr, res.Value, want)
			}
			return res, nil
		})
	})
}
