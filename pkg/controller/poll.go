package controller

import (
	"fmt"
	"maps"
	"slices"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// PollItem selects the parameters From..To (inclusive) of one device.
type PollItem struct {
	Bus    uint8
	Device uint8
	From   uint8
	To     uint8
}

// Param returns an item for a single parameter.
func Param(bus, dev, addr uint8) PollItem {
	return PollItem{Bus: bus, Device: dev, From: addr, To: addr}
}

// Validate checks address ranges.
func (p PollItem) Validate() error {
	if p.Bus >= wire.BusCount || p.Device >= wire.DevicesPerBus {
		return fmt.Errorf("%w: bus %d, device %d", wire.ErrFieldRange, p.Bus, p.Device)
	}
	if p.From > p.To {
		return fmt.Errorf("%w: parameter range %d..%d", wire.ErrFieldRange, p.From, p.To)
	}
	return nil
}

// pollSet holds the poll items of every subscriber.
type pollSet struct {
	bySubscriber map[string][]PollItem
}

func newPollSet() pollSet {
	return pollSet{bySubscriber: make(map[string][]PollItem)}
}

// addresses returns the union of all subscribers' parameters, ordered.
func (s pollSet) addresses() []wire.Addr {
	seen := make(map[wire.Addr]struct{})
	for _, items := range s.bySubscriber {
		for _, it := range items {
			for p := int(it.From); p <= int(it.To); p++ {
				seen[wire.Addr{Bus: it.Bus, Device: it.Device, Param: uint8(p)}] = struct{}{}
			}
		}
	}
	return slices.SortedFunc(maps.Keys(seen), compareAddr)
}

func compareAddr(a, b wire.Addr) int {
	if a.Bus != b.Bus {
		return int(a.Bus) - int(b.Bus)
	}
	if a.Device != b.Device {
		return int(a.Device) - int(b.Device)
	}
	return int(a.Param) - int(b.Param)
}

// AddPollItems adds items to the set polled on behalf of subscriber.
func (c *Controller) AddPollItems(subscriber string, items ...PollItem) error {
	for _, it := range items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	c.poll.bySubscriber[subscriber] = append(c.poll.bySubscriber[subscriber], items...)
	return nil
}

// RemovePollItems drops every item of subscriber.
func (c *Controller) RemovePollItems(subscriber string) {
	delete(c.poll.bySubscriber, subscriber)
}

// PollAddresses returns the parameters read on every poll tick.
func (c *Controller) PollAddresses() []wire.Addr {
	return c.poll.addresses()
}

// pollTick reads every polled parameter once, unless requests are pending:
// polling never competes with traffic issued by callers.
func (c *Controller) pollTick() {
	if c.conn.Pending() > 0 {
		c.metrics.PollTick(c.cfg.URL, 0, true)
		return
	}
	addrs := c.poll.addresses()
	for _, a := range addrs {
		observe(c.logger, "poll", c.ReadParameter(a.Bus, a.Device, a.Param))
	}
	c.metrics.PollTick(c.cfg.URL, len(addrs), false)
}
