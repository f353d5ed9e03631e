package controller

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/internal/mrcsim"
	"github.com/mesycontrol/mrc-go/pkg/connection"
	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/model"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

const testTimeout = 5 * time.Second

func startReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	require.Eventually(t, r.Running, time.Second, time.Millisecond)
	return r
}

func onLoop(t *testing.T, r *reactor.Reactor, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, r.Call(ctx, fn))
}

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	v, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future did not complete")
	return v, err
}

func startSim(t *testing.T) *mrcsim.Server {
	t.Helper()
	s := mrcsim.New(mrcsim.Config{})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// recorder collects controller events; handlers run on the reactor.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// quiet disables the periodic timers unless the test sets them.
func quiet(cfg Config) Config {
	if cfg.ScanbusInterval == 0 {
		cfg.ScanbusInterval = time.Hour
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	return cfg
}

func newController(t *testing.T, r *reactor.Reactor, sim *mrcsim.Server, cfg Config) (*Controller, *recorder) {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = sim.URL(transport.SchemeMC)
	}
	c, err := New(r, quiet(cfg))
	require.NoError(t, err)

	rec := &recorder{}
	onLoop(t, r, func() { c.OnEvent(rec.handle) })
	t.Cleanup(func() {
		_ = r.Call(context.Background(), func() { c.Disconnect() })
	})
	return c, rec
}

// connectAndScan connects and waits for the initial scan of both buses.
func connectAndScan(t *testing.T, r *reactor.Reactor, c *Controller, sim *mrcsim.Server) {
	t.Helper()
	var f *future.Future[bool]
	before := sim.RequestCount(wire.TypeRequestScanbus)
	onLoop(t, r, func() { f = c.Connect(0) })
	ok, err := await(t, f)
	require.NoError(t, err)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		if sim.RequestCount(wire.TypeRequestScanbus) < before+wire.BusCount {
			return false
		}
		return c.Connection().Pending() == 0
	}, testTimeout, 5*time.Millisecond)
	// The pending count drops before the last response callback ran.
	onLoop(t, r, func() {})
}

func scan(t *testing.T, r *reactor.Reactor, c *Controller, bus uint8) {
	t.Helper()
	var f *future.Future[wire.ScanbusResult]
	onLoop(t, r, func() { f = c.Scanbus(bus) })
	_, err := await(t, f)
	require.NoError(t, err)
}

func TestNewRejectsInvalidURL(t *testing.T) {
	r := startReactor(t)
	_, err := New(r, Config{URL: "serial:///dev/ttyUSB0"})
	assert.ErrorIs(t, err, transport.ErrInvalidURL)
}

func TestConnectScansBuses(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 1, 17, true)
	sim.SetDevice(1, 15, 20, false)

	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)

	devices := c.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, model.DeviceKey{Bus: 0, Address: 1}, devices[0].Key)
	assert.EqualValues(t, 17, devices[0].IDC)
	assert.True(t, devices[0].RC)
	assert.Equal(t, model.DeviceKey{Bus: 1, Address: 15}, devices[1].Key)
	assert.False(t, devices[1].RC)
	assert.Len(t, rec.ofType(EventDeviceAdded), 2)

	info := c.MRC()
	assert.Equal(t, "running", info.Status)
	assert.True(t, info.WriteAccess)
	assert.Equal(t, transport.StateConnected, c.State())
	assert.NotEmpty(t, rec.ofType(EventConnected))
	assert.NotEmpty(t, rec.ofType(EventWriteAccessChanged))
}

func TestScanbusReconcile(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 1, 17, true)
	sim.SetDevice(1, 15, 20, false)
	sim.SetParam(0, 1, 4, 99)

	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)

	var rf *future.Future[ReadResult]
	onLoop(t, r, func() { rf = c.ReadParameter(0, 1, 4) })
	_, err := await(t, rf)
	require.NoError(t, err)
	rec.reset()

	// idc change, removal and a new conflicting address.
	sim.SetDevice(0, 1, 18, true)
	sim.RemoveDevice(1, 15)
	sim.SetDevice(0, 2, 5, false)
	sim.SetConflict(0, 2)
	scan(t, r, c, 0)
	scan(t, r, c, 1)

	d, ok := c.Device(0, 1)
	require.True(t, ok)
	assert.EqualValues(t, 18, d.IDC)
	assert.Empty(t, d.Params, "idc change clears cached values")
	require.Len(t, rec.ofType(EventDeviceUpdated), 1)

	_, ok = c.Device(1, 15)
	assert.False(t, ok)
	removed := rec.ofType(EventDeviceRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, model.DeviceKey{Bus: 1, Address: 15}, removed[0].Device.Key)

	d, ok = c.Device(0, 2)
	require.True(t, ok)
	assert.True(t, d.AddressConflict)
	assert.True(t, c.HasAddressConflict())
	conflicts := rec.ofType(EventConflictChanged)
	require.Len(t, conflicts, 1)
	assert.True(t, conflicts[0].Flag)

	// Rescanning an unchanged conflict neither duplicates the record nor
	// emits again.
	scan(t, r, c, 0)
	assert.Len(t, c.Devices(), 2)
	assert.Len(t, rec.ofType(EventConflictChanged), 1)

	sim.SetDevice(0, 2, 5, false)
	scan(t, r, c, 0)
	d, _ = c.Device(0, 2)
	assert.False(t, d.AddressConflict)
	assert.False(t, c.HasAddressConflict())
	conflicts = rec.ofType(EventConflictChanged)
	require.Len(t, conflicts, 2)
	assert.False(t, conflicts[1].Flag)
}

func TestScanbusNotification(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)
	require.Empty(t, c.Devices())

	sim.SetDevice(1, 3, 21, false)
	sim.NotifyScanbus(1)

	require.Eventually(t, func() bool { return len(rec.ofType(EventDeviceAdded)) == 1 }, testTimeout, 5*time.Millisecond)
	_, ok := c.Device(1, 3)
	assert.True(t, ok)
}

func TestParameterCache(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 1, 17, true)
	sim.SetParam(0, 1, 5, 100)

	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)

	read := func() ReadResult {
		var f *future.Future[ReadResult]
		onLoop(t, r, func() { f = c.ReadParameter(0, 1, 5) })
		res, err := await(t, f)
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, ReadResult{Bus: 0, Device: 1, Address: 5, Value: 100}, read())
	changes := rec.ofType(EventParameterChanged)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].OldValue)
	assert.EqualValues(t, 100, changes[0].Value)

	read()
	assert.Len(t, rec.ofType(EventParameterChanged), 1, "unchanged value emits nothing")

	var sf *future.Future[SetResult]
	onLoop(t, r, func() { sf = c.SetParameter(0, 1, 5, 7) })
	set, err := await(t, sf)
	require.NoError(t, err)
	assert.EqualValues(t, 7, set.Value)
	assert.EqualValues(t, 7, set.RequestedValue)
	assert.EqualValues(t, 7, sim.Param(0, 1, 5))

	changes = rec.ofType(EventParameterChanged)
	require.Len(t, changes, 2)
	require.NotNil(t, changes[1].OldValue)
	assert.EqualValues(t, 100, *changes[1].OldValue)

	d, _ := c.Device(0, 1)
	assert.EqualValues(t, 7, d.Params[5])

	onLoop(t, r, func() { sf = c.SetMirror(0, 1, 5, 3) })
	_, err = await(t, sf)
	require.NoError(t, err)
	var mf *future.Future[ReadResult]
	onLoop(t, r, func() { mf = c.ReadMirror(0, 1, 5) })
	m, err := await(t, mf)
	require.NoError(t, err)
	assert.EqualValues(t, 3, m.Value)
	assert.Len(t, rec.ofType(EventMirrorChanged), 1)
	d, _ = c.Device(0, 1)
	assert.EqualValues(t, 3, d.Mirror[5])
	assert.EqualValues(t, 7, d.Params[5])
}

func TestReadAbsentDevice(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)

	var f *future.Future[ReadResult]
	onLoop(t, r, func() { f = c.ReadParameter(1, 9, 0) })
	_, err := await(t, f)
	assert.ErrorIs(t, err, wire.ErrorNoResponse)
	assert.Empty(t, rec.ofType(EventParameterChanged))
}

func TestSetNotificationFromOtherClient(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 1, 17, true)

	writer, _ := newController(t, r, sim, Config{})
	connectAndScan(t, r, writer, sim)
	observer, rec := newController(t, r, sim, Config{URL: sim.URL(transport.SchemeTCP)})
	connectAndScan(t, r, observer, sim)

	var f *future.Future[SetResult]
	onLoop(t, r, func() { f = writer.SetParameter(0, 1, 9, 1234) })
	_, err := await(t, f)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		d, _ := observer.Device(0, 1)
		return d.Params[9] == 1234
	}, testTimeout, 5*time.Millisecond)
	changes := rec.ofType(EventParameterChanged)
	require.Len(t, changes, 1)
	assert.EqualValues(t, 9, changes[0].Address)
}

func TestPollUnion(t *testing.T) {
	r := startReactor(t)
	c, err := New(r, Config{URL: "mc://localhost"})
	require.NoError(t, err)

	onLoop(t, r, func() {
		require.NoError(t, c.AddPollItems("a", PollItem{Bus: 0, Device: 1, From: 1, To: 3}))
		require.NoError(t, c.AddPollItems("b", Param(0, 1, 2), Param(1, 0, 0)))
		assert.Equal(t, []wire.Addr{
			{Bus: 0, Device: 1, Param: 1},
			{Bus: 0, Device: 1, Param: 2},
			{Bus: 0, Device: 1, Param: 3},
			{Bus: 1, Device: 0, Param: 0},
		}, c.PollAddresses())

		c.RemovePollItems("a")
		assert.Equal(t, []wire.Addr{
			{Bus: 0, Device: 1, Param: 2},
			{Bus: 1, Device: 0, Param: 0},
		}, c.PollAddresses())

		assert.ErrorIs(t, c.AddPollItems("c", Param(2, 0, 0)), wire.ErrFieldRange)
		assert.ErrorIs(t, c.AddPollItems("c", PollItem{From: 5, To: 4}), wire.ErrFieldRange)
	})
}

func TestPollSkippedWhileRequestPending(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 1, 17, true)
	sim.SetParam(0, 1, 5, 42)

	c, _ := newController(t, r, sim, Config{PollInterval: 10 * time.Millisecond})
	connectAndScan(t, r, c, sim)
	onLoop(t, r, func() { require.NoError(t, c.AddPollItems("test", Param(0, 1, 5))) })

	require.Eventually(t, func() bool {
		d, _ := c.Device(0, 1)
		return d.Params[5] == 42
	}, testTimeout, 5*time.Millisecond)

	sim.Hold()
	var reset *future.Future[bool]
	onLoop(t, r, func() { reset = c.Reset() })
	require.Eventually(t, func() bool { return sim.Held() > 0 }, testTimeout, time.Millisecond)

	// Ticks keep firing but must not pile up reads behind the held request.
	assert.Never(t, func() bool { return c.Connection().Pending() > 2 }, 150*time.Millisecond, 5*time.Millisecond)

	sim.ClearRequests()
	sim.Release()
	_, err := await(t, reset)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sim.RequestCount(wire.TypeRequestRead) > 0 }, testTimeout, 5*time.Millisecond)
}

func TestPeriodicScanStopsOnDisconnect(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 0, 1, false)

	c, rec := newController(t, r, sim, Config{ScanbusInterval: 10 * time.Millisecond})
	connectAndScan(t, r, c, sim)
	require.Eventually(t, func() bool { return sim.RequestCount(wire.TypeRequestScanbus) >= 6 }, testTimeout, 5*time.Millisecond)

	var f *future.Future[bool]
	onLoop(t, r, func() { f = c.Disconnect() })
	_, _ = await(t, f)
	sim.ClearRequests()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sim.RequestCount(wire.TypeRequestScanbus))
	assert.Len(t, c.Devices(), 1, "device table survives a disconnect")
	disc := rec.ofType(EventDisconnected)
	require.Len(t, disc, 1)
	assert.NoError(t, disc[0].Err)
}

// stallDialer never completes a dial on its own.
type stallDialer struct{}

func (stallDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestConnectTimeout(t *testing.T) {
	r := startReactor(t)
	c, err := New(r, quiet(Config{
		URL:       "mc://192.0.2.1",
		Transport: transport.Config{Dialer: stallDialer{}},
	}))
	require.NoError(t, err)

	var f *future.Future[bool]
	onLoop(t, r, func() { f = c.Connect(30 * time.Millisecond) })
	_, err = await(t, f)
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Eventually(t, func() bool { return c.State() == transport.StateDisconnected }, testTimeout, time.Millisecond)
}

func TestConnectStatusFailure(t *testing.T) {
	r := startReactor(t)
	sim := mrcsim.New(mrcsim.Config{Status: wire.StatusConnectFailed})
	require.NoError(t, sim.Start(context.Background()))
	t.Cleanup(func() { _ = sim.Stop() })

	c, _ := newController(t, r, sim, Config{})
	var f *future.Future[bool]
	onLoop(t, r, func() { f = c.Connect(0) })
	_, err := await(t, f)
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, wire.StatusConnectFailed, se.Status)
}

func TestAutoReconnect(t *testing.T) {
	r := startReactor(t)
	sim := mrcsim.New(mrcsim.Config{})
	require.NoError(t, sim.Start(context.Background()))
	addr := sim.Addr().String()
	sim.SetDevice(0, 4, 9, false)

	c, rec := newController(t, r, sim, Config{
		AutoReconnect: true,
		Backoff:       connection.BackoffConfig{Initial: 20 * time.Millisecond, Max: 40 * time.Millisecond, Jitter: -1},
	})
	connectAndScan(t, r, c, sim)
	require.NoError(t, sim.Stop())

	require.Eventually(t, func() bool { return len(rec.ofType(EventReconnectScheduled)) > 0 }, testTimeout, 5*time.Millisecond)
	lost := rec.ofType(EventDisconnected)
	require.NotEmpty(t, lost)
	assert.Error(t, lost[0].Err)

	revived := mrcsim.New(mrcsim.Config{Address: addr})
	require.NoError(t, revived.Start(context.Background()))
	t.Cleanup(func() { _ = revived.Stop() })

	require.Eventually(t, func() bool {
		return c.State() == transport.StateConnected && revived.RequestCount(wire.TypeRequestScanbus) >= 2
	}, testTimeout, 5*time.Millisecond)
	assert.Len(t, rec.ofType(EventConnected), 2)
}

func TestNoReconnectAfterDisconnect(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	c, rec := newController(t, r, sim, Config{
		AutoReconnect: true,
		Backoff:       connection.BackoffConfig{Initial: 10 * time.Millisecond},
	})
	connectAndScan(t, r, c, sim)

	var f *future.Future[bool]
	onLoop(t, r, func() { f = c.Disconnect() })
	_, _ = await(t, f)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.ofType(EventReconnectScheduled))
	assert.Equal(t, transport.StateDisconnected, c.State())
}

func TestWriteAccessAndSilentMode(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)

	first, firstRec := newController(t, r, sim, Config{})
	connectAndScan(t, r, first, sim)
	second, _ := newController(t, r, sim, Config{URL: sim.URL(transport.SchemeTCP)})
	connectAndScan(t, r, second, sim)

	assert.True(t, first.Model().WriteAccess())
	assert.False(t, second.Model().WriteAccess())

	var f *future.Future[bool]
	onLoop(t, r, func() { f = second.AcquireWriteAccess(false) })
	ok, err := await(t, f)
	require.NoError(t, err)
	assert.False(t, ok)

	onLoop(t, r, func() { f = second.AcquireWriteAccess(true) })
	ok, err = await(t, f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, second.Model().WriteAccess())
	require.Eventually(t, func() bool { return !first.Model().WriteAccess() }, testTimeout, 5*time.Millisecond)

	access := firstRec.ofType(EventWriteAccessChanged)
	require.NotEmpty(t, access)
	assert.False(t, access[len(access)-1].Flag)

	onLoop(t, r, func() { f = second.SetSilentMode(true) })
	ok, err = await(t, f)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, second.Model().Silenced())
	require.Eventually(t, func() bool { return len(firstRec.ofType(EventSilentModeChanged)) == 1 }, testTimeout, 5*time.Millisecond)
	assert.True(t, first.Model().Silenced())

	var sf *future.Future[wire.ScanbusResult]
	onLoop(t, r, func() { sf = second.Scanbus(0) })
	_, err = await(t, sf)
	assert.ErrorIs(t, err, wire.ErrorSilenced)

	onLoop(t, r, func() { f = first.SetSilentMode(false) })
	_, err = await(t, f)
	assert.ErrorIs(t, err, wire.ErrorPermissionDenied)
}

func TestQueryStatus(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	c, rec := newController(t, r, sim, Config{})
	connectAndScan(t, r, c, sim)

	sim.SetStatus(wire.StatusInitializing)
	require.Eventually(t, func() bool { return c.MRC().Status == "initializing" }, testTimeout, 5*time.Millisecond)

	var f *future.Future[wire.MRCStatus]
	onLoop(t, r, func() { f = c.QueryStatus() })
	st, err := await(t, f)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInitializing, st)

	changes := rec.ofType(EventStatusChanged)
	require.NotEmpty(t, changes)
	assert.Equal(t, wire.StatusInitializing, changes[len(changes)-1].Status)
}

func TestHandlerPanicIsContained(t *testing.T) {
	r := startReactor(t)
	sim := startSim(t)
	sim.SetDevice(0, 0, 1, false)
	c, rec := newController(t, r, sim, Config{})
	onLoop(t, r, func() {
		c.OnEvent(func(Event) { panic("boom") })
	})
	connectAndScan(t, r, c, sim)
	assert.Len(t, rec.ofType(EventDeviceAdded), 1)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "PARAMETER_CHANGED", EventParameterChanged.String())
	assert.Equal(t, "UNKNOWN", EventType(99).String())
}
