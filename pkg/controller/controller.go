// Package controller keeps the device table of one MRC in sync with the
// hardware.
//
// A Controller owns a transport.Connection. Once connected it scans both
// buses, then rescans periodically and polls the parameters its subscribers
// asked for. Responses and notifications update the model.MRC it owns;
// changes are reported as events.
//
// Like the connection, a Controller is driven by a reactor: all methods
// except the read-only accessors must be called on the reactor goroutine.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/connection"
	"github.com/mesycontrol/mrc-go/pkg/future"
	mrclog "github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/metrics"
	"github.com/mesycontrol/mrc-go/pkg/model"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Default intervals.
const (
	DefaultScanbusInterval = 5 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultConnectTimeout  = 10 * time.Second
)

// Controller errors.
var (
	// ErrConnectTimeout rejects a connect that did not complete in time.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrUnexpectedResponse rejects a request answered with the wrong
	// response type.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Config configures a Controller.
type Config struct {
	// URL addresses the MRC, see transport.ParseURL.
	URL string

	// ScanbusInterval is the period of bus rescans (default 5s).
	ScanbusInterval time.Duration

	// PollInterval is the period of parameter polling (default 500ms).
	PollInterval time.Duration

	// ConnectTimeout bounds Connect calls with a zero timeout and every
	// reconnect attempt (default 10s).
	ConnectTimeout time.Duration

	// AutoReconnect redials a connection that was lost unexpectedly.
	AutoReconnect bool

	// Backoff parameterizes reconnect delays.
	Backoff connection.BackoffConfig

	// Transport configures the connection. Its WaitForRunning field is
	// derived from the URL scheme.
	Transport transport.Config

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger

	// Metrics receives controller and connection metrics (optional).
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.ScanbusInterval <= 0 {
		c.ScanbusInterval = DefaultScanbusInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ReadResult is the outcome of a parameter or mirror read.
type ReadResult struct {
	Bus     uint8
	Device  uint8
	Address uint8
	Value   int32
}

// SetResult is the outcome of a parameter or mirror write. Value is what the
// device stored, which may differ from RequestedValue.
type SetResult struct {
	Bus            uint8
	Device         uint8
	Address        uint8
	Value          int32
	RequestedValue int32
}

// Controller manages one MRC.
type Controller struct {
	r        *reactor.Reactor
	cfg      Config
	endpoint transport.Endpoint
	logger   *slog.Logger
	plog     mrclog.Logger
	metrics  *metrics.Metrics

	conn      *transport.Connection
	mrc       *model.MRC
	reconnect *connection.Reconnector

	// Reactor owned.
	wantConnected bool
	connectTimer  *reactor.Timer
	scanTimer     *reactor.Timer
	pollTimer     *reactor.Timer
	conflict      bool
	poll          pollSet
	handlers      []func(Event)
}

// New creates a disconnected controller for cfg.URL.
func New(r *reactor.Reactor, cfg Config) (*Controller, error) {
	ep, err := transport.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	tcfg := cfg.Transport
	tcfg.WaitForRunning = ep.WaitForRunning()
	tcfg.ProtocolLogger = mrclog.WithURL(tcfg.ProtocolLogger, cfg.URL)
	if tcfg.Logger == nil {
		tcfg.Logger = cfg.Logger
	}

	c := &Controller{
		r:        r,
		cfg:      cfg,
		endpoint: ep,
		logger:   cfg.Logger.With("url", cfg.URL),
		plog:     mrclog.OrNoop(tcfg.ProtocolLogger),
		metrics:  cfg.Metrics,
		conn:     transport.NewConnection(r, tcfg),
		mrc:      model.NewMRC(cfg.URL),
		poll:     newPollSet(),
	}
	c.reconnect = connection.NewReconnector(r, c.reconnectAttempt, connection.Config{
		Backoff:     cfg.Backoff,
		Logger:      c.logger,
		OnScheduled: c.onReconnectScheduled,
	})
	c.conn.OnEvent(c.onConnectionEvent)
	return c, nil
}

// URL returns the URL the controller was created with.
func (c *Controller) URL() string {
	return c.cfg.URL
}

// State returns the connection state. Safe from any goroutine.
func (c *Controller) State() transport.ConnectionState {
	return c.conn.State()
}

// Connection returns the underlying connection.
func (c *Controller) Connection() *transport.Connection {
	return c.conn
}

// Model returns the live MRC record. Its accessors are safe from any
// goroutine; it must not be modified by callers.
func (c *Controller) Model() *model.MRC {
	return c.mrc
}

// MRC returns a snapshot of the MRC and its devices. Safe from any goroutine.
func (c *Controller) MRC() model.MRCInfo {
	return c.mrc.Snapshot()
}

// Devices returns snapshots of all known devices. Safe from any goroutine.
func (c *Controller) Devices() []model.DeviceInfo {
	devices := c.mrc.Devices()
	out := make([]model.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// Device returns a snapshot of one device. Safe from any goroutine.
func (c *Controller) Device(bus, address uint8) (model.DeviceInfo, bool) {
	d, ok := c.mrc.Device(model.DeviceKey{Bus: bus, Address: address})
	if !ok {
		return model.DeviceInfo{}, false
	}
	return d.Snapshot(), true
}

// HasAddressConflict reports whether any device has an address conflict.
// Safe from any goroutine.
func (c *Controller) HasAddressConflict() bool {
	return c.mrc.HasAddressConflict()
}

// OnEvent registers a handler. Handlers run on the reactor goroutine.
func (c *Controller) OnEvent(fn func(Event)) {
	c.handlers = append(c.handlers, fn)
}

// Connect connects to the MRC. If the connection is not established within
// timeout (ConnectTimeout if zero), the returned future is rejected with
// ErrConnectTimeout and the attempt is aborted.
func (c *Controller) Connect(timeout time.Duration) *future.Future[bool] {
	c.wantConnected = true
	c.reconnect.Cancel()
	return c.dial(timeout)
}

// Disconnect closes the connection and stops any reconnect sequence.
func (c *Controller) Disconnect() *future.Future[bool] {
	c.wantConnected = false
	c.reconnect.Cancel()
	c.stopConnectTimer()
	return c.conn.Disconnect()
}

func (c *Controller) dial(timeout time.Duration) *future.Future[bool] {
	if timeout <= 0 {
		timeout = c.cfg.ConnectTimeout
	}
	c.stopConnectTimer()

	inner := c.conn.Connect(c.endpoint.Host, c.endpoint.Port)
	out := future.New[bool]()

	timer := c.r.AfterFunc(timeout, func() {
		if inner.Done() {
			return
		}
		c.logger.Warn("connect timed out", "timeout", timeout)
		err := fmt.Errorf("%w after %v", ErrConnectTimeout, timeout)
		c.metrics.ConnectResult(c.cfg.URL, err)
		_ = out.SetError(err)
		c.conn.Disconnect()
	})
	c.connectTimer = timer

	inner.AddDoneCallback(func(f *future.Future[bool]) {
		timer.Stop()
		if c.connectTimer == timer {
			c.connectTimer = nil
		}
		v, err := f.Result()
		if out.Done() {
			return
		}
		c.metrics.ConnectResult(c.cfg.URL, err)
		if err != nil {
			_ = out.SetError(err)
			return
		}
		_ = out.SetResult(v)
	})
	return out
}

func (c *Controller) stopConnectTimer() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Controller) reconnectAttempt() *future.Future[bool] {
	return c.dial(c.cfg.ConnectTimeout)
}

func (c *Controller) onReconnectScheduled(attempt int, delay time.Duration) {
	c.metrics.ReconnectScheduled(c.cfg.URL)
	c.emit(Event{Type: EventReconnectScheduled, Attempt: attempt, Delay: delay})
}

func (c *Controller) onConnectionEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventStateChanged:
		c.metrics.ConnectionState(c.cfg.URL, int(ev.State))
		c.onStateChanged(ev)
	case transport.EventError:
		c.metrics.Error(c.cfg.URL, errorKind(ev.Err))
		c.emit(Event{Type: EventError, Err: ev.Err})
	case transport.EventMessageReceived:
		if wire.IsNotification(ev.Message) {
			c.handleNotification(ev.Message)
		}
		c.emit(Event{Type: EventMessageReceived, Message: ev.Message})
	case transport.EventRequestSent, transport.EventQueueEmpty:
		c.metrics.Pending(c.cfg.URL, c.conn.Pending())
	}
}

func (c *Controller) onStateChanged(ev transport.Event) {
	switch ev.State {
	case transport.StateConnecting:
		c.emit(Event{Type: EventConnecting})

	case transport.StateConnected:
		c.logger.Info("connected")
		c.reconnect.Connected()
		c.emit(Event{Type: EventConnected})
		c.startTimers()

	case transport.StateDisconnected:
		c.stopTimers()
		c.metrics.Pending(c.cfg.URL, 0)
		if ev.Err != nil {
			c.logger.Warn("connection lost", "error", ev.Err)
		} else {
			c.logger.Info("disconnected")
		}
		c.emit(Event{Type: EventDisconnected, Err: ev.Err})

		lost := ev.OldState == transport.StateConnected && ev.Err != nil
		if lost && c.wantConnected && c.cfg.AutoReconnect {
			c.reconnect.ConnectionLost()
		}
	}
}

func (c *Controller) startTimers() {
	c.scanAll()
	c.scanTimer = c.r.Every(c.cfg.ScanbusInterval, c.scanAll)
	c.pollTimer = c.r.Every(c.cfg.PollInterval, c.pollTick)
}

func (c *Controller) stopTimers() {
	if c.scanTimer != nil {
		c.scanTimer.Stop()
		c.scanTimer = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *Controller) scanAll() {
	for bus := range uint8(wire.BusCount) {
		observe(c.logger, "scanbus", c.Scanbus(bus))
	}
}

// request queues msg and records metrics for it.
func (c *Controller) request(msg wire.Message) *future.Future[wire.Message] {
	start := time.Now()
	f := c.conn.QueueRequest(msg)
	c.metrics.Pending(c.cfg.URL, c.conn.Pending())
	if c.metrics != nil {
		name := msg.Type().Name()
		f.AddDoneCallback(func(f *future.Future[wire.Message]) {
			c.metrics.RequestDone(c.cfg.URL, name, time.Since(start), f.Peek())
		})
	}
	return f
}

// Scanbus scans one bus and reconciles the device table with the result.
func (c *Controller) Scanbus(bus uint8) *future.Future[wire.ScanbusResult] {
	return future.Then(c.request(&wire.ScanbusRequest{Bus: bus}),
		func(msg wire.Message) (wire.ScanbusResult, error) {
			resp, ok := msg.(*wire.ScanbusResponse)
			if !ok {
				return wire.ScanbusResult{}, unexpected(msg)
			}
			c.reconcile(resp.ScanbusResult)
			return resp.ScanbusResult, nil
		})
}

// reconcile applies one bus scan to the device table.
func (c *Controller) reconcile(res wire.ScanbusResult) {
	for i, entry := range res.Entries {
		key := model.DeviceKey{Bus: res.Bus, Address: uint8(i)}
		d, exists := c.mrc.Device(key)

		switch {
		case !entry.Present():
			if exists {
				c.removeDevice(key)
			}

		case !entry.Conflict():
			if !exists {
				c.addDevice(model.NewDevice(key, entry.IDC, entry.RCOn()))
				continue
			}
			changed := d.SetIDC(entry.IDC)
			changed = d.SetRC(entry.RCOn()) || changed
			changed = d.SetAddressConflict(false) || changed
			if changed {
				c.emitDevice(EventDeviceUpdated, d)
			}

		default:
			if !exists {
				d = model.NewDevice(key, entry.IDC, false)
				d.SetAddressConflict(true)
				c.addDevice(d)
				continue
			}
			if d.SetAddressConflict(true) {
				c.emitDevice(EventDeviceUpdated, d)
			}
		}
	}

	c.metrics.Devices(c.cfg.URL, res.Bus, len(c.mrc.DevicesOnBus(res.Bus)))
	if conflict := c.mrc.HasAddressConflict(); conflict != c.conflict {
		c.conflict = conflict
		c.metrics.AddressConflict(c.cfg.URL, conflict)
		c.emit(Event{Type: EventConflictChanged, Flag: conflict})
	}
}

func (c *Controller) addDevice(d *model.Device) {
	if err := c.mrc.AddDevice(d); err != nil {
		c.logger.Error("add device", "device", d.Key(), "error", err)
		return
	}
	c.logger.Debug("device added", "device", d.Key(), "idc", d.IDC())
	c.logState(mrclog.StateEntityDevice, "", fmt.Sprintf("%s idc=%d", d.Key(), d.IDC()), "scanbus")
	c.emitDevice(EventDeviceAdded, d)
}

func (c *Controller) removeDevice(key model.DeviceKey) {
	d, err := c.mrc.RemoveDevice(key)
	if err != nil {
		return
	}
	c.logger.Debug("device removed", "device", key)
	c.logState(mrclog.StateEntityDevice, fmt.Sprintf("%s idc=%d", key, d.IDC()), "", "scanbus")
	c.emitDevice(EventDeviceRemoved, d)
}

// ReadParameter reads a parameter and updates the device's cache.
func (c *Controller) ReadParameter(bus, dev, addr uint8) *future.Future[ReadResult] {
	req := &wire.ReadRequest{Addr: wire.Addr{Bus: bus, Device: dev, Param: addr}}
	return future.Then(c.request(req), func(msg wire.Message) (ReadResult, error) {
		resp, ok := msg.(*wire.ReadResponse)
		if !ok {
			return ReadResult{}, unexpected(msg)
		}
		c.updateParam(resp.Addr, resp.Value, false)
		return readResult(resp.Addr, resp.Value), nil
	})
}

// SetParameter writes a parameter and updates the device's cache with the
// value the device reports back.
func (c *Controller) SetParameter(bus, dev, addr uint8, value int32) *future.Future[SetResult] {
	req := &wire.SetRequest{Addr: wire.Addr{Bus: bus, Device: dev, Param: addr}, Value: value}
	return future.Then(c.request(req), func(msg wire.Message) (SetResult, error) {
		resp, ok := msg.(*wire.SetResponse)
		if !ok {
			return SetResult{}, unexpected(msg)
		}
		c.updateParam(resp.Addr, resp.Value, false)
		return setResult(resp.Addr, resp.Value, value), nil
	})
}

// ReadMirror reads a mirror parameter.
func (c *Controller) ReadMirror(bus, dev, addr uint8) *future.Future[ReadResult] {
	req := &wire.ReadMirrorRequest{Addr: wire.Addr{Bus: bus, Device: dev, Param: addr}}
	return future.Then(c.request(req), func(msg wire.Message) (ReadResult, error) {
		resp, ok := msg.(*wire.ReadMirrorResponse)
		if !ok {
			return ReadResult{}, unexpected(msg)
		}
		c.updateParam(resp.Addr, resp.Value, true)
		return readResult(resp.Addr, resp.Value), nil
	})
}

// SetMirror writes a mirror parameter.
func (c *Controller) SetMirror(bus, dev, addr uint8, value int32) *future.Future[SetResult] {
	req := &wire.SetMirrorRequest{Addr: wire.Addr{Bus: bus, Device: dev, Param: addr}, Value: value}
	return future.Then(c.request(req), func(msg wire.Message) (SetResult, error) {
		resp, ok := msg.(*wire.SetMirrorResponse)
		if !ok {
			return SetResult{}, unexpected(msg)
		}
		c.updateParam(resp.Addr, resp.Value, true)
		return setResult(resp.Addr, resp.Value, value), nil
	})
}

func readResult(a wire.Addr, v int32) ReadResult {
	return ReadResult{Bus: a.Bus, Device: a.Device, Address: a.Param, Value: v}
}

func setResult(a wire.Addr, v, requested int32) SetResult {
	return SetResult{Bus: a.Bus, Device: a.Device, Address: a.Param, Value: v, RequestedValue: requested}
}

// updateParam stores a value in the cache of a known device. Values for
// devices not in the table are dropped.
func (c *Controller) updateParam(a wire.Addr, value int32, mirror bool) {
	d, ok := c.mrc.Device(model.DeviceKey{Bus: a.Bus, Address: a.Device})
	if !ok {
		return
	}

	get, put, typ := d.Param, d.UpdateParam, EventParameterChanged
	if mirror {
		get, put, typ = d.Mirror, d.UpdateMirror, EventMirrorChanged
	}

	var old *int32
	if v, ok := get(a.Param); ok {
		old = &v
	}
	if !put(a.Param, value) {
		return
	}
	info := d.Snapshot()
	c.emit(Event{Type: typ, Device: &info, Address: a.Param, Value: value, OldValue: old})
}

// SetRC switches remote control of a device on or off.
func (c *Controller) SetRC(bus, dev uint8, on bool) *future.Future[bool] {
	var req wire.Message = &wire.RCOffRequest{Bus: bus, Device: dev}
	if on {
		req = &wire.RCOnRequest{Bus: bus, Device: dev}
	}
	return c.boolRequest(req, func(bool) {
		d, ok := c.mrc.Device(model.DeviceKey{Bus: bus, Address: dev})
		if ok && d.SetRC(on) {
			c.emitDevice(EventDeviceUpdated, d)
		}
	})
}

// AcquireWriteAccess requests write access. With force, access is taken
// from another client.
func (c *Controller) AcquireWriteAccess(force bool) *future.Future[bool] {
	var req wire.Message = &wire.AcquireWriteAccessRequest{}
	if force {
		req = &wire.ForceWriteAccessRequest{}
	}
	return c.boolRequest(req, func(ok bool) {
		if ok {
			c.setWriteAccess(true)
		}
	})
}

// ReleaseWriteAccess gives up write access.
func (c *Controller) ReleaseWriteAccess() *future.Future[bool] {
	return c.boolRequest(&wire.ReleaseWriteAccessRequest{}, func(ok bool) {
		if ok {
			c.setWriteAccess(false)
		}
	})
}

// HasWriteAccess asks the server whether this client holds write access.
func (c *Controller) HasWriteAccess() *future.Future[bool] {
	return c.boolRequest(&wire.HasWriteAccessRequest{}, c.setWriteAccess)
}

// SetSilentMode enables or disables silent mode.
func (c *Controller) SetSilentMode(silent bool) *future.Future[bool] {
	return c.boolRequest(&wire.SetSilentModeRequest{Silent: silent}, func(ok bool) {
		if ok {
			c.setSilenced(silent)
		}
	})
}

// InSilentMode asks the server whether silent mode is active.
func (c *Controller) InSilentMode() *future.Future[bool] {
	return c.boolRequest(&wire.InSilentModeRequest{}, c.setSilenced)
}

// Reset resets the MRC.
func (c *Controller) Reset() *future.Future[bool] {
	return c.boolRequest(&wire.ResetRequest{}, nil)
}

// Copy copies the MRC's RAM to its EEPROM.
func (c *Controller) Copy() *future.Future[bool] {
	return c.boolRequest(&wire.CopyRequest{}, nil)
}

// QueryStatus asks the server for the MRC status.
func (c *Controller) QueryStatus() *future.Future[wire.MRCStatus] {
	return future.Then(c.request(&wire.MRCStatusRequest{}), func(msg wire.Message) (wire.MRCStatus, error) {
		resp, ok := msg.(*wire.MRCStatusResponse)
		if !ok {
			return 0, unexpected(msg)
		}
		c.setStatus(resp.Status)
		return resp.Status, nil
	})
}

func (c *Controller) boolRequest(req wire.Message, apply func(bool)) *future.Future[bool] {
	return future.Then(c.request(req), func(msg wire.Message) (bool, error) {
		resp, ok := msg.(*wire.BoolResponse)
		if !ok {
			return false, unexpected(msg)
		}
		if apply != nil {
			apply(resp.Value)
		}
		return resp.Value, nil
	})
}

func (c *Controller) handleNotification(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.ScanbusNotification:
		c.reconcile(m.ScanbusResult)
	case *wire.SetNotification:
		c.updateParam(m.Addr, m.Value, false)
	case *wire.WriteAccessNotification:
		c.setWriteAccess(m.HasAccess)
	case *wire.SilentModeNotification:
		c.setSilenced(m.Silent)
	case *wire.MRCStatusNotification:
		c.setStatus(m.Status)
	}
}

func (c *Controller) setWriteAccess(v bool) {
	if c.mrc.SetWriteAccess(v) {
		c.emit(Event{Type: EventWriteAccessChanged, Flag: v})
	}
}

func (c *Controller) setSilenced(v bool) {
	if c.mrc.SetSilenced(v) {
		c.emit(Event{Type: EventSilentModeChanged, Flag: v})
	}
}

func (c *Controller) setStatus(s wire.MRCStatus) {
	old := c.mrc.Status()
	if c.mrc.SetStatus(s) {
		c.logger.Info("mrc status changed", "status", s)
		c.logState(mrclog.StateEntityMRC, old.String(), s.String(), "")
		c.emit(Event{Type: EventStatusChanged, Status: s})
	}
}

// logState records a controller layer state change in the protocol log.
func (c *Controller) logState(entity mrclog.StateEntity, from, to, reason string) {
	c.plog.Log(mrclog.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ID(),
		Layer:        mrclog.LayerController,
		Category:     mrclog.CategoryState,
		StateChange:  &mrclog.StateChangeEvent{Entity: entity, OldState: from, NewState: to, Reason: reason},
	})
}

func (c *Controller) emitDevice(t EventType, d *model.Device) {
	info := d.Snapshot()
	c.emit(Event{Type: t, Device: &info})
}

func (c *Controller) emit(ev Event) {
	ev.URL = c.cfg.URL
	for _, h := range c.handlers {
		c.callHandler(h, ev)
	}
}

func (c *Controller) callHandler(h func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic in controller event handler", "event", ev.Type, "panic", rec)
		}
	}()
	h(ev)
}

func unexpected(msg wire.Message) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedResponse, msg.Type().Name())
}

func errorKind(err error) string {
	var se *transport.SocketError
	var st *transport.StatusError
	switch {
	case errors.As(err, &se):
		return "socket"
	case errors.As(err, &st):
		return "status"
	default:
		return "protocol"
	}
}

// observe consumes the outcome of a future nobody else waits for.
func observe[T any](logger *slog.Logger, op string, f *future.Future[T]) {
	f.AddDoneCallback(func(f *future.Future[T]) {
		if err := f.Err(); err != nil {
			logger.Debug("background request failed", "op", op, "error", err)
		}
	})
}
