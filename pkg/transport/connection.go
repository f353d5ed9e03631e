package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

const (
	// StateDisconnected indicates no connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates a dial in progress, or with WaitForRunning,
	// an open socket waiting for the server to report a running MRC.
	StateConnecting

	// StateConnected indicates requests are being transmitted.
	StateConnected
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// DefaultPort is the TCP port of an MRC server.
const DefaultPort = 23000

// Dialer opens the byte stream. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// StatusError rejects a WaitForRunning connect when the server reports that
// it could not reach or initialize the MRC.
type StatusError struct {
	Status wire.MRCStatus
}

func (e *StatusError) Error() string {
	return "mrc status " + e.Status.String()
}

// Config configures a Connection.
type Config struct {
	// Dialer opens the socket (default: net.Dialer with 10s timeout).
	Dialer Dialer

	// MaxMessageSize is the maximum accepted payload size (default: 65535).
	MaxMessageSize int

	// WriteTimeout bounds a single frame write (0 = no timeout).
	WriteTimeout time.Duration

	// WaitForRunning keeps the connection in StateConnecting until the
	// server sends an MRC status of running.
	WaitForRunning bool

	// ProtocolLogger receives frame, message, state and error events.
	ProtocolLogger log.Logger

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger
}

// EventType identifies a connection event.
type EventType int

const (
	// EventStateChanged is raised on every state transition.
	EventStateChanged EventType = iota

	// EventError is raised on socket failures and dropped frames.
	EventError

	// EventMessageReceived is raised for every decoded incoming message.
	EventMessageReceived

	// EventRequestSent is raised once a request was completely written.
	EventRequestSent

	// EventQueueEmpty is raised when the last queued request was answered.
	EventQueueEmpty
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "STATE_CHANGED"
	case EventError:
		return "ERROR"
	case EventMessageReceived:
		return "MESSAGE_RECEIVED"
	case EventRequestSent:
		return "REQUEST_SENT"
	case EventQueueEmpty:
		return "QUEUE_EMPTY"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Type EventType

	// OldState and State are set for EventStateChanged.
	OldState ConnectionState
	State    ConnectionState

	// Err is set for EventError, and for EventStateChanged to disconnected
	// when the connection was lost rather than closed on request.
	Err error

	// Message is the received message or the sent request.
	Message wire.Message
}

type queuedRequest struct {
	msg    wire.Message
	data   []byte
	fut    *future.Future[wire.Message]
	sent   bool
	sentAt time.Time
}

// Connection owns one socket to an MRC server and a FIFO queue of requests,
// of which at most one is in flight at any time.
//
// Connection is driven by a reactor. All methods except State, Pending, ID
// and RemoteAddr must be called on the reactor goroutine; events and future
// completions are delivered there as well.
type Connection struct {
	r      *reactor.Reactor
	config Config
	logger *slog.Logger
	plog   log.Logger

	// Reactor owned.
	state      ConnectionState
	gen        uint64
	conn       net.Conn
	writer     *FrameWriter
	dialCancel context.CancelFunc
	connectFut *future.Future[bool]
	queue      []*queuedRequest
	inFlight   *queuedRequest
	handlers   []func(Event)

	// Mirrors for readers on other goroutines.
	stateMirror atomic.Int32
	pending     atomic.Int32
	mu          sync.RWMutex
	id          string
	remoteAddr  string
}

// NewConnection creates a disconnected connection driven by r.
func NewConnection(r *reactor.Reactor, config Config) *Connection {
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	config.MaxMessageSize = clampFrameSize(config.MaxMessageSize)
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		r:      r,
		config: config,
		logger: logger,
		plog:   log.OrNoop(config.ProtocolLogger),
		id:     uuid.New().String(),
	}
}

// OnEvent registers a handler. Handlers run on the reactor goroutine in
// registration order; a panicking handler is logged and skipped.
func (c *Connection) OnEvent(fn func(Event)) {
	c.handlers = append(c.handlers, fn)
}

// State returns the current state. Safe from any goroutine.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.stateMirror.Load())
}

// Pending returns the number of queued and in-flight requests.
// Safe from any goroutine.
func (c *Connection) Pending() int {
	return int(c.pending.Load())
}

// ID returns the connection ID stamped on protocol events. A new ID is
// assigned on every Connect.
func (c *Connection) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// RemoteAddr returns the address of the last connect attempt.
func (c *Connection) RemoteAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remoteAddr
}

// Connect opens a socket to host:port. A connection that is already
// connecting or connected is disconnected first, so there is never more
// than one attempt in progress.
//
// The returned future is fulfilled once the connection is usable and
// rejected with a *SocketError if the dial fails, a *StatusError if the
// server reports a failed MRC, or ErrConnectAborted if superseded.
func (c *Connection) Connect(host string, port int) *future.Future[bool] {
	if c.state != StateDisconnected {
		c.logger.Debug("reconnect requested, closing current connection",
			"conn_id", c.ID(), "state", c.state)
		c.close(ErrDisconnected, nil)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.mu.Lock()
	c.id = uuid.New().String()
	c.remoteAddr = addr
	c.mu.Unlock()

	c.gen++
	gen := c.gen
	fut := future.New[bool]()
	c.connectFut = fut
	c.setState(StateConnecting, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	dialer := c.config.Dialer
	go func() {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		c.r.Post(func() { c.onDialed(gen, conn, err) })
	}()

	return fut
}

// Disconnect closes the socket. Queued and in-flight requests are rejected
// with ErrDisconnected and a pending connect with ErrConnectAborted.
// Disconnecting a disconnected connection succeeds immediately.
func (c *Connection) Disconnect() *future.Future[bool] {
	if c.state != StateDisconnected {
		c.close(ErrDisconnected, nil)
	}
	return future.Resolved(true)
}

// QueueRequest appends msg to the request queue and returns a future for
// its response. A response_error answer rejects the future with a
// *wire.ServerError.
//
// Requests may be queued while connecting; they are transmitted once the
// connection is established.
func (c *Connection) QueueRequest(msg wire.Message) *future.Future[wire.Message] {
	if !wire.IsRequest(msg) {
		return future.Rejected[wire.Message](fmt.Errorf("%w: %v", ErrNotRequest, typeOf(msg)))
	}
	if c.state == StateDisconnected {
		return future.Rejected[wire.Message](ErrNotConnected)
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return future.Rejected[wire.Message](err)
	}

	req := &queuedRequest{msg: msg, data: data, fut: future.New[wire.Message]()}
	c.queue = append(c.queue, req)
	c.updatePending()
	c.transmitNext()
	return req.fut
}

// CancelRequest removes a request that has not been transmitted yet and
// rejects its future with a request_canceled server error. It returns false
// if the request is in flight, already answered or unknown.
func (c *Connection) CancelRequest(f *future.Future[wire.Message]) bool {
	for i, req := range c.queue {
		if req.fut != f {
			continue
		}
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		c.updatePending()
		err := wire.NewServerError(wire.ErrorRequestCanceled, req.msg.Type())
		_ = req.fut.SetError(err)
		if c.inFlight == nil && len(c.queue) == 0 {
			c.emit(Event{Type: EventQueueEmpty})
		}
		return true
	}
	return false
}

func (c *Connection) onDialed(gen uint64, conn net.Conn, err error) {
	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		c.fail("connect", err)
		return
	}

	c.conn = conn
	c.writer = NewFrameWriterWithMaxSize(conn, c.config.MaxMessageSize)
	c.writer.SetLogger(c.config.ProtocolLogger, c.ID())
	reader := NewFrameReaderWithMaxSize(conn, c.config.MaxMessageSize)
	reader.SetLogger(c.config.ProtocolLogger, c.ID())
	go c.readLoop(gen, reader)

	c.logger.Debug("socket connected", "conn_id", c.ID(), "remote", c.RemoteAddr())
	if !c.config.WaitForRunning {
		c.becomeConnected()
	}
}

func (c *Connection) becomeConnected() {
	c.setState(StateConnected, nil)
	if fut := c.connectFut; fut != nil {
		c.connectFut = nil
		_ = fut.SetResult(true)
	}
	c.transmitNext()
}

// transmitNext starts writing the head of the queue if nothing is in flight.
func (c *Connection) transmitNext() {
	if c.state != StateConnected || c.inFlight != nil || len(c.queue) == 0 {
		return
	}
	req := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.inFlight = req

	gen, conn, writer := c.gen, c.conn, c.writer
	timeout := c.config.WriteTimeout
	c.logMessage(req.msg, log.DirectionOut, nil)

	go func() {
		if timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		err := writer.WriteFrame(req.data)
		c.r.Post(func() { c.onWritten(gen, req, err) })
	}()
}

func (c *Connection) onWritten(gen uint64, req *queuedRequest, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.fail("write", err)
		return
	}
	c.markSent(req)
}

func (c *Connection) markSent(req *queuedRequest) {
	if req.sent {
		return
	}
	req.sent = true
	req.sentAt = time.Now()
	c.emit(Event{Type: EventRequestSent, Message: req.msg})
}

// readLoop runs on its own goroutine. bufio keeps already received bytes, so
// frames that arrived together are decoded back to back without waiting for
// the socket again.
func (c *Connection) readLoop(gen uint64, reader *FrameReader) {
	for {
		data, err := reader.ReadFrame()
		if err != nil {
			if IsFrameError(err) {
				c.r.Post(func() { c.onBadFrame(gen, err) })
				continue
			}
			c.r.Post(func() { c.onReadError(gen, err) })
			return
		}
		msg, err := wire.Decode(data)
		c.r.Post(func() { c.onFrame(gen, msg, err) })
	}
}

func (c *Connection) onBadFrame(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.protocolError(err)
}

func (c *Connection) onReadError(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.fail("read", err)
}

func (c *Connection) onFrame(gen uint64, msg wire.Message, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.protocolError(err)
		return
	}

	if msg.Type().IsResponse() {
		c.handleResponse(msg)
	} else {
		c.logMessage(msg, log.DirectionIn, nil)
		c.handleStatus(msg)
	}
	c.emit(Event{Type: EventMessageReceived, Message: msg})
}

func (c *Connection) handleResponse(msg wire.Message) {
	req := c.inFlight
	if req == nil {
		c.logMessage(msg, log.DirectionIn, nil)
		c.logger.Warn("response without request in flight, dropped",
			"conn_id", c.ID(), "type", msg.Type())
		return
	}

	// The reader may post the response before the writer posted completion.
	c.markSent(req)
	rtt := time.Since(req.sentAt)
	c.logMessage(msg, log.DirectionIn, &rtt)

	c.inFlight = nil
	c.updatePending()

	if er, ok := msg.(*wire.ErrorResponse); ok {
		_ = req.fut.SetError(wire.NewServerError(er.Code, req.msg.Type()))
	} else {
		if want, ok := req.msg.Type().ExpectedResponse(); ok && want != msg.Type() {
			c.logger.Warn("unexpected response type",
				"conn_id", c.ID(), "request", req.msg.Type(), "response", msg.Type())
		}
		_ = req.fut.SetResult(msg)
	}

	if c.inFlight == nil && len(c.queue) == 0 {
		c.emit(Event{Type: EventQueueEmpty})
		return
	}
	c.transmitNext()
}

// handleStatus completes a WaitForRunning connect.
func (c *Connection) handleStatus(msg wire.Message) {
	if c.state != StateConnecting || !c.config.WaitForRunning {
		return
	}
	var status wire.MRCStatus
	switch m := msg.(type) {
	case *wire.MRCStatusNotification:
		status = m.Status
	default:
		return
	}

	switch {
	case status == wire.StatusRunning:
		c.becomeConnected()
	case status.IsFailure():
		err := &StatusError{Status: status}
		c.emit(Event{Type: EventError, Err: err})
		c.close(ErrDisconnected, err)
	}
}

func (c *Connection) protocolError(err error) {
	c.logger.Warn("dropping malformed frame", "conn_id", c.ID(), "error", err)
	ev := &log.ErrorEventData{Layer: log.LayerWire, Message: err.Error(), Context: "decode"}
	var de *wire.DecodeError
	if errors.As(err, &de) {
		code := int(de.Code)
		ev.Code = &code
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ID(),
		RemoteAddr:   c.RemoteAddr(),
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		Error:        ev,
	})
	c.emit(Event{Type: EventError, Err: err})
}

// fail handles a socket failure: error event, then disconnect.
func (c *Connection) fail(op string, err error) {
	se := newSocketError(op, err)
	c.logger.Warn("socket error", "conn_id", c.ID(), "op", op, "error", se)
	code := se.Code()
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ID(),
		RemoteAddr:   c.RemoteAddr(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: se.Error(), Code: &code, Context: op},
	})
	c.emit(Event{Type: EventError, Err: se})
	c.close(se, se)
}

// close tears the connection down. reqErr rejects queued and in-flight
// requests; cause, if non-nil, rejects a pending connect and is reported
// with the state change.
func (c *Connection) close(reqErr error, cause error) {
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close socket", "conn_id", c.ID(), "error", err)
		}
		c.conn = nil
		c.writer = nil
	}

	var rejected []*queuedRequest
	if c.inFlight != nil {
		rejected = append(rejected, c.inFlight)
		c.inFlight = nil
	}
	rejected = append(rejected, c.queue...)
	c.queue = nil
	c.updatePending()

	connectFut := c.connectFut
	c.connectFut = nil

	c.setState(StateDisconnected, cause)

	if connectFut != nil {
		err := cause
		if err == nil {
			err = ErrConnectAborted
		}
		_ = connectFut.SetError(err)
	}
	for _, req := range rejected {
		_ = req.fut.SetError(reqErr)
	}
}

func (c *Connection) setState(s ConnectionState, cause error) {
	old := c.state
	if old == s {
		return
	}
	c.state = s
	c.stateMirror.Store(int32(s))

	sc := &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: old.String(),
		NewState: s.String(),
	}
	if cause != nil {
		sc.Reason = cause.Error()
	}
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ID(),
		RemoteAddr:   c.RemoteAddr(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange:  sc,
	})
	c.logger.Debug("connection state changed", "conn_id", c.ID(), "from", old, "to", s)
	c.emit(Event{Type: EventStateChanged, OldState: old, State: s, Err: cause})
}

func (c *Connection) updatePending() {
	n := len(c.queue)
	if c.inFlight != nil {
		n++
	}
	c.pending.Store(int32(n))
}

func (c *Connection) logMessage(msg wire.Message, dir log.Direction, rtt *time.Duration) {
	ev := log.NewMessageEvent(msg)
	ev.RoundTrip = rtt
	c.plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.ID(),
		Direction:    dir,
		RemoteAddr:   c.RemoteAddr(),
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      ev,
	})
}

func (c *Connection) emit(ev Event) {
	for _, h := range c.handlers {
		c.callHandler(h, ev)
	}
}

func (c *Connection) callHandler(h func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic in connection event handler",
				"conn_id", c.ID(), "event", ev.Type, "panic", rec)
		}
	}()
	h(ev)
}

func typeOf(msg wire.Message) string {
	if msg == nil {
		return "nil"
	}
	return msg.Type().Name()
}
