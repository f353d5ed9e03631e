// Package mrcsim provides a simulated MRC server for tests and the mrc-sim
// binary.
//
// The server answers every request type from an in-memory table of two buses
// with 16 device addresses each. Like a mesycontrol server it grants write
// access to the first client, broadcasts parameter changes to the other
// clients and sends the MRC status right after accepting a connection.
package mrcsim

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// ErrNotStarted is returned by accessors that need a listening server.
var ErrNotStarted = errors.New("simulator not started")

// Config configures a Server.
type Config struct {
	// Address is the listen address (default "127.0.0.1:0").
	Address string

	// Status is reported to clients on accept (default running).
	Status wire.MRCStatus

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures frames of every client.
	ProtocolLogger log.Logger

	// OnRequest is called for every request before it is answered. A
	// non-nil response replaces the simulated one.
	OnRequest func(req wire.Message) wire.Message
}

type device struct {
	idc    uint8
	rc     uint8
	params [256]int32
	mirror [256]int32
}

type heldRequest struct {
	conn *transport.ServerConn
	msg  wire.Message
}

// Server is a simulated MRC.
type Server struct {
	cfg    Config
	logger *slog.Logger
	srv    *transport.Server

	mu       sync.Mutex
	buses    [wire.BusCount][wire.DevicesPerBus]device
	writer   *transport.ServerConn
	silent   bool
	status   wire.MRCStatus
	hold     bool
	held     []heldRequest
	received []wire.Message
}

// New creates a server with empty buses.
func New(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	if cfg.Status == 0 {
		cfg.Status = wire.StatusRunning
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, logger: logger, status: cfg.Status}
	s.srv = transport.NewServer(transport.ServerConfig{
		Address:        cfg.Address,
		ProtocolLogger: cfg.ProtocolLogger,
		Logger:         logger,
		OnConnect:      s.onConnect,
		OnDisconnect:   s.onDisconnect,
		OnMessage:      s.onMessage,
		OnError: func(c *transport.ServerConn, err error) {
			logger.Debug("client error", "error", err)
		},
	})
	return s
}

// Start begins listening.
func (s *Server) Start(ctx context.Context) error {
	return s.srv.Start(ctx)
}

// Stop closes the listener and all clients.
func (s *Server) Stop() error {
	return s.srv.Stop()
}

// Addr returns the listen address.
func (s *Server) Addr() *net.TCPAddr {
	addr, _ := s.srv.Addr().(*net.TCPAddr)
	return addr
}

// URL returns the address of the server as an MRC URL with the given
// scheme (transport.SchemeMC or transport.SchemeTCP).
func (s *Server) URL(scheme string) string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return transport.Endpoint{Scheme: scheme, Host: addr.IP.String(), Port: addr.Port}.String()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.srv.ConnectionCount()
}

// SetDevice places a device at bus/address.
func (s *Server) SetDevice(bus, addr, idc uint8, rc bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &s.buses[bus][addr]
	d.idc = idc
	d.rc = 0
	if rc {
		d.rc = 1
	}
}

// RemoveDevice empties bus/address.
func (s *Server) RemoveDevice(bus, addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses[bus][addr] = device{}
}

// SetConflict makes bus/address report an address conflict.
func (s *Server) SetConflict(bus, addr uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses[bus][addr].rc = 2
}

// SetParam stores a parameter value without notifying clients.
func (s *Server) SetParam(bus, dev, addr uint8, value int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses[bus][dev].params[addr] = value
}

// NotifyParam stores a parameter value and sends it to every client, as the
// MRC does when another client or the front panel changes a parameter.
func (s *Server) NotifyParam(bus, dev, addr uint8, value int32) {
	s.SetParam(bus, dev, addr, value)
	s.srv.Broadcast(&wire.SetNotification{
		Addr:  wire.Addr{Bus: bus, Device: dev, Param: addr},
		Value: value,
	}, nil)
}

// Param returns a parameter value.
func (s *Server) Param(bus, dev, addr uint8) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buses[bus][dev].params[addr]
}

// SetStatus changes the MRC status and notifies every client.
func (s *Server) SetStatus(st wire.MRCStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.srv.Broadcast(&wire.MRCStatusNotification{Status: st}, nil)
}

// NotifyScanbus sends the current state of a bus to every client.
func (s *Server) NotifyScanbus(bus uint8) {
	s.mu.Lock()
	res := s.scanbus(bus)
	s.mu.Unlock()
	s.srv.Broadcast(&wire.ScanbusNotification{ScanbusResult: res}, nil)
}

// Hold stops answering requests until Release. Requests received meanwhile
// are recorded and answered in order on Release.
func (s *Server) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = true
}

// Release answers the held requests and resumes normal operation.
func (s *Server) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = false
	held := s.held
	s.held = nil
	for _, h := range held {
		s.answer(h.conn, h.msg)
	}
}

// Held returns the number of requests waiting for Release.
func (s *Server) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// RequestCount returns how many requests of type t were received.
func (s *Server) RequestCount(t wire.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.received {
		if m.Type() == t {
			n++
		}
	}
	return n
}

// ClearRequests forgets the recorded requests.
func (s *Server) ClearRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = nil
}

func (s *Server) onConnect(c *transport.ServerConn) {
	s.mu.Lock()
	status := s.status
	granted := s.writer == nil
	if granted {
		s.writer = c
	}
	s.mu.Unlock()

	s.logger.Info("client connected", "remote", c.RemoteAddr(), "write_access", granted)
	_ = c.Send(&wire.MRCStatusNotification{Status: status})
	_ = c.Send(&wire.WriteAccessNotification{HasAccess: granted})
}

func (s *Server) onDisconnect(c *transport.ServerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("client disconnected", "remote", c.RemoteAddr())

	s.held = slices.DeleteFunc(s.held, func(h heldRequest) bool { return h.conn == c })
	if s.writer != c {
		return
	}
	s.writer = nil
	for _, other := range s.srv.Conns() {
		if other != c {
			s.writer = other
			_ = other.Send(&wire.WriteAccessNotification{HasAccess: true})
			return
		}
	}
}

func (s *Server) onMessage(c *transport.ServerConn, msg wire.Message) {
	if !wire.IsRequest(msg) {
		s.logger.Debug("ignoring non-request", "type", msg.Type())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	if s.hold {
		s.held = append(s.held, heldRequest{conn: c, msg: msg})
		return
	}
	s.answer(c, msg)
}

// answer sends the response to msg. Called with s.mu held.
func (s *Server) answer(c *transport.ServerConn, msg wire.Message) {
	var resp wire.Message
	if s.cfg.OnRequest != nil {
		resp = s.cfg.OnRequest(msg)
	}
	if resp == nil {
		resp = s.respond(c, msg)
	}
	if err := c.Send(resp); err != nil {
		s.logger.Debug("send response", "type", resp.Type(), "error", err)
	}
}
