package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the listen address (default ":23000").
	Address string

	// MaxMessageSize is the maximum accepted payload size (default: 65535).
	MaxMessageSize int

	// ProtocolLogger receives frame and state events for every client.
	ProtocolLogger log.Logger

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger

	// OnConnect is called after a client connected, before its first read.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called after a client's read loop ended.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called from the client's read goroutine for every
	// decoded message. Messages of one client are delivered in order.
	OnMessage func(conn *ServerConn, msg wire.Message)

	// OnError is called for malformed frames and read failures.
	OnError func(conn *ServerConn, err error)
}

// Server accepts framed MRC connections over TCP.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewServer creates a server. It does not listen until Start is called.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	config.MaxMessageSize = clampFrameSize(config.MaxMessageSize)
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: config,
		logger: logger,
		conns:  make(map[*ServerConn]struct{}),
	}
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.running.Store(true)

	s.group.Go(func() error { return s.acceptLoop(ctx) })
	s.group.Go(func() error {
		<-ctx.Done()
		s.shutdown()
		return nil
	})

	s.logger.Info("server listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and all client connections and waits for their
// goroutines to finish.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	err := s.group.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Conns returns a snapshot of the active connections.
func (s *Server) Conns() []*ServerConn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends msg to every client except skip (which may be nil).
func (s *Server) Broadcast(msg wire.Message, skip *ServerConn) {
	for _, c := range s.Conns() {
		if c == skip {
			continue
		}
		if err := c.Send(msg); err != nil {
			s.logger.Debug("broadcast failed", "conn_id", c.ConnID(), "error", err)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || !s.running.Load() {
				return nil
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept: %w", err))
			}
			return err
		}
		s.group.Go(func() error {
			s.handleConnection(conn)
			return nil
		})
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	connID := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	framer.SetLogger(s.config.ProtocolLogger, connID)

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		remoteAddr: conn.RemoteAddr(),
		connID:     connID,
	}

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	s.logState(sconn, "", "CONNECTED")
	s.logger.Debug("client connected", "conn_id", connID, "remote", conn.RemoteAddr().String())

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logState(sconn, "CONNECTED", "DISCONNECTED")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) logState(c *ServerConn, from, to string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}

// ServerConn is the server side of one client connection.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	closeOnce  sync.Once
	closed     atomic.Bool
	remoteAddr net.Addr
	connID     string
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Send encodes and writes msg. Safe for concurrent use.
func (c *ServerConn) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes an already encoded message as one frame.
func (c *ServerConn) SendRaw(data []byte) error {
	if c.closed.Load() {
		return ErrDisconnected
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) readLoop() {
	cfg := &c.server.config
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if IsFrameError(err) {
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				}
				continue
			}
			if cfg.OnError != nil && !c.closed.Load() && c.server.running.Load() {
				cfg.OnError(c, newSocketError("read", err))
			}
			c.Close()
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			}
			continue
		}
		if cfg.OnMessage != nil {
			cfg.OnMessage(c, msg)
		}
	}
}
