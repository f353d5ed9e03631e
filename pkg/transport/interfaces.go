package transport

import (
	"net"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// RequestQueue is the request side of a Connection as used by controllers.
// Implemented by Connection.
type RequestQueue interface {
	// QueueRequest appends a request and returns a future for its response.
	QueueRequest(msg wire.Message) *future.Future[wire.Message]

	// CancelRequest drops a request that was not transmitted yet.
	CancelRequest(f *future.Future[wire.Message]) bool

	// Pending returns the number of queued and in-flight requests.
	Pending() int
}

// ServerConnection represents a server-side connection to a client.
// Implemented by ServerConn.
type ServerConnection interface {
	// RemoteAddr returns the remote network address of the client.
	RemoteAddr() net.Addr

	// Send sends a message to the client.
	Send(msg wire.Message) error

	// Close closes the connection.
	Close() error
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ RequestQueue     = (*Connection)(nil)
	_ ServerConnection = (*ServerConn)(nil)
	_ FrameReadWriter  = (*Framer)(nil)
)
