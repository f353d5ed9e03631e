package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Connection errors.
var (
	// ErrNotConnected is returned for requests queued while disconnected.
	ErrNotConnected = errors.New("not connected")

	// ErrDisconnected rejects requests that were queued or in flight when
	// the connection closed.
	ErrDisconnected = errors.New("connection closed")

	// ErrConnectAborted rejects a pending connect superseded by Disconnect
	// or a new Connect.
	ErrConnectAborted = errors.New("connect aborted")

	// ErrNotRequest is returned when a response or notification is queued.
	ErrNotRequest = errors.New("message is not a request")

	// ErrPeerClosed is wrapped in a SocketError when the server closed the stream.
	ErrPeerClosed = errors.New("connection closed by peer")
)

// SocketError is a transport level failure: connection refused, reset,
// timeout and the like.
type SocketError struct {
	// Op is the failed operation: "connect", "read" or "write".
	Op string

	// Errno is the platform error code, 0 if none was available.
	Errno syscall.Errno

	Err error
}

func newSocketError(op string, err error) *SocketError {
	var se *SocketError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, io.EOF) {
		err = ErrPeerClosed
	}
	e := &SocketError{Op: op, Err: err}
	errors.As(err, &e.Errno)
	return e
}

func (e *SocketError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s: %v (errno %d)", e.Op, e.Err, int(e.Errno))
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// Code returns the platform error code as an int.
func (e *SocketError) Code() int {
	return int(e.Errno)
}

// Timeout reports whether the failure was a timeout.
func (e *SocketError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}
