package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

func dialServer(t *testing.T, s *Server) *Framer {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(testTimeout)))
	return NewFramer(conn)
}

func readMessage(t *testing.T, f *Framer) wire.Message {
	t.Helper()
	data, err := f.ReadFrame()
	require.NoError(t, err)
	msg, err := wire.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestServerRequestResponse(t *testing.T) {
	s := startServer(t, ServerConfig{OnMessage: answer})
	f := dialServer(t, s)

	data, err := wire.Encode(&wire.ReadRequest{Addr: wire.Addr{Bus: 1, Device: 3, Param: 7}})
	require.NoError(t, err)
	require.NoError(t, f.WriteFrame(data))

	resp, ok := readMessage(t, f).(*wire.ReadResponse)
	require.True(t, ok)
	assert.Equal(t, wire.Addr{Bus: 1, Device: 3, Param: 7}, resp.Addr)
	assert.EqualValues(t, 70, resp.Value)
}

func TestServerBroadcastSkipsSender(t *testing.T) {
	connected := make(chan *ServerConn, 2)
	s := startServer(t, ServerConfig{OnConnect: func(c *ServerConn) { connected <- c }})

	a := dialServer(t, s)
	first := <-connected
	b := dialServer(t, s)
	<-connected
	require.Eventually(t, func() bool { return s.ConnectionCount() == 2 }, time.Second, time.Millisecond)

	s.Broadcast(&wire.WriteAccessNotification{HasAccess: false}, first)
	require.NoError(t, first.Send(&wire.WriteAccessNotification{HasAccess: true}))

	got, ok := readMessage(t, a).(*wire.WriteAccessNotification)
	require.True(t, ok)
	assert.True(t, got.HasAccess)

	got, ok = readMessage(t, b).(*wire.WriteAccessNotification)
	require.True(t, ok)
	assert.False(t, got.HasAccess)
}

func TestServerReportsMalformedFrames(t *testing.T) {
	errs := make(chan error, 4)
	s := startServer(t, ServerConfig{
		OnMessage: answer,
		OnError:   func(_ *ServerConn, err error) { errs <- err },
	})
	f := dialServer(t, s)

	require.NoError(t, f.WriteFrame([]byte{99}))
	data, err := wire.Encode(&wire.HasWriteAccessRequest{})
	require.NoError(t, err)
	require.NoError(t, f.WriteFrame(data))

	_, ok := readMessage(t, f).(*wire.BoolResponse)
	assert.True(t, ok)
	assert.ErrorIs(t, <-errs, wire.ErrUnknownType)
}

func TestServerStop(t *testing.T) {
	disconnected := make(chan struct{})
	s := NewServer(ServerConfig{
		Address:      "127.0.0.1:0",
		OnDisconnect: func(*ServerConn) { close(disconnected) },
	})
	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	f := dialServer(t, s)
	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	<-disconnected
	assert.Zero(t, s.ConnectionCount())

	_, err := f.ReadFrame()
	assert.Error(t, err)
	require.NoError(t, s.Stop())
}
