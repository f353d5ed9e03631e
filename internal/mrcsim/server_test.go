package mrcsim

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

type client struct {
	t *testing.T
	f *transport.Framer
}

func startSim(t *testing.T, cfg Config) *Server {
	t.Helper()
	s := New(cfg)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// dial connects and consumes the status and write access notifications.
func dial(t *testing.T, s *Server) (*client, bool) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	c := &client{t: t, f: transport.NewFramer(conn)}
	status, ok := c.read().(*wire.MRCStatusNotification)
	require.True(t, ok)
	assert.Equal(t, wire.StatusRunning, status.Status)
	wa, ok := c.read().(*wire.WriteAccessNotification)
	require.True(t, ok)
	return c, wa.HasAccess
}

func (c *client) read() wire.Message {
	c.t.Helper()
	data, err := c.f.ReadFrame()
	require.NoError(c.t, err)
	msg, err := wire.Decode(data)
	require.NoError(c.t, err)
	return msg
}

func (c *client) send(msg wire.Message) {
	c.t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(c.t, err)
	require.NoError(c.t, c.f.WriteFrame(data))
}

func (c *client) call(msg wire.Message) wire.Message {
	c.t.Helper()
	c.send(msg)
	return c.read()
}

func TestScanbusAndRead(t *testing.T) {
	s := startSim(t, Config{})
	s.SetDevice(0, 3, 17, true)
	s.SetDevice(0, 5, 20, false)
	s.SetConflict(0, 5)
	s.SetParam(0, 3, 9, -42)
	c, _ := dial(t, s)

	resp := c.call(&wire.ScanbusRequest{Bus: 0}).(*wire.ScanbusResponse)
	assert.Equal(t, wire.BusEntry{IDC: 17, RC: 1}, resp.Entries[3])
	assert.True(t, resp.Entries[5].Conflict())
	assert.False(t, resp.Entries[0].Present())

	read := c.call(&wire.ReadRequest{Addr: wire.Addr{Device: 3, Param: 9}}).(*wire.ReadResponse)
	assert.EqualValues(t, -42, read.Value)

	er := c.call(&wire.ReadRequest{Addr: wire.Addr{Device: 4}}).(*wire.ErrorResponse)
	assert.Equal(t, wire.ErrorNoResponse, er.Code)

	assert.Equal(t, 1, s.RequestCount(wire.TypeRequestScanbus))
	assert.Len(t, s.Requests(), 3)
}

func TestWriteAccess(t *testing.T) {
	s := startSim(t, Config{})
	s.SetDevice(1, 0, 17, false)

	first, granted := dial(t, s)
	require.True(t, granted)
	second, granted := dial(t, s)
	require.False(t, granted)

	er := second.call(&wire.SetRequest{Addr: wire.Addr{Bus: 1, Param: 2}, Value: 5}).(*wire.ErrorResponse)
	assert.Equal(t, wire.ErrorPermissionDenied, er.Code)

	set := first.call(&wire.SetRequest{Addr: wire.Addr{Bus: 1, Param: 2}, Value: 7}).(*wire.SetResponse)
	assert.EqualValues(t, 7, set.Value)
	assert.EqualValues(t, 7, s.Param(1, 0, 2))

	n := second.read().(*wire.SetNotification)
	assert.EqualValues(t, 7, n.Value)

	assert.False(t, second.call(&wire.AcquireWriteAccessRequest{}).(*wire.BoolResponse).Value)
	assert.True(t, second.call(&wire.ForceWriteAccessRequest{}).(*wire.BoolResponse).Value)
	assert.False(t, first.read().(*wire.WriteAccessNotification).HasAccess)
	assert.True(t, second.call(&wire.HasWriteAccessRequest{}).(*wire.BoolResponse).Value)
}

func TestSilentMode(t *testing.T) {
	s := startSim(t, Config{})
	c, _ := dial(t, s)

	assert.True(t, c.call(&wire.SetSilentModeRequest{Silent: true}).(*wire.BoolResponse).Value)
	er := c.call(&wire.ScanbusRequest{Bus: 1}).(*wire.ErrorResponse)
	assert.Equal(t, wire.ErrorSilenced, er.Code)
	assert.True(t, c.call(&wire.InSilentModeRequest{}).(*wire.BoolResponse).Value)
}

func TestHoldRelease(t *testing.T) {
	s := startSim(t, Config{})
	s.SetDevice(0, 0, 1, false)
	c, _ := dial(t, s)

	s.Hold()
	c.send(&wire.ReadRequest{Addr: wire.Addr{Param: 1}})
	c.send(&wire.ReadRequest{Addr: wire.Addr{Param: 2}})
	require.Eventually(t, func() bool { return s.Held() == 2 }, time.Second, time.Millisecond)

	s.Release()
	assert.EqualValues(t, 1, c.read().(*wire.ReadResponse).Param)
	assert.EqualValues(t, 2, c.read().(*wire.ReadResponse).Param)
	assert.Zero(t, s.Held())
}

func TestOnRequestOverride(t *testing.T) {
	s := startSim(t, Config{
		Status: wire.StatusRunning,
		OnRequest: func(req wire.Message) wire.Message {
			if req.Type() == wire.TypeRequestReset {
				return &wire.ErrorResponse{Code: wire.ErrorComTimeout}
			}
			return nil
		},
	})
	c, _ := dial(t, s)

	assert.Equal(t, wire.ErrorComTimeout, c.call(&wire.ResetRequest{}).(*wire.ErrorResponse).Code)
	assert.Equal(t, wire.StatusRunning, c.call(&wire.MRCStatusRequest{}).(*wire.MRCStatusResponse).Status)
}

func TestURL(t *testing.T) {
	s := startSim(t, Config{})
	ep, err := transport.ParseURL(s.URL(transport.SchemeTCP))
	require.NoError(t, err)
	assert.Equal(t, s.Addr().Port, ep.Port)
	assert.False(t, ep.WaitForRunning())
}

func TestNotifyParam(t *testing.T) {
	s := startSim(t, Config{})
	s.SetDevice(1, 2, 30, true)
	c, _ := dial(t, s)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, time.Millisecond)

	s.NotifyParam(1, 2, 7, 512)

	n, ok := c.read().(*wire.SetNotification)
	require.True(t, ok)
	assert.Equal(t, wire.Addr{Bus: 1, Device: 2, Param: 7}, n.Addr)
	assert.Equal(t, int32(512), n.Value)
	assert.Equal(t, int32(512), s.Param(1, 2, 7))
}
