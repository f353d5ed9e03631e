package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

const (
	connA = "aaaaaaaa-1111-2222-3333-444444444444"
	connB = "bbbbbbbb-1111-2222-3333-444444444444"
	urlA  = "mc://crate-a:23000"
)

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

// sampleEvents is a short session: a read on bus 0, a failed read on bus 1
// and a connection state change, plus one event from a second connection.
func sampleEvents() []log.Event {
	rt := 3 * time.Millisecond
	resp := log.NewMessageEvent(&wire.ReadResponse{Addr: wire.Addr{Bus: 0, Device: 3, Param: 10}, Value: 1234})
	resp.RoundTrip = &rt
	return []log.Event{
		{
			Timestamp: t0, ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerController, Category: log.CategoryState, URL: urlA,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "DISCONNECTED", NewState: "CONNECTED"},
		},
		{
			Timestamp: t0.Add(time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage, URL: urlA,
			Message: log.NewMessageEvent(&wire.ReadRequest{Addr: wire.Addr{Bus: 0, Device: 3, Param: 10}}),
		},
		{
			Timestamp: t0.Add(4 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage, URL: urlA,
			Message: resp,
		},
		{
			Timestamp: t0.Add(5 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage, URL: urlA,
			Message: log.NewMessageEvent(&wire.ReadRequest{Addr: wire.Addr{Bus: 1, Device: 7, Param: 0}}),
		},
		{
			Timestamp: t0.Add(6 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage, URL: urlA,
			Message: log.NewMessageEvent(&wire.ErrorResponse{Code: wire.ErrorNoResponse}),
		},
		{
			Timestamp: t0.Add(2 * time.Second), ConnectionID: connB, Direction: log.DirectionIn,
			Layer: log.LayerTransport, Category: log.CategoryError, RemoteAddr: "10.0.0.9:23000",
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "connection reset", Context: "read"},
		},
	}
}

// writeLog writes events to a log file named name in a temp dir.
func writeLog(t *testing.T, name string, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	require.Zero(t, logger.Dropped())
	return path
}
