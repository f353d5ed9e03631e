package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/log"
)

func TestFormatFrameEvent(t *testing.T) {
	event := log.Event{
		Timestamp:    time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC),
		ConnectionID: "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        &log.FrameEvent{Size: 4, Data: []byte{0x02, 0x00, 0x03, 0x0a}, Truncated: true},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	assert.True(t, strings.HasPrefix(output, "2026-01-28T10:15:32.123456Z [conn:abc12345] OUT TRANSPORT Frame\n"), output)
	assert.Contains(t, output, "Size: 4 bytes")
	assert.Contains(t, output, "Data: 0200030a (truncated)")
}

func TestFormatMessageEvent(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[2])
	output := buf.String()
	assert.Contains(t, output, "IN  WIRE response_read")
	assert.Contains(t, output, "URL: "+urlA)
	assert.Contains(t, output, "Kind: RESPONSE")
	assert.Contains(t, output, "Address: bus=0 dev=3 param=10")
	assert.Contains(t, output, "Value: 1234")
	assert.Contains(t, output, "Duration: 3.000ms")

	buf.Reset()
	formatEvent(&buf, events[4])
	assert.Contains(t, buf.String(), "Error: No response from device")
}

func TestFormatStateAndErrorEvents(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[0])
	assert.Contains(t, buf.String(), "Entity: CONNECTION")
	assert.Contains(t, buf.String(), "DISCONNECTED -> CONNECTED")

	buf.Reset()
	formatEvent(&buf, events[5])
	assert.Contains(t, buf.String(), "[conn:bbbbbbbb]")
	assert.Contains(t, buf.String(), "Message: connection reset")
	assert.Contains(t, buf.String(), "Context: read")
}

func TestRunViewFiltered(t *testing.T) {
	path := writeLog(t, "session.mlog.zst", sampleEvents())

	filter, err := FilterFlags{Bus: 1}.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RunView(path, filter, &buf))
	assert.Equal(t, 1, strings.Count(buf.String(), "[conn:"))
	assert.Contains(t, buf.String(), "bus=1 dev=7 param=0")
}

func TestFilterFlagsBuild(t *testing.T) {
	f, err := FilterFlags{
		Layer:     "Wire",
		Direction: "in",
		Category:  "message",
		Message:   "response_read",
		TimeStart: "2026-03-04T12:00:00Z",
		Bus:       -1,
	}.Build()
	require.NoError(t, err)
	require.NotNil(t, f.Layer)
	assert.Equal(t, log.LayerWire, *f.Layer)
	assert.Equal(t, log.DirectionIn, *f.Direction)
	assert.Equal(t, log.CategoryMessage, *f.Category)
	assert.Equal(t, "response_read", f.MessageName)
	assert.True(t, f.TimeStart.Equal(t0))
	assert.Nil(t, f.Bus)

	tests := []struct {
		name  string
		flags FilterFlags
		want  string
	}{
		{"layer", FilterFlags{Layer: "service", Bus: -1}, "invalid layer"},
		{"direction", FilterFlags{Direction: "up", Bus: -1}, "invalid direction"},
		{"category", FilterFlags{Category: "control", Bus: -1}, "invalid category"},
		{"message", FilterFlags{Message: "request_nothing", Bus: -1}, "unknown message type"},
		{"bus", FilterFlags{Bus: 2}, "invalid bus"},
		{"time", FilterFlags{TimeEnd: "yesterday", Bus: -1}, "invalid time-end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.Build()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
