package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

func newJSONAdapter(level slog.Level) (*SlogAdapter, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogAdapter(slog.New(handler)), &buf
}

func TestSlogAdapterLogsMessageEvent(t *testing.T) {
	adapter, buf := newJSONAdapter(slog.LevelDebug)

	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-456",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		URL:          "mc://mrc1",
		Message:      NewMessageEvent(&wire.SetRequest{Addr: wire.Addr{Bus: 1, Device: 4, Param: 9}, Value: -3}),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "protocol", entry["msg"])
	assert.Equal(t, "conn-456", entry["conn_id"])
	assert.Equal(t, "OUT", entry["direction"])
	assert.Equal(t, "mc://mrc1", entry["url"])
	assert.Equal(t, "REQUEST", entry["msg_kind"])
	assert.Equal(t, "request_set", entry["msg_name"])
	assert.Equal(t, 1, strings.Count(buf.String(), `"msg":`), "record message key is not shadowed")
	assert.EqualValues(t, 4, entry["dev"])
	assert.EqualValues(t, -3, entry["value"])
}

func TestSlogAdapterLogsErrorEvent(t *testing.T) {
	adapter, buf := newJSONAdapter(slog.LevelDebug)
	code := 104

	adapter.Log(Event{
		Layer:    LayerTransport,
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerTransport, Message: "connection reset", Code: &code, Context: "read"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connection reset", entry["error_msg"])
	assert.EqualValues(t, 104, entry["error_code"])
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	adapter, buf := newJSONAdapter(slog.LevelInfo)
	adapter.Log(frameEvent("quiet", 10))
	assert.Zero(t, buf.Len())
}

type stubLogger struct{ mock.Mock }

func (s *stubLogger) Log(event Event) { s.Called(event) }

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &stubLogger{}, &stubLogger{}
	ev := frameEvent("multi", 3)
	a.On("Log", ev).Return().Once()
	b.On("Log", ev).Return().Once()

	m := NewMultiLogger(a, nil, b)
	assert.Equal(t, 2, m.Len())
	m.Log(ev)

	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopLogger{}, OrNoop(nil))
	s := &stubLogger{}
	assert.Same(t, s, OrNoop(s))
}

func TestWithURL(t *testing.T) {
	assert.Nil(t, WithURL(nil, "mc://a:23000"))

	s := &stubLogger{}
	l := WithURL(s, "mc://a:23000")

	unset := frameEvent("c1", 4)
	stamped := unset
	stamped.URL = "mc://a:23000"
	s.On("Log", stamped).Return().Once()
	l.Log(unset)

	own := frameEvent("c2", 4)
	own.URL = "tcp://b:4001"
	s.On("Log", own).Return().Once()
	l.Log(own)

	s.AssertExpectations(t)
}
