package log

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

func TestEncodeEventTagsTimestamp(t *testing.T) {
	ev := Event{
		Timestamp: time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.UTC),
		Layer:     LayerWire,
		Category:  CategoryMessage,
		Message:   NewMessageEvent(&wire.ReadRequest{Addr: wire.Addr{Bus: 1, Device: 2, Param: 3}}),
	}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)
	// Key 1 is followed by tag 0 (standard date/time string).
	assert.True(t, bytes.Contains(data, []byte{0x01, 0xc0}), "timestamp not tagged: % x", data)

	again, err := EncodeEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, data, again)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(ev.Timestamp))
	assert.Equal(t, "request_read", got.Message.Name)
}

func TestDecodeEventUntaggedTimestamp(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	data, err := cbor.Marshal(map[int]any{
		1: ts.Format(time.RFC3339Nano),
		2: "conn-1",
		5: uint8(CategoryState),
	})
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(ts))
	assert.Equal(t, "conn-1", got.ConnectionID)
	assert.Equal(t, CategoryState, got.Category)
}

func TestDecodeEventRejectsDeepNesting(t *testing.T) {
	// 20 nested one-element arrays under key 2.
	data := []byte{0xa1, 0x02}
	data = append(data, bytes.Repeat([]byte{0x81}, 20)...)
	data = append(data, 0x00)

	_, err := DecodeEvent(data)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nested"), "unexpected error: %v", err)
}
