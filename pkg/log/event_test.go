package log

import (
	"testing"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(99).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerWire.String(), "WIRE"},
		{LayerController.String(), "CONTROLLER"},
		{Layer(99).String(), "UNKNOWN"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{Category(1).String(), "UNKNOWN"},
		{MessageKindRequest.String(), "REQUEST"},
		{MessageKindResponse.String(), "RESPONSE"},
		{MessageKindNotification.String(), "NOTIFICATION"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityMRC.String(), "MRC"},
		{StateEntityDevice.String(), "DEVICE"},
		{StateEntity(99).String(), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewMessageEvent(t *testing.T) {
	t.Run("set request", func(t *testing.T) {
		ev := NewMessageEvent(&wire.SetRequest{Addr: wire.Addr{Bus: 1, Device: 2, Param: 3}, Value: -5})
		if ev.Kind != MessageKindRequest || ev.Name != "request_set" || ev.Code != 3 {
			t.Fatalf("header = %+v", ev)
		}
		if *ev.Bus != 1 || *ev.Device != 2 || *ev.Param != 3 || *ev.Value != -5 {
			t.Errorf("fields = %d %d %d %d", *ev.Bus, *ev.Device, *ev.Param, *ev.Value)
		}
		if ev.Flag != nil || ev.ErrorCode != nil {
			t.Error("unexpected fields set")
		}
	})

	t.Run("error response", func(t *testing.T) {
		ev := NewMessageEvent(&wire.ErrorResponse{Code: wire.ErrorSilenced})
		if ev.Kind != MessageKindResponse {
			t.Errorf("Kind = %s", ev.Kind)
		}
		if ev.ErrorCode == nil || *ev.ErrorCode != uint8(wire.ErrorSilenced) {
			t.Errorf("ErrorCode = %v", ev.ErrorCode)
		}
	})

	t.Run("status notification", func(t *testing.T) {
		ev := NewMessageEvent(&wire.MRCStatusNotification{Status: wire.StatusRunning})
		if ev.Kind != MessageKindNotification {
			t.Errorf("Kind = %s", ev.Kind)
		}
		if ev.Status == nil || *ev.Status != uint8(wire.StatusRunning) {
			t.Errorf("Status = %v", ev.Status)
		}
	})

	t.Run("flag", func(t *testing.T) {
		ev := NewMessageEvent(&wire.WriteAccessNotification{HasAccess: true})
		if ev.Flag == nil || !*ev.Flag {
			t.Errorf("Flag = %v", ev.Flag)
		}
	})
}

func TestEventCBORRoundTrip(t *testing.T) {
	rtt := 1500 * time.Microsecond
	code := 111
	events := []Event{
		{
			Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 6789, time.UTC),
			ConnectionID: "c1",
			Direction:    DirectionOut,
			Layer:        LayerTransport,
			Category:     CategoryMessage,
			Frame:        &FrameEvent{Size: 6, Data: []byte{0, 4, 2, 0, 1, 5}},
		},
		{
			Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			ConnectionID: "c1",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			URL:          "mc://localhost:23000",
			Message: func() *MessageEvent {
				m := NewMessageEvent(&wire.ReadResponse{Addr: wire.Addr{Bus: 0, Device: 1, Param: 5}, Value: 42})
				m.RoundTrip = &rtt
				return m
			}(),
		},
		{
			Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Layer:       LayerTransport,
			Category:    CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "connecting", NewState: "connected"},
		},
		{
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Layer:     LayerTransport,
			Category:  CategoryError,
			Error:     &ErrorEventData{Layer: LayerTransport, Message: "connection refused", Code: &code, Context: "dial"},
		},
	}

	for _, ev := range events {
		data, err := EncodeEvent(ev)
		if err != nil {
			t.Fatalf("EncodeEvent: %v", err)
		}
		got, err := DecodeEvent(data)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if !got.Timestamp.Equal(ev.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, ev.Timestamp)
		}
		if got.Category != ev.Category || got.Layer != ev.Layer || got.Direction != ev.Direction {
			t.Errorf("header mismatch: %+v", got)
		}
		switch {
		case ev.Frame != nil:
			if got.Frame == nil || got.Frame.Size != ev.Frame.Size {
				t.Errorf("Frame = %+v", got.Frame)
			}
		case ev.Message != nil:
			if got.Message == nil || got.Message.Name != "response_read" || *got.Message.Value != 42 {
				t.Fatalf("Message = %+v", got.Message)
			}
			if *got.Message.RoundTrip != rtt {
				t.Errorf("RoundTrip = %v", *got.Message.RoundTrip)
			}
			if got.URL != ev.URL {
				t.Errorf("URL = %q", got.URL)
			}
		case ev.StateChange != nil:
			if *got.StateChange != *ev.StateChange {
				t.Errorf("StateChange = %+v", got.StateChange)
			}
		case ev.Error != nil:
			if got.Error == nil || *got.Error.Code != code || got.Error.Context != "dial" {
				t.Errorf("Error = %+v", got.Error)
			}
		}
	}
}
