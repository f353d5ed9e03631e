package controller

import (
	"time"

	"github.com/mesycontrol/mrc-go/pkg/model"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// EventType identifies a controller event.
type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventError
	EventMessageReceived
	EventDeviceAdded
	EventDeviceRemoved
	EventDeviceUpdated
	EventParameterChanged
	EventMirrorChanged
	EventConflictChanged
	EventWriteAccessChanged
	EventSilentModeChanged
	EventStatusChanged
	EventReconnectScheduled
)

var eventNames = map[EventType]string{
	EventConnecting:         "CONNECTING",
	EventConnected:          "CONNECTED",
	EventDisconnected:       "DISCONNECTED",
	EventError:              "ERROR",
	EventMessageReceived:    "MESSAGE_RECEIVED",
	EventDeviceAdded:        "DEVICE_ADDED",
	EventDeviceRemoved:      "DEVICE_REMOVED",
	EventDeviceUpdated:      "DEVICE_UPDATED",
	EventParameterChanged:   "PARAMETER_CHANGED",
	EventMirrorChanged:      "MIRROR_CHANGED",
	EventConflictChanged:    "CONFLICT_CHANGED",
	EventWriteAccessChanged: "WRITE_ACCESS_CHANGED",
	EventSilentModeChanged:  "SILENT_MODE_CHANGED",
	EventStatusChanged:      "STATUS_CHANGED",
	EventReconnectScheduled: "RECONNECT_SCHEDULED",
}

// String returns the event type name.
func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Event is delivered to handlers registered with OnEvent. Only the fields
// relevant to the event type are set.
type Event struct {
	Type EventType
	URL  string

	// Device is set for device and parameter events. For EventDeviceRemoved
	// it is the last known state.
	Device *model.DeviceInfo

	// Address, Value and OldValue are set for EventParameterChanged and
	// EventMirrorChanged. OldValue is nil for the first value seen.
	Address  uint8
	Value    int32
	OldValue *int32

	// Flag is the new value for EventConflictChanged,
	// EventWriteAccessChanged and EventSilentModeChanged.
	Flag bool

	// Status is set for EventStatusChanged.
	Status wire.MRCStatus

	// Err is set for EventError, and for EventDisconnected when the
	// connection was lost.
	Err error

	// Message is set for EventMessageReceived.
	Message wire.Message

	// Attempt and Delay are set for EventReconnectScheduled.
	Attempt int
	Delay   time.Duration
}
