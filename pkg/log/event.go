package log

import (
	"time"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// URL is the MRC connection URL, set by the controller layer.
	URL string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/controller state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Directed reports whether Direction is meaningful for e. Only frame and
// message events travel in a direction; state and error events carry the
// zero value.
func (e Event) Directed() bool {
	return e.Frame != nil || e.Message != nil
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message layer (decoded messages).
	LayerWire Layer = 1
	// LayerController is the controller layer (device table, polling).
	LayerController Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response/notification).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
// Only the fields present in the message type are set.
type MessageEvent struct {
	// Kind distinguishes request/response/notification.
	Kind MessageKind `cbor:"1,keyasint"`

	// Code is the wire type code.
	Code uint8 `cbor:"2,keyasint"`

	// Name is the symbolic type name, e.g. "request_read".
	Name string `cbor:"3,keyasint"`

	Bus    *uint8 `cbor:"4,keyasint,omitempty"`
	Device *uint8 `cbor:"5,keyasint,omitempty"`
	Param  *uint8 `cbor:"6,keyasint,omitempty"`
	Value  *int32 `cbor:"7,keyasint,omitempty"`
	Flag   *bool  `cbor:"8,keyasint,omitempty"`

	// ErrorCode is set for response_error.
	ErrorCode *uint8 `cbor:"9,keyasint,omitempty"`

	// Status is set for MRC status responses and notifications.
	Status *uint8 `cbor:"10,keyasint,omitempty"`

	// RoundTrip is the time from request send to response receipt (response only).
	// Stored as nanoseconds.
	RoundTrip *time.Duration `cbor:"11,keyasint,omitempty"`
}

// MessageKind distinguishes request/response/notification.
type MessageKind uint8

const (
	// MessageKindRequest indicates a request message.
	MessageKindRequest MessageKind = 0
	// MessageKindResponse indicates a response message.
	MessageKindResponse MessageKind = 1
	// MessageKindNotification indicates a notification message.
	MessageKindNotification MessageKind = 2
)

// String returns the message kind name.
func (m MessageKind) String() string {
	switch m {
	case MessageKindRequest:
		return "REQUEST"
	case MessageKindResponse:
		return "RESPONSE"
	case MessageKindNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// NewMessageEvent flattens a wire message into a MessageEvent.
func NewMessageEvent(msg wire.Message) *MessageEvent {
	t := msg.Type()
	ev := &MessageEvent{Code: uint8(t), Name: t.Name()}
	switch {
	case t.IsResponse():
		ev.Kind = MessageKindResponse
	case t.IsNotification():
		ev.Kind = MessageKindNotification
	default:
		ev.Kind = MessageKindRequest
	}

	setAddr := func(a wire.Addr) {
		ev.Bus, ev.Device, ev.Param = ptr(a.Bus), ptr(a.Device), ptr(a.Param)
	}

	switch m := msg.(type) {
	case *wire.ScanbusRequest:
		ev.Bus = ptr(m.Bus)
	case *wire.ReadRequest:
		setAddr(m.Addr)
	case *wire.ReadMirrorRequest:
		setAddr(m.Addr)
	case *wire.SetRequest:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.SetMirrorRequest:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.RCOnRequest:
		ev.Bus, ev.Device = ptr(m.Bus), ptr(m.Device)
	case *wire.RCOffRequest:
		ev.Bus, ev.Device = ptr(m.Bus), ptr(m.Device)
	case *wire.SetSilentModeRequest:
		ev.Flag = ptr(m.Silent)
	case *wire.ScanbusResponse:
		ev.Bus = ptr(m.Bus)
	case *wire.ScanbusNotification:
		ev.Bus = ptr(m.Bus)
	case *wire.ReadResponse:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.SetResponse:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.ReadMirrorResponse:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.SetMirrorResponse:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.SetNotification:
		setAddr(m.Addr)
		ev.Value = ptr(m.Value)
	case *wire.BoolResponse:
		ev.Flag = ptr(m.Value)
	case *wire.WriteAccessNotification:
		ev.Flag = ptr(m.HasAccess)
	case *wire.SilentModeNotification:
		ev.Flag = ptr(m.Silent)
	case *wire.ErrorResponse:
		ev.ErrorCode = ptr(uint8(m.Code))
	case *wire.MRCStatusResponse:
		ev.Status = ptr(uint8(m.Status))
	case *wire.MRCStatusNotification:
		ev.Status = ptr(uint8(m.Status))
	}
	return ev
}

func ptr[T any](v T) *T { return &v }

// StateChangeEvent captures connection and controller lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityMRC indicates a change of the server reported MRC status.
	StateEntityMRC StateEntity = 1
	// StateEntityDevice indicates a device was added, removed or changed.
	StateEntityDevice StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityMRC:
		return "MRC"
	case StateEntityDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable): errno for socket errors,
	// the taxonomy code for server errors, the type byte for decode errors.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
