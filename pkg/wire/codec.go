package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrInvalidLength = errors.New("invalid payload length")
	ErrFieldRange    = errors.New("field out of range")
	ErrEmptyMessage  = errors.New("empty message")
)

// DecodeError describes a message that could not be decoded.
type DecodeError struct {
	// Code is the leading type byte, if any was present.
	Code uint8

	// Err is one of the codec sentinel errors, possibly wrapped.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message (type %d): %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MaxEncodedSize is the largest encoded message, response_scanbus.
const MaxEncodedSize = 1 + sizeScanbus

// Encode serializes msg into its type code and fixed-width fields.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrEmptyMessage
	}
	size, ok := msg.Type().PayloadSize()
	if !ok {
		return nil, fmt.Errorf("encode %T: %w", msg, ErrUnknownType)
	}
	buf := make([]byte, 0, 1+size)
	buf = append(buf, byte(msg.Type()))

	var err error
	switch m := msg.(type) {
	case *ScanbusRequest:
		buf, err = appendBus(buf, m.Bus)
	case *ReadRequest:
		buf, err = appendAddr(buf, m.Addr)
	case *SetRequest:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *RCOnRequest:
		buf, err = appendDevice(buf, m.Bus, m.Device)
	case *RCOffRequest:
		buf, err = appendDevice(buf, m.Bus, m.Device)
	case *ResetRequest, *CopyRequest, *HasWriteAccessRequest, *AcquireWriteAccessRequest,
		*ReleaseWriteAccessRequest, *InSilentModeRequest, *ForceWriteAccessRequest,
		*MRCStatusRequest:
		// no payload
	case *ReadMirrorRequest:
		buf, err = appendAddr(buf, m.Addr)
	case *SetMirrorRequest:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *SetSilentModeRequest:
		buf = appendBool(buf, m.Silent)
	case *ScanbusResponse:
		buf, err = appendScanbus(buf, &m.ScanbusResult)
	case *ReadResponse:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *SetResponse:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *ReadMirrorResponse:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *SetMirrorResponse:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *BoolResponse:
		buf = appendBool(buf, m.Value)
	case *ErrorResponse:
		buf = append(buf, byte(m.Code))
	case *MRCStatusResponse:
		buf = append(buf, byte(m.Status))
	case *ScanbusNotification:
		buf, err = appendScanbus(buf, &m.ScanbusResult)
	case *WriteAccessNotification:
		buf = appendBool(buf, m.HasAccess)
	case *SilentModeNotification:
		buf = appendBool(buf, m.Silent)
	case *SetNotification:
		buf, err = appendValue(buf, m.Addr, m.Value)
	case *MRCStatusNotification:
		buf = append(buf, byte(m.Status))
	default:
		return nil, fmt.Errorf("encode %T: %w", msg, ErrUnknownType)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type().Name(), err)
	}
	return buf, nil
}

// Decode parses a message from data, which must hold exactly one message
// without the length prefix.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: ErrEmptyMessage}
	}
	t := Type(data[0])
	size, ok := t.PayloadSize()
	if !ok {
		return nil, &DecodeError{Code: data[0], Err: ErrUnknownType}
	}
	p := data[1:]
	if len(p) != size {
		return nil, &DecodeError{
			Code: data[0],
			Err:  fmt.Errorf("%w: %s wants %d bytes, got %d", ErrInvalidLength, t.Name(), size, len(p)),
		}
	}

	msg, _ := New(t)
	var err error
	switch m := msg.(type) {
	case *ScanbusRequest:
		m.Bus, err = readBus(p)
	case *ReadRequest:
		m.Addr, err = readAddr(p)
	case *SetRequest:
		m.Addr, m.Value, err = readValue(p)
	case *RCOnRequest:
		m.Bus, m.Device, err = readDevice(p)
	case *RCOffRequest:
		m.Bus, m.Device, err = readDevice(p)
	case *ResetRequest, *CopyRequest, *HasWriteAccessRequest, *AcquireWriteAccessRequest,
		*ReleaseWriteAccessRequest, *InSilentModeRequest, *ForceWriteAccessRequest,
		*MRCStatusRequest:
		// no payload
	case *ReadMirrorRequest:
		m.Addr, err = readAddr(p)
	case *SetMirrorRequest:
		m.Addr, m.Value, err = readValue(p)
	case *SetSilentModeRequest:
		m.Silent = p[0] != 0
	case *ScanbusResponse:
		err = readScanbus(p, &m.ScanbusResult)
	case *ReadResponse:
		m.Addr, m.Value, err = readValue(p)
	case *SetResponse:
		m.Addr, m.Value, err = readValue(p)
	case *ReadMirrorResponse:
		m.Addr, m.Value, err = readValue(p)
	case *SetMirrorResponse:
		m.Addr, m.Value, err = readValue(p)
	case *BoolResponse:
		m.Value = p[0] != 0
	case *ErrorResponse:
		m.Code = ErrorCode(p[0])
	case *MRCStatusResponse:
		m.Status = MRCStatus(p[0])
	case *ScanbusNotification:
		err = readScanbus(p, &m.ScanbusResult)
	case *WriteAccessNotification:
		m.HasAccess = p[0] != 0
	case *SilentModeNotification:
		m.Silent = p[0] != 0
	case *SetNotification:
		m.Addr, m.Value, err = readValue(p)
	case *MRCStatusNotification:
		m.Status = MRCStatus(p[0])
	default:
		return nil, &DecodeError{Code: data[0], Err: ErrUnknownType}
	}
	if err != nil {
		return nil, &DecodeError{Code: data[0], Err: err}
	}
	return msg, nil
}

// ValidateAddr checks bus and device ranges. Every parameter value fits the
// u8 field.
func ValidateAddr(a Addr) error {
	return validateDevice(a.Bus, a.Device)
}

func validateBus(bus uint8) error {
	if bus >= BusCount {
		return fmt.Errorf("%w: bus %d", ErrFieldRange, bus)
	}
	return nil
}

func validateDevice(bus, dev uint8) error {
	if err := validateBus(bus); err != nil {
		return err
	}
	if dev >= DevicesPerBus {
		return fmt.Errorf("%w: device %d", ErrFieldRange, dev)
	}
	return nil
}

func appendBus(buf []byte, bus uint8) ([]byte, error) {
	if err := validateBus(bus); err != nil {
		return nil, err
	}
	return append(buf, bus), nil
}

func appendDevice(buf []byte, bus, dev uint8) ([]byte, error) {
	if err := validateDevice(bus, dev); err != nil {
		return nil, err
	}
	return append(buf, bus, dev), nil
}

func appendAddr(buf []byte, a Addr) ([]byte, error) {
	if err := ValidateAddr(a); err != nil {
		return nil, err
	}
	return append(buf, a.Bus, a.Device, a.Param), nil
}

func appendValue(buf []byte, a Addr, v int32) ([]byte, error) {
	buf, err := appendAddr(buf, a)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint32(buf, uint32(v)), nil
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendScanbus(buf []byte, r *ScanbusResult) ([]byte, error) {
	buf, err := appendBus(buf, r.Bus)
	if err != nil {
		return nil, err
	}
	for _, e := range r.Entries {
		buf = append(buf, e.IDC, e.RC)
	}
	return buf, nil
}

func readBus(p []byte) (uint8, error) {
	return p[0], validateBus(p[0])
}

func readDevice(p []byte) (uint8, uint8, error) {
	return p[0], p[1], validateDevice(p[0], p[1])
}

func readAddr(p []byte) (Addr, error) {
	a := Addr{Bus: p[0], Device: p[1], Param: p[2]}
	return a, ValidateAddr(a)
}

func readValue(p []byte) (Addr, int32, error) {
	a, err := readAddr(p)
	return a, int32(binary.BigEndian.Uint32(p[3:7])), err
}

func readScanbus(p []byte, r *ScanbusResult) error {
	bus, err := readBus(p)
	if err != nil {
		return err
	}
	r.Bus = bus
	for i := range r.Entries {
		r.Entries[i] = BusEntry{IDC: p[1+2*i], RC: p[2+2*i]}
	}
	return nil
}
