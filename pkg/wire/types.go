package wire

import (
	"fmt"
	"strings"
)

// Type is the one byte message type code on the wire.
type Type uint8

// Request types.
const (
	TypeRequestScanbus            Type = 1
	TypeRequestRead               Type = 2
	TypeRequestSet                Type = 3
	TypeRequestRCOn               Type = 4
	TypeRequestRCOff              Type = 5
	TypeRequestReset              Type = 6
	TypeRequestCopy               Type = 7
	TypeRequestReadMirror         Type = 8
	TypeRequestSetMirror          Type = 9
	TypeRequestHasWriteAccess     Type = 10
	TypeRequestAcquireWriteAccess Type = 11
	TypeRequestReleaseWriteAccess Type = 12
	TypeRequestInSilentMode       Type = 13
	TypeRequestSetSilentMode      Type = 14
	TypeRequestForceWriteAccess   Type = 15
	TypeRequestMRCStatus          Type = 16
)

// Response types.
const (
	TypeResponseScanbus    Type = 41
	TypeResponseRead       Type = 42
	TypeResponseSet        Type = 43
	TypeResponseReadMirror Type = 44
	TypeResponseSetMirror  Type = 45
	TypeResponseBool       Type = 46
	TypeResponseError      Type = 47
	TypeResponseMRCStatus  Type = 48
)

// Notification types.
const (
	TypeNotifyScanbus     Type = 61
	TypeNotifyWriteAccess Type = 62
	TypeNotifySilentMode  Type = 63
	TypeNotifySet         Type = 64
	TypeNotifyMRCStatus   Type = 65
)

// Bus and address limits.
const (
	// BusCount is the number of buses per MRC.
	BusCount = 2

	// DevicesPerBus is the number of device addresses on one bus.
	DevicesPerBus = 16
)

// Payload sizes shared by several message types.
const (
	sizeBus       = 1
	sizeDevice    = 2            // bus, dev
	sizeParam     = 3            // bus, dev, par
	sizeValue     = 3 + 4        // bus, dev, par, val
	sizeFlag      = 1            // bool
	sizeScanbus   = 1 + 2*16     // bus, 16 x (idc, rc)
	sizeErrorCode = 1            // code
	sizeStatus    = 1            // status
	sizeEmpty     = 0            // no fields
)

// typeInfo describes one registered message type.
type typeInfo struct {
	name string

	// size is the payload length excluding the type code byte.
	size int

	// response is the success response for request types.
	response Type
}

// registry is the immutable code to format table.
var registry = map[Type]typeInfo{
	TypeRequestScanbus:            {"request_scanbus", sizeBus, TypeResponseScanbus},
	TypeRequestRead:               {"request_read", sizeParam, TypeResponseRead},
	TypeRequestSet:                {"request_set", sizeValue, TypeResponseSet},
	TypeRequestRCOn:               {"request_rc_on", sizeDevice, TypeResponseBool},
	TypeRequestRCOff:              {"request_rc_off", sizeDevice, TypeResponseBool},
	TypeRequestReset:              {"request_reset", sizeEmpty, TypeResponseBool},
	TypeRequestCopy:               {"request_copy", sizeEmpty, TypeResponseBool},
	TypeRequestReadMirror:         {"request_read_mirror", sizeParam, TypeResponseReadMirror},
	TypeRequestSetMirror:          {"request_set_mirror", sizeValue, TypeResponseSetMirror},
	TypeRequestHasWriteAccess:     {"request_has_write_access", sizeEmpty, TypeResponseBool},
	TypeRequestAcquireWriteAccess: {"request_acquire_write_access", sizeEmpty, TypeResponseBool},
	TypeRequestReleaseWriteAccess: {"request_release_write_access", sizeEmpty, TypeResponseBool},
	TypeRequestInSilentMode:       {"request_in_silent_mode", sizeEmpty, TypeResponseBool},
	TypeRequestSetSilentMode:      {"request_set_silent_mode", sizeFlag, TypeResponseBool},
	TypeRequestForceWriteAccess:   {"request_force_write_access", sizeEmpty, TypeResponseBool},
	TypeRequestMRCStatus:          {"request_mrc_status", sizeEmpty, TypeResponseMRCStatus},

	TypeResponseScanbus:    {"response_scanbus", sizeScanbus, 0},
	TypeResponseRead:       {"response_read", sizeValue, 0},
	TypeResponseSet:        {"response_set", sizeValue, 0},
	TypeResponseReadMirror: {"response_read_mirror", sizeValue, 0},
	TypeResponseSetMirror:  {"response_set_mirror", sizeValue, 0},
	TypeResponseBool:       {"response_bool", sizeFlag, 0},
	TypeResponseError:      {"response_error", sizeErrorCode, 0},
	TypeResponseMRCStatus:  {"response_mrc_status", sizeStatus, 0},

	TypeNotifyScanbus:     {"notify_scanbus", sizeScanbus, 0},
	TypeNotifyWriteAccess: {"notify_write_access", sizeFlag, 0},
	TypeNotifySilentMode:  {"notify_silent_mode", sizeFlag, 0},
	TypeNotifySet:         {"notify_set", sizeValue, 0},
	TypeNotifyMRCStatus:   {"notify_mrc_status", sizeStatus, 0},
}

// byName is the reverse lookup built from registry at init.
var byName = func() map[string]Type {
	m := make(map[string]Type, len(registry))
	for t, info := range registry {
		m[info.name] = t
	}
	return m
}()

// Name returns the symbolic name, e.g. "request_read".
func (t Type) Name() string {
	if info, ok := registry[t]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown_%d", uint8(t))
}

// String returns the symbolic name.
func (t Type) String() string {
	return t.Name()
}

// IsValid reports whether t is a registered message type.
func (t Type) IsValid() bool {
	_, ok := registry[t]
	return ok
}

// IsRequest reports whether t is a request type.
func (t Type) IsRequest() bool {
	return strings.HasPrefix(t.Name(), "request_")
}

// IsResponse reports whether t is a response type.
func (t Type) IsResponse() bool {
	return strings.HasPrefix(t.Name(), "response_")
}

// IsNotification reports whether t is a notification type.
func (t Type) IsNotification() bool {
	return strings.HasPrefix(t.Name(), "notify_")
}

// PayloadSize returns the payload length in bytes, excluding the type code.
func (t Type) PayloadSize() (int, bool) {
	info, ok := registry[t]
	return info.size, ok
}

// ExpectedResponse returns the response type a request is answered with on
// success. Any request may instead be answered by response_error.
func (t Type) ExpectedResponse() (Type, bool) {
	info, ok := registry[t]
	if !ok || info.response == 0 {
		return 0, false
	}
	return info.response, true
}

// TypeByName looks up a message type by its symbolic name.
func TypeByName(name string) (Type, bool) {
	t, ok := byName[name]
	return t, ok
}

// Types returns all registered message types in ascending code order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for code := 0; code < 256; code++ {
		if _, ok := registry[Type(code)]; ok {
			out = append(out, Type(code))
		}
	}
	return out
}
