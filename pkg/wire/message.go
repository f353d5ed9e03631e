package wire

// Message is implemented by every wire message struct.
type Message interface {
	Type() Type
}

// Addr identifies a parameter on a device.
type Addr struct {
	Bus    uint8
	Device uint8
	Param  uint8
}

// BusEntry is one address slot of a scanbus result.
type BusEntry struct {
	// IDC is the device identifier code; 0 means no device.
	IDC uint8

	// RC is 0 (off) or 1 (on); any other value signals an address conflict.
	RC uint8
}

// Present reports whether a device answered at this address.
func (e BusEntry) Present() bool { return e.IDC > 0 }

// Conflict reports whether more than one device answered at this address.
func (e BusEntry) Conflict() bool { return e.RC > 1 }

// RCOn reports whether remote control is enabled.
func (e BusEntry) RCOn() bool { return e.RC == 1 }

// ScanbusResult is the payload of response_scanbus and notify_scanbus.
type ScanbusResult struct {
	Bus     uint8
	Entries [DevicesPerBus]BusEntry
}

// Requests.

// ScanbusRequest asks for the device table of one bus.
type ScanbusRequest struct{ Bus uint8 }

// ReadRequest reads a device parameter.
type ReadRequest struct{ Addr }

// SetRequest writes a device parameter. Requires write access.
type SetRequest struct {
	Addr
	Value int32
}

// RCOnRequest enables remote control of a device.
type RCOnRequest struct{ Bus, Device uint8 }

// RCOffRequest disables remote control of a device.
type RCOffRequest struct{ Bus, Device uint8 }

// ResetRequest resets the MRC.
type ResetRequest struct{}

// CopyRequest triggers the MRC copy command.
type CopyRequest struct{}

// ReadMirrorRequest reads a parameter from the device mirror.
type ReadMirrorRequest struct{ Addr }

// SetMirrorRequest writes a parameter into the device mirror.
type SetMirrorRequest struct {
	Addr
	Value int32
}

// HasWriteAccessRequest asks whether this client holds write access.
type HasWriteAccessRequest struct{}

// AcquireWriteAccessRequest asks for write access if no other client has it.
type AcquireWriteAccessRequest struct{}

// ReleaseWriteAccessRequest gives up write access.
type ReleaseWriteAccessRequest struct{}

// InSilentModeRequest asks whether the server is in silent mode.
type InSilentModeRequest struct{}

// SetSilentModeRequest enables or disables silent mode.
type SetSilentModeRequest struct{ Silent bool }

// ForceWriteAccessRequest takes write access from whichever client holds it.
type ForceWriteAccessRequest struct{}

// MRCStatusRequest asks for the server's MRC connection status.
type MRCStatusRequest struct{}

func (*ScanbusRequest) Type() Type            { return TypeRequestScanbus }
func (*ReadRequest) Type() Type               { return TypeRequestRead }
func (*SetRequest) Type() Type                { return TypeRequestSet }
func (*RCOnRequest) Type() Type               { return TypeRequestRCOn }
func (*RCOffRequest) Type() Type              { return TypeRequestRCOff }
func (*ResetRequest) Type() Type              { return TypeRequestReset }
func (*CopyRequest) Type() Type               { return TypeRequestCopy }
func (*ReadMirrorRequest) Type() Type         { return TypeRequestReadMirror }
func (*SetMirrorRequest) Type() Type          { return TypeRequestSetMirror }
func (*HasWriteAccessRequest) Type() Type     { return TypeRequestHasWriteAccess }
func (*AcquireWriteAccessRequest) Type() Type { return TypeRequestAcquireWriteAccess }
func (*ReleaseWriteAccessRequest) Type() Type { return TypeRequestReleaseWriteAccess }
func (*InSilentModeRequest) Type() Type       { return TypeRequestInSilentMode }
func (*SetSilentModeRequest) Type() Type      { return TypeRequestSetSilentMode }
func (*ForceWriteAccessRequest) Type() Type   { return TypeRequestForceWriteAccess }
func (*MRCStatusRequest) Type() Type          { return TypeRequestMRCStatus }

// Responses.

// ScanbusResponse answers a ScanbusRequest.
type ScanbusResponse struct{ ScanbusResult }

// ReadResponse carries the value of a read parameter.
type ReadResponse struct {
	Addr
	Value int32
}

// SetResponse carries the value the device reports after a set.
type SetResponse struct {
	Addr
	Value int32
}

// ReadMirrorResponse carries a mirror value.
type ReadMirrorResponse struct {
	Addr
	Value int32
}

// SetMirrorResponse carries the stored mirror value.
type SetMirrorResponse struct {
	Addr
	Value int32
}

// BoolResponse answers RC, reset, copy, write access and silent mode requests.
type BoolResponse struct{ Value bool }

// ErrorResponse replaces the expected response when a request fails.
type ErrorResponse struct{ Code ErrorCode }

// MRCStatusResponse answers an MRCStatusRequest.
type MRCStatusResponse struct{ Status MRCStatus }

func (*ScanbusResponse) Type() Type    { return TypeResponseScanbus }
func (*ReadResponse) Type() Type       { return TypeResponseRead }
func (*SetResponse) Type() Type        { return TypeResponseSet }
func (*ReadMirrorResponse) Type() Type { return TypeResponseReadMirror }
func (*SetMirrorResponse) Type() Type  { return TypeResponseSetMirror }
func (*BoolResponse) Type() Type       { return TypeResponseBool }
func (*ErrorResponse) Type() Type      { return TypeResponseError }
func (*MRCStatusResponse) Type() Type  { return TypeResponseMRCStatus }

// Notifications.

// ScanbusNotification is sent when the device table of a bus changes.
type ScanbusNotification struct{ ScanbusResult }

// WriteAccessNotification is sent when this client gains or loses write access.
type WriteAccessNotification struct{ HasAccess bool }

// SilentModeNotification is sent when silent mode changes.
type SilentModeNotification struct{ Silent bool }

// SetNotification is broadcast to other clients after a parameter was set.
type SetNotification struct {
	Addr
	Value int32
}

// MRCStatusNotification is sent when the server's MRC connection status changes.
type MRCStatusNotification struct{ Status MRCStatus }

func (*ScanbusNotification) Type() Type     { return TypeNotifyScanbus }
func (*WriteAccessNotification) Type() Type { return TypeNotifyWriteAccess }
func (*SilentModeNotification) Type() Type  { return TypeNotifySilentMode }
func (*SetNotification) Type() Type         { return TypeNotifySet }
func (*MRCStatusNotification) Type() Type   { return TypeNotifyMRCStatus }

// IsRequest reports whether m is a request.
func IsRequest(m Message) bool { return m != nil && m.Type().IsRequest() }

// IsResponse reports whether m is a response.
func IsResponse(m Message) bool { return m != nil && m.Type().IsResponse() }

// IsNotification reports whether m is a notification.
func IsNotification(m Message) bool { return m != nil && m.Type().IsNotification() }

// IsError reports whether m is a response_error.
func IsError(m Message) bool {
	_, ok := m.(*ErrorResponse)
	return ok
}

// New returns a zero valued message of type t.
func New(t Type) (Message, bool) {
	switch t {
	case TypeRequestScanbus:
		return &ScanbusRequest{}, true
	case TypeRequestRead:
		return &ReadRequest{}, true
	case TypeRequestSet:
		return &SetRequest{}, true
	case TypeRequestRCOn:
		return &RCOnRequest{}, true
	case TypeRequestRCOff:
		return &RCOffRequest{}, true
	case TypeRequestReset:
		return &ResetRequest{}, true
	case TypeRequestCopy:
		return &CopyRequest{}, true
	case TypeRequestReadMirror:
		return &ReadMirrorRequest{}, true
	case TypeRequestSetMirror:
		return &SetMirrorRequest{}, true
	case TypeRequestHasWriteAccess:
		return &HasWriteAccessRequest{}, true
	case TypeRequestAcquireWriteAccess:
		return &AcquireWriteAccessRequest{}, true
	case TypeRequestReleaseWriteAccess:
		return &ReleaseWriteAccessRequest{}, true
	case TypeRequestInSilentMode:
		return &InSilentModeRequest{}, true
	case TypeRequestSetSilentMode:
		return &SetSilentModeRequest{}, true
	case TypeRequestForceWriteAccess:
		return &ForceWriteAccessRequest{}, true
	case TypeRequestMRCStatus:
		return &MRCStatusRequest{}, true
	case TypeResponseScanbus:
		return &ScanbusResponse{}, true
	case TypeResponseRead:
		return &ReadResponse{}, true
	case TypeResponseSet:
		return &SetResponse{}, true
	case TypeResponseReadMirror:
		return &ReadMirrorResponse{}, true
	case TypeResponseSetMirror:
		return &SetMirrorResponse{}, true
	case TypeResponseBool:
		return &BoolResponse{}, true
	case TypeResponseError:
		return &ErrorResponse{}, true
	case TypeResponseMRCStatus:
		return &MRCStatusResponse{}, true
	case TypeNotifyScanbus:
		return &ScanbusNotification{}, true
	case TypeNotifyWriteAccess:
		return &WriteAccessNotification{}, true
	case TypeNotifySilentMode:
		return &SilentModeNotification{}, true
	case TypeNotifySet:
		return &SetNotification{}, true
	case TypeNotifyMRCStatus:
		return &MRCStatusNotification{}, true
	}
	return nil, false
}
