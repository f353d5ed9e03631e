package wire

import (
	"fmt"
)

// ErrorCode is the error taxonomy carried by response_error.
type ErrorCode uint8

const (
	// ErrorUnknown is an unspecified server error.
	ErrorUnknown ErrorCode = 0

	// ErrorNoResponse indicates the addressed device did not answer.
	ErrorNoResponse ErrorCode = 1

	// ErrorAddressConflict indicates two devices share a bus address.
	ErrorAddressConflict ErrorCode = 2

	// ErrorConnecting indicates the server is still connecting to the MRC.
	ErrorConnecting ErrorCode = 3

	// ErrorConnectError indicates the server could not reach the MRC.
	ErrorConnectError ErrorCode = 4

	// ErrorComTimeout indicates a communication timeout with the MRC.
	ErrorComTimeout ErrorCode = 5

	// ErrorComError indicates a communication failure with the MRC.
	ErrorComError ErrorCode = 6

	// ErrorSilenced indicates the MRC is in silent mode.
	ErrorSilenced ErrorCode = 7

	// ErrorPermissionDenied indicates the client lacks write access.
	ErrorPermissionDenied ErrorCode = 8

	// ErrorParseError indicates the MRC reply could not be parsed.
	ErrorParseError ErrorCode = 9

	// ErrorInvalidType indicates an unknown message type was received.
	ErrorInvalidType ErrorCode = 10

	// ErrorInvalidMessage indicates a malformed request.
	ErrorInvalidMessage ErrorCode = 11

	// ErrorRequestCanceled indicates the request was canceled before it was sent.
	ErrorRequestCanceled ErrorCode = 12
)

var errorCodeNames = [...]string{
	ErrorUnknown:          "unknown",
	ErrorNoResponse:       "no_response",
	ErrorAddressConflict:  "address_conflict",
	ErrorConnecting:       "connecting",
	ErrorConnectError:     "connect_error",
	ErrorComTimeout:       "com_timeout",
	ErrorComError:         "com_error",
	ErrorSilenced:         "silenced",
	ErrorPermissionDenied: "permission_denied",
	ErrorParseError:       "parse_error",
	ErrorInvalidType:      "invalid_type",
	ErrorInvalidMessage:   "invalid_message",
	ErrorRequestCanceled:  "request_canceled",
}

var errorCodeText = [...]string{
	ErrorUnknown:          "Unknown error",
	ErrorNoResponse:       "No response from device",
	ErrorAddressConflict:  "Bus address conflict",
	ErrorConnecting:       "Server is connecting to the MRC",
	ErrorConnectError:     "Could not connect to the MRC",
	ErrorComTimeout:       "Communication timeout",
	ErrorComError:         "Communication error",
	ErrorSilenced:         "MRC is in silent mode",
	ErrorPermissionDenied: "Permission denied",
	ErrorParseError:       "Could not parse MRC response",
	ErrorInvalidType:      "Invalid message type",
	ErrorInvalidMessage:   "Invalid message",
	ErrorRequestCanceled:  "Request canceled",
}

// Name returns the symbolic name, e.g. "permission_denied".
func (c ErrorCode) Name() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("error_%d", uint8(c))
}

// String returns the human readable description.
func (c ErrorCode) String() string {
	if int(c) < len(errorCodeText) {
		return errorCodeText[c]
	}
	return fmt.Sprintf("Unknown error code %d", uint8(c))
}

// IsKnown reports whether c is part of the taxonomy.
func (c ErrorCode) IsKnown() bool {
	return int(c) < len(errorCodeNames)
}

// Error makes an ErrorCode usable as a sentinel with errors.Is.
func (c ErrorCode) Error() string {
	return c.String()
}

// ServerError is a response_error received for a request.
type ServerError struct {
	Code ErrorCode

	// Request is the request that was answered with the error, if known.
	Request Type

	// Detail is optional free text added by the client side.
	Detail string
}

// NewServerError returns a ServerError for code answering request.
func NewServerError(code ErrorCode, request Type) *ServerError {
	return &ServerError{Code: code, Request: request}
}

func (e *ServerError) Error() string {
	msg := e.Code.String()
	if e.Request != 0 {
		msg = fmt.Sprintf("%s: %s", e.Request.Name(), msg)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is matches a bare ErrorCode target, so errors.Is(err, wire.ErrorSilenced) works.
func (e *ServerError) Is(target error) bool {
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	return false
}

// MRCStatus is the server's view of its connection to the MRC hardware.
type MRCStatus uint8

const (
	StatusStopped       MRCStatus = 0
	StatusConnecting    MRCStatus = 1
	StatusConnectFailed MRCStatus = 2
	StatusInitializing  MRCStatus = 3
	StatusInitFailed    MRCStatus = 4
	StatusRunning       MRCStatus = 5
)

// String returns the status name.
func (s MRCStatus) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusConnecting:
		return "connecting"
	case StatusConnectFailed:
		return "connect_failed"
	case StatusInitializing:
		return "initializing"
	case StatusInitFailed:
		return "init_failed"
	case StatusRunning:
		return "running"
	default:
		return fmt.Sprintf("status_%d", uint8(s))
	}
}

// IsFailure reports whether s is a terminal failure state.
func (s MRCStatus) IsFailure() bool {
	return s == StatusConnectFailed || s == StatusInitFailed
}
