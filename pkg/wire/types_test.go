package wire

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypeClassification(t *testing.T) {
	for _, typ := range Types() {
		n := 0
		if typ.IsRequest() {
			n++
		}
		if typ.IsResponse() {
			n++
		}
		if typ.IsNotification() {
			n++
		}
		if n != 1 {
			t.Errorf("%s classified %d times", typ, n)
		}

		_, hasResponse := typ.ExpectedResponse()
		if hasResponse != typ.IsRequest() {
			t.Errorf("%s: ExpectedResponse ok = %v", typ, hasResponse)
		}
	}
}

func TestTypeByName(t *testing.T) {
	for _, typ := range Types() {
		got, ok := TypeByName(typ.Name())
		if !ok || got != typ {
			t.Errorf("TypeByName(%q) = %v, %v", typ.Name(), got, ok)
		}
	}
	if _, ok := TypeByName("request_nothing"); ok {
		t.Error("unexpected match for unknown name")
	}
}

func TestTypeUnknown(t *testing.T) {
	typ := Type(99)
	if typ.IsValid() {
		t.Error("type 99 should be invalid")
	}
	if typ.IsRequest() || typ.IsResponse() || typ.IsNotification() {
		t.Error("unknown type must not be classified")
	}
	if got := typ.String(); got != "unknown_99" {
		t.Errorf("String() = %q", got)
	}
}

func TestExpectedResponse(t *testing.T) {
	tests := []struct {
		req  Type
		want Type
	}{
		{TypeRequestScanbus, TypeResponseScanbus},
		{TypeRequestRead, TypeResponseRead},
		{TypeRequestSet, TypeResponseSet},
		{TypeRequestReadMirror, TypeResponseReadMirror},
		{TypeRequestSetMirror, TypeResponseSetMirror},
		{TypeRequestRCOn, TypeResponseBool},
		{TypeRequestMRCStatus, TypeResponseMRCStatus},
	}
	for _, tt := range tests {
		got, ok := tt.req.ExpectedResponse()
		if !ok || got != tt.want {
			t.Errorf("%s.ExpectedResponse() = %s, %v; want %s", tt.req, got, ok, tt.want)
		}
	}
}

func TestMessageClassification(t *testing.T) {
	if !IsRequest(&ReadRequest{}) || IsRequest(&ReadResponse{}) {
		t.Error("IsRequest")
	}
	if !IsResponse(&ErrorResponse{}) || IsResponse(&SetNotification{}) {
		t.Error("IsResponse")
	}
	if !IsNotification(&SetNotification{}) || IsNotification(nil) {
		t.Error("IsNotification")
	}
	if !IsError(&ErrorResponse{}) || IsError(&BoolResponse{}) {
		t.Error("IsError")
	}
}

func TestNewCoversRegistry(t *testing.T) {
	for _, typ := range Types() {
		msg, ok := New(typ)
		if !ok {
			t.Errorf("New(%s) not implemented", typ)
			continue
		}
		if msg.Type() != typ {
			t.Errorf("New(%s).Type() = %s", typ, msg.Type())
		}
	}
}

func TestErrorCodeNames(t *testing.T) {
	want := []string{
		"unknown", "no_response", "address_conflict", "connecting", "connect_error",
		"com_timeout", "com_error", "silenced", "permission_denied", "parse_error",
		"invalid_type", "invalid_message", "request_canceled",
	}
	for i, name := range want {
		code := ErrorCode(i)
		if code.Name() != name {
			t.Errorf("ErrorCode(%d).Name() = %q, want %q", i, code.Name(), name)
		}
		if code.String() == "" || !code.IsKnown() {
			t.Errorf("ErrorCode(%d) has no description", i)
		}
	}
	if ErrorCode(13).IsKnown() {
		t.Error("code 13 should be unknown")
	}
}

func TestServerError(t *testing.T) {
	err := fmt.Errorf("read failed: %w", NewServerError(ErrorPermissionDenied, TypeRequestSet))

	if !errors.Is(err, ErrorPermissionDenied) {
		t.Error("errors.Is should match the error code")
	}
	if errors.Is(err, ErrorSilenced) {
		t.Error("errors.Is matched the wrong code")
	}

	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatal("errors.As failed")
	}
	if se.Request != TypeRequestSet {
		t.Errorf("Request = %s", se.Request)
	}
	if got := se.Error(); got != "request_set: Permission denied" {
		t.Errorf("Error() = %q", got)
	}
}

func TestMRCStatus(t *testing.T) {
	if StatusRunning.String() != "running" {
		t.Error(StatusRunning.String())
	}
	if !StatusConnectFailed.IsFailure() || !StatusInitFailed.IsFailure() || StatusRunning.IsFailure() {
		t.Error("IsFailure")
	}
}
