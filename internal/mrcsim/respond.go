package mrcsim

import (
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

func errorResponse(code wire.ErrorCode) wire.Message {
	return &wire.ErrorResponse{Code: code}
}

func boolResponse(v bool) wire.Message {
	return &wire.BoolResponse{Value: v}
}

// respond computes the simulated response. Called with s.mu held.
func (s *Server) respond(c *transport.ServerConn, msg wire.Message) wire.Message {
	if needsBus(msg) && s.silent {
		return errorResponse(wire.ErrorSilenced)
	}
	if needsWriteAccess(msg) && s.writer != c {
		return errorResponse(wire.ErrorPermissionDenied)
	}

	switch m := msg.(type) {
	case *wire.ScanbusRequest:
		return &wire.ScanbusResponse{ScanbusResult: s.scanbus(m.Bus)}

	case *wire.ReadRequest:
		d := s.device(m.Addr)
		if d == nil {
			return errorResponse(wire.ErrorNoResponse)
		}
		return &wire.ReadResponse{Addr: m.Addr, Value: d.params[m.Param]}

	case *wire.SetRequest:
		d := s.device(m.Addr)
		if d == nil {
			return errorResponse(wire.ErrorNoResponse)
		}
		d.params[m.Param] = m.Value
		s.srv.Broadcast(&wire.SetNotification{Addr: m.Addr, Value: m.Value}, c)
		return &wire.SetResponse{Addr: m.Addr, Value: m.Value}

	case *wire.ReadMirrorRequest:
		d := s.device(m.Addr)
		if d == nil {
			return errorResponse(wire.ErrorNoResponse)
		}
		return &wire.ReadMirrorResponse{Addr: m.Addr, Value: d.mirror[m.Param]}

	case *wire.SetMirrorRequest:
		d := s.device(m.Addr)
		if d == nil {
			return errorResponse(wire.ErrorNoResponse)
		}
		d.mirror[m.Param] = m.Value
		return &wire.SetMirrorResponse{Addr: m.Addr, Value: m.Value}

	case *wire.RCOnRequest:
		return s.setRC(m.Bus, m.Device, 1)

	case *wire.RCOffRequest:
		return s.setRC(m.Bus, m.Device, 0)

	case *wire.ResetRequest, *wire.CopyRequest:
		return boolResponse(true)

	case *wire.HasWriteAccessRequest:
		return boolResponse(s.writer == c)

	case *wire.AcquireWriteAccessRequest:
		if s.writer != nil && s.writer != c {
			return boolResponse(false)
		}
		s.writer = c
		return boolResponse(true)

	case *wire.ForceWriteAccessRequest:
		if prev := s.writer; prev != nil && prev != c {
			_ = prev.Send(&wire.WriteAccessNotification{HasAccess: false})
		}
		s.writer = c
		return boolResponse(true)

	case *wire.ReleaseWriteAccessRequest:
		if s.writer != c {
			return boolResponse(false)
		}
		s.writer = nil
		return boolResponse(true)

	case *wire.InSilentModeRequest:
		return boolResponse(s.silent)

	case *wire.SetSilentModeRequest:
		s.silent = m.Silent
		s.srv.Broadcast(&wire.SilentModeNotification{Silent: m.Silent}, c)
		return boolResponse(true)

	case *wire.MRCStatusRequest:
		return &wire.MRCStatusResponse{Status: s.status}
	}

	return errorResponse(wire.ErrorInvalidType)
}

func (s *Server) scanbus(bus uint8) wire.ScanbusResult {
	res := wire.ScanbusResult{Bus: bus}
	for i, d := range s.buses[bus] {
		res.Entries[i] = wire.BusEntry{IDC: d.idc, RC: d.rc}
	}
	return res
}

// device returns the device at a, nil if the address is empty.
func (s *Server) device(a wire.Addr) *device {
	d := &s.buses[a.Bus][a.Device]
	if d.idc == 0 {
		return nil
	}
	return d
}

func (s *Server) setRC(bus, dev uint8, rc uint8) wire.Message {
	d := s.device(wire.Addr{Bus: bus, Device: dev})
	if d == nil {
		return errorResponse(wire.ErrorNoResponse)
	}
	if d.rc > 1 {
		return errorResponse(wire.ErrorAddressConflict)
	}
	d.rc = rc
	return boolResponse(true)
}

// needsBus reports whether a request talks to the devices.
func needsBus(msg wire.Message) bool {
	switch msg.(type) {
	case *wire.ScanbusRequest, *wire.ReadRequest, *wire.SetRequest,
		*wire.ReadMirrorRequest, *wire.SetMirrorRequest,
		*wire.RCOnRequest, *wire.RCOffRequest:
		return true
	}
	return false
}

// needsWriteAccess reports whether a request modifies the MRC.
func needsWriteAccess(msg wire.Message) bool {
	switch msg.(type) {
	case *wire.SetRequest, *wire.SetMirrorRequest,
		*wire.RCOnRequest, *wire.RCOffRequest,
		*wire.ResetRequest, *wire.CopyRequest, *wire.SetSilentModeRequest:
		return true
	}
	return false
}
