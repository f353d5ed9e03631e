package model

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Device errors.
var (
	ErrInvalidAddress  = errors.New("invalid device address")
	ErrDuplicateDevice = errors.New("duplicate device")
	ErrDeviceNotFound  = errors.New("device not found")
)

// DeviceKey addresses a device on an MRC.
type DeviceKey struct {
	Bus     uint8 `json:"bus" cbor:"1,keyasint"`
	Address uint8 `json:"address" cbor:"2,keyasint"`
}

// Validate checks bus and address ranges.
func (k DeviceKey) Validate() error {
	if k.Bus >= wire.BusCount || k.Address >= wire.DevicesPerBus {
		return fmt.Errorf("%w: bus %d, address %d", ErrInvalidAddress, k.Bus, k.Address)
	}
	return nil
}

// String returns "bus:address".
func (k DeviceKey) String() string {
	return fmt.Sprintf("%d:%d", k.Bus, k.Address)
}

// Compare orders keys by bus, then address.
func (k DeviceKey) Compare(o DeviceKey) int {
	if k.Bus != o.Bus {
		return int(k.Bus) - int(o.Bus)
	}
	return int(k.Address) - int(o.Address)
}

// Device is a hardware module found on a bus.
type Device struct {
	mu sync.RWMutex

	key      DeviceKey
	idc      uint8
	rc       bool
	conflict bool

	// Sparse caches indexed by parameter address.
	params map[uint8]int32
	mirror map[uint8]int32
}

// NewDevice creates a device record.
func NewDevice(key DeviceKey, idc uint8, rc bool) *Device {
	return &Device{
		key:    key,
		idc:    idc,
		rc:     rc,
		params: make(map[uint8]int32),
		mirror: make(map[uint8]int32),
	}
}

// Key returns the device address.
func (d *Device) Key() DeviceKey {
	return d.key
}

// IDC returns the identifier code.
func (d *Device) IDC() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.idc
}

// SetIDC sets the identifier code and reports whether it changed.
// A changed IDC means a different module now sits at this address, so the
// caches are dropped.
func (d *Device) SetIDC(idc uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idc == idc {
		return false
	}
	d.idc = idc
	clear(d.params)
	clear(d.mirror)
	return true
}

// RC returns the remote control flag.
func (d *Device) RC() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rc
}

// SetRC sets the remote control flag and reports whether it changed.
func (d *Device) SetRC(rc bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.rc != rc
	d.rc = rc
	return changed
}

// AddressConflict reports whether several modules answer at this address.
func (d *Device) AddressConflict() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conflict
}

// SetAddressConflict sets the conflict flag and reports whether it changed.
func (d *Device) SetAddressConflict(conflict bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := d.conflict != conflict
	d.conflict = conflict
	return changed
}

// Param returns the cached value of a parameter.
func (d *Device) Param(addr uint8) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.params[addr]
	return v, ok
}

// Params returns a copy of the parameter cache.
func (d *Device) Params() map[uint8]int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.params)
}

// UpdateParam stores a parameter value and reports whether it differs from
// the previously cached value. The first value for an address counts as a
// change.
func (d *Device) UpdateParam(addr uint8, value int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d.params, addr, value)
}

// Mirror returns the cached mirror value of a parameter.
func (d *Device) Mirror(addr uint8) (int32, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.mirror[addr]
	return v, ok
}

// UpdateMirror stores a mirror value and reports whether it changed.
func (d *Device) UpdateMirror(addr uint8, value int32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d.mirror, addr, value)
}

func update(cache map[uint8]int32, addr uint8, value int32) bool {
	old, ok := cache[addr]
	cache[addr] = value
	return !ok || old != value
}

// DeviceInfo is an immutable copy of a device record.
type DeviceInfo struct {
	Key             DeviceKey       `json:"key" cbor:"1,keyasint"`
	IDC             uint8           `json:"idc" cbor:"2,keyasint"`
	RC              bool            `json:"rc" cbor:"3,keyasint"`
	AddressConflict bool            `json:"address_conflict,omitempty" cbor:"4,keyasint,omitempty"`
	Params          map[uint8]int32 `json:"params,omitempty" cbor:"5,keyasint,omitempty"`
	Mirror          map[uint8]int32 `json:"mirror,omitempty" cbor:"6,keyasint,omitempty"`
}

// Snapshot returns a copy of the device record.
func (d *Device) Snapshot() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DeviceInfo{
		Key:             d.key,
		IDC:             d.idc,
		RC:              d.rc,
		AddressConflict: d.conflict,
		Params:          maps.Clone(d.params),
		Mirror:          maps.Clone(d.mirror),
	}
}
