package model

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Registry errors.
var (
	ErrDuplicateMRC = errors.New("duplicate MRC")
	ErrMRCNotFound  = errors.New("MRC not found")
)

// MRC is a bus controller and the devices found on its buses.
type MRC struct {
	mu sync.RWMutex

	url     string
	devices map[DeviceKey]*Device

	status      wire.MRCStatus
	writeAccess bool
	silenced    bool
}

// NewMRC creates an MRC without devices.
func NewMRC(url string) *MRC {
	return &MRC{
		url:     url,
		devices: make(map[DeviceKey]*Device),
	}
}

// URL returns the connection URL identifying the MRC.
func (m *MRC) URL() string {
	return m.url
}

// AddDevice adds a device. It fails if the key is invalid or already taken;
// the device set is unchanged in that case.
func (m *MRC) AddDevice(d *Device) error {
	if err := d.Key().Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[d.Key()]; exists {
		return ErrDuplicateDevice
	}
	m.devices[d.Key()] = d
	return nil
}

// RemoveDevice removes and returns the device at key.
func (m *MRC) RemoveDevice(key DeviceKey) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[key]
	if !exists {
		return nil, ErrDeviceNotFound
	}
	delete(m.devices, key)
	return d, nil
}

// Device returns the device at key.
func (m *MRC) Device(key DeviceKey) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[key]
	return d, ok
}

// Devices returns all devices ordered by key.
func (m *MRC) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedDevices(m.devices, func(*Device) bool { return true })
}

// DevicesOnBus returns the devices of one bus ordered by address.
func (m *MRC) DevicesOnBus(bus uint8) []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedDevices(m.devices, func(d *Device) bool { return d.Key().Bus == bus })
}

func sortedDevices(all map[DeviceKey]*Device, keep func(*Device) bool) []*Device {
	out := make([]*Device, 0, len(all))
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *Device) int { return a.Key().Compare(b.Key()) })
	return out
}

// DeviceCount returns the number of devices.
func (m *MRC) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// HasAddressConflict reports whether any device has an address conflict.
func (m *MRC) HasAddressConflict() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.AddressConflict() {
			return true
		}
	}
	return false
}

// Status returns the last reported MRC status.
func (m *MRC) Status() wire.MRCStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetStatus stores the MRC status and reports whether it changed.
func (m *MRC) SetStatus(s wire.MRCStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.status != s
	m.status = s
	return changed
}

// WriteAccess reports whether this client holds write access.
func (m *MRC) WriteAccess() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writeAccess
}

// SetWriteAccess stores the write access flag and reports whether it changed.
func (m *MRC) SetWriteAccess(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.writeAccess != v
	m.writeAccess = v
	return changed
}

// Silenced reports whether the MRC is in silent mode.
func (m *MRC) Silenced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.silenced
}

// SetSilenced stores the silent mode flag and reports whether it changed.
func (m *MRC) SetSilenced(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.silenced != v
	m.silenced = v
	return changed
}

// MRCInfo is an immutable copy of an MRC and its devices.
type MRCInfo struct {
	URL             string       `json:"url" cbor:"1,keyasint"`
	Status          string       `json:"status" cbor:"2,keyasint"`
	WriteAccess     bool         `json:"write_access" cbor:"3,keyasint"`
	Silenced        bool         `json:"silenced" cbor:"4,keyasint"`
	AddressConflict bool         `json:"address_conflict,omitempty" cbor:"5,keyasint,omitempty"`
	Devices         []DeviceInfo `json:"devices" cbor:"6,keyasint"`
}

// Snapshot returns a copy of the MRC state.
func (m *MRC) Snapshot() MRCInfo {
	devices := m.Devices()
	info := MRCInfo{
		URL:         m.url,
		Status:      m.Status().String(),
		WriteAccess: m.WriteAccess(),
		Silenced:    m.Silenced(),
		Devices:     make([]DeviceInfo, 0, len(devices)),
	}
	for _, d := range devices {
		di := d.Snapshot()
		info.AddressConflict = info.AddressConflict || di.AddressConflict
		info.Devices = append(info.Devices, di)
	}
	return info
}

// Registry is the set of known MRCs keyed by URL.
type Registry struct {
	mu   sync.RWMutex
	mrcs map[string]*MRC
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mrcs: make(map[string]*MRC)}
}

// Add adds an MRC. It fails if the URL is already registered.
func (r *Registry) Add(m *MRC) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mrcs[m.URL()]; exists {
		return ErrDuplicateMRC
	}
	r.mrcs[m.URL()] = m
	return nil
}

// Remove removes the MRC with the given URL.
func (r *Registry) Remove(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mrcs[url]; !exists {
		return ErrMRCNotFound
	}
	delete(r.mrcs, url)
	return nil
}

// Get returns the MRC with the given URL.
func (r *Registry) Get(url string) (*MRC, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mrcs[url]
	return m, ok
}

// MRCs returns all MRCs ordered by URL.
func (r *Registry) MRCs() []*MRC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MRC, 0, len(r.mrcs))
	for _, m := range r.mrcs {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *MRC) int { return strings.Compare(a.url, b.url) })
	return out
}

// Len returns the number of MRCs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mrcs)
}
