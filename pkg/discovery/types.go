// Package discovery finds MRC servers on the local network with mDNS/DNS-SD.
//
// A server advertises the service type _mesycontrol._tcp in the local
// domain. The instance name is the user-visible server name; TXT records
// carry:
//
//	name    server name
//	serial  MRC serial number (optional)
//	buses   number of buses, normally 2
//	scheme  URL scheme clients should use, "mc" or "tcp"
//
// Browsing aggregates the addresses a service is reachable on across
// interfaces and reports each instance once.
package discovery

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Service constants.
const (
	ServiceType = "_mesycontrol._tcp"
	Domain      = "local."

	// MaxInstanceNameLen is the DNS-SD limit for instance labels.
	MaxInstanceNameLen = 63

	// BrowseTimeout is the default duration of a one-shot browse.
	BrowseTimeout = 3 * time.Second
)

// TXT record keys.
const (
	TXTKeyName   = "name"
	TXTKeySerial = "serial"
	TXTKeyBuses  = "buses"
	TXTKeyScheme = "scheme"
)

// Discovery errors.
var (
	ErrMissingRequired = errors.New("missing required field")
	ErrInvalidTXT      = errors.New("invalid TXT record")
	ErrInvalidName     = errors.New("invalid instance name")
)

// Info describes an advertised server.
type Info struct {
	// Name is the instance name and the TXT name.
	Name string

	Serial string

	// Port is the server's TCP port (default transport.DefaultPort).
	Port int

	// Buses defaults to wire.BusCount.
	Buses int

	// Scheme defaults to transport.SchemeMC.
	Scheme string
}

func (i *Info) applyDefaults() {
	if i.Port == 0 {
		i.Port = transport.DefaultPort
	}
	if i.Buses == 0 {
		i.Buses = wire.BusCount
	}
	if i.Scheme == "" {
		i.Scheme = transport.SchemeMC
	}
}

// Validate checks the fields needed to advertise.
func (i *Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingRequired)
	}
	if len(i.Name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInvalidName, len(i.Name), MaxInstanceNameLen)
	}
	if i.Scheme != "" && i.Scheme != transport.SchemeMC && i.Scheme != transport.SchemeTCP {
		return fmt.Errorf("%w: scheme %q", ErrInvalidTXT, i.Scheme)
	}
	return nil
}

// Service is a discovered server.
type Service struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string

	Name   string
	Serial string
	Buses  int
	Scheme string
}

// URL returns the MRC URL for the service. The first address is preferred
// over the host name.
func (s *Service) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	scheme := s.Scheme
	if scheme == "" {
		scheme = transport.SchemeMC
	}
	return transport.Endpoint{Scheme: scheme, Host: host, Port: s.Port}.String()
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for info.
func EncodeTXT(info Info) TXTRecordMap {
	info.applyDefaults()
	txt := TXTRecordMap{
		TXTKeyName:   info.Name,
		TXTKeyBuses:  strconv.Itoa(info.Buses),
		TXTKeyScheme: info.Scheme,
	}
	if info.Serial != "" {
		txt[TXTKeySerial] = info.Serial
	}
	return txt
}

// DecodeTXT parses TXT records into the descriptive fields of a Service.
func DecodeTXT(txt TXTRecordMap) (*Service, error) {
	name, ok := txt[TXTKeyName]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}
	svc := &Service{Name: name, Serial: txt[TXTKeySerial], Buses: wire.BusCount, Scheme: transport.SchemeMC}

	if s, ok := txt[TXTKeyBuses]; ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > wire.BusCount {
			return nil, fmt.Errorf("%w: buses=%q", ErrInvalidTXT, s)
		}
		svc.Buses = n
	}
	if s, ok := txt[TXTKeyScheme]; ok {
		if s != transport.SchemeMC && s != transport.SchemeTCP {
			return nil, fmt.Errorf("%w: scheme=%q", ErrInvalidTXT, s)
		}
		svc.Scheme = s
	}
	return svc, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings, sorted
// by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
