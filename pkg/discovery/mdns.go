package discovery

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface. Empty means
	// all interfaces.
	Interface string

	// TTL is the DNS record TTL (default 120s).
	TTL time.Duration

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: 120 * time.Second}
}

// Advertiser announces one MRC server.
type Advertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
	stop   context.CancelFunc
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{config: config, logger: logger}
}

// Advertise registers info and keeps it announced until Stop is called or
// ctx is done. A previous announcement is replaced.
func (a *Advertiser) Advertise(ctx context.Context, info Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	info.applyDefaults()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}
	server, err := zeroconf.Register(
		info.Name,
		ServiceType,
		Domain,
		info.Port,
		TXTRecordsToStrings(EncodeTXT(info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	a.server = server
	a.logger.Info("advertising", "instance", info.Name, "port", info.Port)

	watchCtx, cancel := context.WithCancel(ctx)
	a.stop = cancel
	go func() {
		<-watchCtx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.server == server {
			a.shutdownLocked()
		}
	}()
	return nil
}

// Update replaces the TXT records of the running announcement.
func (a *Advertiser) Update(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return fmt.Errorf("%w: not advertising", ErrMissingRequired)
	}
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	Interface string

	// Timeout bounds Collect (default BrowseTimeout).
	Timeout time.Duration
}

// Browser looks for MRC servers.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout <= 0 {
		config.Timeout = BrowseTimeout
	}
	return &Browser{config: config}
}

// Browse reports each newly seen server until ctx is done, then closes the
// channel. Addresses seen on further interfaces are merged into the
// Service already reported.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)
		agg := newAggregator()
		removedCh := removed
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				svc, isNew := agg.add(fromEntry(e))
				if !isNew {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case e, ok := <-removedCh:
				if !ok {
					removedCh = nil
					continue
				}
				agg.remove(fromEntry(e))
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()
	return out, nil
}

// Collect browses for the configured timeout and returns the servers found,
// ordered by instance name.
func (b *Browser) Collect(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	ch, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var found []*Service
	for svc := range ch {
		found = append(found, svc)
	}
	slices.SortFunc(found, func(a, b *Service) int { return cmp.Compare(a.Instance, b.Instance) })
	return found, nil
}

// record is the part of a zeroconf entry the aggregator needs.
type record struct {
	instance string
	host     string
	port     int
	text     []string
	addrs    []string
}

func fromEntry(e *zeroconf.ServiceEntry) record {
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	for _, ip := range e.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return record{instance: e.Instance, host: e.HostName, port: e.Port, text: e.Text, addrs: addrs}
}

// aggregator merges entries of the same instance seen on several interfaces.
type aggregator struct {
	mu       sync.Mutex
	services map[string]*Service
}

func newAggregator() *aggregator {
	return &aggregator{services: make(map[string]*Service)}
}

// add returns the service for r and whether it was seen for the first time.
// Entries with unusable TXT records are ignored.
func (a *aggregator) add(r record) (*Service, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.services[r.instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, r.addrs)
		return existing, false
	}
	svc, err := DecodeTXT(StringsToTXTRecords(r.text))
	if err != nil {
		return nil, false
	}
	svc.Instance = r.instance
	svc.Host = r.host
	svc.Port = r.port
	svc.Addresses = slices.Clone(r.addrs)
	a.services[r.instance] = svc
	return svc, true
}

// remove drops r's addresses and forgets the service once none remain.
func (a *aggregator) remove(r record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.services[r.instance]
	if !ok {
		return
	}
	existing.Addresses = slices.DeleteFunc(existing.Addresses, func(addr string) bool {
		return slices.Contains(r.addrs, addr)
	})
	if len(existing.Addresses) == 0 {
		delete(a.services, r.instance)
	}
}

// mergeAddresses appends the addresses not yet in existing.
func mergeAddresses(existing, more []string) []string {
	for _, addr := range more {
		if !slices.Contains(existing, addr) {
			existing = append(existing, addr)
		}
	}
	return existing
}

// interfaces returns the named interface, or nil for all interfaces.
func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
