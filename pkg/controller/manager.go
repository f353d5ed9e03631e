package controller

import (
	"sync"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/model"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
)

// Manager keeps the controllers of several MRCs, all driven by one reactor.
// Controllers are keyed by URL; their MRC records live in a shared
// model.Registry.
type Manager struct {
	r        *reactor.Reactor
	defaults Config
	registry *model.Registry

	mu          sync.RWMutex
	controllers map[string]*Controller
	handlers    []func(Event)
}

// NewManager creates a manager. defaults supplies every Config field except
// URL for controllers created by Add.
func NewManager(r *reactor.Reactor, defaults Config) *Manager {
	return &Manager{
		r:           r,
		defaults:    defaults,
		registry:    model.NewRegistry(),
		controllers: make(map[string]*Controller),
	}
}

// Registry returns the registry of MRC records.
func (m *Manager) Registry() *model.Registry {
	return m.registry
}

// OnEvent registers a handler for the events of every controller, current
// and future. Must be called before controllers are added.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Add creates a controller for url using the manager's defaults.
func (m *Manager) Add(url string) (*Controller, error) {
	cfg := m.defaults
	cfg.URL = url
	return m.AddConfig(cfg)
}

// AddConfig creates a controller with an explicit configuration. It fails
// with model.ErrDuplicateMRC if the URL is already managed.
func (m *Manager) AddConfig(cfg Config) (*Controller, error) {
	c, err := New(m.r, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.registry.Add(c.Model()); err != nil {
		return nil, err
	}
	m.controllers[cfg.URL] = c
	for _, h := range m.handlers {
		c.OnEvent(h)
	}
	return c, nil
}

// Remove disconnects and drops the controller for url. Must be called on the
// reactor goroutine.
func (m *Manager) Remove(url string) error {
	m.mu.Lock()
	c, ok := m.controllers[url]
	if ok {
		delete(m.controllers, url)
	}
	m.mu.Unlock()

	if !ok {
		return model.ErrMRCNotFound
	}
	c.Disconnect()
	c.metrics.Forget(url)
	return m.registry.Remove(url)
}

// Get returns the controller for url.
func (m *Manager) Get(url string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[url]
	return c, ok
}

// Controllers returns all controllers ordered by URL.
func (m *Manager) Controllers() []*Controller {
	mrcs := m.registry.MRCs()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Controller, 0, len(mrcs))
	for _, mrc := range mrcs {
		if c, ok := m.controllers[mrc.URL()]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ConnectAll connects every controller. The returned future completes when
// every attempt has finished; inspect the individual futures for errors.
// Must be called on the reactor goroutine.
func (m *Manager) ConnectAll(timeout time.Duration) *future.Future[[]*future.Future[bool]] {
	var fs []*future.Future[bool]
	for _, c := range m.Controllers() {
		fs = append(fs, c.Connect(timeout))
	}
	return future.AllDone(fs...)
}

// DisconnectAll disconnects every controller. Must be called on the reactor
// goroutine.
func (m *Manager) DisconnectAll() *future.Future[[]*future.Future[bool]] {
	var fs []*future.Future[bool]
	for _, c := range m.Controllers() {
		fs = append(fs, c.Disconnect())
	}
	return future.AllDone(fs...)
}
