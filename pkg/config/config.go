// Package config loads the MRC connection configuration used by mrcctl.
//
// Files are YAML (.yaml, .yml) or JSON with comments (.json, .jsonc):
//
//	defaults:
//	  scanbus_interval: 5s
//	  poll_interval: 500      # milliseconds
//	  auto_reconnect: true
//	mrcs:
//	  - url: mc://mrc-server:23000
//	    name: crate-1
//	    connect: true
//	    poll:
//	      - {bus: 0, device: 3, from: 0, to: 15}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mesycontrol/mrc-go/pkg/connection"
	"github.com/mesycontrol/mrc-go/pkg/controller"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// Configuration errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalid           = errors.New("invalid config")
)

// Format selects the file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatJSONC
)

// FormatOf returns the format for a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSONC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Config is the top-level configuration.
type Config struct {
	LogLevel    string   `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	ProtocolLog string   `yaml:"protocol_log,omitempty" json:"protocol_log,omitempty"`
	MetricsAddr string   `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	Defaults    Defaults `yaml:"defaults" json:"defaults"`
	MRCs        []MRC    `yaml:"mrcs" json:"mrcs"`
}

// Defaults apply to every MRC unless overridden.
type Defaults struct {
	ScanbusInterval Duration `yaml:"scanbus_interval,omitempty" json:"scanbus_interval,omitempty"`
	PollInterval    Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	ConnectTimeout  Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	AutoReconnect   bool     `yaml:"auto_reconnect" json:"auto_reconnect"`
	Backoff         Backoff  `yaml:"backoff" json:"backoff"`
}

// Backoff configures reconnect delays.
type Backoff struct {
	Initial    Duration `yaml:"initial,omitempty" json:"initial,omitempty"`
	Max        Duration `yaml:"max,omitempty" json:"max,omitempty"`
	Multiplier float64  `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	Jitter     float64  `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// MRC configures one connection.
type MRC struct {
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Connect makes mrcctl connect on startup.
	Connect bool `yaml:"connect,omitempty" json:"connect,omitempty"`

	// Overrides of Defaults; zero means inherit.
	ScanbusInterval Duration `yaml:"scanbus_interval,omitempty" json:"scanbus_interval,omitempty"`
	PollInterval    Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	ConnectTimeout  Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	AutoReconnect   *bool    `yaml:"auto_reconnect,omitempty" json:"auto_reconnect,omitempty"`

	Poll []PollRange `yaml:"poll,omitempty" json:"poll,omitempty"`
}

// PollRange selects parameters From..To of one device for polling.
type PollRange struct {
	Bus    uint8 `yaml:"bus" json:"bus"`
	Device uint8 `yaml:"device" json:"device"`
	From   uint8 `yaml:"from" json:"from"`
	To     uint8 `yaml:"to" json:"to"`
}

// Load reads and parses a configuration file. Defaults are applied but the
// result is not validated.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format and applies defaults.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		return nil, ErrUnsupportedFormat
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset defaults.
func (c *Config) ApplyDefaults() {
	d := &c.Defaults
	if d.ScanbusInterval <= 0 {
		d.ScanbusInterval = Duration(controller.DefaultScanbusInterval)
	}
	if d.PollInterval <= 0 {
		d.PollInterval = Duration(controller.DefaultPollInterval)
	}
	if d.ConnectTimeout <= 0 {
		d.ConnectTimeout = Duration(controller.DefaultConnectTimeout)
	}
	if d.Backoff.Initial <= 0 {
		d.Backoff.Initial = Duration(connection.DefaultInitial)
	}
	if d.Backoff.Max <= 0 {
		d.Backoff.Max = Duration(connection.DefaultMax)
	}
	if d.Backoff.Multiplier <= 1 {
		d.Backoff.Multiplier = connection.DefaultMultiplier
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every problem found, joined into one error wrapping
// ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Defaults.Backoff.Max < c.Defaults.Backoff.Initial {
		fail("backoff max %v below initial %v", c.Defaults.Backoff.Max, c.Defaults.Backoff.Initial)
	}

	seen := make(map[string]int)
	for i, m := range c.MRCs {
		ep, err := transport.ParseURL(m.URL)
		if err != nil {
			fail("mrcs[%d]: %v", i, err)
			continue
		}
		key := ep.String()
		if j, dup := seen[key]; dup {
			fail("mrcs[%d]: url %s duplicates mrcs[%d]", i, key, j)
		} else {
			seen[key] = i
		}
		for k, p := range m.Poll {
			if err := p.validate(); err != nil {
				fail("mrcs[%d].poll[%d]: %v", i, k, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (p PollRange) validate() error {
	if p.Bus >= wire.BusCount {
		return fmt.Errorf("bus %d out of range", p.Bus)
	}
	if p.Device >= wire.DevicesPerBus {
		return fmt.Errorf("device %d out of range", p.Device)
	}
	if p.From > p.To {
		return fmt.Errorf("parameter range %d..%d is reversed", p.From, p.To)
	}
	return nil
}

// Controller returns the controller configuration for m. base supplies the
// fields the file does not cover (logger, metrics, transport).
func (c *Config) Controller(m MRC, base controller.Config) controller.Config {
	d := c.Defaults
	out := base
	out.URL = m.URL
	out.ScanbusInterval = pick(m.ScanbusInterval, d.ScanbusInterval).Std()
	out.PollInterval = pick(m.PollInterval, d.PollInterval).Std()
	out.ConnectTimeout = pick(m.ConnectTimeout, d.ConnectTimeout).Std()
	out.AutoReconnect = d.AutoReconnect
	if m.AutoReconnect != nil {
		out.AutoReconnect = *m.AutoReconnect
	}
	out.Backoff = connection.BackoffConfig{
		Initial:    d.Backoff.Initial.Std(),
		Max:        d.Backoff.Max.Std(),
		Multiplier: d.Backoff.Multiplier,
		Jitter:     d.Backoff.Jitter,
	}
	return out
}

// PollItems converts the poll ranges of m.
func (m MRC) PollItems() []controller.PollItem {
	items := make([]controller.PollItem, 0, len(m.Poll))
	for _, p := range m.Poll {
		items = append(items, controller.PollItem{Bus: p.Bus, Device: p.Device, From: p.From, To: p.To})
	}
	return items
}

func pick(override, def Duration) Duration {
	if override > 0 {
		return override
	}
	return def
}
