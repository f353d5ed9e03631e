// Command mrcctl connects to one or more MRC servers, keeps their device
// tables in sync and optionally offers an interactive shell.
//
// Usage:
//
//	mrcctl [flags]
//
// Flags:
//
//	--config string            Configuration file (.yaml, .yml, .json, .jsonc)
//	--url stringArray          MRC URL to connect to (repeatable)
//	--log-level string         Log level: debug, info, warn, error
//	--protocol-log string      Protocol log file (.mlog, .mlog.zst, .mlog.lz4)
//	--metrics-addr string      Serve Prometheus metrics on this address
//	--interactive              Start the interactive shell
//	--browse                   Connect to every MRC server found via mDNS
//	--connect-timeout duration Connect timeout
//
// Examples:
//
//	# Connect to a server and open the shell
//	mrcctl --url mc://mrc-server:23000 --interactive
//
//	# Run headless from a config file, exposing metrics
//	mrcctl --config crates.yaml --metrics-addr :9101 --protocol-log mrc.mlog.zst
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mesycontrol/mrc-go/cmd/mrcctl/interactive"
	"github.com/mesycontrol/mrc-go/pkg/config"
	"github.com/mesycontrol/mrc-go/pkg/controller"
	"github.com/mesycontrol/mrc-go/pkg/discovery"
	"github.com/mesycontrol/mrc-go/pkg/future"
	mrclog "github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/metrics"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/transport"
)

// configSubscriber is the poll subscriber for items from the config file.
const configSubscriber = "config"

type options struct {
	configFile     string
	urls           []string
	logLevel       string
	protocolLog    string
	metricsAddr    string
	interactive    bool
	browse         bool
	connectTimeout time.Duration
}

var opts options

func init() {
	pflag.StringVar(&opts.configFile, "config", "", "Configuration file (.yaml, .yml, .json, .jsonc)")
	pflag.StringArrayVar(&opts.urls, "url", nil, "MRC URL to connect to (repeatable)")
	pflag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config, else info)")
	pflag.StringVar(&opts.protocolLog, "protocol-log", "", "Protocol log file (.mlog, .mlog.zst, .mlog.lz4)")
	pflag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	pflag.BoolVarP(&opts.interactive, "interactive", "i", false, "Start the interactive shell")
	pflag.BoolVar(&opts.browse, "browse", false, "Connect to every MRC server found via mDNS")
	pflag.DurationVar(&opts.connectTimeout, "connect-timeout", 0, "Connect timeout (default from config, else 10s)")
}

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mrcctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rl *readline.Instance
	var logOut io.Writer = os.Stderr
	if opts.interactive {
		if rl, err = interactive.NewTerminal(); err != nil {
			return err
		}
		logOut = rl.Stdout()
	}
	logger := newLogger(cfg.LogLevel, logOut)
	slog.SetDefault(logger)

	var plog mrclog.Logger
	if cfg.ProtocolLog != "" {
		fl, err := mrclog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		plog = fl
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	r := reactor.New(reactor.WithLogger(logger))
	base := controller.Config{
		Transport: transport.Config{ProtocolLogger: plog},
		Logger:    logger,
		Metrics:   m,
	}
	mgr := controller.NewManager(r, base)

	var shell *interactive.Shell
	if rl != nil {
		shell = interactive.New(interactive.Config{
			Reactor:        r,
			Manager:        mgr,
			Browser:        discovery.NewBrowser(discovery.BrowserConfig{}),
			ConnectTimeout: cfg.Defaults.ConnectTimeout.Std(),
		}, rl)
	}
	mgr.OnEvent(eventLogger(logger))

	if opts.browse {
		if err := addBrowsed(ctx, cfg, logger); err != nil {
			return err
		}
	}

	// The reactor outlives ctx so that controllers can disconnect cleanly.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.Run(loopCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if err := waitRunning(ctx, r); err != nil {
		return err
	}

	var addErr error
	if err := r.Call(ctx, func() { addErr = addControllers(mgr, cfg, base, shell) }); err != nil {
		return err
	}
	if addErr != nil {
		return addErr
	}

	if m != nil {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	shellDone := make(chan struct{})
	if shell != nil {
		go func() {
			defer close(shellDone)
			shell.Run(ctx)
		}()
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-shellDone:
		}
		logger.Info("shutting down")
		disconnectAll(r, mgr, logger)
		stopLoop()
		cancel()
		return nil
	})

	return g.Wait()
}

// loadConfig merges the config file with the command line.
func loadConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyDefaults()
	}

	for _, u := range opts.urls {
		cfg.MRCs = append(cfg.MRCs, config.MRC{URL: u, Connect: true})
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.protocolLog != "" {
		cfg.ProtocolLog = opts.protocolLog
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if opts.connectTimeout > 0 {
		cfg.Defaults.ConnectTimeout = config.Duration(opts.connectTimeout)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addBrowsed appends every server found on the network to cfg.
func addBrowsed(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("browsing for MRC servers", "timeout", discovery.BrowseTimeout)
	found, err := discovery.NewBrowser(discovery.BrowserConfig{}).Collect(ctx)
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}
	known := make(map[string]bool)
	for _, m := range cfg.MRCs {
		if ep, err := transport.ParseURL(m.URL); err == nil {
			known[ep.String()] = true
		}
	}
	for _, svc := range found {
		url := svc.URL()
		if known[url] {
			continue
		}
		known[url] = true
		logger.Info("found MRC server", "name", svc.Name, "url", url)
		cfg.MRCs = append(cfg.MRCs, config.MRC{URL: url, Name: svc.Name, Connect: true})
	}
	return nil
}

// addControllers creates a controller per configured MRC and connects the
// ones marked for it. Runs on the reactor.
func addControllers(mgr *controller.Manager, cfg *config.Config, base controller.Config, shell *interactive.Shell) error {
	for _, mc := range cfg.MRCs {
		c, err := mgr.AddConfig(cfg.Controller(mc, base))
		if err != nil {
			return err
		}
		if err := c.AddPollItems(configSubscriber, mc.PollItems()...); err != nil {
			return err
		}
		if shell != nil {
			shell.Select(c.URL())
		}
		if mc.Connect {
			f := c.Connect(0)
			f.AddDoneCallback(func(f *future.Future[bool]) {
				if err := f.Err(); err != nil {
					base.Logger.Warn("connect failed", "url", c.URL(), "error", err)
				}
			})
		}
	}
	return nil
}

// disconnectAll disconnects every controller and waits briefly for the
// sockets to close.
func disconnectAll(r *reactor.Reactor, mgr *controller.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var done *future.Future[[]*future.Future[bool]]
	if err := r.Call(ctx, func() { done = mgr.DisconnectAll() }); err != nil {
		logger.Warn("disconnect", "error", err)
		return
	}
	if _, err := done.Wait(ctx); err != nil {
		logger.Warn("disconnect", "error", err)
	}
}

func waitRunning(ctx context.Context, r *reactor.Reactor) error {
	for !r.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// eventLogger logs controller events. Parameter traffic is logged at debug
// level only.
func eventLogger(logger *slog.Logger) func(controller.Event) {
	return func(ev controller.Event) {
		attrs := []any{"url", ev.URL}
		if ev.Device != nil {
			attrs = append(attrs, "bus", ev.Device.Key.Bus, "dev", ev.Device.Key.Address)
		}
		switch ev.Type {
		case controller.EventMessageReceived:
			return
		case controller.EventParameterChanged, controller.EventMirrorChanged:
			logger.Debug(ev.Type.String(), append(attrs, "param", ev.Address, "value", ev.Value)...)
		case controller.EventError, controller.EventDisconnected:
			if ev.Err != nil {
				attrs = append(attrs, "error", ev.Err)
			}
			logger.Warn(ev.Type.String(), attrs...)
		case controller.EventDeviceAdded, controller.EventDeviceUpdated:
			logger.Info(ev.Type.String(), append(attrs, "idc", ev.Device.IDC, "rc", ev.Device.RC)...)
		case controller.EventConflictChanged, controller.EventWriteAccessChanged, controller.EventSilentModeChanged:
			logger.Info(ev.Type.String(), append(attrs, "value", ev.Flag)...)
		case controller.EventStatusChanged:
			logger.Info(ev.Type.String(), append(attrs, "status", ev.Status)...)
		case controller.EventReconnectScheduled:
			logger.Info(ev.Type.String(), append(attrs, "attempt", ev.Attempt, "delay", ev.Delay)...)
		default:
			logger.Info(ev.Type.String(), attrs...)
		}
	}
}
