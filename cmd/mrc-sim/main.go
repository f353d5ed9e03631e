// Command mrc-sim runs a simulated MRC server.
//
// The server answers every MRC request from an in-memory device table and
// can announce itself via mDNS so that mrcctl --browse finds it.
//
// Usage:
//
//	mrc-sim [flags]
//
// Flags:
//
//	--listen string          Listen address (default ":23000")
//	--device stringArray     Device as bus:addr:idc[:rc] (repeatable)
//	--advertise              Announce the server via mDNS
//	--name string            Instance name for --advertise (default "mrc-sim")
//	--serial string          Serial number for --advertise
//	--drift duration         Change parameter 0 of every device at this period
//	--log-level string       Log level: debug, info, warn, error (default "info")
//	--protocol-log string    Protocol log file (.mlog, .mlog.zst, .mlog.lz4)
//
// Examples:
//
//	# Two MHV-4 modules on bus 0, announced on the LAN
//	mrc-sim --device 0:1:17 --device 0:2:17:1 --advertise --name crate-sim
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mesycontrol/mrc-go/internal/mrcsim"
	"github.com/mesycontrol/mrc-go/pkg/discovery"
	mrclog "github.com/mesycontrol/mrc-go/pkg/log"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

type options struct {
	listen      string
	devices     []string
	advertise   bool
	name        string
	serial      string
	drift       time.Duration
	logLevel    string
	protocolLog string
}

var opts options

func init() {
	pflag.StringVar(&opts.listen, "listen", ":23000", "Listen address")
	pflag.StringArrayVar(&opts.devices, "device", nil, "Device as bus:addr:idc[:rc] (repeatable)")
	pflag.BoolVar(&opts.advertise, "advertise", false, "Announce the server via mDNS")
	pflag.StringVar(&opts.name, "name", "mrc-sim", "Instance name for --advertise")
	pflag.StringVar(&opts.serial, "serial", "", "Serial number for --advertise")
	pflag.DurationVar(&opts.drift, "drift", 0, "Change parameter 0 of every device at this period (0 = off)")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pflag.StringVar(&opts.protocolLog, "protocol-log", "", "Protocol log file (.mlog, .mlog.zst, .mlog.lz4)")
}

// deviceSpec is a parsed --device value.
type deviceSpec struct {
	bus, addr, idc uint8
	rc             bool
}

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mrc-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := newLogger(opts.logLevel)
	slog.SetDefault(logger)

	devices := make([]deviceSpec, 0, len(opts.devices))
	for _, s := range opts.devices {
		d, err := parseDevice(s)
		if err != nil {
			return err
		}
		devices = append(devices, d)
	}

	var plog mrclog.Logger
	if opts.protocolLog != "" {
		fl, err := mrclog.NewFileLogger(opts.protocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer fl.Close()
		plog = fl
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := mrcsim.New(mrcsim.Config{
		Address:        opts.listen,
		Logger:         logger,
		ProtocolLogger: plog,
	})
	for _, d := range devices {
		sim.SetDevice(d.bus, d.addr, d.idc, d.rc)
		logger.Info("device", "bus", d.bus, "addr", d.addr, "idc", d.idc, "rc", d.rc)
	}
	if err := sim.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("MRC simulator listening", "url", sim.URL(transport.SchemeMC))

	g, ctx := errgroup.WithContext(ctx)

	if opts.advertise {
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: logger})
		err := adv.Advertise(ctx, discovery.Info{
			Name:   opts.name,
			Serial: opts.serial,
			Port:   sim.Addr().Port,
		})
		if err != nil {
			_ = sim.Stop()
			return err
		}
		defer adv.Stop()
	}

	if opts.drift > 0 && len(devices) > 0 {
		g.Go(func() error {
			runDrift(ctx, sim, devices, opts.drift, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return sim.Stop()
	})
	return g.Wait()
}

// runDrift walks parameter 0 of every device through a sawtooth and
// notifies the clients, like a value changed at the front panel.
func runDrift(ctx context.Context, sim *mrcsim.Server, devices []deviceSpec, period time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var step int32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			step = (step + 1) % 100
			for _, d := range devices {
				v := step * 10
				sim.NotifyParam(d.bus, d.addr, 0, v)
				logger.Debug("drift", "bus", d.bus, "addr", d.addr, "value", v)
			}
		}
	}
}

func parseDevice(s string) (deviceSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return deviceSpec{}, fmt.Errorf("device %q: want bus:addr:idc[:rc]", s)
	}
	num := func(i int, max uint64) (uint8, error) {
		v, err := strconv.ParseUint(parts[i], 0, 8)
		if err != nil || v > max {
			return 0, fmt.Errorf("device %q: field %d out of range 0..%d", s, i+1, max)
		}
		return uint8(v), nil
	}

	var d deviceSpec
	var err error
	if d.bus, err = num(0, wire.BusCount-1); err != nil {
		return d, err
	}
	if d.addr, err = num(1, wire.DevicesPerBus-1); err != nil {
		return d, err
	}
	if d.idc, err = num(2, 255); err != nil {
		return d, err
	}
	if d.idc == 0 {
		return d, fmt.Errorf("device %q: idc 0 means no device", s)
	}
	if len(parts) == 4 {
		rc, err := num(3, 1)
		if err != nil {
			return d, err
		}
		d.rc = rc == 1
	}
	return d, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
