// Package interactive provides the interactive command-line interface of
// mrcctl.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/mesycontrol/mrc-go/pkg/command"
	"github.com/mesycontrol/mrc-go/pkg/controller"
	"github.com/mesycontrol/mrc-go/pkg/discovery"
	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
	"github.com/mesycontrol/mrc-go/pkg/transport"
	"github.com/mesycontrol/mrc-go/pkg/wire"
)

// DefaultTimeout bounds every shell command.
const DefaultTimeout = 15 * time.Second

// pollSubscriber is the poll subscriber name used by the shell.
const pollSubscriber = "shell"

var errNoTarget = errors.New("no MRC selected (use 'connect <url>' or 'use <url>')")

// Config configures a Shell.
type Config struct {
	Reactor *reactor.Reactor
	Manager *controller.Manager

	// Browser enables the discover command (optional).
	Browser *discovery.Browser

	// ConnectTimeout is passed to Connect (0 = controller default).
	ConnectTimeout time.Duration

	// Timeout bounds each command (default DefaultTimeout).
	Timeout time.Duration
}

// Shell executes mrcctl commands against the controllers of a manager.
type Shell struct {
	cfg Config
	out io.Writer
	rl  *readline.Instance

	mu     sync.Mutex
	target string
}

// NewTerminal opens the readline terminal a Shell reads from. Create it
// before the logger so that log output can go through rl.Stdout().
func NewTerminal() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mrc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return rl, nil
}

// New creates a shell reading from rl.
func New(cfg Config, rl *readline.Instance) *Shell {
	s := NewWithOutput(cfg, rl.Stdout())
	s.rl = rl
	return s
}

// NewWithOutput creates a shell without a terminal. Commands are fed with
// Execute and print to out.
func NewWithOutput(cfg Config, out io.Writer) *Shell {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if out == nil {
		out = os.Stdout
	}
	return &Shell{cfg: cfg, out: out}
}

// Stdout returns a writer that coordinates with the readline prompt. Use it
// for log output while the shell runs.
func (s *Shell) Stdout() io.Writer {
	if s.rl != nil {
		return s.rl.Stdout()
	}
	return s.out
}

// Select makes url the target of subsequent commands.
func (s *Shell) Select(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = url
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	if s.rl == nil {
		return
	}
	defer s.rl.Close()

	go func() {
		<-ctx.Done()
		s.rl.Close()
	}()

	s.printHelp()
	for ctx.Err() == nil {
		line, err := s.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		if s.Execute(ctx, line) {
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "connect":
		err = s.cmdConnect(ctx, args)
	case "disconnect":
		err = s.cmdDisconnect(ctx, args)
	case "use":
		err = s.cmdUse(args)
	case "list", "ls":
		s.cmdList()
	case "discover":
		err = s.cmdDiscover(ctx)
	case "scan":
		err = s.cmdScan(ctx, args)
	case "devices":
		err = s.cmdDevices()
	case "read", "r":
		err = s.cmdRead(ctx, args)
	case "set", "w":
		err = s.cmdSet(ctx, args)
	case "rc":
		err = s.cmdRC(ctx, args)
	case "poll":
		err = s.cmdPoll(ctx, args)
	case "unpoll":
		err = s.cmdUnpoll(ctx)
	case "access":
		err = s.cmdAccess(ctx, args)
	case "silent":
		err = s.cmdSilent(ctx, args)
	case "status":
		err = s.cmdStatus(ctx)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
MRC Commands:
  Connections:
    connect <url>                      - Connect to an MRC and select it
    disconnect [url]                   - Disconnect an MRC
    use <url>                          - Select the MRC for the commands below
    list                               - List MRCs and connection states
    discover                           - Browse the network for MRC servers

  Devices:
    scan [bus]                         - Scan one or both buses
    devices                            - List devices of the selected MRC
    read <bus> <dev> <param> [to]      - Read a parameter or a range
    set <bus> <dev> <param> <value>    - Write a parameter
    rc <bus> <dev> on|off              - Switch remote control
    poll <bus> <dev> <from> [to]       - Poll parameters periodically
    unpoll                             - Stop polling

  MRC:
    access acquire|force|release       - Manage write access
    silent on|off                      - Set silent mode
    status                             - Show status of the selected MRC

  General:
    help                               - Show this help
    quit                               - Exit`)
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("connect"),
		readline.PcItem("disconnect"),
		readline.PcItem("use"),
		readline.PcItem("list"),
		readline.PcItem("discover"),
		readline.PcItem("scan"),
		readline.PcItem("devices"),
		readline.PcItem("read"),
		readline.PcItem("set"),
		readline.PcItem("rc", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("poll"),
		readline.PcItem("unpoll"),
		readline.PcItem("access", readline.PcItem("acquire"), readline.PcItem("force"), readline.PcItem("release")),
		readline.PcItem("silent", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// onLoop runs fn on the reactor.
func (s *Shell) onLoop(ctx context.Context, fn func()) error {
	return s.cfg.Reactor.Call(ctx, fn)
}

// await starts an operation on the reactor and waits for its future.
func await[T any](ctx context.Context, s *Shell, start func() *future.Future[T]) (T, error) {
	var f *future.Future[T]
	if err := s.onLoop(ctx, func() { f = start() }); err != nil {
		var zero T
		return zero, err
	}
	return f.Wait(ctx)
}

// runCommand starts cmd on the reactor and waits until it stopped.
func (s *Shell) runCommand(ctx context.Context, cmd command.Command) (any, error) {
	stopped := make(chan struct{})
	var startErr error
	err := s.onLoop(ctx, func() {
		cmd.OnStopped(func() { close(stopped) })
		startErr = cmd.Start()
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		_ = s.onLoop(context.Background(), cmd.Stop)
		return nil, ctx.Err()
	}

	var (
		res    any
		resErr error
	)
	if err := s.onLoop(ctx, func() { res, resErr = cmd.Result() }); err != nil {
		return nil, err
	}
	return res, resErr
}

func (s *Shell) current() (*controller.Controller, error) {
	s.mu.Lock()
	url := s.target
	s.mu.Unlock()
	if url == "" {
		return nil, errNoTarget
	}
	c, ok := s.cfg.Manager.Get(url)
	if !ok {
		return nil, fmt.Errorf("%s is not managed", url)
	}
	return c, nil
}

// controllerFor returns the controller for url, creating it if needed.
func (s *Shell) controllerFor(ctx context.Context, url string) (*controller.Controller, error) {
	ep, err := transport.ParseURL(url)
	if err != nil {
		return nil, err
	}
	for _, c := range s.cfg.Manager.Controllers() {
		if other, err := transport.ParseURL(c.URL()); err == nil && other == ep {
			return c, nil
		}
	}
	var (
		c      *controller.Controller
		addErr error
	)
	if err := s.onLoop(ctx, func() { c, addErr = s.cfg.Manager.Add(url) }); err != nil {
		return nil, err
	}
	return c, addErr
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: connect <url>")
	}
	c, err := s.controllerFor(ctx, args[0])
	if err != nil {
		return err
	}
	s.Select(c.URL())
	fmt.Fprintf(s.out, "Connecting to %s...\n", c.URL())
	if _, err := s.runCommand(ctx, command.Connect(s.cfg.Reactor, c, s.cfg.ConnectTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Connected to %s\n", c.URL())
	return nil
}

func (s *Shell) cmdDisconnect(ctx context.Context, args []string) error {
	var (
		c   *controller.Controller
		err error
	)
	if len(args) > 0 {
		var ok bool
		if c, ok = s.cfg.Manager.Get(args[0]); !ok {
			return fmt.Errorf("%s is not managed", args[0])
		}
	} else if c, err = s.current(); err != nil {
		return err
	}
	if _, err := await(ctx, s, c.Disconnect); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Disconnected from %s\n", c.URL())
	return nil
}

func (s *Shell) cmdUse(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: use <url>")
	}
	if _, ok := s.cfg.Manager.Get(args[0]); !ok {
		return fmt.Errorf("%s is not managed", args[0])
	}
	s.Select(args[0])
	return nil
}

func (s *Shell) cmdList() {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()

	cs := s.cfg.Manager.Controllers()
	if len(cs) == 0 {
		fmt.Fprintln(s.out, "No MRCs")
		return
	}
	for _, c := range cs {
		mark := " "
		if c.URL() == target {
			mark = "*"
		}
		fmt.Fprintf(s.out, "%s %-32s %s\n", mark, c.URL(), c.State())
	}
}

func (s *Shell) cmdDiscover(ctx context.Context) error {
	if s.cfg.Browser == nil {
		return errors.New("discovery is not available")
	}
	fmt.Fprintln(s.out, "Browsing for MRC servers...")
	found, err := s.cfg.Browser.Collect(ctx)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(s.out, "No MRC servers found")
		return nil
	}
	for i, svc := range found {
		fmt.Fprintf(s.out, "  %d. %s  %s", i+1, svc.Name, svc.URL())
		if svc.Serial != "" {
			fmt.Fprintf(s.out, "  serial %s", svc.Serial)
		}
		fmt.Fprintln(s.out)
	}
	return nil
}

func (s *Shell) cmdScan(ctx context.Context, args []string) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	buses := []uint8{0, 1}
	if len(args) > 0 {
		bus, err := parseUint8(args[0], "bus", wire.BusCount-1)
		if err != nil {
			return err
		}
		buses = []uint8{bus}
	}

	group := command.NewParallel(s.cfg.Reactor, "scan")
	for _, bus := range buses {
		group.Add(command.Scanbus(s.cfg.Reactor, c, bus))
	}
	res, err := s.runCommand(ctx, group)
	if err != nil {
		return err
	}
	for _, o := range res.([]command.Outcome) {
		sr := o.Result.(wire.ScanbusResult)
		fmt.Fprintf(s.out, "Bus %d:\n", sr.Bus)
		for addr, e := range sr.Entries {
			if !e.Present() {
				continue
			}
			fmt.Fprintf(s.out, "  %2d  idc=%-3d rc=%-5t%s\n", addr, e.IDC, e.RCOn(), conflictMark(e.Conflict()))
		}
	}
	return nil
}

func (s *Shell) cmdDevices() error {
	c, err := s.current()
	if err != nil {
		return err
	}
	devices := c.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No devices (try 'scan')")
		return nil
	}
	fmt.Fprintf(s.out, "Devices of %s (%d):\n", c.URL(), len(devices))
	for _, d := range devices {
		fmt.Fprintf(s.out, "  %d:%-2d idc=%-3d rc=%-5t params=%d%s\n",
			d.Key.Bus, d.Key.Address, d.IDC, d.RC, len(d.Params), conflictMark(d.AddressConflict))
	}
	return nil
}

func (s *Shell) cmdRead(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: read <bus> <dev> <param> [to]")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	bus, dev, param, err := parseAddr(args)
	if err != nil {
		return err
	}
	to := param
	if len(args) == 4 {
		if to, err = parseUint8(args[3], "param", 255); err != nil {
			return err
		}
	}

	res, err := s.runCommand(ctx, command.ReadRange(s.cfg.Reactor, c, bus, dev, param, to))
	for _, o := range outcomes(res) {
		if o.Err != nil {
			continue
		}
		r := o.Result.(controller.ReadResult)
		fmt.Fprintf(s.out, "  %d:%d:%-3d = %d\n", r.Bus, r.Device, r.Address, r.Value)
	}
	return err
}

func (s *Shell) cmdSet(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: set <bus> <dev> <param> <value>")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	bus, dev, param, err := parseAddr(args)
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(args[3], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[3])
	}
	res, err := await(ctx, s, func() *future.Future[controller.SetResult] {
		return c.SetParameter(bus, dev, param, int32(v))
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  %d:%d:%-3d = %d", res.Bus, res.Device, res.Address, res.Value)
	if res.Value != res.RequestedValue {
		fmt.Fprintf(s.out, " (requested %d)", res.RequestedValue)
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *Shell) cmdRC(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: rc <bus> <dev> on|off")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	bus, err := parseUint8(args[0], "bus", wire.BusCount-1)
	if err != nil {
		return err
	}
	dev, err := parseUint8(args[1], "device", wire.DevicesPerBus-1)
	if err != nil {
		return err
	}
	on, err := parseOnOff(args[2])
	if err != nil {
		return err
	}
	if _, err := s.runCommand(ctx, command.SetRC(s.cfg.Reactor, c, bus, dev, on)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  %d:%d rc=%t\n", bus, dev, on)
	return nil
}

func (s *Shell) cmdPoll(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return errors.New("usage: poll <bus> <dev> <from> [to]")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	bus, dev, from, err := parseAddr(args)
	if err != nil {
		return err
	}
	to := from
	if len(args) == 4 {
		if to, err = parseUint8(args[3], "param", 255); err != nil {
			return err
		}
	}
	var pollErr error
	err = s.onLoop(ctx, func() {
		pollErr = c.AddPollItems(pollSubscriber, controller.PollItem{Bus: bus, Device: dev, From: from, To: to})
	})
	if err != nil {
		return err
	}
	return pollErr
}

func (s *Shell) cmdUnpoll(ctx context.Context) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	return s.onLoop(ctx, func() { c.RemovePollItems(pollSubscriber) })
}

func (s *Shell) cmdAccess(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: access acquire|force|release")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	var start func() *future.Future[bool]
	switch args[0] {
	case "acquire":
		start = func() *future.Future[bool] { return c.AcquireWriteAccess(false) }
	case "force":
		start = func() *future.Future[bool] { return c.AcquireWriteAccess(true) }
	case "release":
		start = c.ReleaseWriteAccess
	default:
		return fmt.Errorf("unknown access operation %q", args[0])
	}
	granted, err := await(ctx, s, start)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  write access: %t\n", granted)
	return nil
}

func (s *Shell) cmdSilent(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: silent on|off")
	}
	c, err := s.current()
	if err != nil {
		return err
	}
	on, err := parseOnOff(args[0])
	if err != nil {
		return err
	}
	silent, err := await(ctx, s, func() *future.Future[bool] { return c.SetSilentMode(on) })
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  silent mode: %t\n", silent)
	return nil
}

func (s *Shell) cmdStatus(ctx context.Context) error {
	c, err := s.current()
	if err != nil {
		return err
	}
	var polled int
	if err := s.onLoop(ctx, func() { polled = len(c.PollAddresses()) }); err != nil {
		return err
	}
	info := c.MRC()
	fmt.Fprintf(s.out, "MRC %s\n", info.URL)
	fmt.Fprintf(s.out, "  Connection:   %s\n", c.State())
	fmt.Fprintf(s.out, "  Status:       %s\n", info.Status)
	fmt.Fprintf(s.out, "  Write access: %t\n", info.WriteAccess)
	fmt.Fprintf(s.out, "  Silenced:     %t\n", info.Silenced)
	fmt.Fprintf(s.out, "  Devices:      %d%s\n", len(info.Devices), conflictMark(info.AddressConflict))
	fmt.Fprintf(s.out, "  Polling:      %d parameters\n", polled)
	fmt.Fprintf(s.out, "  Pending:      %d requests\n", c.Connection().Pending())
	return nil
}

func outcomes(res any) []command.Outcome {
	out, _ := res.([]command.Outcome)
	return out
}

func conflictMark(conflict bool) string {
	if conflict {
		return "  ADDRESS CONFLICT"
	}
	return ""
}

func parseAddr(args []string) (bus, dev, param uint8, err error) {
	if bus, err = parseUint8(args[0], "bus", wire.BusCount-1); err != nil {
		return
	}
	if dev, err = parseUint8(args[1], "device", wire.DevicesPerBus-1); err != nil {
		return
	}
	param, err = parseUint8(args[2], "param", 255)
	return
}

func parseUint8(s, what string, max uint8) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || uint8(v) > max {
		return 0, fmt.Errorf("invalid %s %q (0..%d)", what, s, max)
	}
	return uint8(v), nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}
