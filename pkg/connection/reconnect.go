package connection

import (
	"log/slog"
	"time"

	"github.com/mesycontrol/mrc-go/pkg/future"
	"github.com/mesycontrol/mrc-go/pkg/reactor"
)

// ConnectFunc starts one connection attempt. It is called on the reactor
// goroutine; the future completes once the attempt succeeded or failed.
type ConnectFunc func() *future.Future[bool]

// Config configures a Reconnector.
type Config struct {
	Backoff BackoffConfig

	// Logger is the operational logger (default: slog.Default()).
	Logger *slog.Logger

	// OnScheduled is called whenever an attempt is scheduled.
	OnScheduled func(attempt int, delay time.Duration)
}

// Reconnector redials a lost connection with exponential backoff until an
// attempt succeeds or Cancel is called.
//
// All methods must be called on the reactor goroutine.
type Reconnector struct {
	r       *reactor.Reactor
	connect ConnectFunc
	backoff *Backoff
	logger  *slog.Logger
	notify  func(int, time.Duration)

	timer  *reactor.Timer
	active bool
	gen    uint64
}

// NewReconnector creates an idle reconnector.
func NewReconnector(r *reactor.Reactor, connect ConnectFunc, cfg Config) *Reconnector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnector{
		r:       r,
		connect: connect,
		backoff: NewBackoff(cfg.Backoff),
		logger:  logger,
		notify:  cfg.OnScheduled,
	}
}

// ConnectionLost starts the redial sequence. It does nothing if the
// sequence is already running.
func (rc *Reconnector) ConnectionLost() {
	if rc.active {
		return
	}
	rc.active = true
	rc.gen++
	rc.schedule()
}

// Connected ends the sequence and restarts the backoff from its initial
// delay.
func (rc *Reconnector) Connected() {
	rc.stop()
	rc.backoff.Reset()
}

// Cancel ends the sequence without resetting the backoff.
func (rc *Reconnector) Cancel() {
	rc.stop()
}

// Active reports whether an attempt is scheduled or in progress.
func (rc *Reconnector) Active() bool {
	return rc.active
}

// Attempts returns the number of attempts scheduled since the last success.
func (rc *Reconnector) Attempts() int {
	return rc.backoff.Attempts()
}

func (rc *Reconnector) stop() {
	rc.active = false
	rc.gen++
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
}

func (rc *Reconnector) schedule() {
	delay := rc.backoff.Next()
	attempt := rc.backoff.Attempts()
	rc.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	if rc.notify != nil {
		rc.notify(attempt, delay)
	}

	gen := rc.gen
	rc.timer = rc.r.AfterFunc(delay, func() { rc.fire(gen) })
}

func (rc *Reconnector) fire(gen uint64) {
	if gen != rc.gen {
		return
	}
	rc.timer = nil

	f := rc.connect()
	f.AddDoneCallback(func(f *future.Future[bool]) {
		// Completion may come from any goroutine.
		rc.r.Post(func() { rc.attemptDone(gen, f.Err()) })
	})
}

func (rc *Reconnector) attemptDone(gen uint64, err error) {
	if gen != rc.gen {
		return
	}
	if err == nil {
		rc.logger.Info("reconnected", "attempts", rc.backoff.Attempts())
		rc.Connected()
		return
	}
	rc.logger.Debug("reconnect attempt failed", "error", err)
	rc.schedule()
}
