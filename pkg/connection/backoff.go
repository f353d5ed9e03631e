package connection

import (
	"math/rand/v2"
	"time"
)

// Default backoff parameters.
const (
	DefaultInitial    = 1 * time.Second
	DefaultMax        = 60 * time.Second
	DefaultMultiplier = 2.0
	DefaultJitter     = 0.25
)

// BackoffConfig parameterizes a Backoff. Zero fields take the defaults; a
// negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitial
	}
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	switch {
	case c.Jitter == 0:
		c.Jitter = DefaultJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	return c
}

// Backoff produces exponentially growing delays with jitter.
//
// A Backoff is owned by one reactor and not safe for concurrent use.
type Backoff struct {
	cfg      BackoffConfig
	base     time.Duration
	attempts int
	rand     func() float64
}

// NewBackoff creates a backoff with the given parameters.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, base: cfg.Initial, rand: rand.Float64}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.base
	if b.cfg.Jitter > 0 {
		delay += time.Duration(float64(b.base) * b.cfg.Jitter * b.rand())
	}

	b.attempts++
	b.base = min(time.Duration(float64(b.base)*b.cfg.Multiplier), b.cfg.Max)
	return delay
}

// Base returns the un-jittered delay Next will start from.
func (b *Backoff) Base() time.Duration {
	return b.base
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.base = b.cfg.Initial
	b.attempts = 0
}

// Config returns the effective parameters.
func (b *Backoff) Config() BackoffConfig {
	return b.cfg
}
