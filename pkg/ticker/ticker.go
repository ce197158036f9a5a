// Package ticker periodically appends a timestamp record to the store.
package ticker

import (
	"context"
	"time"

	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/store"
)

// Layout is the RFC 2822 style layout of every timestamp record.
const Layout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Config holds the ticker settings.
type Config struct {
	// Enabled arms the ticker at startup.
	Enabled bool `mapstructure:"enabled"`

	// Interval between two records. Defaults to 10s.
	Interval time.Duration `mapstructure:"interval" validate:"min=0"`

	// Prefix is written in front of every timestamp. Defaults to "timestamp:".
	Prefix string `mapstructure:"prefix"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "timestamp:"
	}
}

// Appender is the part of the store the ticker writes to.
type Appender interface {
	Append(ctx context.Context, source string, p []byte) error
}

// Ticker appends one timestamp record per interval until its context ends.
type Ticker struct {
	config Config
	store  Appender

	now       func() time.Time
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// Option configures a Ticker.
type Option func(t *Ticker)

// WithClock replaces time.Now and time.NewTicker. Used by tests.
func WithClock(now func() time.Time, newTicker func(d time.Duration) (<-chan time.Time, func())) Option {
	return func(t *Ticker) {
		if now != nil {
			t.now = now
		}
		if newTicker != nil {
			t.newTicker = newTicker
		}
	}
}

// New creates a Ticker writing to s.
func New(config Config, s Appender, opts ...Option) *Ticker {
	config.applyDefaults()

	t := &Ticker{
		config: config,
		store:  s,
		now:    time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			tk := time.NewTicker(d)
			return tk.C, tk.Stop
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Format renders one record: prefix, timestamp, newline.
func Format(prefix string, t time.Time) []byte {
	b := make([]byte, 0, len(prefix)+len(Layout)+1)
	b = append(b, prefix...)
	b = t.AppendFormat(b, Layout)
	return append(b, '\n')
}

// Interval returns the effective period.
func (t *Ticker) Interval() time.Duration {
	return t.config.Interval
}

// Run blocks until ctx is done, appending a record on every tick. Write
// failures are logged and the ticker keeps its schedule.
func (t *Ticker) Run(ctx context.Context) {
	ticks, stop := t.newTicker(t.config.Interval)
	defer stop()

	logger.Debug("Timestamp ticker armed: interval=%v prefix=%q", t.config.Interval, t.config.Prefix)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Timestamp ticker stopped")
			return
		case <-ticks:
			t.tick(ctx)
		}
	}
}

// tick writes one record. A tick already fired is completed even if ctx ends
// meanwhile.
func (t *Ticker) tick(ctx context.Context) {
	record := Format(t.config.Prefix, t.now())
	if err := t.store.Append(context.WithoutCancel(ctx), store.SourceTimestamp, record); err != nil {
		logger.Error("Failed to write timestamp: %v", err)
		return
	}
	logger.Debug("Wrote %s", record[:len(record)-1])
}
