package lockwatch

import (
	"errors"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var (
	// ErrNotInitialized is returned when an operation needs a fully
	// initialized manager.
	ErrNotInitialized = errors.New("lockwatch: manager not initialized")
	// ErrShutdown is returned when the manager has been shut down; a shut
	// down manager cannot be re-initialized.
	ErrShutdown = errors.New("lockwatch: manager shut down")
)

const (
	// DefaultHoldWarning is the hold duration that triggers a warning when
	// a lock is released.
	DefaultHoldWarning = 500 * time.Millisecond
	// DefaultCheckThreshold is the shorter hold duration the background
	// monitor warns about for locks that are still held.
	DefaultCheckThreshold = 100 * time.Millisecond
	// DefaultMonitorInterval is how often the background monitor wakes.
	DefaultMonitorInterval = 100 * time.Millisecond
	// DefaultJoinTimeout bounds how long Shutdown waits for the monitor
	// goroutine; a stuck monitor must never hang process shutdown.
	DefaultJoinTimeout = 2 * time.Second
)

type config struct {
	holdWarning     time.Duration
	checkThreshold  time.Duration
	monitorInterval time.Duration
	joinTimeout     time.Duration
	logger          zerolog.Logger
	clock           clockwork.Clock
}

func defaultConfig() config {
	return config{
		holdWarning:     DefaultHoldWarning,
		checkThreshold:  DefaultCheckThreshold,
		monitorInterval: DefaultMonitorInterval,
		joinTimeout:     DefaultJoinTimeout,
		logger:          zerolog.New(os.Stderr).With().Timestamp().Logger(),
		clock:           clockwork.NewRealClock(),
	}
}

// Option configures a Manager.
type Option func(*config)

// WithHoldWarning sets the release-path hold-time warning threshold.
func WithHoldWarning(d time.Duration) Option {
	return func(c *config) { c.holdWarning = d }
}

// WithCheckThreshold sets the monitor's continuous-check hold threshold.
func WithCheckThreshold(d time.Duration) Option {
	return func(c *config) { c.checkThreshold = d }
}

// WithMonitorInterval sets the background monitor's wake interval.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *config) { c.monitorInterval = d }
}

// WithJoinTimeout bounds how long Shutdown waits for the monitor to exit.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *config) { c.joinTimeout = d }
}

// WithLogger sets the logging sink for warnings, deadlock findings and
// reports.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock injects the clock used for hold-time measurement and monitor
// scheduling. Tests use clockwork's fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}
