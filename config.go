package assistantpg

import (
	"fmt"
	"log/slog"
	"time"
)

// Defaults applied by DefaultConfig and NewClient.
const (
	// DefaultConcurrency is how many jobs a client processes at once.
	DefaultConcurrency = 1

	// DefaultMaxTurns caps the model-invocation loop of a single job.
	DefaultMaxTurns = 10

	// DefaultToolConcurrency bounds the built-in tool fan-out per turn.
	DefaultToolConcurrency = 8

	// DefaultPollInterval is how often workers poll for jobs between
	// notifier wakeups.
	DefaultPollInterval = 5 * time.Second

	// DefaultRescueInterval is how often the rescuer sweeps for stalled
	// jobs.
	DefaultRescueInterval = time.Minute

	// DefaultStalledInterval is how long a claimed job may go
	// unacknowledged before it is considered stalled. It doubles as the
	// run's maximum processing lifetime.
	DefaultStalledInterval = 10 * time.Minute

	// DefaultMaxRescueAttempts is how many deliveries a job gets before
	// the rescuer abandons it.
	DefaultMaxRescueAttempts = 3

	// DefaultRunExpiry is how long a run may sit unfinished before the
	// guard expires it.
	DefaultRunExpiry = 10 * time.Minute
)

// Config holds configuration for the Client. Zero values are replaced
// with defaults; use the With* options to override.
type Config struct {
	// Concurrency is the number of jobs processed in parallel.
	Concurrency int

	// MaxTurns caps model invocations per job before the run fails.
	MaxTurns int

	// ToolConcurrency bounds the built-in tool fan-out per turn.
	ToolConcurrency int

	// PollInterval is the worker pool's claim polling interval.
	PollInterval time.Duration

	// RescueInterval is the stalled-job sweep interval.
	RescueInterval time.Duration

	// StalledInterval is the claimed-job age after which a job is
	// considered stalled.
	StalledInterval time.Duration

	// MaxRescueAttempts is the delivery budget per job.
	MaxRescueAttempts int

	// RunExpiry is the lifetime granted to new runs.
	RunExpiry time.Duration

	// Logger receives worker, rescuer, and processor logs.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// OnError is called when background operations fail.
	OnError func(err error)
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:       DefaultConcurrency,
		MaxTurns:          DefaultMaxTurns,
		ToolConcurrency:   DefaultToolConcurrency,
		PollInterval:      DefaultPollInterval,
		RescueInterval:    DefaultRescueInterval,
		StalledInterval:   DefaultStalledInterval,
		MaxRescueAttempts: DefaultMaxRescueAttempts,
		RunExpiry:         DefaultRunExpiry,
		Logger:            slog.Default(),
	}
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Concurrency == 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = def.MaxTurns
	}
	if c.ToolConcurrency == 0 {
		c.ToolConcurrency = def.ToolConcurrency
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RescueInterval == 0 {
		c.RescueInterval = def.RescueInterval
	}
	if c.StalledInterval == 0 {
		c.StalledInterval = def.StalledInterval
	}
	if c.MaxRescueAttempts == 0 {
		c.MaxRescueAttempts = def.MaxRescueAttempts
	}
	if c.RunExpiry == 0 {
		c.RunExpiry = def.RunExpiry
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
}

// validate checks the configuration after defaults are applied.
func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("%w: max turns must be positive", ErrInvalidConfig)
	}
	if c.ToolConcurrency < 1 {
		return fmt.Errorf("%w: tool concurrency must be positive", ErrInvalidConfig)
	}
	if c.RunExpiry <= 0 {
		return fmt.Errorf("%w: run expiry must be positive", ErrInvalidConfig)
	}
	return nil
}
