package assistantpg

import (
	"log/slog"
	"time"

	"github.com/youssefsiam38/assistantpg/notifier"
	"github.com/youssefsiam38/assistantpg/tool"
)

// Option is a functional option for configuring a Client
type Option func(*Client) error

// WithConcurrency sets how many jobs the client processes in parallel
func WithConcurrency(n int) Option {
	return func(c *Client) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithMaxTurns caps model invocations per job
func WithMaxTurns(n int) Option {
	return func(c *Client) error {
		c.config.MaxTurns = n
		return nil
	}
}

// WithToolConcurrency bounds the built-in tool fan-out per turn
func WithToolConcurrency(n int) Option {
	return func(c *Client) error {
		c.config.ToolConcurrency = n
		return nil
	}
}

// WithPollInterval sets the worker pool's claim polling interval
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.config.PollInterval = d
		return nil
	}
}

// WithRescueInterval sets the stalled-job sweep interval
func WithRescueInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.config.RescueInterval = d
		return nil
	}
}

// WithStalledInterval sets the claimed-job age after which the rescuer
// re-delivers a job
func WithStalledInterval(d time.Duration) Option {
	return func(c *Client) error {
		c.config.StalledInterval = d
		return nil
	}
}

// WithMaxRescueAttempts sets the delivery budget per job
func WithMaxRescueAttempts(n int) Option {
	return func(c *Client) error {
		c.config.MaxRescueAttempts = n
		return nil
	}
}

// WithRunExpiry sets the lifetime granted to new runs
func WithRunExpiry(d time.Duration) Option {
	return func(c *Client) error {
		c.config.RunExpiry = d
		return nil
	}
}

// WithLogger sets the client's logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.config.Logger = logger
		return nil
	}
}

// WithOnError sets the background error callback
func WithOnError(fn func(err error)) Option {
	return func(c *Client) error {
		c.config.OnError = fn
		return nil
	}
}

// WithBuiltinTools registers built-in tool implementations. Without this
// option, tool calls of that type resolve to an error output.
func WithBuiltinTools(tools ...tool.Tool) Option {
	return func(c *Client) error {
		for _, t := range tools {
			if err := c.registry.Register(t); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithNotifier wires a notifier for job-available wakeups. Without it
// the worker pool relies on polling alone.
func WithNotifier(n *notifier.Notifier) Option {
	return func(c *Client) error {
		c.notif = n
		return nil
	}
}
