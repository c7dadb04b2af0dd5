package assistantpg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/youssefsiam38/assistantpg/invoker"
	"github.com/youssefsiam38/assistantpg/jobqueue"
	"github.com/youssefsiam38/assistantpg/notifier"
	"github.com/youssefsiam38/assistantpg/storage"
	"github.com/youssefsiam38/assistantpg/tool"
	"github.com/youssefsiam38/assistantpg/types"
)

// Version is the current assistantpg version
const Version = "1.0.0"

// Client runs the processor worker pool and exposes the run contracts.
type Client struct {
	store    storage.Store
	queue    jobqueue.Queue
	invoker  invoker.ModelInvoker
	registry *tool.Registry
	executor *tool.Executor
	notif    *notifier.Notifier
	config   *Config
	workerID string

	// Background services
	worker  *workerPool
	rescuer *rescuer

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewClient creates a client over a store, a queue, and a model invoker.
//
// Example:
//
//	client, err := assistantpg.NewClient(store, queue, inv,
//		assistantpg.WithConcurrency(16),
//		assistantpg.WithBuiltinTools(tool.NewRetrieval(source, 5)),
//	)
func NewClient(store storage.Store, queue jobqueue.Queue, inv invoker.ModelInvoker, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if queue == nil {
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidConfig)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: model invoker is required", ErrInvalidConfig)
	}

	hostname, _ := os.Hostname()
	c := &Client{
		store:    store,
		queue:    queue,
		invoker:  inv,
		registry: tool.NewRegistry(),
		config:   DefaultConfig(),
		workerID: hostname + "-" + types.NewID("worker"),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.config.applyDefaults()
	if err := c.config.validate(); err != nil {
		return nil, err
	}

	c.executor = tool.NewExecutor(c.registry, c.config.ToolConcurrency)
	c.worker = newWorkerPool(c)
	c.rescuer = newRescuer(c)
	return c, nil
}

// Start launches the worker pool and the rescuer.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrClientAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.worker.run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.rescuer.run(runCtx)
	}()

	if c.notif != nil {
		c.notif.Subscribe(notifier.EventJobAvailable, func(*notifier.Event) {
			c.worker.trigger()
		})
		if err := c.notif.Start(runCtx); err != nil && err != notifier.ErrAlreadyStarted {
			c.log().Error("failed to start notifier", "error", err)
		}
	}

	c.log().Info("client started",
		"worker_id", c.workerID,
		"concurrency", c.config.Concurrency,
	)
	return nil
}

// Stop shuts the background services down and waits for in-flight jobs.
func (c *Client) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return ErrClientNotStarted
	}

	c.cancel()
	if c.notif != nil && c.notif.IsRunning() {
		_ = c.notif.Stop(ctx)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.started.Store(false)
	c.log().Info("client stopped", "worker_id", c.workerID)
	return nil
}

func (c *Client) log() *slog.Logger {
	return c.config.Logger
}

// reportError surfaces a background failure to the OnError callback.
func (c *Client) reportError(err error) {
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

// notify sends a best-effort notifier event.
func (c *Client) notify(ctx context.Context, event notifier.EventType, payload string) {
	if c.notif == nil {
		return
	}
	if err := c.notif.Notify(ctx, event, payload); err != nil {
		c.log().Warn("failed to send notification", "event", event, "error", err)
	}
}
