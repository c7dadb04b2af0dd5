package assistantpg

import (
	"context"
	"sync"
	"time"

	"github.com/youssefsiam38/assistantpg/jobqueue"
)

// workerPool claims jobs and runs the processor on them, at most
// Config.Concurrency at a time. It wakes on a ticker and on trigger
// signals from the notifier and the run contracts.
type workerPool struct {
	client    *Client
	triggerCh chan struct{}
	sem       chan struct{}
}

func newWorkerPool(c *Client) *workerPool {
	return &workerPool{
		client:    c,
		triggerCh: make(chan struct{}, 1),
		sem:       make(chan struct{}, c.config.Concurrency),
	}
}

// trigger requests an immediate claim pass. Coalesces when one is
// already pending.
func (w *workerPool) trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *workerPool) run(ctx context.Context) {
	ticker := time.NewTicker(w.client.config.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.triggerCh:
			w.claimAndProcess(ctx, &wg)
		case <-ticker.C:
			w.claimAndProcess(ctx, &wg)
		}
	}
}

// claimAndProcess claims up to the free worker slots and processes each
// job on its own goroutine.
func (w *workerPool) claimAndProcess(ctx context.Context, wg *sync.WaitGroup) {
	free := cap(w.sem) - len(w.sem)
	if free == 0 {
		return
	}

	jobs, err := w.client.queue.Claim(ctx, w.client.workerID, free)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.client.log().Error("failed to claim jobs", "error", err)
		w.client.reportError(err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		w.sem <- struct{}{}
		wg.Add(1)
		go func(job *jobqueue.Job) {
			defer wg.Done()
			defer func() { <-w.sem }()
			w.process(ctx, job)
		}(job)
	}

	// More work may remain; come back without waiting for the ticker.
	if len(jobs) == free {
		w.trigger()
	}
}

func (w *workerPool) process(ctx context.Context, job *jobqueue.Job) {
	log := w.client.log().With("job_id", job.ID, "run_id", job.RunID)
	log.Info("processing job", "attempt", job.Attempt)

	if err := w.client.processJob(ctx, job); err != nil {
		if failErr := w.client.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			log.Error("failed to record job failure", "error", failErr)
		}
		return
	}

	if err := w.client.queue.Complete(ctx, job.ID); err != nil {
		log.Error("failed to complete job", "error", err)
		w.client.reportError(err)
	}
}
