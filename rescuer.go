package assistantpg

import (
	"context"
	"time"
)

// rescuer sweeps the queue for stalled jobs: claimed longer than
// Config.StalledInterval ago without completion, typically because the
// worker died mid-run. Rescued jobs become claimable again; jobs past
// the attempt budget are abandoned and their runs failed.
type rescuer struct {
	client *Client
}

func newRescuer(c *Client) *rescuer {
	return &rescuer{client: c}
}

func (r *rescuer) run(ctx context.Context) {
	ticker := time.NewTicker(r.client.config.RescueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rescueStalledJobs(ctx)
		}
	}
}

func (r *rescuer) rescueStalledJobs(ctx context.Context) {
	config := r.client.config
	log := r.client.log()

	result, err := r.client.queue.RescueStalled(ctx, config.StalledInterval, config.MaxRescueAttempts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("failed to rescue stalled jobs", "error", err)
		r.client.reportError(err)
		return
	}

	for _, job := range result.Abandoned {
		log.Warn("job exceeded max rescue attempts, failing run",
			"job_id", job.ID,
			"run_id", job.RunID,
			"attempt", job.Attempt,
			"max_rescue_attempts", config.MaxRescueAttempts,
		)
		r.client.failRun(ctx, job.RunID, "run processing stalled: maximum attempts exceeded")
	}

	if len(result.Rescued) > 0 {
		log.Info("rescued stalled jobs", "count", len(result.Rescued))
		// Wake the pool to pick the rescued jobs back up.
		r.client.worker.trigger()
	}
}
