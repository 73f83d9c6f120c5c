package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedule runs RunOnce on the given cron spec until ctx is cancelled, then
// waits for any running cycle to finish. Standard five-field specs and
// descriptors such as "@every 2m" are accepted.
func (p *Pipeline) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		res, err := p.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress):
			p.logger.Warn("skipping scheduled cycle, previous cycle still running")
		case err != nil:
			p.logger.Error("reconcile cycle failed", "error", err)
		default:
			p.logger.Info("reconcile cycle complete",
				"parsed", res.Parsed, "posted", res.Posted, "failed", res.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	p.logger.Info("scheduler started", "schedule", spec)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	c.Start()
	<-ctx.Done()
	p.logger.Info("scheduler stopping", "reason", ctx.Err())
	<-c.Stop().Done()
	return nil
}
