package tenantdb

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Run sweeps idle handles every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	sched := cron.New()
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		c.SweepIdle(ctx)
	}); err != nil {
		return fmt.Errorf("tenantdb: schedule idle sweep: %w", err)
	}
	sched.Start()
	c.logger.Debug("tenant cache sweeper started", "interval", interval.String())

	<-ctx.Done()
	<-sched.Stop().Done()
	c.logger.Debug("tenant cache sweeper stopped")
	return nil
}
