package jobs

import (
	"context"
	"time"

	"hakwon/consult/internal/config"
	"hakwon/consult/internal/realtime"
)

// StartUnreadResyncJob periodically broadcasts a resync event so every
// connected unread-count stream recomputes from the database, catching
// anything a missed message event left stale. A zero or negative
// interval disables the job.
func StartUnreadResyncJob(ctx context.Context, cfg config.Config, hub *realtime.Hub) {
	interval := cfg.UnreadResyncInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hub.Publish(ctx, realtime.Event{Kind: realtime.KindResync})
			}
		}
	}()
}
