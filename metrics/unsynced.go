package metrics

import (
	"context"
	"time"

	"github.com/alpacahq/peersync/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// Counter returns the number of records waiting for a sync acknowledgement.
type Counter interface {
	CountUnsynced(ctx context.Context) (int64, error)
}

// StartUnsyncedMonitor counts the unsynced records at each provided time interval,
// and sets it as a prometheus metric. It returns when ctx is canceled.
func StartUnsyncedMonitor(ctx context.Context, s Setter, c Counter, interval time.Duration) {
	set := func() {
		n, err := c.CountUnsynced(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("count unsynced records for monitoring: %v", err)
			}
			return
		}
		s.Set(float64(n))
	}
	set()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			set()
		}
	}
}
