package replication

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/utils/log"
)

// ErrRetryable is a custom error to retry the logic when returned.
var ErrRetryable = errors.New("retryable replication error")

type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	maxInterval  time.Duration
	backoffCoeff int
}

// NewRetryer returns a Retryer waiting interval*backoffCoeff^n between attempts, capped at maxInterval.
// A maxInterval of 0 means no cap.
func NewRetryer(retryFunc func(ctx context.Context) error, interval, maxInterval time.Duration, backoffCoeff int,
) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		maxInterval:  maxInterval,
		backoffCoeff: backoffCoeff,
	}
}

// Run tries the Retryer until it succeeds, it returns unretriable error, or the context is canceled.
func (r *Retryer) Run(ctx context.Context) error {
	for cnt := 0; ; cnt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry aborted")
		}

		err := r.retryFunc(ctx)
		// success
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrRetryable) {
			// not retryable error, give up.
			log.Warn("caught a non-retryable error: %v", err)
			return err
		}

		interval := retryInterval(r.interval, r.maxInterval, r.backoffCoeff, cnt)
		log.Warn("caught a retryable error. It will be retried after an interval:%d[ms], err=%v",
			interval.Milliseconds(), err)

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "retry aborted")
		case <-t.C:
		}
	}
}

func retryInterval(interval, maxInterval time.Duration, backoffCoeff, retryCount int) time.Duration {
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	d := float64(interval) * coeff
	if maxInterval > 0 && (d > float64(maxInterval) || math.IsInf(d, 1)) {
		return maxInterval
	}
	return time.Duration(d)
}
