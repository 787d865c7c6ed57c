package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger is implemented by stores that keep expired records until told to
// drop them. RedisStore is not one: Redis expires its keys itself.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// PurgeInterval derives how often expired records are dropped from the
// replay window: a quarter of it, between one minute and one hour.
func PurgeInterval(window time.Duration) time.Duration {
	every := window / 4
	if every < time.Minute {
		every = time.Minute
	}
	if every > time.Hour {
		every = time.Hour
	}
	return every
}

// RunPurger drops expired records every interval until ctx ends. Failures
// are logged and retried on the next tick.
func RunPurger(ctx context.Context, p Purger, every time.Duration, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.Purge(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("idempotency purge failed", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				log.Debug("idempotency records purged", zap.Int64("count", n))
			}
		}
	}
}
