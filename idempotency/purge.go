package idempotency

import (
	"context"
	"github.com/go-kit/log"
	"time"
)

// Purger drops expired records. Stores without native expiry implement it.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// PurgePeriodically purges p every interval until ctx is done.
// It is expected to be called from its own go-routine.
func PurgePeriodically(ctx context.Context, p Purger, interval time.Duration, logger log.Logger) {
	for {
		select {
		case <-time.After(interval):
			n, err := p.Purge(ctx)
			if err != nil {
				logger.Log("msg", "purging expired idempotency keys failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Log("msg", "purged expired idempotency keys", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
