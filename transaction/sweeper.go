package transaction

import (
	"context"
	"github.com/go-kit/log"
	"time"
)

// Sweep cancels expired pending transfers every interval until ctx is done.
// It is expected to be called from its own go-routine.
func Sweep(ctx context.Context, s Service, interval time.Duration, logger log.Logger) {
	for {
		select {
		case now := <-time.After(interval):
			if _, err := s.ExpirePending(ctx, now); err != nil {
				// Don't return, just log and hope this is a transient error
				logger.Log("msg", "expiring pending transfers failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
