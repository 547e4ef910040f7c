package commission

import (
	"context"
	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"time"
)

// loggingService decorates a commission.Service with logging
type loggingService struct {
	next   Service
	logger log.Logger
}

// NewLoggingService return a new logging service
func NewLoggingService(logger log.Logger, s Service) Service {
	return &loggingService{
		next:   s,
		logger: logger,
	}
}

func (s *loggingService) CreateTier(ctx context.Context, maxUSDRange, rate decimal.Decimal) (t domain.CommissionRate, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "create_tier",
			"max_usd_range", maxUSDRange,
			"rate", rate,
			"id", t.ID,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.CreateTier(ctx, maxUSDRange, rate)
}

func (s *loggingService) Tier(ctx context.Context, id int64) (t domain.CommissionRate, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "tier", "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Tier(ctx, id)
}

func (s *loggingService) Tiers(ctx context.Context) (ts []domain.CommissionRate, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "tiers", "count", len(ts), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Tiers(ctx)
}

func (s *loggingService) UpdateTier(ctx context.Context, id int64, maxUSDRange, rate decimal.Decimal) (t domain.CommissionRate, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "update_tier",
			"id", id,
			"max_usd_range", maxUSDRange,
			"rate", rate,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.UpdateTier(ctx, id, maxUSDRange, rate)
}

func (s *loggingService) DeleteTier(ctx context.Context, id int64) (err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "delete_tier", "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.DeleteTier(ctx, id)
}

func (s *loggingService) RateFor(ctx context.Context, usd decimal.Decimal) (rate decimal.Decimal, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "rate_for", "usd", usd, "rate", rate, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.RateFor(ctx, usd)
}
