package exchange

import (
	"context"
	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"time"
)

// loggingService decorates an exchange.Service with logging
type loggingService struct {
	logger log.Logger
	next   Service
}

// NewLoggingService returns a new instance of a logging Service
func NewLoggingService(logger log.Logger, s Service) Service {
	return &loggingService{
		next:   s,
		logger: logger,
	}
}

func (s *loggingService) CreateCurrency(ctx context.Context, code string) (c domain.Currency, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "create_currency", "code", code, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.CreateCurrency(ctx, code)
}

func (s *loggingService) Currencies(ctx context.Context) (cs []domain.Currency, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "currencies", "count", len(cs), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Currencies(ctx)
}

func (s *loggingService) Currency(ctx context.Context, code string) (c domain.Currency, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "currency", "code", code, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Currency(ctx, code)
}

func (s *loggingService) CreateRate(ctx context.Context, first, second string, value decimal.Decimal) (v domain.ExchangeValue, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "create_rate",
			"first", first,
			"second", second,
			"value", value,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.CreateRate(ctx, first, second, value)
}

func (s *loggingService) UpdateRate(ctx context.Context, first, second string, value decimal.Decimal) (v domain.ExchangeValue, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "update_rate",
			"first", first,
			"second", second,
			"value", value,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.UpdateRate(ctx, first, second, value)
}

func (s *loggingService) DeleteRate(ctx context.Context, first, second string) (err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "delete_rate", "first", first, "second", second, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.DeleteRate(ctx, first, second)
}

func (s *loggingService) Rates(ctx context.Context) (vs []domain.ExchangeValue, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "rates", "count", len(vs), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Rates(ctx)
}

func (s *loggingService) Rate(ctx context.Context, from, to string) (rate decimal.Decimal, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "rate", "from", from, "to", to, "rate", rate, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Rate(ctx, from, to)
}

func (s *loggingService) Convert(ctx context.Context, amount domain.Money, to string) (ex Exchanged, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "convert",
			"amount", amount.Amount,
			"from", amount.Currency,
			"to", to,
			"rate", ex.Rate,
			"converted_amount", ex.Amount.Amount,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.Convert(ctx, amount, to)
}

func (s *loggingService) ToUSD(ctx context.Context, amount domain.Money) (usd domain.Money, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "to_usd", "amount", amount, "usd", usd.Amount, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.ToUSD(ctx, amount)
}

func (s *loggingService) Refresh(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "refresh", "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Refresh(ctx)
}
