package account

import (
	"context"
	"github.com/go-kit/log"
	"go-currency-ledger/domain"
	"time"
)

// loggingService decorates an account.Service with logging
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

func (s *loggingService) Open(ctx context.Context, p domain.Principal, currency string, openingDeposit *domain.Money) (a domain.CurrencyAccount, err error) {
	defer func(begin time.Time) {
		deposit := "none"
		if openingDeposit != nil {
			deposit = openingDeposit.String()
		}
		s.logger.Log(
			"method", "open",
			"user", p.UserID,
			"currency", currency,
			"opening_deposit", deposit,
			"number", a.Number,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.Open(ctx, p, currency, openingDeposit)
}

func (s *loggingService) Get(ctx context.Context, p domain.Principal, number string) (a domain.CurrencyAccount, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "get", "user", p.UserID, "number", number, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Get(ctx, p, number)
}

func (s *loggingService) List(ctx context.Context, p domain.Principal) (as []domain.CurrencyAccount, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "list", "user", p.UserID, "count", len(as), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.List(ctx, p)
}

func (s *loggingService) Delete(ctx context.Context, p domain.Principal, number string) (err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "delete", "user", p.UserID, "number", number, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Delete(ctx, p, number)
}

func (s *loggingService) AddDefinedAccount(ctx context.Context, p domain.Principal, number string) (d domain.DefinedAccount, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "add_defined_account", "user", p.UserID, "number", number, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.AddDefinedAccount(ctx, p, number)
}

func (s *loggingService) RemoveDefinedAccount(ctx context.Context, p domain.Principal, number string) (err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "remove_defined_account", "user", p.UserID, "number", number, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.RemoveDefinedAccount(ctx, p, number)
}

func (s *loggingService) DefinedAccounts(ctx context.Context, p domain.Principal) (ds []domain.DefinedAccount, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "defined_accounts", "user", p.UserID, "count", len(ds), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.DefinedAccounts(ctx, p)
}
