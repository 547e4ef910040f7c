package transaction

import (
	"context"
	"github.com/go-kit/log"
	"github.com/google/uuid"
	"go-currency-ledger/domain"
	"time"
)

// loggingService decorates a transaction.Service with logging
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

func (s *loggingService) Transfer(ctx context.Context, p domain.Principal, req TransferRequest) (tx domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "transfer",
			"user", p.UserID,
			"from", req.From,
			"to", req.To,
			"amount", req.Amount,
			"id", tx.ID,
			"commission", tx.Commission,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.Transfer(ctx, p, req)
}

func (s *loggingService) Deposit(ctx context.Context, p domain.Principal, req DepositRequest) (tx domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log(
			"method", "deposit",
			"user", p.UserID,
			"account", req.Account,
			"amount", req.Amount,
			"id", tx.ID,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return s.next.Deposit(ctx, p, req)
}

func (s *loggingService) Confirm(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "confirm", "user", p.UserID, "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Confirm(ctx, p, id)
}

func (s *loggingService) Cancel(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "cancel", "user", p.UserID, "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Cancel(ctx, p, id)
}

func (s *loggingService) Get(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "get", "user", p.UserID, "id", id, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.Get(ctx, p, id)
}

func (s *loggingService) List(ctx context.Context, p domain.Principal, account string) (txs []domain.Transaction, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "list", "user", p.UserID, "account", account, "count", len(txs), "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.List(ctx, p, account)
}

func (s *loggingService) ExpirePending(ctx context.Context, now time.Time) (n int, err error) {
	defer func(begin time.Time) {
		s.logger.Log("method", "expire_pending", "expired", n, "took", time.Since(begin), "err", err)
	}(time.Now())
	return s.next.ExpirePending(ctx, now)
}
