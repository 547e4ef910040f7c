// Package transaction executes transfers and deposits and drives the
// transaction status state machine.
//
// A transfer settles immediately: the source is debited the amount plus
// commission and the destination is credited the converted amount. The
// credit stays held in the destination's stash balance while the transfer is
// Pending. Confirm releases the hold; Cancel, or expiry of the confirmation
// window, reverses both legs.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"go-currency-ledger/events"
	"go-currency-ledger/exchange"
	"go-currency-ledger/ledger"
	"time"
)

// DefaultWindow how long a pending transfer may be confirmed or cancelled
const DefaultWindow = 10 * time.Minute

// TransferRequest moves Amount, in the source account's currency, from From to To
type TransferRequest struct {
	From   string          `json:"fromAccount"`
	To     string          `json:"toAccount"`
	Amount decimal.Decimal `json:"amount"`
}

// DepositRequest credits Amount, converted to the account's currency, to Account
type DepositRequest struct {
	Account string       `json:"account"`
	Amount  domain.Money `json:"amount"`
}

// Service the transaction engine
type Service interface {
	Transfer(ctx context.Context, p domain.Principal, req TransferRequest) (domain.Transaction, error)
	Deposit(ctx context.Context, p domain.Principal, req DepositRequest) (domain.Transaction, error)
	Confirm(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error)
	Cancel(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error)

	// Get returns the transaction when the principal owns its source or
	// destination, or is an admin. Anything else is NotFound.
	Get(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error)
	// List an account's history, newest first
	List(ctx context.Context, p domain.Principal, account string) ([]domain.Transaction, error)

	// ExpirePending cancels pending transfers whose window elapsed before now
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// Repository the transaction journal
type Repository interface {
	CreateTransaction(ctx context.Context, t domain.Transaction) error
	Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	TransactionsByAccount(ctx context.Context, number string) ([]domain.Transaction, error)
	PendingBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error)
}

// Accounts account lookups
type Accounts interface {
	Account(ctx context.Context, number string) (domain.CurrencyAccount, error)
	// IsDefined reports whether the owner approved number as a transfer destination
	IsDefined(ctx context.Context, ownerID, number string) (bool, error)
}

// Ledger applies balance deltas atomically
type Ledger interface {
	Apply(ctx context.Context, e ledger.Entry) (map[string]domain.CurrencyAccount, error)
}

// Rates currency conversion
type Rates interface {
	Convert(ctx context.Context, amount domain.Money, to string) (exchange.Exchanged, error)
	ToUSD(ctx context.Context, amount domain.Money) (domain.Money, error)
}

// Commissions resolves the commission rate for a USD amount
type Commissions interface {
	RateFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, error)
}

type service struct {
	repo        Repository
	accounts    Accounts
	ledger      Ledger
	rates       Rates
	commissions Commissions
	publisher   events.Publisher
	logger      log.Logger

	window time.Duration
	now    func() time.Time
}

// NewService constructs a valid Service
func NewService(
	repo Repository,
	accounts Accounts,
	l Ledger,
	rates Rates,
	commissions Commissions,
	publisher events.Publisher,
	window time.Duration,
	logger log.Logger,
) Service {
	if repo == nil || accounts == nil || l == nil || rates == nil || commissions == nil {
		panic("transaction: nil dependency")
	}
	if publisher == nil {
		publisher = events.NewNop()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &service{
		repo:        repo,
		accounts:    accounts,
		ledger:      l,
		rates:       rates,
		commissions: commissions,
		publisher:   publisher,
		logger:      logger,
		window:      window,
		now:         time.Now,
	}
}

// business reports whether err is a business-rule failure detected while
// executing, which is journaled as a Failed transaction
func business(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindInsufficientFunds,
		domain.KindBelowMinimumBalance,
		domain.KindNoApplicableCommissionRate,
		domain.KindNoApplicableExchangeRate,
		domain.KindConversion:
		return true
	}
	return false
}

func (s *service) Transfer(ctx context.Context, p domain.Principal, req TransferRequest) (domain.Transaction, error) {
	if err := p.RequireUser(); err != nil {
		return domain.Transaction{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Transaction{}, domain.Errorf(domain.KindValidation, "transfer amount must be positive, got %s", req.Amount)
	}
	if req.From == req.To {
		return domain.Transaction{}, domain.Errorf(domain.KindValidation, "source and destination must differ")
	}

	src, err := s.accounts.Account(ctx, req.From)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !p.Owns(src) {
		return domain.Transaction{}, domain.Errorf(domain.KindAuthorization, "account %s is not yours", req.From)
	}
	dst, err := s.accounts.Account(ctx, req.To)
	if err != nil {
		return domain.Transaction{}, err
	}
	free := dst.OwnerID == p.UserID
	if !free {
		ok, err := s.accounts.IsDefined(ctx, p.UserID, req.To)
		if err != nil {
			return domain.Transaction{}, err
		}
		if !ok {
			return domain.Transaction{}, domain.Errorf(domain.KindAuthorization, "account %s is not one of your defined accounts", req.To)
		}
	}

	now := s.now()
	tx := domain.Transaction{
		ID:             uuid.New(),
		Type:           domain.TransactionTransfer,
		Status:         domain.StatusPending,
		Amount:         domain.Money{Amount: req.Amount, Currency: src.Currency},
		FromAccount:    src.Number,
		ToAccount:      dst.Number,
		CommissionFree: free,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.price(ctx, &tx, dst.Currency); err != nil {
		return s.fail(ctx, tx, err)
	}

	_, err = s.ledger.Apply(ctx, ledger.Entry{
		Deltas: []ledger.Delta{
			{Account: tx.FromAccount, Amount: tx.DecreaseAmount, Op: ledger.Debit},
			{Account: tx.ToAccount, Amount: tx.DestinationAmount, Op: ledger.Hold},
		},
		Insert: &tx,
	})
	if err != nil {
		return s.fail(ctx, tx, err)
	}
	s.publish(ctx, events.TransactionCreated, tx)
	return tx, nil
}

// price freezes the commission rate, the commission and both amounts on tx
func (s *service) price(ctx context.Context, tx *domain.Transaction, destCurrency string) error {
	tx.CommissionRate = decimal.Zero
	if !tx.CommissionFree {
		usd, err := s.rates.ToUSD(ctx, tx.Amount)
		if err != nil {
			return err
		}
		rate, err := s.commissions.RateFor(ctx, usd.Amount)
		if err != nil {
			return err
		}
		tx.CommissionRate = rate
	}
	tx.Commission = tx.Amount.Amount.Mul(tx.CommissionRate)
	tx.DecreaseAmount = tx.Amount.Amount.Add(tx.Commission)

	converted, err := s.rates.Convert(ctx, tx.Amount, destCurrency)
	if err != nil {
		return err
	}
	tx.DestinationAmount = converted.Amount.Amount
	return nil
}

type unjournaledContext struct{}

// WithoutFailureJournal marks ctx so rejected requests are not journaled as
// Failed transactions. Used when the account itself is rolled back.
func WithoutFailureJournal(ctx context.Context) context.Context {
	return context.WithValue(ctx, unjournaledContext{}, true)
}

func journalsFailures(ctx context.Context) bool {
	skip, _ := ctx.Value(unjournaledContext{}).(bool)
	return !skip
}

// fail journals a business-rule failure as a Failed transaction without any
// balance effect. Other errors are returned untouched.
func (s *service) fail(ctx context.Context, tx domain.Transaction, cause error) (domain.Transaction, error) {
	if !business(cause) || !journalsFailures(ctx) {
		return domain.Transaction{}, cause
	}
	tx.Status = domain.StatusFailed
	tx.Reason = cause.Error()
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		s.logger.Log("msg", "recording failed transaction", "id", tx.ID, "err", err)
		return domain.Transaction{}, cause
	}
	s.publish(ctx, events.TransactionFailed, tx)
	return domain.Transaction{}, cause
}

func (s *service) Deposit(ctx context.Context, p domain.Principal, req DepositRequest) (domain.Transaction, error) {
	if err := p.RequireUser(); err != nil {
		return domain.Transaction{}, err
	}
	amount := domain.NewMoney(req.Amount.Amount, req.Amount.Currency)
	if !amount.IsPositive() {
		return domain.Transaction{}, domain.Errorf(domain.KindValidation, "deposit amount must be positive, got %s", amount.Amount)
	}
	if !domain.ValidCode(amount.Currency) {
		return domain.Transaction{}, domain.Errorf(domain.KindValidation, "invalid currency code %q", amount.Currency)
	}

	acc, err := s.accounts.Account(ctx, req.Account)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !p.Owns(acc) {
		return domain.Transaction{}, domain.Errorf(domain.KindAuthorization, "account %s is not yours", req.Account)
	}

	now := s.now()
	tx := domain.Transaction{
		ID:             uuid.New(),
		Type:           domain.TransactionDeposit,
		Status:         domain.StatusConfirmed,
		Amount:         amount,
		FromAccount:    acc.Number,
		CommissionRate: decimal.Zero,
		Commission:     decimal.Zero,
		DecreaseAmount: decimal.Zero,
		CommissionFree: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	converted, err := s.rates.Convert(ctx, amount, acc.Currency)
	if err != nil {
		return s.fail(ctx, tx, err)
	}
	tx.DestinationAmount = converted.Amount.Amount

	_, err = s.ledger.Apply(ctx, ledger.Entry{
		Deltas:     []ledger.Delta{{Account: acc.Number, Amount: tx.DestinationAmount, Op: ledger.Credit}},
		CheckFloor: []string{acc.Number},
		Insert:     &tx,
	})
	if err != nil {
		return s.fail(ctx, tx, err)
	}
	s.publish(ctx, events.TransactionCreated, tx)
	return tx, nil
}

// pending loads a transfer the principal may settle and checks it is still open
func (s *service) pending(ctx context.Context, p domain.Principal, id uuid.UUID, now time.Time) (domain.Transaction, error) {
	if err := p.RequireUser(); err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.Transaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	src, err := s.accounts.Account(ctx, tx.FromAccount)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Transaction{}, err
	}
	if err != nil || !p.Owns(src) {
		return domain.Transaction{}, domain.Errorf(domain.KindAuthorization, "transaction %s is not yours to settle", id)
	}
	if tx.Type != domain.TransactionTransfer {
		return domain.Transaction{}, domain.Errorf(domain.KindInvalidStateTransition, "%s transactions are not confirmed or cancelled", tx.Type)
	}
	if tx.Status != domain.StatusPending {
		return domain.Transaction{}, domain.Errorf(domain.KindInvalidStateTransition, "transaction %s is already %s", id, tx.Status)
	}
	if now.After(tx.CreatedAt.Add(s.window)) {
		return domain.Transaction{}, domain.Errorf(domain.KindInvalidStateTransition,
			"transaction %s can no longer be settled, the %s window ended at %s", id, s.window, tx.CreatedAt.Add(s.window).Format(time.RFC3339))
	}
	return tx, nil
}

func (s *service) Confirm(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error) {
	now := s.now()
	tx, err := s.pending(ctx, p, id, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	_, err = s.ledger.Apply(ctx, ledger.Entry{
		Deltas:     []ledger.Delta{{Account: tx.ToAccount, Amount: tx.DestinationAmount, Op: ledger.Release}},
		Transition: &ledger.Transition{ID: tx.ID, From: domain.StatusPending, To: domain.StatusConfirmed, At: now},
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Status, tx.UpdatedAt = domain.StatusConfirmed, now
	s.publish(ctx, events.TransactionConfirmed, tx)
	return tx, nil
}

func (s *service) Cancel(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error) {
	now := s.now()
	tx, err := s.pending(ctx, p, id, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	return s.reverse(ctx, tx, now)
}

// reverse refunds the source and takes the held credit back from the destination
func (s *service) reverse(ctx context.Context, tx domain.Transaction, now time.Time) (domain.Transaction, error) {
	_, err := s.ledger.Apply(ctx, ledger.Entry{
		Deltas: []ledger.Delta{
			{Account: tx.FromAccount, Amount: tx.DecreaseAmount, Op: ledger.Credit},
			{Account: tx.ToAccount, Amount: tx.DestinationAmount, Op: ledger.Revoke},
		},
		Transition: &ledger.Transition{ID: tx.ID, From: domain.StatusPending, To: domain.StatusCancelled, At: now},
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Status, tx.UpdatedAt = domain.StatusCancelled, now
	s.publish(ctx, events.TransactionCancelled, tx)
	return tx, nil
}

func (s *service) Get(ctx context.Context, p domain.Principal, id uuid.UUID) (domain.Transaction, error) {
	if err := p.RequireUser(); err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.Transaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if p.IsAdmin() {
		return tx, nil
	}
	for _, number := range []string{tx.FromAccount, tx.ToAccount} {
		if number == "" {
			continue
		}
		acc, err := s.accounts.Account(ctx, number)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.Transaction{}, err
		}
		if p.Owns(acc) {
			return tx, nil
		}
	}
	return domain.Transaction{}, domain.Errorf(domain.KindNotFound, "transaction %s not found", id)
}

func (s *service) List(ctx context.Context, p domain.Principal, account string) ([]domain.Transaction, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	acc, err := s.accounts.Account(ctx, account)
	if err != nil {
		return nil, err
	}
	if !p.CanRead(acc) {
		return nil, domain.Errorf(domain.KindAuthorization, "account %s is not yours", account)
	}
	return s.repo.TransactionsByAccount(ctx, account)
}

func (s *service) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.repo.PendingBefore(ctx, now.Add(-s.window))
	if err != nil {
		return 0, fmt.Errorf("listing expired transfers: %w", err)
	}
	expired := 0
	var last error
	for _, tx := range stale {
		if _, err := s.reverse(ctx, tx, now); err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) {
				// settled concurrently
				continue
			}
			s.logger.Log("msg", "expiring transfer", "id", tx.ID, "err", err)
			last = err
			continue
		}
		expired++
	}
	return expired, last
}

func (s *service) publish(ctx context.Context, t events.Type, tx domain.Transaction) {
	if err := s.publisher.Publish(ctx, events.Event{Type: t, Transaction: tx, OccurredAt: s.now()}); err != nil {
		s.logger.Log("msg", "publishing event", "type", t, "id", tx.ID, "err", err)
	}
}
