// Package account opens, lists and closes currency accounts and keeps each
// user's list of approved transfer destinations.
package account

import (
	"context"
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"go-currency-ledger/transaction"
	"time"
)

// maxNumberAttempts numbers generated before giving up on a free one
const maxNumberAttempts = 5

// Service account administration
type Service interface {
	// Open creates an empty account, then runs the deposit flow for openingDeposit when given.
	// A failed opening deposit removes the account again.
	Open(ctx context.Context, p domain.Principal, currency string, openingDeposit *domain.Money) (domain.CurrencyAccount, error)
	Get(ctx context.Context, p domain.Principal, number string) (domain.CurrencyAccount, error)
	List(ctx context.Context, p domain.Principal) ([]domain.CurrencyAccount, error)
	// Delete fails with Validation while the account holds money or has pending transfers
	Delete(ctx context.Context, p domain.Principal, number string) error

	AddDefinedAccount(ctx context.Context, p domain.Principal, number string) (domain.DefinedAccount, error)
	RemoveDefinedAccount(ctx context.Context, p domain.Principal, number string) error
	DefinedAccounts(ctx context.Context, p domain.Principal) ([]domain.DefinedAccount, error)
}

// Repository persists accounts and defined accounts
type Repository interface {
	// CreateAccount fails with Validation when the number is taken
	CreateAccount(ctx context.Context, a domain.CurrencyAccount) error
	Account(ctx context.Context, number string) (domain.CurrencyAccount, error)
	AccountsByOwner(ctx context.Context, ownerID string) ([]domain.CurrencyAccount, error)
	// DeleteAccount fails with ConcurrencyConflict when the account moved past version
	DeleteAccount(ctx context.Context, number string, version int64) error
	HasPending(ctx context.Context, number string) (bool, error)

	AddDefinedAccount(ctx context.Context, d domain.DefinedAccount) error
	RemoveDefinedAccount(ctx context.Context, ownerID, number string) error
	DefinedAccounts(ctx context.Context, ownerID string) ([]domain.DefinedAccount, error)
}

// Currencies the currency registry
type Currencies interface {
	Currency(ctx context.Context, code string) (domain.Currency, error)
}

// Depositor runs the deposit flow
type Depositor interface {
	Deposit(ctx context.Context, p domain.Principal, req transaction.DepositRequest) (domain.Transaction, error)
}

type service struct {
	repo       Repository
	currencies Currencies
	deposits   Depositor

	newNumber func() string
	now       func() time.Time
}

// NewService constructs a valid Service
func NewService(repo Repository, currencies Currencies, deposits Depositor) Service {
	if repo == nil || currencies == nil || deposits == nil {
		panic("account: nil dependency")
	}
	return &service{
		repo:       repo,
		currencies: currencies,
		deposits:   deposits,
		newNumber:  NewNumber,
		now:        time.Now,
	}
}

func (s *service) Open(ctx context.Context, p domain.Principal, currency string, openingDeposit *domain.Money) (domain.CurrencyAccount, error) {
	if err := p.RequireUser(); err != nil {
		return domain.CurrencyAccount{}, err
	}
	c, err := s.currencies.Currency(ctx, currency)
	if err != nil {
		return domain.CurrencyAccount{}, err
	}

	a := domain.CurrencyAccount{
		OwnerID:      p.UserID,
		Currency:     c.Code,
		Balance:      decimal.Zero,
		StashBalance: decimal.Zero,
		CreatedAt:    s.now(),
	}
	for attempt := 1; ; attempt++ {
		a.Number = s.newNumber()
		err = s.repo.CreateAccount(ctx, a)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrValidation) || attempt == maxNumberAttempts {
			return domain.CurrencyAccount{}, fmt.Errorf("creating account: %w", err)
		}
	}

	if openingDeposit == nil {
		return a, nil
	}
	// a rejected opening deposit removes the account, so it leaves no journal entry behind
	_, err = s.deposits.Deposit(transaction.WithoutFailureJournal(ctx), p, transaction.DepositRequest{Account: a.Number, Amount: *openingDeposit})
	if err != nil {
		if derr := s.repo.DeleteAccount(ctx, a.Number, a.Version); derr != nil {
			return domain.CurrencyAccount{}, fmt.Errorf("opening deposit failed (%v), removing account %s: %w", err, a.Number, derr)
		}
		return domain.CurrencyAccount{}, err
	}
	return s.repo.Account(ctx, a.Number)
}

func (s *service) Get(ctx context.Context, p domain.Principal, number string) (domain.CurrencyAccount, error) {
	if err := p.RequireUser(); err != nil {
		return domain.CurrencyAccount{}, err
	}
	a, err := s.repo.Account(ctx, number)
	if err != nil {
		return domain.CurrencyAccount{}, err
	}
	if !p.CanRead(a) {
		return domain.CurrencyAccount{}, domain.Errorf(domain.KindAuthorization, "account %s is not yours", number)
	}
	return a, nil
}

func (s *service) List(ctx context.Context, p domain.Principal) ([]domain.CurrencyAccount, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.AccountsByOwner(ctx, p.UserID)
}

func (s *service) Delete(ctx context.Context, p domain.Principal, number string) error {
	if err := p.RequireUser(); err != nil {
		return err
	}
	a, err := s.repo.Account(ctx, number)
	if err != nil {
		return err
	}
	if !p.Owns(a) {
		return domain.Errorf(domain.KindAuthorization, "account %s is not yours", number)
	}
	if !a.Balance.IsZero() || !a.StashBalance.IsZero() {
		return domain.Errorf(domain.KindValidation, "account %s still holds %s %s", number, a.Balance, a.Currency)
	}
	pending, err := s.repo.HasPending(ctx, number)
	if err != nil {
		return err
	}
	if pending {
		return domain.Errorf(domain.KindValidation, "account %s has pending transfers", number)
	}
	return s.repo.DeleteAccount(ctx, number, a.Version)
}

func (s *service) AddDefinedAccount(ctx context.Context, p domain.Principal, number string) (domain.DefinedAccount, error) {
	if err := p.RequireUser(); err != nil {
		return domain.DefinedAccount{}, err
	}
	if !ValidNumber(number) {
		return domain.DefinedAccount{}, domain.Errorf(domain.KindValidation, "%q is not an account number", number)
	}
	target, err := s.repo.Account(ctx, number)
	if err != nil {
		return domain.DefinedAccount{}, err
	}
	if p.Owns(target) {
		return domain.DefinedAccount{}, domain.Errorf(domain.KindValidation, "account %s is yours, own accounts are always approved", number)
	}
	d := domain.DefinedAccount{OwnerID: p.UserID, AccountNumber: number, CreatedAt: s.now()}
	if err := s.repo.AddDefinedAccount(ctx, d); err != nil {
		return domain.DefinedAccount{}, err
	}
	return d, nil
}

func (s *service) RemoveDefinedAccount(ctx context.Context, p domain.Principal, number string) error {
	if err := p.RequireUser(); err != nil {
		return err
	}
	return s.repo.RemoveDefinedAccount(ctx, p.UserID, number)
}

func (s *service) DefinedAccounts(ctx context.Context, p domain.Principal) ([]domain.DefinedAccount, error) {
	if err := p.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.DefinedAccounts(ctx, p.UserID)
}
