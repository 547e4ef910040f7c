package postgres

import (
	"context"
	"errors"
	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-currency-ledger/domain"
	"go-currency-ledger/ledger"
	"os"
	"testing"
	"time"
)

// newTestStore connects to TEST_DATABASE_URL and empties every table
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, url, log.NewNopLogger())
	require.NoError(t, err)
	s := New(pool)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE transactions, defined_accounts, currency_accounts, exchange_values, commission_rates, currencies RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	for _, code := range []string{"USD", "EUR"} {
		_, err := s.CreateCurrency(ctx, code)
		require.NoError(t, err)
	}
	return s
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(number, owner, currency, balance string) domain.CurrencyAccount {
	return domain.CurrencyAccount{
		Number:    number,
		OwnerID:   owner,
		Currency:  currency,
		Balance:   d(balance),
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestStore_Currencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCurrency(ctx, "USD")
	assert.True(t, errors.Is(err, domain.ErrValidation))

	currencies, err := s.Currencies(ctx)
	require.NoError(t, err)
	require.Len(t, currencies, 2)
	assert.Equal(t, "USD", currencies[0].Code)
}

func TestStore_ExchangeValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveExchangeValues(ctx,
		domain.ExchangeValue{First: "USD", Second: "EUR", UnitOfFirstValue: d("0.9")},
		domain.ExchangeValue{First: "EUR", Second: "USD", UnitOfFirstValue: d("1.1"), Reciprocal: true},
	))
	require.NoError(t, s.SaveExchangeValues(ctx, domain.ExchangeValue{First: "USD", Second: "EUR", UnitOfFirstValue: d("0.95")}))

	values, err := s.ExchangeValues(ctx)
	require.NoError(t, err)
	require.Len(t, values, 2)
	for _, v := range values {
		if v.First == "USD" {
			assert.True(t, d("0.95").Equal(v.UnitOfFirstValue))
		}
	}

	err = s.SaveExchangeValues(ctx, domain.ExchangeValue{First: "USD", Second: "GBP", UnitOfFirstValue: d("0.8")})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, s.DeleteExchangeValues(ctx, domain.Pair{From: "USD", To: "EUR"}, domain.Pair{From: "EUR", To: "USD"}))
	values, err = s.ExchangeValues(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestStore_Tiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tier, err := s.CreateTier(ctx, domain.CommissionRate{MaxUSDRange: d("100"), Rate: d("0.3")})
	require.NoError(t, err)
	_, err = s.CreateTier(ctx, domain.CommissionRate{MaxUSDRange: d("100"), Rate: d("0.2")})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	tier.Rate = d("0.25")
	require.NoError(t, s.UpdateTier(ctx, tier))
	tiers, err := s.Tiers(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.True(t, d("0.25").Equal(tiers[0].Rate))

	require.NoError(t, s.DeleteTier(ctx, tier.ID))
	assert.True(t, errors.Is(s.DeleteTier(ctx, tier.ID), domain.ErrNotFound))
}

func TestStore_Accounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, account("ALICE00USD", "alice", "USD", "100")))
	assert.True(t, errors.Is(s.CreateAccount(ctx, account("ALICE00USD", "bob", "USD", "0")), domain.ErrValidation))
	assert.True(t, errors.Is(s.CreateAccount(ctx, account("ALICE00GBP", "alice", "GBP", "0")), domain.ErrNotFound))

	a, err := s.Account(ctx, "ALICE00USD")
	require.NoError(t, err)
	assert.Equal(t, "USD", a.Currency)
	assert.True(t, d("100").Equal(a.Balance))

	_, err = s.Accounts(ctx, "ALICE00USD", "MISSING000")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	owned, err := s.AccountsByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	assert.True(t, errors.Is(s.DeleteAccount(ctx, "ALICE00USD", 7), domain.ErrConcurrencyConflict))
	require.NoError(t, s.DeleteAccount(ctx, "ALICE00USD", 0))
	_, err = s.Account(ctx, "ALICE00USD")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStore_DefinedAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, account("BOB0000EUR", "bob", "EUR", "0")))

	def := domain.DefinedAccount{OwnerID: "alice", AccountNumber: "BOB0000EUR", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.AddDefinedAccount(ctx, def))
	assert.True(t, errors.Is(s.AddDefinedAccount(ctx, def), domain.ErrValidation))

	ok, err := s.IsDefined(ctx, "alice", "BOB0000EUR")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteAccount(ctx, "BOB0000EUR", 0))
	defined, err := s.DefinedAccounts(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, defined, "deleting the account drops it from defined lists")
}

func TestStore_Commit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, account("ALICE00USD", "alice", "USD", "1000")))
	require.NoError(t, s.CreateAccount(ctx, account("BOB0000EUR", "bob", "EUR", "0")))

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tx := domain.Transaction{
		ID:                uuid.New(),
		Type:              domain.TransactionTransfer,
		Status:            domain.StatusPending,
		Amount:            domain.NewMoney(d("150"), "USD"),
		FromAccount:       "ALICE00USD",
		ToAccount:         "BOB0000EUR",
		CommissionRate:    d("0.2"),
		Commission:        d("30"),
		DecreaseAmount:    d("180"),
		DestinationAmount: d("135"),
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	err := s.Commit(ctx, ledger.Commit{
		Updates: []ledger.BalanceUpdate{
			{Number: "ALICE00USD", Balance: d("820"), Stash: d("0"), Version: 0},
			{Number: "BOB0000EUR", Balance: d("135"), Stash: d("135"), Version: 0},
		},
		Insert: &tx,
	})
	require.NoError(t, err)

	stale := s.Commit(ctx, ledger.Commit{
		Updates: []ledger.BalanceUpdate{{Number: "ALICE00USD", Balance: d("1"), Version: 0}},
	})
	assert.True(t, errors.Is(stale, domain.ErrConcurrencyConflict))

	got, err := s.Transaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.True(t, d("135").Equal(got.DestinationAmount))

	pending, err := s.HasPending(ctx, "BOB0000EUR")
	require.NoError(t, err)
	assert.True(t, pending)
	before, err := s.PendingBefore(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, before, 1)

	confirm := ledger.Transition{ID: tx.ID, From: domain.StatusPending, To: domain.StatusConfirmed, At: at.Add(time.Minute)}
	require.NoError(t, s.Commit(ctx, ledger.Commit{
		Updates:    []ledger.BalanceUpdate{{Number: "BOB0000EUR", Balance: d("135"), Stash: d("0"), Version: 1}},
		Transition: &confirm,
	}))
	err = s.Commit(ctx, ledger.Commit{Transition: &confirm})
	assert.True(t, errors.Is(err, domain.ErrInvalidStateTransition))
	missing := ledger.Transition{ID: uuid.New(), From: domain.StatusPending, To: domain.StatusConfirmed}
	assert.True(t, errors.Is(s.Commit(ctx, ledger.Commit{Transition: &missing}), domain.ErrNotFound))

	bob, err := s.Account(ctx, "BOB0000EUR")
	require.NoError(t, err)
	assert.True(t, bob.StashBalance.IsZero())
	assert.EqualValues(t, 2, bob.Version)

	txs, err := s.TransactionsByAccount(ctx, "BOB0000EUR")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.StatusConfirmed, txs[0].Status)
}

func TestStore_DepositHasNoDestination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deposit := domain.Transaction{
		ID:          uuid.New(),
		Type:        domain.TransactionDeposit,
		Status:      domain.StatusConfirmed,
		Amount:      domain.NewMoney(d("10"), "USD"),
		FromAccount: "ALICE00USD",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateTransaction(ctx, deposit))
	assert.True(t, errors.Is(s.CreateTransaction(ctx, deposit), domain.ErrValidation))

	got, err := s.Transaction(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ToAccount)
}
