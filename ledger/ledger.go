// Package ledger owns account balances. Every balance change goes through
// Apply, which serializes mutations per account, validates the resulting
// balances and commits all of them, plus the journal effect, in one step.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"time"
)

// Op a balance operation
type Op string

const (
	// Credit adds to the spendable balance
	Credit Op = "credit"
	// Debit removes from the spendable balance and triggers the minimum balance check
	Debit Op = "debit"
	// Hold adds to the balance and reserves the same amount in the stash
	Hold Op = "hold"
	// Release frees a stashed amount, the balance is unchanged
	Release Op = "release"
	// Revoke removes a stashed amount from the balance
	Revoke Op = "revoke"
)

// DefaultRetries commits attempted before a version conflict is surfaced
const DefaultRetries = 3

// Delta a single balance change
type Delta struct {
	Account string
	Amount  decimal.Decimal
	Op      Op
}

// Transition a compare-and-set on a transaction status
type Transition struct {
	ID   uuid.UUID
	From domain.Status
	To   domain.Status
	At   time.Time
}

// Entry the deltas and journal effect applied as one unit
type Entry struct {
	Deltas []Delta

	// CheckFloor accounts checked against the minimum balance even when not debited
	CheckFloor []string

	Insert     *domain.Transaction
	Transition *Transition
}

// BalanceUpdate the new balances of an account. Version is the version the
// balances were computed from; the store rejects the update when it moved on.
type BalanceUpdate struct {
	Number  string
	Balance decimal.Decimal
	Stash   decimal.Decimal
	Version int64
}

// Commit everything a store must persist atomically
type Commit struct {
	Updates    []BalanceUpdate
	Insert     *domain.Transaction
	Transition *Transition
}

// Store persistence used by the ledger
type Store interface {
	// Accounts loads the accounts, failing with NotFound when any is missing
	Accounts(ctx context.Context, numbers ...string) ([]domain.CurrencyAccount, error)

	// Commit persists the updates, insert and transition atomically. A version
	// mismatch fails with ConcurrencyConflict, a transition whose current
	// status is not From fails with InvalidStateTransition.
	Commit(ctx context.Context, c Commit) error
}

// Converter values money in USD for the minimum balance check
type Converter interface {
	ToUSD(ctx context.Context, amount domain.Money) (domain.Money, error)
}

// Ledger applies balance deltas
type Ledger struct {
	store   Store
	rates   Converter
	floor   decimal.Decimal
	locks   *locks
	retries int
}

// New constructs a Ledger enforcing floor, in USD, on every debited account
func New(store Store, rates Converter, floor decimal.Decimal) *Ledger {
	if store == nil || rates == nil {
		panic("ledger: nil store or converter")
	}
	return &Ledger{
		store:   store,
		rates:   rates,
		floor:   floor,
		locks:   newLocks(),
		retries: DefaultRetries,
	}
}

// Floor the minimum USD-equivalent balance left after a debit
func (l *Ledger) Floor() decimal.Decimal {
	return l.floor
}

// ApplyDelta applies a single delta and returns the updated account
func (l *Ledger) ApplyDelta(ctx context.Context, account string, amount decimal.Decimal, op Op) (domain.CurrencyAccount, error) {
	accounts, err := l.Apply(ctx, Entry{Deltas: []Delta{{Account: account, Amount: amount, Op: op}}})
	if err != nil {
		return domain.CurrencyAccount{}, err
	}
	return accounts[account], nil
}

// Apply applies every delta of the entry or none of them. Balances are
// validated before anything is written.
func (l *Ledger) Apply(ctx context.Context, e Entry) (map[string]domain.CurrencyAccount, error) {
	numbers := e.accounts()
	if len(numbers) == 0 && e.Insert == nil && e.Transition == nil {
		return nil, domain.Errorf(domain.KindValidation, "empty ledger entry")
	}

	unlock, err := l.locks.acquire(ctx, numbers)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		accounts, updates, err := l.plan(ctx, numbers, e)
		if err != nil {
			return nil, err
		}
		err = l.store.Commit(ctx, Commit{Updates: updates, Insert: e.Insert, Transition: e.Transition})
		if err == nil {
			return accounts, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}
		if attempt >= l.retries {
			return nil, domain.Wrap(domain.KindConcurrencyConflict, err, fmt.Sprintf("giving up after %d attempts", attempt))
		}
	}
}

// plan loads the accounts and computes their balances after the deltas
func (l *Ledger) plan(ctx context.Context, numbers []string, e Entry) (map[string]domain.CurrencyAccount, []BalanceUpdate, error) {
	accounts := make(map[string]domain.CurrencyAccount, len(numbers))
	if len(numbers) > 0 {
		loaded, err := l.store.Accounts(ctx, numbers...)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range loaded {
			accounts[a.Number] = a
		}
	}
	versions := make(map[string]int64, len(accounts))
	for n, a := range accounts {
		versions[n] = a.Version
	}

	// debited accounts are held to the floor on their spendable balance,
	// accounts named in CheckFloor on their full balance
	floor := map[string]bool{}
	for _, n := range e.CheckFloor {
		floor[n] = false
	}
	touched := map[string]bool{}
	for _, d := range e.Deltas {
		a, ok := accounts[d.Account]
		if !ok {
			return nil, nil, domain.Errorf(domain.KindNotFound, "account %s not found", d.Account)
		}
		next, err := apply(a, d)
		if err != nil {
			return nil, nil, err
		}
		accounts[d.Account] = next
		touched[d.Account] = true
		if d.Op == Debit {
			floor[d.Account] = true
		}
	}

	for _, n := range numbers {
		spendable, ok := floor[n]
		if !ok {
			continue
		}
		if err := l.checkFloor(ctx, accounts[n], spendable); err != nil {
			return nil, nil, err
		}
	}

	updates := make([]BalanceUpdate, 0, len(touched))
	for _, n := range numbers {
		if !touched[n] {
			continue
		}
		a := accounts[n]
		updates = append(updates, BalanceUpdate{
			Number:  n,
			Balance: a.Balance,
			Stash:   a.StashBalance,
			Version: versions[n],
		})
		a.Version = versions[n] + 1
		accounts[n] = a
	}
	return accounts, updates, nil
}

// apply computes the account after one delta
func apply(a domain.CurrencyAccount, d Delta) (domain.CurrencyAccount, error) {
	if !d.Amount.IsPositive() {
		return a, domain.Errorf(domain.KindValidation, "%s amount must be positive, got %s", d.Op, d.Amount)
	}
	switch d.Op {
	case Credit:
		a.Balance = a.Balance.Add(d.Amount)
	case Debit:
		if a.Available().LessThan(d.Amount) {
			return a, domain.Errorf(domain.KindInsufficientFunds,
				"account %s has %s %s available, %s required", a.Number, a.Available(), a.Currency, d.Amount)
		}
		a.Balance = a.Balance.Sub(d.Amount)
	case Hold:
		a.Balance = a.Balance.Add(d.Amount)
		a.StashBalance = a.StashBalance.Add(d.Amount)
	case Release, Revoke:
		if a.StashBalance.LessThan(d.Amount) {
			return a, domain.Errorf(domain.KindInternal,
				"account %s holds %s %s, cannot %s %s", a.Number, a.StashBalance, a.Currency, d.Op, d.Amount)
		}
		a.StashBalance = a.StashBalance.Sub(d.Amount)
		if d.Op == Revoke {
			a.Balance = a.Balance.Sub(d.Amount)
		}
	default:
		return a, domain.Errorf(domain.KindValidation, "unknown ledger operation %q", d.Op)
	}
	return a, nil
}

// checkFloor values the account in USD against the minimum balance. A
// spendable check leaves the stash out.
func (l *Ledger) checkFloor(ctx context.Context, a domain.CurrencyAccount, spendable bool) error {
	if !l.floor.IsPositive() {
		return nil
	}
	held := a.Money()
	if spendable {
		held = domain.Money{Amount: a.Available(), Currency: a.Currency}
	}
	usd, err := l.rates.ToUSD(ctx, held)
	if err != nil {
		return err
	}
	if usd.Amount.LessThan(l.floor) {
		return domain.Errorf(domain.KindBelowMinimumBalance,
			"account %s would hold %s USD, the minimum is %s USD", a.Number, usd.Amount.StringFixed(2), l.floor)
	}
	return nil
}

// accounts returns the distinct account numbers referenced by the entry, sorted
func (e Entry) accounts() []string {
	seen := map[string]bool{}
	var numbers []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	for _, d := range e.Deltas {
		add(d.Account)
	}
	for _, n := range e.CheckFloor {
		add(n)
	}
	return sortedCopy(numbers)
}
