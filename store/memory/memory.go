// Package memory keeps every repository in process memory. State is lost on
// restart; it backs tests and single-instance deployments.
package memory

import (
	"context"
	"github.com/google/uuid"
	"go-currency-ledger/domain"
	"go-currency-ledger/ledger"
	"sort"
	"sync"
	"time"
)

// Store holds currencies, exchange values, commission tiers, accounts,
// defined accounts and transactions
type Store struct {
	mutex sync.RWMutex

	currencies     []domain.Currency
	values         map[domain.Pair]domain.ExchangeValue
	tiers          map[int64]domain.CommissionRate
	nextTierID     int64
	accounts       map[string]domain.CurrencyAccount
	defined        map[string]map[string]domain.DefinedAccount
	transactions   map[uuid.UUID]domain.Transaction
	nextCurrencyID int64
}

// New returns an empty Store
func New() *Store {
	return &Store{
		values:       make(map[domain.Pair]domain.ExchangeValue),
		tiers:        make(map[int64]domain.CommissionRate),
		accounts:     make(map[string]domain.CurrencyAccount),
		defined:      make(map[string]map[string]domain.DefinedAccount),
		transactions: make(map[uuid.UUID]domain.Transaction),
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error {
	return nil
}

// Currencies lists registered currencies in registration order
func (s *Store) Currencies(_ context.Context) ([]domain.Currency, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.Currency, len(s.currencies))
	copy(out, s.currencies)
	return out, nil
}

// CreateCurrency registers code, failing with Validation when it exists
func (s *Store) CreateCurrency(_ context.Context, code string) (domain.Currency, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, c := range s.currencies {
		if c.Code == code {
			return domain.Currency{}, domain.Errorf(domain.KindValidation, "currency %s already exists", code)
		}
	}
	s.nextCurrencyID++
	c := domain.Currency{ID: s.nextCurrencyID, Code: code}
	s.currencies = append(s.currencies, c)
	return c, nil
}

func (s *Store) ExchangeValues(_ context.Context) ([]domain.ExchangeValue, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.ExchangeValue, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	return out, nil
}

func (s *Store) SaveExchangeValues(_ context.Context, values ...domain.ExchangeValue) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, v := range values {
		s.values[v.Pair()] = v
	}
	return nil
}

func (s *Store) DeleteExchangeValues(_ context.Context, pairs ...domain.Pair) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, p := range pairs {
		delete(s.values, p)
	}
	return nil
}

func (s *Store) Tiers(_ context.Context) ([]domain.CommissionRate, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.CommissionRate, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreateTier(_ context.Context, t domain.CommissionRate) (domain.CommissionRate, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.nextTierID++
	t.ID = s.nextTierID
	s.tiers[t.ID] = t
	return t, nil
}

func (s *Store) UpdateTier(_ context.Context, t domain.CommissionRate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.tiers[t.ID]; !ok {
		return domain.Errorf(domain.KindNotFound, "commission tier %d not found", t.ID)
	}
	s.tiers[t.ID] = t
	return nil
}

func (s *Store) DeleteTier(_ context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.tiers[id]; !ok {
		return domain.Errorf(domain.KindNotFound, "commission tier %d not found", id)
	}
	delete(s.tiers, id)
	return nil
}

// CreateAccount adds a, failing with Validation when the number is taken
func (s *Store) CreateAccount(_ context.Context, a domain.CurrencyAccount) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.accounts[a.Number]; exists {
		return domain.Errorf(domain.KindValidation, "account number %s already exists", a.Number)
	}
	s.accounts[a.Number] = a
	return nil
}

func (s *Store) Account(_ context.Context, number string) (domain.CurrencyAccount, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	a, exists := s.accounts[number]
	if !exists {
		return domain.CurrencyAccount{}, domain.Errorf(domain.KindNotFound, "account %s not found", number)
	}
	return a, nil
}

// Accounts loads every account or fails with NotFound
func (s *Store) Accounts(_ context.Context, numbers ...string) ([]domain.CurrencyAccount, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.CurrencyAccount, 0, len(numbers))
	for _, n := range numbers {
		a, exists := s.accounts[n]
		if !exists {
			return nil, domain.Errorf(domain.KindNotFound, "account %s not found", n)
		}
		out = append(out, a)
	}
	return out, nil
}

// AccountsByOwner lists an owner's accounts ordered by creation
func (s *Store) AccountsByOwner(_ context.Context, ownerID string) ([]domain.CurrencyAccount, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []domain.CurrencyAccount
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number < out[j].Number
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteAccount removes the account if it is still at version, and drops it
// from every defined account list
func (s *Store) DeleteAccount(_ context.Context, number string, version int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	a, exists := s.accounts[number]
	if !exists {
		return domain.Errorf(domain.KindNotFound, "account %s not found", number)
	}
	if a.Version != version {
		return domain.Errorf(domain.KindConcurrencyConflict, "account %s changed while deleting", number)
	}
	delete(s.accounts, number)
	for _, defined := range s.defined {
		delete(defined, number)
	}
	return nil
}

// HasPending reports whether a pending transaction references the account
func (s *Store) HasPending(_ context.Context, number string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, t := range s.transactions {
		if t.Status == domain.StatusPending && t.Involves(number) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) AddDefinedAccount(_ context.Context, d domain.DefinedAccount) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defined, ok := s.defined[d.OwnerID]
	if !ok {
		defined = make(map[string]domain.DefinedAccount)
		s.defined[d.OwnerID] = defined
	}
	if _, exists := defined[d.AccountNumber]; exists {
		return domain.Errorf(domain.KindValidation, "account %s is already defined", d.AccountNumber)
	}
	defined[d.AccountNumber] = d
	return nil
}

func (s *Store) RemoveDefinedAccount(_ context.Context, ownerID, number string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.defined[ownerID][number]; !exists {
		return domain.Errorf(domain.KindNotFound, "defined account %s not found", number)
	}
	delete(s.defined[ownerID], number)
	return nil
}

func (s *Store) DefinedAccounts(_ context.Context, ownerID string) ([]domain.DefinedAccount, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]domain.DefinedAccount, 0, len(s.defined[ownerID]))
	for _, d := range s.defined[ownerID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (s *Store) IsDefined(_ context.Context, ownerID, number string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, exists := s.defined[ownerID][number]
	return exists, nil
}

// Commit applies the balance updates, the insert and the transition
// atomically, checking every precondition before writing anything
func (s *Store) Commit(_ context.Context, c ledger.Commit) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, u := range c.Updates {
		a, exists := s.accounts[u.Number]
		if !exists {
			return domain.Errorf(domain.KindNotFound, "account %s not found", u.Number)
		}
		if a.Version != u.Version {
			return domain.Errorf(domain.KindConcurrencyConflict, "account %s is at version %d, expected %d", u.Number, a.Version, u.Version)
		}
	}
	if c.Insert != nil {
		if _, exists := s.transactions[c.Insert.ID]; exists {
			return domain.Errorf(domain.KindValidation, "transaction %s already exists", c.Insert.ID)
		}
	}
	var moved domain.Transaction
	if t := c.Transition; t != nil {
		cur, exists := s.transactions[t.ID]
		if !exists {
			return domain.Errorf(domain.KindNotFound, "transaction %s not found", t.ID)
		}
		if cur.Status != t.From {
			return domain.Errorf(domain.KindInvalidStateTransition, "transaction %s is %s, not %s", t.ID, cur.Status, t.From)
		}
		cur.Status, cur.UpdatedAt = t.To, t.At
		moved = cur
	}

	for _, u := range c.Updates {
		a := s.accounts[u.Number]
		a.Balance, a.StashBalance, a.Version = u.Balance, u.Stash, a.Version+1
		s.accounts[u.Number] = a
	}
	if c.Insert != nil {
		s.transactions[c.Insert.ID] = *c.Insert
	}
	if c.Transition != nil {
		s.transactions[moved.ID] = moved
	}
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, t domain.Transaction) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.transactions[t.ID]; exists {
		return domain.Errorf(domain.KindValidation, "transaction %s already exists", t.ID)
	}
	s.transactions[t.ID] = t
	return nil
}

func (s *Store) Transaction(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	t, exists := s.transactions[id]
	if !exists {
		return domain.Transaction{}, domain.Errorf(domain.KindNotFound, "transaction %s not found", id)
	}
	return t, nil
}

// TransactionsByAccount lists transactions touching the account, newest first
func (s *Store) TransactionsByAccount(_ context.Context, number string) ([]domain.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.Involves(number) {
			out = append(out, t)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// PendingBefore lists pending transfers created before the cutoff, oldest first
func (s *Store) PendingBefore(_ context.Context, before time.Time) ([]domain.Transaction, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.Status == domain.StatusPending && t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func sortNewestFirst(txs []domain.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID.String() > txs[j].ID.String()
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}
