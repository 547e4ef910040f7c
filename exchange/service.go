package exchange

import (
	"context"
	"fmt"
	"github.com/shopspring/decimal"
	"github.com/go-kit/log"
	"go-currency-ledger/domain"
	"sync"
	"time"
)

// Service currency registry and pairwise exchange administration
type Service interface {
	CreateCurrency(ctx context.Context, code string) (domain.Currency, error)
	Currencies(ctx context.Context) ([]domain.Currency, error)
	Currency(ctx context.Context, code string) (domain.Currency, error)

	CreateRate(ctx context.Context, first, second string, value decimal.Decimal) (domain.ExchangeValue, error)
	UpdateRate(ctx context.Context, first, second string, value decimal.Decimal) (domain.ExchangeValue, error)
	DeleteRate(ctx context.Context, first, second string) error
	Rates(ctx context.Context) ([]domain.ExchangeValue, error)

	// Rate looks up the direct edge, failing with NoApplicableExchangeRate when absent
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
	Convert(ctx context.Context, amount domain.Money, to string) (Exchanged, error)
	ToUSD(ctx context.Context, amount domain.Money) (domain.Money, error)

	// Refresh reloads the graph from the repository, picking up edits made by
	// other instances sharing it
	Refresh(ctx context.Context) error
}

// Repository persists currencies and exchange values
type Repository interface {
	Currencies(ctx context.Context) ([]domain.Currency, error)
	CreateCurrency(ctx context.Context, code string) (domain.Currency, error)
	ExchangeValues(ctx context.Context) ([]domain.ExchangeValue, error)
	// SaveExchangeValues upserts all values atomically
	SaveExchangeValues(ctx context.Context, values ...domain.ExchangeValue) error
	// DeleteExchangeValues removes all pairs atomically
	DeleteExchangeValues(ctx context.Context, pairs ...domain.Pair) error
}

type service struct {
	repo Repository

	// graph in-memory copy of the stored edges, seeded on first use and
	// reloaded by Refresh
	graph *Graph

	// lock serialises writes, seeding and refreshes
	lock   sync.Mutex
	seeded bool
}

// NewService constructs a valid Service
func NewService(repo Repository) Service {
	if repo == nil {
		panic("exchange: nil repository")
	}
	return &service{
		repo:  repo,
		graph: NewGraph(nil),
	}
}

// load seeds the graph from the repository once
func (s *service) load(ctx context.Context) (*Graph, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.seedLocked(ctx); err != nil {
		return nil, err
	}
	return s.graph, nil
}

func (s *service) seedLocked(ctx context.Context) error {
	if s.seeded {
		return nil
	}
	values, err := s.repo.ExchangeValues(ctx)
	if err != nil {
		return fmt.Errorf("seeding exchange graph: %w", err)
	}
	s.graph.Put(values...)
	s.seeded = true
	return nil
}

// Refresh holds the write lock while reading so a concurrent rate edit is
// never overwritten by an older snapshot
func (s *service) Refresh(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	values, err := s.repo.ExchangeValues(ctx)
	if err != nil {
		return fmt.Errorf("refreshing exchange graph: %w", err)
	}
	s.graph.Replace(values...)
	s.seeded = true
	return nil
}

// RefreshPeriodically reloads the graph every interval until ctx is done.
// It is expected to be called from its own go-routine.
func RefreshPeriodically(ctx context.Context, s Service, interval time.Duration, logger log.Logger) {
	for {
		select {
		case <-time.After(interval):
			if err := s.Refresh(ctx); err != nil {
				logger.Log("msg", "refreshing exchange rates failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *service) CreateCurrency(ctx context.Context, code string) (domain.Currency, error) {
	code = domain.NormalizeCode(code)
	if !domain.ValidCode(code) {
		return domain.Currency{}, domain.Errorf(domain.KindValidation, "currency code %q must be 3 letters", code)
	}
	return s.repo.CreateCurrency(ctx, code)
}

func (s *service) Currencies(ctx context.Context) ([]domain.Currency, error) {
	return s.repo.Currencies(ctx)
}

func (s *service) Currency(ctx context.Context, code string) (domain.Currency, error) {
	code = domain.NormalizeCode(code)
	currencies, err := s.repo.Currencies(ctx)
	if err != nil {
		return domain.Currency{}, err
	}
	for _, c := range currencies {
		if c.Code == code {
			return c, nil
		}
	}
	return domain.Currency{}, domain.Errorf(domain.KindNotFound, "unknown currency %s", code)
}

// registered fails with NotFound unless every code is a known currency
func (s *service) registered(ctx context.Context, codes ...string) error {
	currencies, err := s.repo.Currencies(ctx)
	if err != nil {
		return fmt.Errorf("listing currencies: %w", err)
	}
	known := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		known[c.Code] = true
	}
	for _, code := range codes {
		if !known[code] {
			return domain.Errorf(domain.KindNotFound, "unknown currency %s", code)
		}
	}
	return nil
}

// edges builds the forward edge and its reciprocal
func edges(first, second string, value decimal.Decimal) ([]domain.ExchangeValue, error) {
	if first == second {
		return nil, domain.Errorf(domain.KindValidation, "exchange value needs two different currencies, got %s twice", first)
	}
	if !value.IsPositive() {
		return nil, domain.Errorf(domain.KindConversion, "exchange value must be positive, got %s", value)
	}
	inverse, err := Reciprocal(value)
	if err != nil {
		return nil, err
	}
	return []domain.ExchangeValue{
		{First: first, Second: second, UnitOfFirstValue: value},
		{First: second, Second: first, UnitOfFirstValue: inverse, Reciprocal: true},
	}, nil
}

func (s *service) CreateRate(ctx context.Context, first, second string, value decimal.Decimal) (domain.ExchangeValue, error) {
	first, second = domain.NormalizeCode(first), domain.NormalizeCode(second)
	values, err := edges(first, second, value)
	if err != nil {
		return domain.ExchangeValue{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.seedLocked(ctx); err != nil {
		return domain.ExchangeValue{}, err
	}
	if err := s.registered(ctx, first, second); err != nil {
		return domain.ExchangeValue{}, err
	}
	if _, ok := s.graph.Edge(first, second); ok {
		return domain.ExchangeValue{}, domain.Errorf(domain.KindValidation, "exchange value %s/%s already exists", first, second)
	}
	if _, ok := s.graph.Edge(second, first); ok {
		return domain.ExchangeValue{}, domain.Errorf(domain.KindValidation, "exchange value %s/%s already exists, update it instead", second, first)
	}

	if err := s.repo.SaveExchangeValues(ctx, values...); err != nil {
		return domain.ExchangeValue{}, fmt.Errorf("create rate [%s/%s]: %w", first, second, err)
	}
	s.graph.Put(values...)
	return values[0], nil
}

// UpdateRate rewrites the edge and refreshes its reciprocal
func (s *service) UpdateRate(ctx context.Context, first, second string, value decimal.Decimal) (domain.ExchangeValue, error) {
	first, second = domain.NormalizeCode(first), domain.NormalizeCode(second)
	values, err := edges(first, second, value)
	if err != nil {
		return domain.ExchangeValue{}, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.seedLocked(ctx); err != nil {
		return domain.ExchangeValue{}, err
	}
	if _, ok := s.graph.Edge(first, second); !ok {
		return domain.ExchangeValue{}, domain.Errorf(domain.KindNotFound, "exchange value %s/%s not found", first, second)
	}

	if err := s.repo.SaveExchangeValues(ctx, values...); err != nil {
		return domain.ExchangeValue{}, fmt.Errorf("update rate [%s/%s]: %w", first, second, err)
	}
	s.graph.Put(values...)
	return values[0], nil
}

// DeleteRate removes the edge together with its reverse
func (s *service) DeleteRate(ctx context.Context, first, second string) error {
	first, second = domain.NormalizeCode(first), domain.NormalizeCode(second)

	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.seedLocked(ctx); err != nil {
		return err
	}
	if _, ok := s.graph.Edge(first, second); !ok {
		return domain.Errorf(domain.KindNotFound, "exchange value %s/%s not found", first, second)
	}

	pair := domain.Pair{From: first, To: second}
	pairs := []domain.Pair{pair}
	if _, ok := s.graph.Edge(second, first); ok {
		pairs = append(pairs, pair.Reverse())
	}
	if err := s.repo.DeleteExchangeValues(ctx, pairs...); err != nil {
		return fmt.Errorf("delete rate [%s]: %w", pair, err)
	}
	s.graph.Remove(pairs...)
	return nil
}

func (s *service) Rates(ctx context.Context) ([]domain.ExchangeValue, error) {
	g, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return g.Values(), nil
}

func (s *service) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	g, err := s.load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	from, to = domain.NormalizeCode(from), domain.NormalizeCode(to)
	rate, ok := g.Rate(from, to)
	if !ok {
		return decimal.Zero, domain.Errorf(domain.KindNoApplicableExchangeRate, "no exchange rate from %s to %s", from, to)
	}
	return rate, nil
}

// Convert computes a conversion from one currency to another over the direct edge
func (s *service) Convert(ctx context.Context, amount domain.Money, to string) (Exchanged, error) {
	g, err := s.load(ctx)
	if err != nil {
		return Exchanged{}, err
	}
	return g.Convert(amount, domain.NormalizeCode(to))
}

func (s *service) ToUSD(ctx context.Context, amount domain.Money) (domain.Money, error) {
	ex, err := s.Convert(ctx, amount, domain.USD)
	if err != nil {
		return domain.Money{}, err
	}
	return ex.Amount, nil
}
