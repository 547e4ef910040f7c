package commission

import (
	"context"
	"fmt"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"sync"
)

// Service commission tier administration and rate resolution
type Service interface {
	CreateTier(ctx context.Context, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error)
	Tier(ctx context.Context, id int64) (domain.CommissionRate, error)
	Tiers(ctx context.Context) ([]domain.CommissionRate, error)
	UpdateTier(ctx context.Context, id int64, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error)
	DeleteTier(ctx context.Context, id int64) error

	// RateFor fails with NoApplicableCommissionRate when the amount exceeds the largest tier
	RateFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, error)
}

// Repository persists tiers
type Repository interface {
	Tiers(ctx context.Context) ([]domain.CommissionRate, error)
	// CreateTier assigns the ID
	CreateTier(ctx context.Context, t domain.CommissionRate) (domain.CommissionRate, error)
	UpdateTier(ctx context.Context, t domain.CommissionRate) error
	DeleteTier(ctx context.Context, id int64) error
}

type service struct {
	repo Repository

	// lock serialises validate-then-write so neighbour checks see a stable schedule
	lock sync.Mutex
}

// NewService constructs a valid Service
func NewService(repo Repository) Service {
	if repo == nil {
		panic("commission: nil repository")
	}
	return &service{repo: repo}
}

func (s *service) schedule(ctx context.Context) (Schedule, error) {
	tiers, err := s.repo.Tiers(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("loading commission tiers: %w", err)
	}
	return NewSchedule(tiers), nil
}

func (s *service) CreateTier(ctx context.Context, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	sched, err := s.schedule(ctx)
	if err != nil {
		return domain.CommissionRate{}, err
	}
	t := domain.CommissionRate{MaxUSDRange: maxUSDRange, Rate: rate}
	if err := sched.Validate(t); err != nil {
		return domain.CommissionRate{}, err
	}
	return s.repo.CreateTier(ctx, t)
}

func (s *service) Tier(ctx context.Context, id int64) (domain.CommissionRate, error) {
	tiers, err := s.repo.Tiers(ctx)
	if err != nil {
		return domain.CommissionRate{}, err
	}
	for _, t := range tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.CommissionRate{}, domain.Errorf(domain.KindNotFound, "commission tier %d not found", id)
}

func (s *service) Tiers(ctx context.Context) ([]domain.CommissionRate, error) {
	sched, err := s.schedule(ctx)
	if err != nil {
		return nil, err
	}
	return sched.Tiers(), nil
}

func (s *service) UpdateTier(ctx context.Context, id int64, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	sched, err := s.schedule(ctx)
	if err != nil {
		return domain.CommissionRate{}, err
	}
	found := false
	for _, t := range sched.tiers {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return domain.CommissionRate{}, domain.Errorf(domain.KindNotFound, "commission tier %d not found", id)
	}

	t := domain.CommissionRate{ID: id, MaxUSDRange: maxUSDRange, Rate: rate}
	if err := sched.Validate(t); err != nil {
		return domain.CommissionRate{}, err
	}
	if err := s.repo.UpdateTier(ctx, t); err != nil {
		return domain.CommissionRate{}, err
	}
	return t, nil
}

func (s *service) DeleteTier(ctx context.Context, id int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.repo.DeleteTier(ctx, id)
}

func (s *service) RateFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, error) {
	sched, err := s.schedule(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return resolve(sched, usd)
}

func resolve(sched Schedule, usd decimal.Decimal) (decimal.Decimal, error) {
	rate, ok := sched.RateFor(usd)
	if !ok {
		return decimal.Zero, domain.Errorf(domain.KindNoApplicableCommissionRate, "no commission rate defined for %s USD", usd)
	}
	return rate, nil
}
