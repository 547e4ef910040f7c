package commission

import (
	"context"
	"encoding/json"
	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
	"go-currency-ledger/cache"
	"go-currency-ledger/domain"
	"sync"
	"time"
)

// TiersKey cache key holding the sorted tier list
const TiersKey = "commission:tiers"

// cachingService decorates a commission.Service with a cache of the tier list.
// Every successful write deletes the cached list before returning.
type cachingService struct {
	// next the service being decorated with a cache
	next Service

	cache cache.Cache

	// ttl how long a cached list is trusted
	ttl time.Duration

	// lock guards generation and orders cache fills against invalidations
	lock sync.Mutex

	// generation bumped by every invalidation. A fill that started in an
	// older generation is not written back.
	generation uint64

	logger log.Logger
}

// NewCachingService returns a new caching Service
func NewCachingService(c cache.Cache, ttl time.Duration, logger log.Logger, s Service) Service {
	if c == nil || s == nil {
		panic("commission: nil cache or service")
	}
	return &cachingService{
		next:   s,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// schedule reads the tier list from the cache, seeding it on a miss.
// Cache failures fall back to the decorated service.
func (s *cachingService) schedule(ctx context.Context) (Schedule, error) {
	b, ok, err := s.cache.Get(ctx, TiersKey)
	if err != nil {
		s.logger.Log("msg", "cache read failed", "key", TiersKey, "err", err)
	}
	if ok {
		var tiers []domain.CommissionRate
		if err := json.Unmarshal(b, &tiers); err == nil {
			return NewSchedule(tiers), nil
		}
		s.logger.Log("msg", "discarding undecodable cache entry", "key", TiersKey)
	}

	s.lock.Lock()
	generation := s.generation
	s.lock.Unlock()

	tiers, err := s.next.Tiers(ctx)
	if err != nil {
		return Schedule{}, err
	}
	s.fill(ctx, generation, tiers)
	return NewSchedule(tiers), nil
}

// fill caches tiers unless an invalidation ran since they were read
func (s *cachingService) fill(ctx context.Context, generation uint64, tiers []domain.CommissionRate) {
	b, err := json.Marshal(tiers)
	if err != nil {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.generation != generation {
		s.logger.Log("msg", "skipping cache write, tiers changed while loading", "key", TiersKey)
		return
	}
	if err := s.cache.Set(ctx, TiersKey, b, s.ttl); err != nil {
		s.logger.Log("msg", "cache write failed", "key", TiersKey, "err", err)
	}
}

// invalidate drops the cached list. A failed delete is returned so the caller
// does not assume readers see the write.
func (s *cachingService) invalidate(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.generation++
	return s.cache.Delete(ctx, TiersKey)
}

func (s *cachingService) CreateTier(ctx context.Context, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error) {
	t, err := s.next.CreateTier(ctx, maxUSDRange, rate)
	if err != nil {
		return t, err
	}
	return t, s.invalidate(ctx)
}

func (s *cachingService) Tier(ctx context.Context, id int64) (domain.CommissionRate, error) {
	sched, err := s.schedule(ctx)
	if err != nil {
		return domain.CommissionRate{}, err
	}
	for _, t := range sched.tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.CommissionRate{}, domain.Errorf(domain.KindNotFound, "commission tier %d not found", id)
}

func (s *cachingService) Tiers(ctx context.Context) ([]domain.CommissionRate, error) {
	sched, err := s.schedule(ctx)
	if err != nil {
		return nil, err
	}
	return sched.Tiers(), nil
}

func (s *cachingService) UpdateTier(ctx context.Context, id int64, maxUSDRange, rate decimal.Decimal) (domain.CommissionRate, error) {
	t, err := s.next.UpdateTier(ctx, id, maxUSDRange, rate)
	if err != nil {
		return t, err
	}
	return t, s.invalidate(ctx)
}

func (s *cachingService) DeleteTier(ctx context.Context, id int64) error {
	if err := s.next.DeleteTier(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *cachingService) RateFor(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, error) {
	sched, err := s.schedule(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return resolve(sched, usd)
}
