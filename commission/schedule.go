package commission

import (
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"sort"
)

// MaxRate the highest commission rate a tier may carry
var MaxRate = decimal.RequireFromString("0.5")

// Schedule tiers sorted ascending by MaxUSDRange. The zero value is an empty schedule.
type Schedule struct {
	tiers []domain.CommissionRate
}

// NewSchedule sorts a copy of tiers
func NewSchedule(tiers []domain.CommissionRate) Schedule {
	sorted := make([]domain.CommissionRate, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MaxUSDRange.LessThan(sorted[j].MaxUSDRange)
	})
	return Schedule{tiers: sorted}
}

// Tiers returns the sorted tiers
func (s Schedule) Tiers() []domain.CommissionRate {
	out := make([]domain.CommissionRate, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// RateFor resolves the tier governing a USD-equivalent amount: the first tier
// whose boundary is >= amount. Amounts below the smallest boundary get the
// smallest tier. Amounts above the largest boundary have no rate.
func (s Schedule) RateFor(usd decimal.Decimal) (decimal.Decimal, bool) {
	i := sort.Search(len(s.tiers), func(i int) bool {
		return s.tiers[i].MaxUSDRange.GreaterThanOrEqual(usd)
	})
	if i == len(s.tiers) {
		return decimal.Zero, false
	}
	return s.tiers[i].Rate, true
}

// Validate checks a candidate tier against the schedule. A tier with the same
// ID is treated as the one being replaced. Rates must not increase with the
// boundary, so the lower neighbour's rate must be >= the candidate's and the
// upper neighbour's rate <= the candidate's.
func (s Schedule) Validate(t domain.CommissionRate) error {
	if !t.MaxUSDRange.IsPositive() {
		return domain.Errorf(domain.KindValidation, "maxUSDRange must be positive, got %s", t.MaxUSDRange)
	}
	if t.Rate.IsNegative() || t.Rate.GreaterThan(MaxRate) {
		return domain.Errorf(domain.KindValidation, "commission rate must be within [0, %s], got %s", MaxRate, t.Rate)
	}

	others := make([]domain.CommissionRate, 0, len(s.tiers))
	for _, o := range s.tiers {
		if t.ID != 0 && o.ID == t.ID {
			continue
		}
		if o.MaxUSDRange.Equal(t.MaxUSDRange) {
			return domain.Errorf(domain.KindValidation, "a tier with maxUSDRange %s already exists", t.MaxUSDRange)
		}
		others = append(others, o)
	}

	i := sort.Search(len(others), func(i int) bool {
		return others[i].MaxUSDRange.GreaterThan(t.MaxUSDRange)
	})
	if i > 0 {
		lower := others[i-1]
		if lower.Rate.LessThan(t.Rate) {
			return domain.Errorf(domain.KindValidation,
				"rate %s for range %s exceeds rate %s of smaller range %s",
				t.Rate, t.MaxUSDRange, lower.Rate, lower.MaxUSDRange)
		}
	}
	if i < len(others) {
		upper := others[i]
		if upper.Rate.GreaterThan(t.Rate) {
			return domain.Errorf(domain.KindValidation,
				"rate %s for range %s is below rate %s of larger range %s",
				t.Rate, t.MaxUSDRange, upper.Rate, upper.MaxUSDRange)
		}
	}
	return nil
}
