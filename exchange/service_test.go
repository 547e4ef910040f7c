package exchange

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/go-kit/log"
	"go-currency-ledger/domain"
	"sync/atomic"
	"testing"
	"time"
)

type mock struct {
	currencies []domain.Currency
	values     map[domain.Pair]domain.ExchangeValue
	saves      int
	failSave   error
}

func newMock(codes ...string) *mock {
	m := &mock{values: map[domain.Pair]domain.ExchangeValue{}}
	for i, c := range codes {
		m.currencies = append(m.currencies, domain.Currency{ID: int64(i + 1), Code: c})
	}
	return m
}

func (m *mock) Currencies(_ context.Context) ([]domain.Currency, error) {
	return m.currencies, nil
}

func (m *mock) CreateCurrency(_ context.Context, code string) (domain.Currency, error) {
	for _, c := range m.currencies {
		if c.Code == code {
			return domain.Currency{}, domain.Errorf(domain.KindValidation, "duplicate %s", code)
		}
	}
	c := domain.Currency{ID: int64(len(m.currencies) + 1), Code: code}
	m.currencies = append(m.currencies, c)
	return c, nil
}

func (m *mock) ExchangeValues(_ context.Context) ([]domain.ExchangeValue, error) {
	var out []domain.ExchangeValue
	for _, v := range m.values {
		out = append(out, v)
	}
	return out, nil
}

func (m *mock) SaveExchangeValues(_ context.Context, values ...domain.ExchangeValue) error {
	if m.failSave != nil {
		return m.failSave
	}
	m.saves++
	for _, v := range values {
		m.values[v.Pair()] = v
	}
	return nil
}

func (m *mock) DeleteExchangeValues(_ context.Context, pairs ...domain.Pair) error {
	for _, p := range pairs {
		delete(m.values, p)
	}
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestService_CreateRateWritesReciprocal(t *testing.T) {
	ctx := context.Background()
	repo := newMock("USD", "EUR")
	s := NewService(repo)

	v, err := s.CreateRate(ctx, "eur", "usd", d("1.25"))
	require.NoError(t, err)
	assert.Equal(t, "EUR", v.First)
	assert.False(t, v.Reciprocal)

	rate, err := s.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, d("0.8").Equal(rate), "got %s", rate)

	stored := repo.values[domain.Pair{From: "USD", To: "EUR"}]
	assert.True(t, stored.Reciprocal)
	assert.Equal(t, 1, repo.saves)
}

func TestService_CreateRateValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		first  string
		second string
		value  decimal.Decimal
		kind   domain.Kind
	}{
		{"same currency", "USD", "USD", d("1"), domain.KindValidation},
		{"zero value", "USD", "EUR", d("0"), domain.KindConversion},
		{"negative value", "USD", "EUR", d("-2"), domain.KindConversion},
		{"near zero value", "USD", "EUR", d("0.0000000000001"), domain.KindConversion},
		{"unknown currency", "USD", "XYZ", d("2"), domain.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(newMock("USD", "EUR"))
			_, err := s.CreateRate(ctx, tt.first, tt.second, tt.value)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestService_CreateRateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewService(newMock("USD", "EUR"))

	_, err := s.CreateRate(ctx, "EUR", "USD", d("1.1"))
	require.NoError(t, err)

	_, err = s.CreateRate(ctx, "EUR", "USD", d("1.2"))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = s.CreateRate(ctx, "USD", "EUR", d("0.9"))
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestService_UpdateRateRefreshesReciprocal(t *testing.T) {
	ctx := context.Background()
	s := NewService(newMock("USD", "GBP"))

	_, err := s.CreateRate(ctx, "GBP", "USD", d("1.25"))
	require.NoError(t, err)

	_, err = s.UpdateRate(ctx, "GBP", "USD", d("2"))
	require.NoError(t, err)

	rate, err := s.Rate(ctx, "USD", "GBP")
	require.NoError(t, err)
	assert.True(t, d("0.5").Equal(rate))

	_, err = s.UpdateRate(ctx, "GBP", "EUR", d("2"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestService_DeleteRate(t *testing.T) {
	ctx := context.Background()
	repo := newMock("USD", "GBP")
	s := NewService(repo)

	_, err := s.CreateRate(ctx, "GBP", "USD", d("1.25"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteRate(ctx, "USD", "GBP"))
	assert.Empty(t, repo.values)

	_, err = s.Rate(ctx, "GBP", "USD")
	assert.True(t, errors.Is(err, domain.ErrNoApplicableExchangeRate))

	err = s.DeleteRate(ctx, "USD", "GBP")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestService_SeedsFromRepository(t *testing.T) {
	repo := newMock("USD", "EUR")
	repo.values[domain.Pair{From: "EUR", To: "USD"}] = domain.ExchangeValue{First: "EUR", Second: "USD", UnitOfFirstValue: d("1.1")}

	s := NewService(repo)
	usd, err := s.ToUSD(context.Background(), domain.NewMoney(d("10"), "EUR"))
	require.NoError(t, err)
	assert.True(t, usd.Equal(domain.NewMoney(d("11"), "USD")))
}

func TestService_RefreshPicksUpOutsideEdits(t *testing.T) {
	ctx := context.Background()
	repo := newMock("USD", "EUR", "GBP")
	s := NewService(repo)
	_, err := s.CreateRate(ctx, "EUR", "USD", d("1.1"))
	require.NoError(t, err)

	// another instance edits the shared store
	repo.values[domain.Pair{From: "EUR", To: "USD"}] = domain.ExchangeValue{First: "EUR", Second: "USD", UnitOfFirstValue: d("1.2")}
	delete(repo.values, domain.Pair{From: "USD", To: "EUR"})
	repo.values[domain.Pair{From: "GBP", To: "USD"}] = domain.ExchangeValue{First: "GBP", Second: "USD", UnitOfFirstValue: d("1.3")}

	rate, err := s.Rate(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, d("1.1").Equal(rate), "served from memory until refreshed")

	require.NoError(t, s.Refresh(ctx))

	tests := []struct {
		from, to string
		rate     string
	}{
		{"EUR", "USD", "1.2"},
		{"GBP", "USD", "1.3"},
		{"USD", "EUR", ""},
	}
	for _, tt := range tests {
		rate, err := s.Rate(ctx, tt.from, tt.to)
		if tt.rate == "" {
			assert.True(t, errors.Is(err, domain.ErrNoApplicableExchangeRate), "%s/%s", tt.from, tt.to)
			continue
		}
		require.NoError(t, err)
		assert.True(t, d(tt.rate).Equal(rate), "%s/%s got %s", tt.from, tt.to, rate)
	}

	_, err = s.UpdateRate(ctx, "GBP", "USD", d("1.25"))
	assert.NoError(t, err, "refreshed edges can be updated")
}

type refreshMock struct {
	Service
	calls atomic.Int32
}

func (m *refreshMock) Refresh(context.Context) error {
	m.calls.Add(1)
	return errors.New("database unavailable")
}

func TestRefreshPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &refreshMock{}
	done := make(chan struct{})
	go func() {
		RefreshPeriodically(ctx, m, time.Millisecond, log.NewNopLogger())
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestService_SaveFailureLeavesGraphUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := newMock("USD", "EUR")
	repo.failSave = errors.New("db down")
	s := NewService(repo)

	_, err := s.CreateRate(ctx, "EUR", "USD", d("1.1"))
	require.Error(t, err)

	_, err = s.Rate(ctx, "EUR", "USD")
	assert.True(t, errors.Is(err, domain.ErrNoApplicableExchangeRate))
}

func TestService_Convert(t *testing.T) {
	ctx := context.Background()
	s := NewService(newMock("USD", "GBP", "FOO"))
	_, err := s.CreateRate(ctx, "USD", "FOO", d("2"))
	require.NoError(t, err)
	_, err = s.CreateRate(ctx, "GBP", "FOO", d("4"))
	require.NoError(t, err)

	type args struct {
		amount domain.Money
		to     string
	}
	tests := []struct {
		name    string
		args    args
		want    domain.Money
		wantErr bool
	}{
		{"usd -> foo", args{domain.NewMoney(d("10"), "USD"), "FOO"}, domain.NewMoney(d("20"), "FOO"), false},
		{"gbp -> foo", args{domain.NewMoney(d("10"), "GBP"), "FOO"}, domain.NewMoney(d("40"), "FOO"), false},
		{"foo -> gbp", args{domain.NewMoney(d("40"), "FOO"), "GBP"}, domain.NewMoney(d("10"), "GBP"), false},
		{"usd -> usd", args{domain.NewMoney(d("7.5"), "USD"), "USD"}, domain.NewMoney(d("7.5"), "USD"), false},
		{"usd -> gbp has no direct edge", args{domain.NewMoney(d("10"), "USD"), "GBP"}, domain.Money{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Convert(ctx, tt.args.amount, tt.args.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("Convert() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				assert.True(t, tt.want.Equal(got.Amount), "Convert() got = %v, want %v", got.Amount, tt.want)
			}
		})
	}
}
