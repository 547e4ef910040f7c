package transaction

import (
	"context"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go-currency-ledger/domain"
	"time"
)

// Metrics request counter and latency histogram, labelled by method and error kind
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) Metrics {
	m := Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "transaction",
			Name:      "requests_total",
			Help:      "Number of transaction requests received.",
		}, []string{"method", "kind"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "transaction",
			Name:      "request_duration_seconds",
			Help:      "Duration of transaction requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "kind"}),
	}
	reg.MustRegister(m.Requests, m.Latency)
	return m
}

type instrumentingService struct {
	next    Service
	metrics Metrics
}

// NewInstrumentingService returns a Service recording Metrics
func NewInstrumentingService(m Metrics, s Service) Service {
	return &instrumentingService{next: s, metrics: m}
}

func (s *instrumentingService) observe(method string, begin time.Time, err error) {
	kind := "ok"
	if err != nil {
		kind = string(domain.KindOf(err))
	}
	s.metrics.Requests.WithLabelValues(method, kind).Inc()
	s.metrics.Latency.WithLabelValues(method, kind).Observe(time.Since(begin).Seconds())
}

func (s *instrumentingService) Transfer(ctx context.Context, p domain.Principal, req TransferRequest) (tx domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("transfer", begin, err) }(time.Now())
	return s.next.Transfer(ctx, p, req)
}

func (s *instrumentingService) Deposit(ctx context.Context, p domain.Principal, req DepositRequest) (tx domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("deposit", begin, err) }(time.Now())
	return s.next.Deposit(ctx, p, req)
}

func (s *instrumentingService) Confirm(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("confirm", begin, err) }(time.Now())
	return s.next.Confirm(ctx, p, id)
}

func (s *instrumentingService) Cancel(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("cancel", begin, err) }(time.Now())
	return s.next.Cancel(ctx, p, id)
}

func (s *instrumentingService) Get(ctx context.Context, p domain.Principal, id uuid.UUID) (tx domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("get", begin, err) }(time.Now())
	return s.next.Get(ctx, p, id)
}

func (s *instrumentingService) List(ctx context.Context, p domain.Principal, account string) (txs []domain.Transaction, err error) {
	defer func(begin time.Time) { s.observe("list", begin, err) }(time.Now())
	return s.next.List(ctx, p, account)
}

func (s *instrumentingService) ExpirePending(ctx context.Context, now time.Time) (n int, err error) {
	defer func(begin time.Time) { s.observe("expire_pending", begin, err) }(time.Now())
	return s.next.ExpirePending(ctx, now)
}
