package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go-currency-ledger/account"
	"go-currency-ledger/cache"
	"go-currency-ledger/commission"
	"go-currency-ledger/config"
	"go-currency-ledger/events"
	"go-currency-ledger/exchange"
	"go-currency-ledger/http"
	"go-currency-ledger/idempotency"
	"go-currency-ledger/ledger"
	"go-currency-ledger/store/memory"
	"go-currency-ledger/store/postgres"
	"go-currency-ledger/transaction"
	"os"
	"os/signal"
	"syscall"
	"time"

	nhttp "net/http"
)

// repository every persistence concern the services need
type repository interface {
	exchange.Repository
	commission.Repository
	ledger.Store
	transaction.Repository
	transaction.Accounts
	account.Repository
	Ping(ctx context.Context) error
}

func main() {
	w := log.NewSyncWriter(os.Stderr)
	logger := log.NewLogfmtLogger(w)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := config.Load()
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	logger = level.NewFilter(logger, allow(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		level.Error(logger).Log("msg", "server stopped", "err", err)
		os.Exit(1)
	}
}

func allow(lvl string) level.Option {
	switch lvl {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	}
	return level.AllowInfo()
}

func run(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeRepo)

	var rdb *redis.Client
	if cfg.CacheDriver == "redis" || cfg.IdempotencyDriver == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, func() { rdb.Close() })
	}

	tierCache := cache.NewMemory()
	if cfg.CacheDriver == "redis" {
		tierCache = cache.NewRedis(rdb, "ledger")
	}

	keys, closeKeys, err := openIdempotency(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeKeys)

	var publisher events.Publisher = events.NewNop()
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.With(logger, "component", "kafka"))
	}
	closers = append(closers, func() {
		if err := publisher.Close(); err != nil {
			level.Warn(logger).Log("msg", "closing event publisher", "err", err)
		}
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exchangeService := exchange.NewService(repo)
	exchangeService = exchange.NewLoggingService(log.With(logger, "component", "exchange"), exchangeService)

	commissionService := commission.NewService(repo)
	commissionService = commission.NewCachingService(tierCache, cfg.CommissionCacheTTL, log.With(logger, "component", "commission_cache"), commissionService)
	commissionService = commission.NewLoggingService(log.With(logger, "component", "commission"), commissionService)

	l := ledger.New(repo, exchangeService, cfg.MinimumBalanceUSD)

	transactionService := transaction.NewService(repo, repo, l, exchangeService, commissionService, publisher,
		cfg.ConfirmationWindow, log.With(logger, "component", "transaction"))
	transactionService = transaction.NewIdempotentService(keys, cfg.IdempotencyTTL, log.With(logger, "component", "idempotency"), transactionService)
	transactionService = transaction.NewInstrumentingService(transaction.NewMetrics(registry), transactionService)
	transactionService = transaction.NewLoggingService(log.With(logger, "component", "transaction"), transactionService)

	accountService := account.NewService(repo, exchangeService, transactionService)
	accountService = account.NewLoggingService(log.With(logger, "component", "account"), accountService)

	go transaction.Sweep(ctx, transactionService, cfg.SweepInterval, log.With(logger, "component", "sweeper"))
	if cfg.StorageDriver == "postgres" {
		go exchange.RefreshPeriodically(ctx, exchangeService, cfg.ExchangeRefreshInterval, log.With(logger, "component", "exchange_refresh"))
	}

	handler := http.NewServer(
		http.Services{
			Exchange:     exchangeService,
			Commissions:  commissionService,
			Accounts:     accountService,
			Transactions: transactionService,
		},
		http.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		repo.Ping,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		log.With(logger, "component", "http"),
	)

	server := &nhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", cfg.HTTPAddr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, nhttp.ErrServerClosed) {
		return err
	}
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger log.Logger) (repository, func(), error) {
	if cfg.StorageDriver != "postgres" {
		level.Warn(logger).Log("msg", "using in-memory storage, state is lost on restart")
		return memory.New(), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, log.With(logger, "component", "postgres"))
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}
	return store, store.Close, nil
}

func openIdempotency(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger log.Logger) (idempotency.Store, func(), error) {
	switch cfg.IdempotencyDriver {
	case "redis":
		return idempotency.NewRedisStore(rdb, "ledger"), func() {}, nil
	case "bolt":
		store, err := idempotency.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", cfg.BoltPath, err)
		}
		go idempotency.PurgePeriodically(ctx, store, cfg.IdempotencyTTL, log.With(logger, "component", "idempotency"))
		return store, func() { store.Close() }, nil
	}
	return idempotency.NewMemoryStore(), func() {}, nil
}
