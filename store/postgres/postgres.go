// Package postgres implements every repository on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go-currency-ledger/domain"
	"time"
)

//go:embed schema.sql
var schema string

const (
	maxConnectAttempts = 5
	uniqueViolation    = "23505"
)

// Store PostgreSQL backed repositories
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("postgres: nil pool")
	}
	return &Store{pool: pool}
}

// Connect opens a pool, retrying with exponential backoff while the database
// is not reachable yet
func Connect(ctx context.Context, url string, logger log.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 5 * time.Minute

	delay := time.Second
	for attempt := 1; ; attempt++ {
		pool, err := connectOnce(ctx, config)
		if err == nil {
			logger.Log("msg", "connected to database", "attempt", attempt)
			return pool, nil
		}
		if attempt == maxConnectAttempts {
			return nil, fmt.Errorf("connecting to database after %d attempts: %w", attempt, err)
		}
		logger.Log("msg", "database not reachable", "attempt", attempt, "retry_in", delay, "err", err)
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func connectOnce(ctx context.Context, config *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates missing tables and indexes
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// inTx runs fn in a transaction, committing when it returns nil
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// duplicate maps a unique violation to a Validation error
func duplicate(err error, format string, args ...interface{}) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Errorf(domain.KindValidation, format, args...)
	}
	return err
}

// notFound maps pgx.ErrNoRows to a NotFound error
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Errorf(domain.KindNotFound, format, args...)
	}
	return err
}
