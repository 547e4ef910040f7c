package postgres

import (
	"context"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go-currency-ledger/domain"
	"time"
)

const selectTransaction = `
	SELECT id, type, status, amount, currency, from_account, to_account,
	       commission_rate, commission, decrease_amount, destination_amount,
	       commission_free, reason, created_at, updated_at
	FROM transactions`

func scanTransaction(row pgx.CollectableRow) (domain.Transaction, error) {
	var (
		t            domain.Transaction
		kind, status string
		to           *string
	)
	err := row.Scan(&t.ID, &kind, &status, &t.Amount.Amount, &t.Amount.Currency, &t.FromAccount, &to,
		&t.CommissionRate, &t.Commission, &t.DecreaseAmount, &t.DestinationAmount,
		&t.CommissionFree, &t.Reason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.Type, t.Status = domain.TransactionType(kind), domain.Status(status)
	if to != nil {
		t.ToAccount = *to
	}
	return t, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	var to *string
	if t.ToAccount != "" {
		to = &t.ToAccount
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, type, status, amount, currency, from_account, to_account,
			commission_rate, commission, decrease_amount, destination_amount,
			commission_free, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, string(t.Type), string(t.Status), t.Amount.Amount, t.Amount.Currency, t.FromAccount, to,
		t.CommissionRate, t.Commission, t.DecreaseAmount, t.DestinationAmount,
		t.CommissionFree, t.Reason, t.CreatedAt, t.UpdatedAt)
	return duplicate(err, "transaction %s already exists", t.ID)
}

// CreateTransaction records a transaction without touching balances
func (s *Store) CreateTransaction(ctx context.Context, t domain.Transaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return insertTransaction(ctx, tx, t)
	})
}

func (s *Store) Transaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+` WHERE id = $1`, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		return domain.Transaction{}, notFound(err, "transaction %s not found", id)
	}
	return t, nil
}

// TransactionsByAccount lists transactions touching the account, newest first
func (s *Store) TransactionsByAccount(ctx context.Context, number string) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+`
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC, id DESC`, number)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// PendingBefore lists pending transfers created before the cutoff, oldest first
func (s *Store) PendingBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+`
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at`, string(domain.StatusPending), before)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanTransaction)
}
