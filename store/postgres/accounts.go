package postgres

import (
	"context"
	"github.com/jackc/pgx/v5"
	"go-currency-ledger/domain"
	"go-currency-ledger/ledger"
	"sort"
)

const selectAccount = `
	SELECT a.number, a.owner_id, c.code, a.balance, a.stash_balance, a.version, a.created_at
	FROM currency_accounts a
	JOIN currencies c ON c.id = a.currency_id`

func scanAccount(row pgx.CollectableRow) (domain.CurrencyAccount, error) {
	var a domain.CurrencyAccount
	err := row.Scan(&a.Number, &a.OwnerID, &a.Currency, &a.Balance, &a.StashBalance, &a.Version, &a.CreatedAt)
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, a domain.CurrencyAccount) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO currency_accounts (number, owner_id, currency_id, balance, stash_balance, version, created_at)
		SELECT $1::text, $2::text, id, $4::numeric, $5::numeric, $6::bigint, $7::timestamptz FROM currencies WHERE code = $3`,
		a.Number, a.OwnerID, a.Currency, a.Balance, a.StashBalance, a.Version, a.CreatedAt)
	if err != nil {
		return duplicate(err, "account number %s already exists", a.Number)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "currency %s not found", a.Currency)
	}
	return nil
}

func (s *Store) Account(ctx context.Context, number string) (domain.CurrencyAccount, error) {
	rows, err := s.pool.Query(ctx, selectAccount+` WHERE a.number = $1`, number)
	if err != nil {
		return domain.CurrencyAccount{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return domain.CurrencyAccount{}, notFound(err, "account %s not found", number)
	}
	return a, nil
}

// Accounts loads every account in the order asked, or fails with NotFound
func (s *Store) Accounts(ctx context.Context, numbers ...string) ([]domain.CurrencyAccount, error) {
	rows, err := s.pool.Query(ctx, selectAccount+` WHERE a.number = ANY($1)`, numbers)
	if err != nil {
		return nil, err
	}
	found, err := pgx.CollectRows(rows, scanAccount)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[string]domain.CurrencyAccount, len(found))
	for _, a := range found {
		byNumber[a.Number] = a
	}
	out := make([]domain.CurrencyAccount, 0, len(numbers))
	for _, n := range numbers {
		a, ok := byNumber[n]
		if !ok {
			return nil, domain.Errorf(domain.KindNotFound, "account %s not found", n)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) AccountsByOwner(ctx context.Context, ownerID string) ([]domain.CurrencyAccount, error) {
	rows, err := s.pool.Query(ctx, selectAccount+` WHERE a.owner_id = $1 ORDER BY a.created_at, a.number`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAccount)
}

// DeleteAccount removes the account if it is still at version. Defined
// account rows go with it through the foreign key cascade.
func (s *Store) DeleteAccount(ctx context.Context, number string, version int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM currency_accounts WHERE number = $1 AND version = $2`, number, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Account(ctx, number); err != nil {
		return err
	}
	return domain.Errorf(domain.KindConcurrencyConflict, "account %s changed while deleting", number)
}

func (s *Store) HasPending(ctx context.Context, number string) (bool, error) {
	var pending bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE status = $2 AND (from_account = $1 OR to_account = $1)
		)`, number, string(domain.StatusPending)).Scan(&pending)
	return pending, err
}

func (s *Store) AddDefinedAccount(ctx context.Context, d domain.DefinedAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO defined_accounts (owner_id, account_number, created_at) VALUES ($1, $2, $3)`,
		d.OwnerID, d.AccountNumber, d.CreatedAt)
	return duplicate(err, "account %s is already defined", d.AccountNumber)
}

func (s *Store) RemoveDefinedAccount(ctx context.Context, ownerID, number string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM defined_accounts WHERE owner_id = $1 AND account_number = $2`, ownerID, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "defined account %s not found", number)
	}
	return nil
}

func (s *Store) DefinedAccounts(ctx context.Context, ownerID string) ([]domain.DefinedAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner_id, account_number, created_at FROM defined_accounts
		WHERE owner_id = $1 ORDER BY account_number`, ownerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.DefinedAccount, error) {
		var d domain.DefinedAccount
		err := row.Scan(&d.OwnerID, &d.AccountNumber, &d.CreatedAt)
		return d, err
	})
}

func (s *Store) IsDefined(ctx context.Context, ownerID, number string) (bool, error) {
	var defined bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM defined_accounts WHERE owner_id = $1 AND account_number = $2)`,
		ownerID, number).Scan(&defined)
	return defined, err
}

// Commit applies the balance updates, the insert and the transition in one
// database transaction. Touched account rows are locked in number order and
// their versions compared before anything is written.
func (s *Store) Commit(ctx context.Context, c ledger.Commit) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockVersions(ctx, tx, c.Updates); err != nil {
			return err
		}
		for _, u := range c.Updates {
			_, err := tx.Exec(ctx, `
				UPDATE currency_accounts SET balance = $2, stash_balance = $3, version = version + 1
				WHERE number = $1`, u.Number, u.Balance, u.Stash)
			if err != nil {
				return err
			}
		}
		if c.Insert != nil {
			if err := insertTransaction(ctx, tx, *c.Insert); err != nil {
				return err
			}
		}
		if c.Transition != nil {
			return transition(ctx, tx, *c.Transition)
		}
		return nil
	})
}

func lockVersions(ctx context.Context, tx pgx.Tx, updates []ledger.BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	numbers := make([]string, len(updates))
	for i, u := range updates {
		numbers[i] = u.Number
	}
	sort.Strings(numbers)

	rows, err := tx.Query(ctx, `
		SELECT number, version FROM currency_accounts
		WHERE number = ANY($1) ORDER BY number FOR UPDATE`, numbers)
	if err != nil {
		return err
	}
	versions := make(map[string]int64, len(numbers))
	var (
		number  string
		version int64
	)
	_, err = pgx.ForEachRow(rows, []any{&number, &version}, func() error {
		versions[number] = version
		return nil
	})
	if err != nil {
		return err
	}

	for _, u := range updates {
		current, ok := versions[u.Number]
		if !ok {
			return domain.Errorf(domain.KindNotFound, "account %s not found", u.Number)
		}
		if current != u.Version {
			return domain.Errorf(domain.KindConcurrencyConflict, "account %s is at version %d, expected %d", u.Number, current, u.Version)
		}
	}
	return nil
}

func transition(ctx context.Context, tx pgx.Tx, t ledger.Transition) error {
	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		t.ID, string(t.From), string(t.To), t.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, t.ID).Scan(&status)
	if err != nil {
		return notFound(err, "transaction %s not found", t.ID)
	}
	return domain.Errorf(domain.KindInvalidStateTransition, "transaction %s is %s, not %s", t.ID, status, t.From)
}
