package postgres

import (
	"context"
	"github.com/jackc/pgx/v5"
	"go-currency-ledger/domain"
)

func (s *Store) Currencies(ctx context.Context) ([]domain.Currency, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code FROM currencies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Currency, error) {
		var c domain.Currency
		err := row.Scan(&c.ID, &c.Code)
		return c, err
	})
}

func (s *Store) CreateCurrency(ctx context.Context, code string) (domain.Currency, error) {
	c := domain.Currency{Code: code}
	err := s.pool.QueryRow(ctx, `INSERT INTO currencies (code) VALUES ($1) RETURNING id`, code).Scan(&c.ID)
	if err != nil {
		return domain.Currency{}, duplicate(err, "currency %s already exists", code)
	}
	return c, nil
}

func (s *Store) ExchangeValues(ctx context.Context) ([]domain.ExchangeValue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.code, t.code, v.unit_of_first_value, v.reciprocal
		FROM exchange_values v
		JOIN currencies f ON f.id = v.first_currency_id
		JOIN currencies t ON t.id = v.second_currency_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExchangeValue, error) {
		var v domain.ExchangeValue
		err := row.Scan(&v.First, &v.Second, &v.UnitOfFirstValue, &v.Reciprocal)
		return v, err
	})
}

// SaveExchangeValues upserts every value in one transaction
func (s *Store) SaveExchangeValues(ctx context.Context, values ...domain.ExchangeValue) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, v := range values {
			tag, err := tx.Exec(ctx, `
				INSERT INTO exchange_values (first_currency_id, second_currency_id, unit_of_first_value, reciprocal)
				SELECT f.id, t.id, $3::numeric, $4::boolean FROM currencies f, currencies t WHERE f.code = $1 AND t.code = $2
				ON CONFLICT (first_currency_id, second_currency_id)
				DO UPDATE SET unit_of_first_value = EXCLUDED.unit_of_first_value, reciprocal = EXCLUDED.reciprocal`,
				v.First, v.Second, v.UnitOfFirstValue, v.Reciprocal)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return domain.Errorf(domain.KindNotFound, "unknown currency in %s", v.Pair())
			}
		}
		return nil
	})
}

func (s *Store) DeleteExchangeValues(ctx context.Context, pairs ...domain.Pair) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, p := range pairs {
			_, err := tx.Exec(ctx, `
				DELETE FROM exchange_values v
				USING currencies f, currencies t
				WHERE v.first_currency_id = f.id AND v.second_currency_id = t.id
				  AND f.code = $1 AND t.code = $2`,
				p.From, p.To)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Tiers(ctx context.Context) ([]domain.CommissionRate, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, max_usd_range, rate FROM commission_rates ORDER BY max_usd_range`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CommissionRate, error) {
		var t domain.CommissionRate
		err := row.Scan(&t.ID, &t.MaxUSDRange, &t.Rate)
		return t, err
	})
}

func (s *Store) CreateTier(ctx context.Context, t domain.CommissionRate) (domain.CommissionRate, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO commission_rates (max_usd_range, rate) VALUES ($1, $2) RETURNING id`,
		t.MaxUSDRange, t.Rate).Scan(&t.ID)
	if err != nil {
		return domain.CommissionRate{}, duplicate(err, "a tier with maxUSDRange %s already exists", t.MaxUSDRange)
	}
	return t, nil
}

func (s *Store) UpdateTier(ctx context.Context, t domain.CommissionRate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commission_rates SET max_usd_range = $2, rate = $3 WHERE id = $1`,
		t.ID, t.MaxUSDRange, t.Rate)
	if err != nil {
		return duplicate(err, "a tier with maxUSDRange %s already exists", t.MaxUSDRange)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "commission tier %d not found", t.ID)
	}
	return nil
}

func (s *Store) DeleteTier(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM commission_rates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "commission tier %d not found", id)
	}
	return nil
}
