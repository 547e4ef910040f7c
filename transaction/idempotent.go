package transaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"github.com/go-kit/log"
	"go-currency-ledger/domain"
	"go-currency-ledger/idempotency"
	"time"
)

type keyContext struct{}

// WithIdempotencyKey attaches a client supplied key to ctx
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyContext{}, key)
}

// IdempotencyKey returns the key attached to ctx, if any
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyContext{}).(string)
	return key, ok && key != ""
}

// outcome what is kept under a completed key
type outcome struct {
	Fingerprint string             `json:"fingerprint"`
	Transaction domain.Transaction `json:"transaction"`
}

// fingerprint identifies a request so a key cannot be replayed for a different one
func fingerprint(op string, req any) (string, error) {
	b, err := json.Marshal(struct {
		Op      string `json:"op"`
		Request any    `json:"request"`
	}{op, req})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// idempotentService decorates a transaction.Service so that transfers and
// deposits carrying an idempotency key execute at most once per key and
// caller within the retention window
type idempotentService struct {
	Service
	store  idempotency.Store
	ttl    time.Duration
	logger log.Logger
}

// NewIdempotentService returns a Service replaying completed keyed requests
func NewIdempotentService(store idempotency.Store, ttl time.Duration, logger log.Logger, s Service) Service {
	if store == nil || s == nil {
		panic("transaction: nil idempotency store or service")
	}
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &idempotentService{Service: s, store: store, ttl: ttl, logger: logger}
}

func (s *idempotentService) Transfer(ctx context.Context, p domain.Principal, req TransferRequest) (domain.Transaction, error) {
	return s.once(ctx, p, "transfer", req, func() (domain.Transaction, error) {
		return s.Service.Transfer(ctx, p, req)
	})
}

func (s *idempotentService) Deposit(ctx context.Context, p domain.Principal, req DepositRequest) (domain.Transaction, error) {
	return s.once(ctx, p, "deposit", req, func() (domain.Transaction, error) {
		return s.Service.Deposit(ctx, p, req)
	})
}

func (s *idempotentService) once(ctx context.Context, p domain.Principal, op string, req any, run func() (domain.Transaction, error)) (domain.Transaction, error) {
	clientKey, ok := IdempotencyKey(ctx)
	if !ok || p.UserID == "" {
		return run()
	}
	key := idempotency.Key(p.UserID, clientKey)
	fp, err := fingerprint(op, req)
	if err != nil {
		return domain.Transaction{}, domain.Wrap(domain.KindInternal, err, "fingerprinting request")
	}

	rec, reserved, err := s.store.Reserve(ctx, key, s.ttl)
	if err != nil {
		return domain.Transaction{}, domain.Wrap(domain.KindInternal, err, "reserving idempotency key")
	}
	if !reserved {
		return replay(rec, clientKey, fp)
	}

	tx, err := run()
	if err != nil {
		// the key is free again so the client may retry
		if rerr := s.store.Release(context.WithoutCancel(ctx), key); rerr != nil {
			s.logger.Log("msg", "releasing idempotency key failed", "key", key, "err", rerr)
		}
		return tx, err
	}

	result, err := json.Marshal(outcome{Fingerprint: fp, Transaction: tx})
	if err != nil {
		s.logger.Log("msg", "encoding idempotent result failed", "key", key, "tx", tx.ID, "err", err)
		return tx, nil
	}
	// the work is committed; when Complete keeps failing the key stays in flight until it expires
	for attempt := 1; attempt <= 2; attempt++ {
		if err = s.store.Complete(context.WithoutCancel(ctx), key, result, s.ttl); err == nil {
			return tx, nil
		}
	}
	s.logger.Log("msg", "storing idempotent result failed", "key", key, "tx", tx.ID, "err", err)
	return tx, nil
}

// replay answers a request whose key is already taken
func replay(rec idempotency.Record, clientKey, fp string) (domain.Transaction, error) {
	if rec.State != idempotency.Completed {
		return domain.Transaction{}, domain.Errorf(domain.KindConcurrencyConflict, "a request with idempotency key %q is still in progress", clientKey)
	}
	var out outcome
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return domain.Transaction{}, domain.Wrap(domain.KindInternal, err, "decoding stored idempotent result")
	}
	if out.Fingerprint != fp {
		return domain.Transaction{}, domain.Errorf(domain.KindValidation, "idempotency key %q was used for a different request", clientKey)
	}
	return out.Transaction, nil
}
