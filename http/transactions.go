package http

import (
	"context"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go-currency-ledger/domain"
	"go-currency-ledger/transaction"
	"net/http"
)

// IdempotencyHeader lets clients retry transfers and deposits safely
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKey = 255

func idempotent(r *http.Request) (context.Context, error) {
	key := r.Header.Get(IdempotencyHeader)
	if key == "" {
		return r.Context(), nil
	}
	if len(key) > maxIdempotencyKey {
		return nil, domain.Errorf(domain.KindValidation, "%s longer than %d characters", IdempotencyHeader, maxIdempotencyKey)
	}
	return transaction.WithIdempotencyKey(r.Context(), key), nil
}

func (s *Server) transfer() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req transaction.TransferRequest
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		ctx, err := idempotent(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Transactions.Transfer(ctx, principal(r), req)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, t)
	}
}

func (s *Server) deposit() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req transaction.DepositRequest
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		ctx, err := idempotent(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Transactions.Deposit(ctx, principal(r), req)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, t)
	}
}

func transactionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.Errorf(domain.KindValidation, "invalid transaction id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) transaction() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := transactionID(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Transactions.Get(r.Context(), principal(r), id)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, t)
	}
}

// settle produces the confirm and cancel handlers
func (s *Server) settle(op func(context.Context, domain.Principal, uuid.UUID) (domain.Transaction, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := transactionID(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		t, err := op(r.Context(), principal(r), id)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, t)
	}
}

func (s *Server) confirm() http.HandlerFunc {
	return s.settle(s.Transactions.Confirm)
}

func (s *Server) cancel() http.HandlerFunc {
	return s.settle(s.Transactions.Cancel)
}
