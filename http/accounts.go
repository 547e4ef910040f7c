package http

import (
	"github.com/go-chi/chi/v5"
	"go-currency-ledger/domain"
	"net/http"
)

func (s *Server) openAccount() http.HandlerFunc {
	type request struct {
		Currency       string        `json:"currency"`
		OpeningDeposit *domain.Money `json:"openingDeposit,omitempty"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		a, err := s.Accounts.Open(r.Context(), principal(r), req.Currency, req.OpeningDeposit)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, a)
	}
}

func (s *Server) accounts() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		as, err := s.Accounts.List(r.Context(), principal(r))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, as)
	}
}

func (s *Server) account() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		a, err := s.Accounts.Get(r.Context(), principal(r), chi.URLParam(r, "number"))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, a)
	}
}

func (s *Server) deleteAccount() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.Accounts.Delete(r.Context(), principal(r), chi.URLParam(r, "number")); err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, nil)
	}
}

func (s *Server) history() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		txs, err := s.Transactions.List(r.Context(), principal(r), chi.URLParam(r, "number"))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, txs)
	}
}

func (s *Server) definedAccounts() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ds, err := s.Accounts.DefinedAccounts(r.Context(), principal(r))
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, ds)
	}
}

func (s *Server) addDefinedAccount() http.HandlerFunc {
	type request struct {
		AccountNumber string `json:"accountNumber"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		d, err := s.Accounts.AddDefinedAccount(r.Context(), principal(r), req.AccountNumber)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, d)
	}
}

func (s *Server) removeDefinedAccount() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.Accounts.RemoveDefinedAccount(r.Context(), principal(r), chi.URLParam(r, "number")); err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, nil)
	}
}
