package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"net/http"
	"strconv"
)

// convert produces HTTP handler for currency conversions
func (s *Server) convert() http.HandlerFunc {

	// request for unmarshalling JSON requests posted by clients
	type request struct {
		FromCurrency string          `json:"fromCurrency"`
		ToCurrency   string          `json:"toCurrency"`
		Amount       decimal.Decimal `json:"amount"`
	}

	// response for marshalling JSON responses to return to clients
	type response struct {
		Exchange decimal.Decimal `json:"exchange"`
		Amount   domain.Money    `json:"amount"`
		Original domain.Money    `json:"original"`
	}

	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		original := domain.NewMoney(req.Amount, req.FromCurrency)
		result, err := s.Exchange.Convert(r.Context(), original, req.ToCurrency)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, response{Exchange: result.Rate, Amount: result.Amount, Original: original})
	}
}

func (s *Server) currencies() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		cs, err := s.Exchange.Currencies(r.Context())
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, cs)
	}
}

func (s *Server) createCurrency() http.HandlerFunc {
	type request struct {
		Code string `json:"code"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		c, err := s.Exchange.CreateCurrency(r.Context(), req.Code)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, c)
	}
}

func (s *Server) rates() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		values, err := s.Exchange.Rates(r.Context())
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, values)
	}
}

func (s *Server) createRate() http.HandlerFunc {
	type request struct {
		FirstCurrency    string          `json:"firstCurrency"`
		SecondCurrency   string          `json:"secondCurrency"`
		UnitOfFirstValue decimal.Decimal `json:"unitOfFirstValue"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		v, err := s.Exchange.CreateRate(r.Context(), req.FirstCurrency, req.SecondCurrency, req.UnitOfFirstValue)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, v)
	}
}

func (s *Server) updateRate() http.HandlerFunc {
	type request struct {
		UnitOfFirstValue decimal.Decimal `json:"unitOfFirstValue"`
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		v, err := s.Exchange.UpdateRate(r.Context(), chi.URLParam(r, "from"), chi.URLParam(r, "to"), req.UnitOfFirstValue)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, v)
	}
}

func (s *Server) deleteRate() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if err := s.Exchange.DeleteRate(r.Context(), chi.URLParam(r, "from"), chi.URLParam(r, "to")); err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, nil)
	}
}

// tierRequest body of tier create and update
type tierRequest struct {
	MaxUSDRange decimal.Decimal `json:"maxUSDRange"`
	Rate        decimal.Decimal `json:"cRate"`
}

func tierID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, domain.Errorf(domain.KindValidation, "invalid tier id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) createTier() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var req tierRequest
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Commissions.CreateTier(r.Context(), req.MaxUSDRange, req.Rate)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusCreated, t)
	}
}

func (s *Server) tiers() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ts, err := s.Commissions.Tiers(r.Context())
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, ts)
	}
}

func (s *Server) tier() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := tierID(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Commissions.Tier(r.Context(), id)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, t)
	}
}

func (s *Server) updateTier() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := tierID(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		var req tierRequest
		if err := decode(r, &req); err != nil {
			writeError(rw, err)
			return
		}
		t, err := s.Commissions.UpdateTier(r.Context(), id, req.MaxUSDRange, req.Rate)
		if err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, t)
	}
}

func (s *Server) deleteTier() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id, err := tierID(r)
		if err != nil {
			writeError(rw, err)
			return
		}
		if err := s.Commissions.DeleteTier(r.Context(), id); err != nil {
			writeError(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, nil)
	}
}
