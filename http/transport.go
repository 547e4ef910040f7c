package http

import (
	"encoding/json"
	"errors"
	"go-currency-ledger/domain"
	"io"
	"net/http"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// envelope every response body
type envelope struct {
	Status  string      `json:"status"`
	Kind    domain.Kind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// decode unmarshals a JSON body into v, rejecting unknown fields
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Errorf(domain.KindValidation, "empty request body")
		}
		return domain.Wrap(domain.KindValidation, err, "invalid json")
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, code int, data interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(envelope{Status: "success", Data: data})
}

func writeError(rw http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	msg := err.Error()
	if kind == domain.KindInternal {
		msg = "internal error"
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(statusCode(kind))
	json.NewEncoder(rw).Encode(envelope{Status: "error", Kind: kind, Message: msg})
}

// statusCode maps an error kind to its HTTP status
func statusCode(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindConversion:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidStateTransition, domain.KindConcurrencyConflict:
		return http.StatusConflict
	case domain.KindInsufficientFunds, domain.KindBelowMinimumBalance,
		domain.KindNoApplicableCommissionRate, domain.KindNoApplicableExchangeRate:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
