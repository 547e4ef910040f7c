package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/go-kit/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-currency-ledger/account"
	"go-currency-ledger/commission"
	"go-currency-ledger/domain"
	"go-currency-ledger/exchange"
	"go-currency-ledger/idempotency"
	"go-currency-ledger/ledger"
	"go-currency-ledger/store/memory"
	"go-currency-ledger/transaction"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const secret = "test-secret"

type response struct {
	Status  string          `json:"status"`
	Kind    domain.Kind     `json:"kind"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	t      *testing.T
	server http.Handler
	auth   *Authenticator
}

func newClient(t *testing.T, health HealthFunc) *client {
	t.Helper()
	store := memory.New()
	rates := exchange.NewService(store)
	commissions := commission.NewService(store)
	txs := transaction.NewService(store, store, ledger.New(store, rates, decimal.NewFromInt(50)), rates, commissions, nil, 0, log.NewNopLogger())
	txs = transaction.NewIdempotentService(idempotency.NewMemoryStore(), time.Hour, log.NewNopLogger(), txs)

	auth := NewAuthenticator(secret, "ledger", "")
	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.Write([]byte("# metrics"))
	})
	server := NewServer(Services{
		Exchange:     rates,
		Commissions:  commissions,
		Accounts:     account.NewService(store, rates, txs),
		Transactions: txs,
	}, auth, health, metrics, log.NewNopLogger())
	return &client{t: t, server: server, auth: auth}
}

func (c *client) token(p domain.Principal) string {
	token, err := c.auth.Sign(p, time.Hour)
	require.NoError(c.t, err)
	return token
}

func (c *client) do(p *domain.Principal, method, path string, body interface{}, header ...string) (int, response) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if p != nil {
		r.Header.Set("Authorization", "Bearer "+c.token(*p))
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	c.server.ServeHTTP(w, r)

	var resp response
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

// ok asserts the status code and decodes data into v
func (c *client) ok(want int, v interface{}) func(int, response) {
	return func(code int, resp response) {
		c.t.Helper()
		require.Equal(c.t, want, code, "%s: %s", resp.Kind, resp.Message)
		require.Equal(c.t, "success", resp.Status)
		if v != nil {
			require.NoError(c.t, json.Unmarshal(resp.Data, v))
		}
	}
}

var (
	alice = domain.Principal{UserID: "alice"}
	bob   = domain.Principal{UserID: "bob"}
	admin = domain.Principal{UserID: "root", Roles: []string{domain.RoleAdmin}}
)

// seed registers USD and EUR at 0.9, four commission tiers, a 1000 USD account
// for alice and an empty EUR account for bob that alice approved
func seed(c *client) (aliceUSD, bobEUR domain.CurrencyAccount) {
	c.t.Helper()
	for _, code := range []string{"USD", "EUR"} {
		c.ok(http.StatusCreated, nil)(c.do(&admin, "POST", "/api/currencies", map[string]string{"code": code}))
	}
	c.ok(http.StatusCreated, nil)(c.do(&admin, "POST", "/api/exchange-rates", map[string]string{
		"firstCurrency": "USD", "secondCurrency": "EUR", "unitOfFirstValue": "0.9",
	}))
	for _, tier := range [][2]string{{"100", "0.3"}, {"200", "0.2"}, {"500", "0.1"}, {"100000", "0.01"}} {
		c.ok(http.StatusCreated, nil)(c.do(&admin, "POST", "/api/commissions", map[string]string{
			"maxUSDRange": tier[0], "cRate": tier[1],
		}))
	}
	c.ok(http.StatusCreated, &aliceUSD)(c.do(&alice, "POST", "/api/accounts", map[string]interface{}{
		"currency": "USD", "openingDeposit": map[string]string{"amount": "1000", "currency": "USD"},
	}))
	c.ok(http.StatusCreated, &bobEUR)(c.do(&bob, "POST", "/api/accounts", map[string]string{"currency": "EUR"}))
	c.ok(http.StatusCreated, nil)(c.do(&alice, "POST", "/api/defined-accounts", map[string]string{"accountNumber": bobEUR.Number}))
	return aliceUSD, bobEUR
}

func TestServer_Authentication(t *testing.T) {
	c := newClient(t, nil)

	code, resp := c.do(nil, "GET", "/api/accounts", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, domain.KindAuthorization, resp.Kind)

	other := NewAuthenticator("another-secret", "ledger", "")
	forged, err := other.Sign(alice, time.Hour)
	require.NoError(t, err)
	code, _ = c.do(nil, "GET", "/api/accounts", nil, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusForbidden, code)

	expired, err := c.auth.Sign(alice, -time.Minute)
	require.NoError(t, err)
	code, _ = c.do(nil, "GET", "/api/accounts", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusForbidden, code)

	c.ok(http.StatusOK, nil)(c.do(&alice, "GET", "/api/accounts", nil))
}

func TestServer_AdminRoutes(t *testing.T) {
	c := newClient(t, nil)

	code, resp := c.do(&alice, "POST", "/api/currencies", map[string]string{"code": "USD"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, domain.KindAuthorization, resp.Kind)
	code, _ = c.do(&alice, "GET", "/api/commissions", nil)
	assert.Equal(t, http.StatusForbidden, code)

	var tier domain.CommissionRate
	c.ok(http.StatusCreated, &tier)(c.do(&admin, "POST", "/api/commissions", map[string]string{"maxUSDRange": "100", "cRate": "0.3"}))
	code, resp = c.do(&admin, "POST", "/api/commissions", map[string]string{"maxUSDRange": "200", "cRate": "0.6"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.KindValidation, resp.Kind)

	c.ok(http.StatusOK, &tier)(c.do(&admin, "PUT", "/api/commissions/1", map[string]string{"maxUSDRange": "100", "cRate": "0.25"}))
	assert.True(t, decimal.RequireFromString("0.25").Equal(tier.Rate))
	code, _ = c.do(&admin, "GET", "/api/commissions/x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	c.ok(http.StatusOK, nil)(c.do(&admin, "DELETE", "/api/commissions/1", nil))
	code, _ = c.do(&admin, "GET", "/api/commissions/1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_ExchangeRates(t *testing.T) {
	c := newClient(t, nil)
	seed(c)

	var converted struct {
		Exchange decimal.Decimal `json:"exchange"`
		Amount   domain.Money    `json:"amount"`
		Original domain.Money    `json:"original"`
	}
	c.ok(http.StatusOK, &converted)(c.do(&alice, "POST", "/api/convert", map[string]string{
		"fromCurrency": "usd", "toCurrency": "EUR", "amount": "100",
	}))
	assert.True(t, decimal.RequireFromString("0.9").Equal(converted.Exchange))
	assert.True(t, domain.NewMoney(decimal.NewFromInt(90), "EUR").Equal(converted.Amount))

	var values []domain.ExchangeValue
	c.ok(http.StatusOK, &values)(c.do(&alice, "GET", "/api/exchange-rates", nil))
	assert.Len(t, values, 2, "forward edge and its reciprocal")

	c.ok(http.StatusOK, nil)(c.do(&admin, "PUT", "/api/exchange-rates/USD/EUR", map[string]string{"unitOfFirstValue": "0.8"}))
	c.ok(http.StatusOK, nil)(c.do(&admin, "DELETE", "/api/exchange-rates/USD/EUR", nil))
	code, resp := c.do(&alice, "POST", "/api/convert", map[string]string{"fromCurrency": "USD", "toCurrency": "EUR", "amount": "1"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, domain.KindNoApplicableExchangeRate, resp.Kind)
}

func TestServer_TransferLifecycle(t *testing.T) {
	c := newClient(t, nil)
	aliceUSD, bobEUR := seed(c)

	transfer := map[string]string{"fromAccount": aliceUSD.Number, "toAccount": bobEUR.Number, "amount": "150"}
	var created domain.Transaction
	c.ok(http.StatusCreated, &created)(c.do(&alice, "POST", "/api/transfers", transfer, IdempotencyHeader, "k-1"))
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.True(t, decimal.NewFromInt(180).Equal(created.DecreaseAmount))
	assert.True(t, decimal.NewFromInt(135).Equal(created.DestinationAmount))

	var replayed domain.Transaction
	c.ok(http.StatusCreated, &replayed)(c.do(&alice, "POST", "/api/transfers", transfer, IdempotencyHeader, "k-1"))
	assert.Equal(t, created.ID, replayed.ID)

	var source domain.CurrencyAccount
	c.ok(http.StatusOK, &source)(c.do(&alice, "GET", "/api/accounts/"+aliceUSD.Number, nil))
	assert.True(t, decimal.NewFromInt(820).Equal(source.Balance), "replay must not debit twice")

	c.ok(http.StatusOK, nil)(c.do(&bob, "GET", "/api/transactions/"+created.ID.String(), nil))
	code, _ := c.do(&bob, "POST", "/api/transactions/"+created.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusForbidden, code)

	var confirmed domain.Transaction
	c.ok(http.StatusOK, &confirmed)(c.do(&alice, "POST", "/api/transactions/"+created.ID.String()+"/confirm", nil))
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
	code, resp := c.do(&alice, "POST", "/api/transactions/"+created.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, domain.KindInvalidStateTransition, resp.Kind)

	var history []domain.Transaction
	c.ok(http.StatusOK, &history)(c.do(&alice, "GET", "/api/accounts/"+aliceUSD.Number+"/transactions", nil))
	require.Len(t, history, 2)
	assert.Equal(t, created.ID, history[0].ID)
}

func TestServer_TransferRejections(t *testing.T) {
	c := newClient(t, nil)
	aliceUSD, bobEUR := seed(c)

	tests := []struct {
		name   string
		as     domain.Principal
		body   map[string]string
		status int
		kind   domain.Kind
	}{
		{"insufficient funds", alice, map[string]string{"fromAccount": aliceUSD.Number, "toAccount": bobEUR.Number, "amount": "995"}, http.StatusUnprocessableEntity, domain.KindInsufficientFunds},
		{"below minimum", alice, map[string]string{"fromAccount": aliceUSD.Number, "toAccount": bobEUR.Number, "amount": "945"}, http.StatusUnprocessableEntity, domain.KindBelowMinimumBalance},
		{"not the owner", bob, map[string]string{"fromAccount": aliceUSD.Number, "toAccount": bobEUR.Number, "amount": "10"}, http.StatusForbidden, domain.KindAuthorization},
		{"non-positive amount", alice, map[string]string{"fromAccount": aliceUSD.Number, "toAccount": bobEUR.Number, "amount": "-1"}, http.StatusBadRequest, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := c.do(&tt.as, "POST", "/api/transfers", tt.body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}

	code, resp := c.do(&alice, "GET", "/api/transactions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, domain.KindValidation, resp.Kind)
	code, _ = c.do(&alice, "GET", "/api/transactions/7d9f3c1e-52a4-4c8e-9b1a-0c3f2e4d5a6b", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_Deposit(t *testing.T) {
	c := newClient(t, nil)
	aliceUSD, _ := seed(c)

	var deposited domain.Transaction
	c.ok(http.StatusCreated, &deposited)(c.do(&alice, "POST", "/api/deposits", map[string]interface{}{
		"account": aliceUSD.Number, "amount": map[string]string{"amount": "90", "currency": "EUR"},
	}))
	assert.Equal(t, domain.TransactionDeposit, deposited.Type)
	assert.Equal(t, domain.StatusConfirmed, deposited.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(deposited.DestinationAmount))
}

func TestServer_Accounts(t *testing.T) {
	c := newClient(t, nil)
	aliceUSD, bobEUR := seed(c)

	var mine []domain.CurrencyAccount
	c.ok(http.StatusOK, &mine)(c.do(&alice, "GET", "/api/accounts", nil))
	require.Len(t, mine, 1)
	assert.Equal(t, aliceUSD.Number, mine[0].Number)

	code, _ := c.do(&bob, "GET", "/api/accounts/"+aliceUSD.Number, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var defined []domain.DefinedAccount
	c.ok(http.StatusOK, &defined)(c.do(&alice, "GET", "/api/defined-accounts", nil))
	require.Len(t, defined, 1)
	c.ok(http.StatusOK, nil)(c.do(&alice, "DELETE", "/api/defined-accounts/"+bobEUR.Number, nil))

	code, resp := c.do(&alice, "DELETE", "/api/accounts/"+aliceUSD.Number, nil)
	assert.Equal(t, http.StatusBadRequest, code, "funded accounts cannot be deleted")
	assert.Equal(t, domain.KindValidation, resp.Kind)
	c.ok(http.StatusOK, nil)(c.do(&bob, "DELETE", "/api/accounts/"+bobEUR.Number, nil))
}

func TestServer_Operational(t *testing.T) {
	healthy := true
	c := newClient(t, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("database unreachable")
	})

	c.ok(http.StatusOK, nil)(c.do(nil, "GET", "/healthz", nil))
	healthy = false
	code, _ := c.do(nil, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	w := httptest.NewRecorder()
	c.server.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())
}
