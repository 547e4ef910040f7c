package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

// USD the reference currency for tier lookups and minimum balance checks
const USD = "USD"

// Currency a registered currency
type Currency struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// CurrencyAccount a per-currency balance owned by exactly one user.
// Spendable balance is Balance minus StashBalance.
type CurrencyAccount struct {
	Number       string          `json:"number"`
	OwnerID      string          `json:"ownerId"`
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	StashBalance decimal.Decimal `json:"stashBalance"`
	Version      int64           `json:"-"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Available the part of the balance that can be debited
func (a CurrencyAccount) Available() decimal.Decimal {
	return a.Balance.Sub(a.StashBalance)
}

// Money returns the account balance as Money
func (a CurrencyAccount) Money() Money {
	return Money{Amount: a.Balance, Currency: a.Currency}
}

// DefinedAccount a destination account number a user approved as a transfer target
type DefinedAccount struct {
	OwnerID       string    `json:"ownerId"`
	AccountNumber string    `json:"accountNumber"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ExchangeValue a directed edge: 1 unit of First = UnitOfFirstValue units of Second.
// Reciprocal marks an edge derived from the opposite one.
type ExchangeValue struct {
	First            string          `json:"firstCurrency"`
	Second           string          `json:"secondCurrency"`
	UnitOfFirstValue decimal.Decimal `json:"unitOfFirstValue"`
	Reciprocal       bool            `json:"reciprocal"`
}

// Pair an ordered currency pair
type Pair struct {
	From string
	To   string
}

// Pair returns the edge's ordered pair
func (v ExchangeValue) Pair() Pair {
	return Pair{From: v.First, To: v.Second}
}

// Reverse returns the opposite pair
func (p Pair) Reverse() Pair {
	return Pair{From: p.To, To: p.From}
}

func (p Pair) String() string {
	return p.From + "/" + p.To
}

// CommissionRate a tier of the commission schedule
type CommissionRate struct {
	ID          int64           `json:"id"`
	MaxUSDRange decimal.Decimal `json:"maxUSDRange"`
	Rate        decimal.Decimal `json:"cRate"`
}

// Status of a transaction
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether no further transition is allowed
func (s Status) Terminal() bool {
	return s != StatusPending
}

// CanTransition reports whether s -> to is a legal single step
func (s Status) CanTransition(to Status) bool {
	if s != StatusPending {
		return false
	}
	switch to {
	case StatusConfirmed, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// TransactionType distinguishes deposits from transfers
type TransactionType string

const (
	TransactionTransfer TransactionType = "Transfer"
	TransactionDeposit  TransactionType = "Deposit"
)

// Transaction a journal entry. Only Status changes after it is persisted.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	Type              TransactionType `json:"type"`
	Status            Status          `json:"status"`
	Amount            Money           `json:"amount"`
	FromAccount       string          `json:"fromAccount"`
	ToAccount         string          `json:"toAccount,omitempty"`
	CommissionRate    decimal.Decimal `json:"commissionRate"`
	Commission        decimal.Decimal `json:"commission"`
	DecreaseAmount    decimal.Decimal `json:"decreaseAmount"`
	DestinationAmount decimal.Decimal `json:"destinationAmount"`
	CommissionFree    bool            `json:"isCommissionFree"`
	Reason            string          `json:"reason,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Involves reports whether the account number is the source or destination
func (t Transaction) Involves(number string) bool {
	return t.FromAccount == number || (t.ToAccount != "" && t.ToAccount == number)
}
