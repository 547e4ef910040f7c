package exchange

import (
	"github.com/shopspring/decimal"
	"go-currency-ledger/domain"
	"sort"
	"sync"
)

// Precision decimal places kept when dividing
const Precision int32 = 16

// minRate rates below this are treated as zero when inverted
var minRate = decimal.New(1, -12)

// Exchanged the result of a conversion
type Exchanged struct {
	Rate   decimal.Decimal
	Amount domain.Money
}

// Graph directed graph of currencies with conversion factors as edge weights.
// Only direct edges are consulted, there is no multi-hop path search.
// Graph is safe for concurrent use.
type Graph struct {
	lock  sync.RWMutex
	edges map[domain.Pair]domain.ExchangeValue
}

// NewGraph builds a graph from stored edges
func NewGraph(values []domain.ExchangeValue) *Graph {
	g := &Graph{edges: map[domain.Pair]domain.ExchangeValue{}}
	g.Put(values...)
	return g
}

// Reciprocal computes 1/v, failing for zero or near-zero v
func Reciprocal(v decimal.Decimal) (decimal.Decimal, error) {
	if v.Abs().LessThan(minRate) {
		return decimal.Zero, domain.Errorf(domain.KindConversion, "cannot invert exchange value %s", v)
	}
	return decimal.NewFromInt(1).DivRound(v, Precision), nil
}

// Edge returns the stored edge for the ordered pair
func (g *Graph) Edge(from, to string) (domain.ExchangeValue, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	v, ok := g.edges[domain.Pair{From: from, To: to}]
	return v, ok
}

// Rate answers "1 unit of from = ? units of to". A currency converts to itself at 1.
func (g *Graph) Rate(from, to string) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	v, ok := g.Edge(from, to)
	if !ok {
		return decimal.Zero, false
	}
	return v.UnitOfFirstValue, true
}

// Convert converts an amount over the direct edge. A reciprocal edge divides by
// the forward value instead of multiplying by the rounded inverse, so that
// A -> B -> A returns the original amount.
func (g *Graph) Convert(amount domain.Money, to string) (Exchanged, error) {
	if amount.Currency == to {
		return Exchanged{Rate: decimal.NewFromInt(1), Amount: amount}, nil
	}

	g.lock.RLock()
	edge, ok := g.edges[domain.Pair{From: amount.Currency, To: to}]
	forward, hasForward := g.edges[domain.Pair{From: to, To: amount.Currency}]
	g.lock.RUnlock()

	if !ok {
		return Exchanged{}, domain.Errorf(domain.KindNoApplicableExchangeRate, "no exchange rate from %s to %s", amount.Currency, to)
	}

	var converted decimal.Decimal
	if edge.Reciprocal && hasForward && !forward.Reciprocal {
		if forward.UnitOfFirstValue.Abs().LessThan(minRate) {
			return Exchanged{}, domain.Errorf(domain.KindConversion, "cannot divide by exchange value %s", forward.UnitOfFirstValue)
		}
		converted = amount.Amount.DivRound(forward.UnitOfFirstValue, Precision)
	} else {
		converted = amount.Amount.Mul(edge.UnitOfFirstValue)
	}

	return Exchanged{
		Rate:   edge.UnitOfFirstValue,
		Amount: domain.Money{Amount: converted, Currency: to},
	}, nil
}

// Put inserts or replaces edges
func (g *Graph) Put(values ...domain.ExchangeValue) {
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, v := range values {
		g.edges[v.Pair()] = v
	}
}

// Replace swaps every edge for values in one step
func (g *Graph) Replace(values ...domain.ExchangeValue) {
	edges := make(map[domain.Pair]domain.ExchangeValue, len(values))
	for _, v := range values {
		edges[v.Pair()] = v
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	g.edges = edges
}

// Remove deletes edges, unknown pairs are ignored
func (g *Graph) Remove(pairs ...domain.Pair) {
	g.lock.Lock()
	defer g.lock.Unlock()
	for _, p := range pairs {
		delete(g.edges, p)
	}
}

// Values lists all edges ordered by pair
func (g *Graph) Values() []domain.ExchangeValue {
	g.lock.RLock()
	values := make([]domain.ExchangeValue, 0, len(g.edges))
	for _, v := range g.edges {
		values = append(values, v)
	}
	g.lock.RUnlock()

	sort.Slice(values, func(i, j int) bool {
		if values[i].First != values[j].First {
			return values[i].First < values[j].First
		}
		return values[i].Second < values[j].Second
	})
	return values
}
