// Package exchange talks to follower exchange accounts.
package exchange

import (
	"context"
	"fmt"
	"strings"

	"spotmirror/internal/apperr"

	"github.com/shopspring/decimal"
)

// Credentials a session is bound to.
type Credentials struct {
	APIKey      string
	Secret      string
	TradingMode string
}

// OrderRequest is a market order. QuoteAmount, when positive on a buy,
// asks the exchange to spend that much of the quote currency instead of buying Amount.
type OrderRequest struct {
	Pair        string
	Side        string
	Amount      decimal.Decimal
	QuoteAmount decimal.Decimal
}

// Order as reported by the exchange. Any of the numeric fields may be zero when the
// exchange did not report them.
type Order struct {
	ID      string
	Pair    string
	Side    string
	Status  string
	Amount  decimal.Decimal
	Filled  decimal.Decimal
	Cost    decimal.Decimal
	Average decimal.Decimal
}

// FilledAmount picks the best known base amount of the order:
// filled, then the reported amount, then what was requested, then cost/average.
func (o *Order) FilledAmount(requested decimal.Decimal) decimal.Decimal {
	switch {
	case o.Filled.IsPositive():
		return o.Filled
	case o.Amount.IsPositive():
		return o.Amount
	case requested.IsPositive():
		return requested
	case o.Cost.IsPositive() && o.Average.IsPositive():
		return o.Cost.Div(o.Average)
	}

	return decimal.Zero
}

// Connector is one credential-bound session on an exchange.
type Connector interface {
	// FreeBalance returns the spendable balance of currency.
	FreeBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	// AmountToPrecision rounds amount down to the pair's tradable increment.
	AmountToPrecision(pair string, amount decimal.Decimal) (decimal.Decimal, error)
	CreateMarketOrder(ctx context.Context, req OrderRequest) (*Order, error)
	Close() error
}

// Error is an exchange-side failure. It matches apperr.ErrUpstream.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{apperr.ErrUpstream, e.Err}
}

// FloorToStep rounds amount down to a multiple of step. A non-positive step leaves amount as is.
func FloorToStep(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return amount
	}

	return amount.Div(step).Floor().Mul(step)
}

// Symbol converts a "BASE/QUOTE" pair into the exchange's concatenated symbol.
func Symbol(pair string) string {
	if i := strings.Index(pair, ":"); i >= 0 {
		pair = pair[:i]
	}

	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}
