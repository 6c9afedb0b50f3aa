package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"spotmirror/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrConnectorClosed is returned by a connector used after Close.
var ErrConnectorClosed = errors.New("connector closed")

// Paper simulates a spot account: orders fill completely at the requested amount and
// nothing leaves the process. Used in dry-run mode.
type Paper struct {
	logger *slog.Logger
	step   decimal.Decimal

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	closed   bool
}

func NewPaper(creds Credentials, opts Options) *Paper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	step := opts.PaperStep
	if !step.IsPositive() {
		step = decimal.New(1, -8)
	}

	return &Paper{
		logger:   logger.With(slog.String("connector", NamePaper), slog.String("key", maskKey(creds.APIKey))),
		step:     step,
		balances: map[string]decimal.Decimal{"*": opts.PaperBalance},
	}
}

func (p *Paper) FreeBalance(_ context.Context, currency string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return decimal.Zero, ErrConnectorClosed
	}
	if bal, ok := p.balances[currency]; ok {
		return bal, nil
	}

	return p.balances["*"], nil
}

func (p *Paper) AmountToPrecision(_ string, amount decimal.Decimal) (decimal.Decimal, error) {
	return FloorToStep(amount, p.step), nil
}

func (p *Paper) CreateMarketOrder(_ context.Context, req OrderRequest) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrConnectorClosed
	}

	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, &Error{Op: "create order", Err: fmt.Errorf("unknown side %q", req.Side)}
	}

	p.logger.Info("DRY_RUN - Would place order",
		slog.String("pair", req.Pair),
		slog.String("side", req.Side),
		slog.String("amount", req.Amount.String()),
		slog.String("quote_amount", req.QuoteAmount.String()))

	return &Order{
		ID:     "paper-" + uuid.NewString(),
		Pair:   req.Pair,
		Side:   req.Side,
		Status: "closed",
		Amount: req.Amount,
		Filled: req.Amount,
	}, nil
}

func (p *Paper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}

	return "****" + key[len(key)-4:]
}

var _ Connector = (*Paper)(nil)
