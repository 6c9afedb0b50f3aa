package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"spotmirror/internal/httpmiddleware"
	"spotmirror/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSec = 10
	defaultHTTPTimeout    = 30 * time.Second
)

type market struct {
	step           decimal.Decimal
	quotePrecision int32
}

// Binance is a spot session on one Binance account.
type Binance struct {
	client    *binance.Client
	transport *http.Transport
	markets   map[string]market
	logger    *slog.Logger
}

// NewBinance builds a client for creds and loads the spot markets.
func NewBinance(ctx context.Context, creds Credentials, opts Options) (*Binance, error) {
	if creds.TradingMode != "" && creds.TradingMode != models.TradingModeSpot {
		return nil, fmt.Errorf("binance connector supports spot only, got %q", creds.TradingMode)
	}

	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = defaultRequestsPerSec
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("connector", NameBinance))

	httpClient, transport := httpmiddleware.NewClient(timeout,
		httpmiddleware.RateLimit(rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))),
		httpmiddleware.Logger(logger, 0),
	)

	client := binance.NewClient(creds.APIKey, creds.Secret)
	client.HTTPClient = httpClient
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}

	b := &Binance{
		client:    client,
		transport: transport,
		logger:    logger,
	}

	if err := b.loadMarkets(ctx); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}

	return b, nil
}

func (b *Binance) loadMarkets(ctx context.Context) error {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return &Error{Op: "load markets", Err: err}
	}

	b.markets = make(map[string]market, len(info.Symbols))
	for i := range info.Symbols {
		sym := &info.Symbols[i]

		m := market{quotePrecision: int32(sym.QuoteAssetPrecision)}
		if lot := sym.LotSizeFilter(); lot != nil {
			m.step = parseDecimal(lot.StepSize)
		}
		b.markets[sym.Symbol] = m
	}

	b.logger.Debug("Markets loaded", slog.Int("symbols", len(b.markets)))

	return nil
}

func (b *Binance) FreeBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, &Error{Op: "fetch balance", Err: err}
	}

	for _, bal := range account.Balances {
		if bal.Asset == currency {
			return parseDecimal(bal.Free), nil
		}
	}

	return decimal.Zero, nil
}

func (b *Binance) AmountToPrecision(pair string, amount decimal.Decimal) (decimal.Decimal, error) {
	m, ok := b.markets[Symbol(pair)]
	if !ok {
		return decimal.Zero, &Error{Op: "amount to precision", Err: fmt.Errorf("unknown market %s", pair)}
	}

	return FloorToStep(amount, m.step), nil
}

func (b *Binance) CreateMarketOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	symbol := Symbol(req.Pair)
	m, ok := b.markets[symbol]
	if !ok {
		return nil, &Error{Op: "create order", Err: fmt.Errorf("unknown market %s", req.Pair)}
	}

	var side binance.SideType
	switch req.Side {
	case models.SideBuy:
		side = binance.SideTypeBuy
	case models.SideSell:
		side = binance.SideTypeSell
	default:
		return nil, &Error{Op: "create order", Err: fmt.Errorf("unknown side %q", req.Side)}
	}

	svc := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket)

	quote := req.QuoteAmount.RoundFloor(m.quotePrecision)
	if side == binance.SideTypeBuy && quote.IsPositive() {
		svc = svc.QuoteOrderQty(quote.String())
	} else {
		svc = svc.Quantity(req.Amount.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, &Error{Op: "create order", Err: err}
	}

	order := &Order{
		ID:     strconv.FormatInt(res.OrderID, 10),
		Pair:   req.Pair,
		Side:   req.Side,
		Status: string(res.Status),
		Amount: parseDecimal(res.OrigQuantity),
		Filled: parseDecimal(res.ExecutedQuantity),
		Cost:   parseDecimal(res.CummulativeQuoteQuantity),
	}
	if order.Filled.IsPositive() {
		order.Average = order.Cost.Div(order.Filled)
	}

	return order, nil
}

// Close drops idle connections. The client holds no other resources.
func (b *Binance) Close() error {
	b.transport.CloseIdleConnections()
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}

	return d
}

var _ Connector = (*Binance)(nil)
