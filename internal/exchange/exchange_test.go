package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"spotmirror/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		amount, step, want string
	}{
		{"49.75", "0.001", "49.75"},
		{"49.7589", "0.001", "49.758"},
		{"0.0009", "0.001", "0"},
		{"12.5", "1", "12"},
		{"3.14159", "0", "3.14159"},
	}

	for _, tt := range tests {
		t.Run(tt.amount+"/"+tt.step, func(t *testing.T) {
			got := FloorToStep(d(tt.amount), d(tt.step))
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestOrder_FilledAmount(t *testing.T) {
	requested := d("2")

	tests := []struct {
		name  string
		order Order
		req   decimal.Decimal
		want  string
	}{
		{"filled wins", Order{Filled: d("1.5"), Amount: d("2")}, requested, "1.5"},
		{"reported amount", Order{Amount: d("1.8")}, requested, "1.8"},
		{"requested", Order{}, requested, "2"},
		{"cost over average", Order{Cost: d("100"), Average: d("40")}, decimal.Zero, "2.5"},
		{"nothing known", Order{}, decimal.Zero, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, d(tt.want).Equal(tt.order.FilledAmount(tt.req)))
		})
	}
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("BTC/USDT"))
	assert.Equal(t, "ETHUSDT", Symbol("eth/usdt"))
	assert.Equal(t, "BTCUSDT", Symbol("BTC/USDT:USDT"))
}

func TestError_MatchesUpstream(t *testing.T) {
	cause := errors.New("timeout")
	err := error(&Error{Op: "create order", Err: cause})

	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "create order")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.Resolve("paper")
	require.NoError(t, err)
	_, err = r.Resolve(" Binance ")
	require.NoError(t, err)

	for _, name := range []string{"", "base", "kraken"} {
		_, err := r.Resolve(name)
		assert.Error(t, err, name)
	}
}

func TestPaper(t *testing.T) {
	p := NewPaper(Credentials{APIKey: "abcdef"}, Options{PaperBalance: d("1000"), PaperStep: d("0.001")})
	ctx := context.Background()

	bal, err := p.FreeBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(bal))

	amount, err := p.AmountToPrecision("BTC/USDT", d("1.23456"))
	require.NoError(t, err)
	assert.True(t, d("1.234").Equal(amount))

	order, err := p.CreateMarketOrder(ctx, OrderRequest{Pair: "BTC/USDT", Side: "buy", Amount: amount})
	require.NoError(t, err)
	assert.True(t, amount.Equal(order.FilledAmount(decimal.Zero)))

	_, err = p.CreateMarketOrder(ctx, OrderRequest{Pair: "BTC/USDT", Side: "hold", Amount: amount})
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	require.NoError(t, p.Close())
	_, err = p.FreeBalance(ctx, "USDT")
	assert.ErrorIs(t, err, ErrConnectorClosed)
}

func fakeBinance(t *testing.T, orders *[]map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"symbols": []map[string]any{{
				"symbol":              "BTCUSDT",
				"baseAsset":           "BTC",
				"quoteAsset":          "USDT",
				"quoteAssetPrecision": 2,
				"filters": []map[string]any{{
					"filterType": "LOT_SIZE",
					"minQty":     "0.00100000",
					"maxQty":     "9000.00000000",
					"stepSize":   "0.00100000",
				}},
			}},
		})
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"balances": []map[string]string{
				{"asset": "BTC", "free": "0.5", "locked": "0"},
				{"asset": "USDT", "free": "1000.00", "locked": "3"},
			},
		})
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		*orders = append(*orders, map[string]string{
			"side":          r.Form.Get("side"),
			"type":          r.Form.Get("type"),
			"quantity":      r.Form.Get("quantity"),
			"quoteOrderQty": r.Form.Get("quoteOrderQty"),
		})
		json.NewEncoder(w).Encode(map[string]any{
			"symbol":              "BTCUSDT",
			"orderId":             42,
			"origQty":             "0.010",
			"executedQty":         "0.008",
			"cummulativeQuoteQty": "400",
			"status":              "FILLED",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestBinance(t *testing.T) {
	var orders []map[string]string
	srv := fakeBinance(t, &orders)
	ctx := context.Background()

	b, err := NewBinance(ctx, Credentials{APIKey: "k", Secret: "s"}, Options{BaseURL: srv.URL, RequestsPerSec: 1000})
	require.NoError(t, err)
	defer b.Close()

	bal, err := b.FreeBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(bal))

	none, err := b.FreeBalance(ctx, "ETH")
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	amount, err := b.AmountToPrecision("BTC/USDT", d("0.0129"))
	require.NoError(t, err)
	assert.True(t, d("0.012").Equal(amount))

	_, err = b.AmountToPrecision("DOGE/USDT", d("1"))
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	order, err := b.CreateMarketOrder(ctx, OrderRequest{Pair: "BTC/USDT", Side: "buy", Amount: amount, QuoteAmount: d("500.129")})
	require.NoError(t, err)
	assert.Equal(t, "42", order.ID)
	assert.True(t, d("0.008").Equal(order.FilledAmount(amount)))
	assert.True(t, d("50000").Equal(order.Average))

	_, err = b.CreateMarketOrder(ctx, OrderRequest{Pair: "BTC/USDT", Side: "sell", Amount: d("0.008")})
	require.NoError(t, err)

	require.Len(t, orders, 2)
	assert.Equal(t, "BUY", orders[0]["side"])
	assert.Equal(t, "MARKET", orders[0]["type"])
	assert.Equal(t, "500.12", orders[0]["quoteOrderQty"])
	assert.Empty(t, orders[0]["quantity"])
	assert.Equal(t, "SELL", orders[1]["side"])
	assert.Equal(t, "0.008", orders[1]["quantity"])
}

func TestBinance_RejectsFutures(t *testing.T) {
	_, err := NewBinance(context.Background(), Credentials{TradingMode: "futures"}, Options{})
	assert.Error(t, err)
}
