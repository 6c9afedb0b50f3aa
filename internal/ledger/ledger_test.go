package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type backend struct {
	name string
	open func(t *testing.T, path string) Store
	file string
}

var backends = []backend{
	{
		name: BackendJSON,
		file: "copy_trades.json",
		open: func(t *testing.T, path string) Store {
			s, err := OpenFile(path, testLogger())
			require.NoError(t, err)
			return s
		},
	},
	{
		name: BackendSQLite,
		file: "ledger.db",
		open: func(t *testing.T, path string) Store {
			s, err := OpenSQLite(path, testLogger())
			require.NoError(t, err)
			return s
		},
	},
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedger(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), b.file)
			store := b.open(t, path)

			t.Run("accumulates", func(t *testing.T) {
				_, err := store.Accumulate(ctx, "7", "p1", "BTC/USDT", amt("0.1"))
				require.NoError(t, err)
				e, err := store.Accumulate(ctx, "7", "p1", "BTC/USDT", amt("0.2"))
				require.NoError(t, err)
				assert.True(t, amt("0.3").Equal(e.Amount))

				_, err = store.Accumulate(ctx, "7", "p2", "BTC/USDT", amt("1"))
				require.NoError(t, err)

				got, ok, err := store.Get(ctx, "7", "p1")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "BTC/USDT", got.Pair)
				assert.True(t, amt("0.3").Equal(got.Amount))
			})

			t.Run("survives reopen", func(t *testing.T) {
				require.NoError(t, store.Close())
				store = b.open(t, path)

				trade, err := store.Trade(ctx, "7")
				require.NoError(t, err)
				assert.Len(t, trade, 2)
				assert.True(t, amt("0.3").Equal(trade["p1"].Amount))
			})

			t.Run("remove drops empty trade", func(t *testing.T) {
				e, ok, err := store.Remove(ctx, "7", "p1")
				require.NoError(t, err)
				require.True(t, ok)
				assert.True(t, amt("0.3").Equal(e.Amount))

				_, ok, err = store.Remove(ctx, "7", "p1")
				require.NoError(t, err)
				assert.False(t, ok)

				_, _, err = store.Remove(ctx, "7", "p2")
				require.NoError(t, err)

				trade, err := store.Trade(ctx, "7")
				require.NoError(t, err)
				assert.Empty(t, trade)

				_, ok, err = store.Get(ctx, "missing", "p1")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("concurrent accumulation loses nothing", func(t *testing.T) {
				var wg sync.WaitGroup
				for range 20 {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := store.Accumulate(ctx, "9", "p1", "ETH/USDT", amt("0.5"))
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				e, ok, err := store.Get(ctx, "9", "p1")
				require.NoError(t, err)
				require.True(t, ok)
				assert.True(t, amt("10").Equal(e.Amount))
			})

			require.NoError(t, store.Close())
		})
	}
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_trades.json")
	store, err := OpenFile(path, testLogger())
	require.NoError(t, err)

	_, err = store.Accumulate(context.Background(), "42", "p1", "BTC/USDT", amt("49.75"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw struct {
		Version int `json:"version"`
		Trades  map[string]map[string]struct {
			Pair   string  `json:"pair"`
			Amount float64 `json:"amount"`
		} `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 1, raw.Version)
	assert.Equal(t, "BTC/USDT", raw.Trades["42"]["p1"].Pair)
	assert.Equal(t, 49.75, raw.Trades["42"]["p1"].Amount)
}

func TestFileStore_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_trades.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 1, "trades": {"3": {"p1": {"pair": "ETH/USDT", "amount": 0.25}}}}`), 0o600))

	store, err := OpenFile(path, testLogger())
	require.NoError(t, err)

	e, ok, err := store.Get(context.Background(), "3", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, amt("0.25").Equal(e.Amount))
}

func TestFileStore_MalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copy_trades.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trades": [`), 0o600))

	_, err := OpenFile(path, testLogger())
	assert.Error(t, err)
}

func TestFileStore_FailedWriteKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "copy_trades.json")
	store, err := OpenFile(path, testLogger())
	require.NoError(t, err)

	_, err = store.Accumulate(context.Background(), "1", "p1", "BTC/USDT", amt("1"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Accumulate(ctx, "1", "p1", "BTC/USDT", amt("1"))
	require.Error(t, err)

	e, _, err := store.Get(context.Background(), "1", "p1")
	require.NoError(t, err)
	assert.True(t, amt("1").Equal(e.Amount))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", "x", testLogger())
	assert.Error(t, err)
}
