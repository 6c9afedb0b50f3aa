// Package ledger records, per master trade and follower, how much the follower bought
// so the closing order can be sized from it. Every mutation is durable before it returns.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Entry is one follower's accumulated position for a master trade.
type Entry struct {
	Pair   string          `json:"pair"`
	Amount decimal.Decimal `json:"amount"`
}

// Store is the mirror ledger. Implementations serialize their own mutations.
type Store interface {
	// Accumulate adds amount to the (tradeID, profileID) bucket, creating it if needed.
	Accumulate(ctx context.Context, tradeID, profileID, pair string, amount decimal.Decimal) (Entry, error)
	Get(ctx context.Context, tradeID, profileID string) (Entry, bool, error)
	// Remove deletes the bucket and returns what it held. The trade disappears with its last follower.
	Remove(ctx context.Context, tradeID, profileID string) (Entry, bool, error)
	// Trade returns every follower bucket of tradeID.
	Trade(ctx context.Context, tradeID string) (map[string]Entry, error)
	Close() error
}

// Backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open builds the ledger backend named by backend at path.
func Open(backend, path string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return OpenFile(path, logger)
	case BackendSQLite:
		return OpenSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", backend)
	}
}
