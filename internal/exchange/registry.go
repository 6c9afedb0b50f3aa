package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Factory builds a connector bound to creds. It may perform network I/O.
type Factory func(ctx context.Context, creds Credentials) (Connector, error)

// Options shared by the built-in connectors.
type Options struct {
	Logger         *slog.Logger
	RequestsPerSec float64
	HTTPTimeout    time.Duration
	BaseURL        string
	PaperBalance   decimal.Decimal
	PaperStep      decimal.Decimal
}

// Names of the built-in connectors.
const (
	NameBinance = "binance"
	NamePaper   = "paper"
)

// disallowed names exist in configuration history but must never resolve.
var disallowed = []string{"base", "exchange"}

// Registry is the closed set of connectors the control plane may build.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry registers the built-in connectors.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		factories: map[string]Factory{
			NameBinance: func(ctx context.Context, creds Credentials) (Connector, error) {
				return NewBinance(ctx, creds, opts)
			},
			NamePaper: func(_ context.Context, creds Credentials) (Connector, error) {
				return NewPaper(creds, opts), nil
			},
		},
	}
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || slices.Contains(disallowed, key) {
		return nil, fmt.Errorf("connector %q is not allowed", name)
	}

	f, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("unsupported connector %q, available: %s",
			name, strings.Join(slices.Sorted(maps.Keys(r.factories)), ", "))
	}

	return f, nil
}
