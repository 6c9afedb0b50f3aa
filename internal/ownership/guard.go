// Package ownership binds a control-plane identity to the exchange credential
// the trading engine is currently using.
package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"
	"spotmirror/internal/storage"

	"github.com/go-playground/validator/v10"
)

// Guard answers whether a user owns the active credential.
// It always reads the document from disk, the active key can change between requests.
type Guard struct {
	config *storage.ConfigStore
}

func NewGuard(config *storage.ConfigStore) *Guard {
	return &Guard{config: config}
}

// IsOwner reports whether username is the admin trading on the admin's own key,
// or owns a profile whose key is the active one. No active key means nobody owns it.
func (g *Guard) IsOwner(ctx context.Context, username string) (bool, error) {
	doc, err := g.config.ReadDisk(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read active credential: %w", err)
	}

	return ownsActive(doc, username), nil
}

// Require is IsOwner that turns a denial into apperr.ErrForbidden.
func (g *Guard) Require(ctx context.Context, username string) error {
	ok, err := g.IsOwner(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s does not own the active credential: %w", username, apperr.ErrForbidden)
	}

	return nil
}

func ownsActive(doc *storage.Document, username string) bool {
	active := doc.ActiveKey()
	if active == "" {
		return false
	}

	return ownsKey(doc, username, active)
}

func ownsKey(doc *storage.Document, username, key string) bool {
	acc, ok := doc.Account(username)
	if !ok {
		return false
	}

	if acc.IsAdmin() && doc.APIServer.Key != "" && key == doc.APIServer.Key {
		return true
	}

	return slices.ContainsFunc(acc.Profiles, func(p models.CredentialProfile) bool {
		return p.APIKey == key
	})
}

// ActivateRequest switches the engine to a new credential.
type ActivateRequest struct {
	APIKey      string `json:"api_key" validate:"required"`
	SecretKey   string `json:"secret_key" validate:"required"`
	TradingMode string `json:"trading_mode" validate:"omitempty,oneof=spot futures"`
	MarginMode  string `json:"margin_mode" validate:"omitempty,oneof=isolated cross"`
}

// Reload tells the engine its credential changed. The key is not included.
type Reload struct {
	User        string
	TradingMode string
}

// Activator owns the single, process-wide active credential slot.
type Activator struct {
	config   *storage.ConfigStore
	validate *validator.Validate
	logger   *slog.Logger

	mu      sync.Mutex
	reloads chan Reload
}

func NewActivator(config *storage.ConfigStore, logger *slog.Logger) *Activator {
	return &Activator{
		config:   config,
		validate: validator.New(),
		logger:   logger,
		reloads:  make(chan Reload, 1),
	}
}

// Reloads delivers reconfiguration signals. Signals coalesce when nobody is reading,
// the document on disk always holds the latest state.
func (a *Activator) Reloads() <-chan Reload {
	return a.reloads
}

// Activate writes req as the engine's active credential if user owns the key.
func (a *Activator) Activate(ctx context.Context, user string, req ActivateRequest) error {
	if err := a.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalid, err.Error())
	}
	if req.TradingMode == "" {
		req.TradingMode = models.TradingModeSpot
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.config.Update(ctx, func(doc *storage.Document) error {
		if !ownsKey(doc, user, req.APIKey) {
			return fmt.Errorf("%s does not own this api key: %w", user, apperr.ErrForbidden)
		}

		doc.Exchange.Key = req.APIKey
		doc.Exchange.Secret = req.SecretKey
		doc.TradingMode = req.TradingMode
		doc.MarginMode = req.MarginMode
		if req.TradingMode == models.TradingModeSpot {
			doc.MarginMode = ""
		}

		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("🔑 Active credential switched",
		slog.String("user", user),
		slog.String("trading_mode", req.TradingMode))

	select {
	case a.reloads <- Reload{User: user, TradingMode: req.TradingMode}:
	default:
	}

	return nil
}
