package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"spotmirror/internal/exchange"
	"spotmirror/internal/ownership"

	"github.com/shopspring/decimal"
)

const defaultStakeCurrency = "USDT"

type OwnershipResponse struct {
	IsOwner bool `json:"is_owner"`
}

type BalanceResponse struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
}

// HandleActivate switches the engine's active credential to one the caller owns.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	var req ownership.ActivateRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	if err := h.svc.Activator.Activate(r.Context(), acc.Username, req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "Credential activated", nil)
}

// HandleOwnership tells the caller whether they own the active credential.
func (h *Handler) HandleOwnership(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	ok, err := h.svc.Guard.IsOwner(r.Context(), acc.Username)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "", OwnershipResponse{IsOwner: ok})
}

// HandleBalance returns the free balance of the active credential. Only its owner may ask.
func (h *Handler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	if err := h.svc.Guard.Require(r.Context(), acc.Username); err != nil {
		h.respondErr(w, r, err)
		return
	}

	doc, err := h.svc.Config.ReadDisk(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		currency = strings.ToUpper(doc.StakeCurrency)
	}
	if currency == "" {
		currency = defaultStakeCurrency
	}

	conn, err := h.svc.Exchange(r.Context(), exchange.Credentials{
		APIKey:      doc.Exchange.Key,
		Secret:      doc.Exchange.Secret,
		TradingMode: doc.TradingMode,
	})
	if err != nil {
		h.respondErr(w, r, fmt.Errorf("failed to open exchange session: %w", err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("Ignoring session close error", slog.Any("error", err))
		}
	}()

	free, err := conn.FreeBalance(r.Context(), currency)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "", BalanceResponse{Currency: currency, Free: free})
}
