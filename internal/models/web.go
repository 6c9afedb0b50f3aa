package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lifecycle modes carried by master entry events. Only the first two are mirrored.
const (
	EntryModeInitial    = "initial"
	EntryModeForceEntry = "force_entry"
	EntryModeAdjust     = "adjust"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// EntryEvent is emitted by the primary engine when a master trade opens or scales in.
type EntryEvent struct {
	TradeID       string          `json:"trade_id" validate:"required"`
	Pair          string          `json:"pair" validate:"required"`
	Side          string          `json:"side" validate:"oneof=buy sell"`
	Price         decimal.Decimal `json:"price"`
	StakeCurrency string          `json:"stake_currency" validate:"required"`
	Mode          string          `json:"mode"`
}

// ExitEvent is emitted by the primary engine when a master trade closes.
// Side is the side of the closing order.
type ExitEvent struct {
	TradeID string `json:"trade_id" validate:"required"`
	Pair    string `json:"pair" validate:"required"`
	Side    string `json:"side" validate:"oneof=buy sell"`
}

// MirrorRun is one journaled fan-out of a master event.
type MirrorRun struct {
	ID        int64        `json:"id"`
	TradeID   string       `json:"trade_id"`
	Action    string       `json:"action"` // "entry", "exit"
	Pair      string       `json:"pair"`
	Side      string       `json:"side"`
	Status    string       `json:"status"` // "completed", "partial", "failed", "skipped"
	CreatedAt time.Time    `json:"created_at"`
	Fills     []MirrorFill `json:"fills,omitempty"`
}

// MirrorFill is the outcome of a mirror attempt on one follower.
type MirrorFill struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	ProfileID string    `json:"profile_id"`
	Owner     string    `json:"owner"`
	Status    string    `json:"status"` // "success", "failed", "skipped"
	OrderID   string    `json:"order_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
