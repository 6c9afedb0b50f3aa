package mirror

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Actions journaled for a fan-out.
const (
	ActionEntry = "entry"
	ActionExit  = "exit"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ExitPolicy decides what happens to a ledger entry after its closing order.
type ExitPolicy string

const (
	// ExitPolicyDrop removes the entry after the attempt, whatever its outcome.
	ExitPolicyDrop ExitPolicy = "drop"
	// ExitPolicyKeep removes the entry only when the closing order succeeds,
	// leaving failed exits for reconciliation.
	ExitPolicyKeep ExitPolicy = "keep"
)

// ParseExitPolicy accepts "drop" and "keep"; empty means drop.
func ParseExitPolicy(s string) (ExitPolicy, error) {
	switch ExitPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExitPolicyDrop:
		return ExitPolicyDrop, nil
	case ExitPolicyKeep:
		return ExitPolicyKeep, nil
	default:
		return "", fmt.Errorf("unknown exit policy %q, want drop or keep", s)
	}
}

// FollowerResult is the outcome on one follower.
type FollowerResult struct {
	ProfileID   string          `json:"profile_id"`
	ProfileName string          `json:"profile_name"`
	Owner       string          `json:"owner"`
	Success     bool            `json:"success"`
	Skipped     bool            `json:"skipped,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error,omitempty"`
	OrderID     string          `json:"order_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	LatencyMs   int64           `json:"latency_ms"`
}

// ExecutionResult summarizes one master event across all followers.
type ExecutionResult struct {
	TradeID      string           `json:"trade_id"`
	Action       string           `json:"action"`
	Pair         string           `json:"pair"`
	Side         string           `json:"side"`
	TotalCount   int              `json:"total"`
	SuccessCount int              `json:"success"`
	FailedCount  int              `json:"failed"`
	SkippedCount int              `json:"skipped"`
	Results      []FollowerResult `json:"results"`
	// Error is set when the run was aborted before any follower was attempted.
	Error        string           `json:"error,omitempty"`
}

func (r *ExecutionResult) add(fr FollowerResult) {
	r.TotalCount++
	switch {
	case fr.Skipped:
		r.SkippedCount++
	case fr.Success:
		r.SuccessCount++
	default:
		r.FailedCount++
	}
	r.Results = append(r.Results, fr)
}

// IsFullSuccess is true when no attempted follower failed.
func (r *ExecutionResult) IsFullSuccess() bool {
	return r.FailedCount == 0
}

// IsPartialSuccess is true when some followers succeeded and some failed.
func (r *ExecutionResult) IsPartialSuccess() bool {
	return r.SuccessCount > 0 && r.FailedCount > 0
}

// IsFullFailure is true when followers were attempted and none succeeded.
func (r *ExecutionResult) IsFullFailure() bool {
	return r.SuccessCount == 0 && r.FailedCount > 0
}

// Status condenses the counts into a journal status.
func (r *ExecutionResult) Status() string {
	switch {
	case r.Error != "":
		return StatusFailed
	case r.SuccessCount == 0 && r.FailedCount == 0:
		return StatusSkipped
	case r.IsFullFailure():
		return StatusFailed
	case r.IsPartialSuccess():
		return StatusPartial
	default:
		return StatusCompleted
	}
}
