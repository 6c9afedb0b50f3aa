// Package mirror replicates master trade lifecycle events onto follower accounts.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"spotmirror/internal/exchange"
	"spotmirror/internal/ledger"
	"spotmirror/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Haircut applied to entry sizes to absorb fees and slippage.
var Haircut = decimal.RequireFromString("0.995")

// FollowerSource lists profiles that opted into mirroring, active credential excluded.
type FollowerSource interface {
	Followers(ctx context.Context) ([]models.CredentialProfile, error)
}

// Journal records fan-outs for history queries.
type Journal interface {
	RecordRun(ctx context.Context, run models.MirrorRun) (int64, error)
}

// Publisher pushes results to live subscribers.
type Publisher interface {
	Publish(result ExecutionResult)
}

// Notifier reports follower failures to an operator.
type Notifier interface {
	NotifyFailures(ctx context.Context, result ExecutionResult) error
}

// Config tunes the fan-out.
type Config struct {
	// Concurrency bounds how many followers are worked on at once. 1 is sequential.
	Concurrency  int
	OrderTimeout time.Duration
	ExitPolicy   ExitPolicy
}

// Dependencies of a Coordinator. Journal, Publisher, Notifier and Metrics are optional.
type Dependencies struct {
	Followers FollowerSource
	Sessions  *SessionCache
	Ledger    ledger.Store
	Journal   Journal
	Publisher Publisher
	Notifier  Notifier
	Metrics   *Metrics
}

// Coordinator drives entry and exit mirroring.
type Coordinator struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
}

func NewCoordinator(deps Dependencies, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ExitPolicy == "" {
		cfg.ExitPolicy = ExitPolicyDrop
	}

	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// EntrySize computes the stake budget and the pre-rounding base amount for a follower.
func EntrySize(free decimal.Decimal, allocationPct float64, price decimal.Decimal) (stake, raw decimal.Decimal) {
	stake = free.Mul(decimal.NewFromFloat(allocationPct)).Div(decimal.NewFromInt(100))
	if !stake.IsPositive() || !price.IsPositive() {
		return stake, decimal.Zero
	}

	return stake, stake.Div(price).Mul(Haircut)
}

// === Entry ===

// MirrorEntry replicates a master entry onto every eligible follower.
// Follower failures are reported in the result, never returned.
func (c *Coordinator) MirrorEntry(ctx context.Context, ev models.EntryEvent) ExecutionResult {
	result := ExecutionResult{
		TradeID: ev.TradeID,
		Action:  ActionEntry,
		Pair:    ev.Pair,
		Side:    ev.Side,
	}

	if ev.Mode != models.EntryModeInitial && ev.Mode != models.EntryModeForceEntry {
		c.logger.Debug("Entry mode is not mirrored",
			slog.String("trade", ev.TradeID),
			slog.String("mode", ev.Mode))
		return result
	}
	if !ev.Price.IsPositive() {
		c.logger.Warn("Entry without a positive price is not mirrored",
			slog.String("trade", ev.TradeID),
			slog.String("price", ev.Price.String()))
		return result
	}

	result = c.execute(ctx, result, func(ctx context.Context, p models.CredentialProfile) FollowerResult {
		return c.processEntry(ctx, p, ev)
	})

	c.finish(ctx, result)

	return result
}

func (c *Coordinator) processEntry(ctx context.Context, p models.CredentialProfile, ev models.EntryEvent) FollowerResult {
	res := newFollowerResult(p)

	conn, err := c.deps.Sessions.Acquire(ctx, p)
	if err != nil {
		return c.fail(res, "Failed to acquire session", err)
	}

	free, err := conn.FreeBalance(ctx, ev.StakeCurrency)
	if err != nil {
		return c.fail(res, "Failed to fetch balance", err)
	}

	stake, raw := EntrySize(free, p.AllocationPct, ev.Price)
	if !stake.IsPositive() {
		return skip(res, "no free balance in "+ev.StakeCurrency)
	}

	amount, err := conn.AmountToPrecision(ev.Pair, raw)
	if err != nil {
		return c.fail(res, "Failed to round amount", err)
	}
	if !amount.IsPositive() {
		return skip(res, "amount rounds to zero")
	}

	req := exchange.OrderRequest{Pair: ev.Pair, Side: ev.Side, Amount: amount}
	if ev.Side == models.SideBuy {
		req.QuoteAmount = stake
	}

	order, err := conn.CreateMarketOrder(ctx, req)
	if err != nil {
		return c.fail(res, "Failed to place entry order", err)
	}
	res.OrderID = order.ID

	filled := order.FilledAmount(amount)

	// the order is live; its bookkeeping must not be lost to the order timeout
	if _, err := c.deps.Ledger.Accumulate(context.WithoutCancel(ctx), ev.TradeID, p.ID, ev.Pair, filled); err != nil {
		return c.fail(res, "Order placed but ledger write failed", err)
	}

	res.Success = true
	res.Amount = filled

	c.logger.Info("✅ Entry mirrored",
		slog.String("trade", ev.TradeID),
		slog.String("profile", p.Name),
		slog.String("pair", ev.Pair),
		slog.String("side", ev.Side),
		slog.String("amount", filled.String()),
		slog.String("order_id", order.ID))

	return res
}

// === Exit ===

// MirrorExit closes every follower position recorded for the trade, sized from the ledger.
// Followers without a ledger entry get no order.
func (c *Coordinator) MirrorExit(ctx context.Context, ev models.ExitEvent) ExecutionResult {
	result := ExecutionResult{
		TradeID: ev.TradeID,
		Action:  ActionExit,
		Pair:    ev.Pair,
		Side:    ev.Side,
	}

	result = c.execute(ctx, result, func(ctx context.Context, p models.CredentialProfile) FollowerResult {
		return c.processExit(ctx, p, ev)
	})

	c.finish(ctx, result)

	return result
}

func (c *Coordinator) processExit(ctx context.Context, p models.CredentialProfile, ev models.ExitEvent) FollowerResult {
	res := newFollowerResult(p)

	entry, ok, err := c.deps.Ledger.Get(ctx, ev.TradeID, p.ID)
	if err != nil {
		return c.fail(res, "Failed to read ledger", err)
	}
	if !ok {
		return skip(res, "trade was not mirrored")
	}

	pair := ev.Pair
	if pair == "" {
		pair = entry.Pair
	}

	success := false
	defer func() {
		c.settle(ctx, ev.TradeID, p.ID, success)
	}()

	if !entry.Amount.IsPositive() {
		success = true
		return skip(res, "nothing recorded to close")
	}

	conn, err := c.deps.Sessions.Acquire(ctx, p)
	if err != nil {
		return c.fail(res, "Failed to acquire session", err)
	}

	amount, err := conn.AmountToPrecision(pair, entry.Amount)
	if err != nil {
		return c.fail(res, "Failed to round amount", err)
	}
	if !amount.IsPositive() {
		success = true
		return skip(res, "recorded amount rounds to zero")
	}

	order, err := conn.CreateMarketOrder(ctx, exchange.OrderRequest{Pair: pair, Side: ev.Side, Amount: amount})
	if err != nil {
		return c.fail(res, "Failed to place exit order", err)
	}

	success = true
	res.Success = true
	res.OrderID = order.ID
	res.Amount = amount

	c.logger.Info("✅ Exit mirrored",
		slog.String("trade", ev.TradeID),
		slog.String("profile", p.Name),
		slog.String("pair", pair),
		slog.String("side", ev.Side),
		slog.String("amount", amount.String()),
		slog.String("order_id", order.ID))

	return res
}

// settle removes the ledger entry after an exit attempt according to the exit policy.
func (c *Coordinator) settle(ctx context.Context, tradeID, profileID string, success bool) {
	if !success && c.cfg.ExitPolicy == ExitPolicyKeep {
		c.logger.Warn("Exit failed, ledger entry kept for reconciliation",
			slog.String("trade", tradeID),
			slog.String("profile", profileID))
		return
	}

	if _, _, err := c.deps.Ledger.Remove(context.WithoutCancel(ctx), tradeID, profileID); err != nil {
		c.logger.Error("Failed to remove ledger entry",
			slog.String("trade", tradeID),
			slog.String("profile", profileID),
			slog.Any("error", err))
	}
}

// === Fan-out ===

// execute runs fn for every eligible follower, each isolated from the others:
// own timeout, own goroutine, panics recovered.
func (c *Coordinator) execute(ctx context.Context, result ExecutionResult, fn func(ctx context.Context, p models.CredentialProfile) FollowerResult) ExecutionResult {
	followers, err := c.deps.Followers.Followers(ctx)
	if err != nil {
		c.logger.Error("Mirror run aborted, followers unavailable",
			slog.String("action", result.Action),
			slog.String("trade", result.TradeID),
			slog.Any("error", err))
		result.Error = err.Error()
		return result
	}
	if len(followers) == 0 {
		return result
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(c.cfg.Concurrency)

	collect := func(fr FollowerResult) {
		mu.Lock()
		result.add(fr)
		mu.Unlock()
	}

	for _, p := range followers {
		if !p.IsSpot() {
			c.logger.Info("Skipping non-spot follower",
				slog.String("profile", p.Name),
				slog.String("trading_mode", p.TradingMode))
			collect(skip(newFollowerResult(p), "trading mode "+p.TradingMode+" is not mirrored"))
			continue
		}

		g.Go(func() error {
			startTime := time.Now()
			fr := c.runIsolated(ctx, p, fn)
			fr.LatencyMs = time.Since(startTime).Milliseconds()
			collect(fr)
			return nil
		})
	}

	_ = g.Wait()

	return result
}

func (c *Coordinator) runIsolated(ctx context.Context, p models.CredentialProfile, fn func(ctx context.Context, p models.CredentialProfile) FollowerResult) (fr FollowerResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Follower mirror panicked",
				slog.String("profile", p.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			fr = newFollowerResult(p)
			fr.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	if c.cfg.OrderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OrderTimeout)
		defer cancel()
	}

	return fn(ctx, p)
}

// finish journals, publishes, notifies and counts a completed fan-out.
func (c *Coordinator) finish(ctx context.Context, result ExecutionResult) {
	c.logger.Info("Mirror run finished",
		slog.String("action", result.Action),
		slog.String("trade", result.TradeID),
		slog.String("status", result.Status()),
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("skipped", result.SkippedCount))

	ctx = context.WithoutCancel(ctx)

	if c.deps.Journal != nil {
		if _, err := c.deps.Journal.RecordRun(ctx, toRun(result)); err != nil {
			c.logger.Error("Failed to journal mirror run", slog.Any("error", err))
		}
	}

	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(result)
	}

	if c.deps.Notifier != nil && (result.FailedCount > 0 || result.Error != "") {
		if err := c.deps.Notifier.NotifyFailures(ctx, result); err != nil {
			c.logger.Warn("Failed to send failure notification", slog.Any("error", err))
		}
	}

	c.deps.Metrics.observe(result, c.deps.Sessions.Len())
}

func toRun(result ExecutionResult) models.MirrorRun {
	run := models.MirrorRun{
		TradeID: result.TradeID,
		Action:  result.Action,
		Pair:    result.Pair,
		Side:    result.Side,
		Status:  result.Status(),
		Fills:   make([]models.MirrorFill, 0, len(result.Results)),
	}

	for _, r := range result.Results {
		status := "failed"
		switch {
		case r.Skipped:
			status = "skipped"
		case r.Success:
			status = "success"
		}

		errMsg := r.Error
		if r.Skipped {
			errMsg = r.Reason
		}

		fill := models.MirrorFill{
			ProfileID: r.ProfileID,
			Owner:     r.Owner,
			Status:    status,
			OrderID:   r.OrderID,
			Error:     errMsg,
			LatencyMs: r.LatencyMs,
		}
		if r.Success {
			fill.Amount = r.Amount.String()
		}
		run.Fills = append(run.Fills, fill)
	}

	return run
}

func newFollowerResult(p models.CredentialProfile) FollowerResult {
	return FollowerResult{
		ProfileID:   p.ID,
		ProfileName: p.Name,
		Owner:       p.Owner,
	}
}

func (c *Coordinator) fail(res FollowerResult, msg string, err error) FollowerResult {
	level := slog.LevelError
	var exErr *exchange.Error
	if errors.As(err, &exErr) || errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelWarn
	}

	c.logger.Log(context.Background(), level, msg,
		slog.String("profile", res.ProfileName),
		slog.String("owner", res.Owner),
		slog.Any("error", err))

	res.Success = false
	res.Error = err.Error()

	return res
}

func skip(res FollowerResult, reason string) FollowerResult {
	res.Skipped = true
	res.Reason = reason

	return res
}
