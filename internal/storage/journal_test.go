package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"spotmirror/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j
}

func TestJournal_History(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	firstID, err := j.RecordRun(ctx, models.MirrorRun{
		TradeID:   "t1",
		Action:    "entry",
		Pair:      "ETH/USDT",
		Side:      "buy",
		Status:    "partial",
		CreatedAt: base,
		Fills: []models.MirrorFill{
			{ProfileID: "p1", Owner: "alice", Status: "success", OrderID: "o-1", Amount: "49.75", LatencyMs: 12},
			{ProfileID: "p2", Owner: "bob", Status: "failed", Error: "timeout"},
		},
	})
	require.NoError(t, err)

	_, err = j.RecordRun(ctx, models.MirrorRun{
		TradeID:   "t1",
		Action:    "exit",
		Pair:      "ETH/USDT",
		Side:      "sell",
		Status:    "completed",
		CreatedAt: base.Add(time.Hour),
		Fills: []models.MirrorFill{
			{ProfileID: "p1", Owner: "alice", Status: "success", OrderID: "o-2", Amount: "49.75"},
		},
	})
	require.NoError(t, err)

	t.Run("all tenants", func(t *testing.T) {
		runs, err := j.History(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "exit", runs[0].Action)
		assert.Equal(t, "entry", runs[1].Action)
		assert.Len(t, runs[1].Fills, 2)
		assert.Equal(t, firstID, runs[1].ID)
		assert.True(t, runs[1].CreatedAt.Equal(base))
	})

	t.Run("owner sees only own fills", func(t *testing.T) {
		runs, err := j.History(ctx, "bob", 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		require.Len(t, runs[0].Fills, 1)
		assert.Equal(t, "p2", runs[0].Fills[0].ProfileID)
		assert.Equal(t, "timeout", runs[0].Fills[0].Error)
	})

	t.Run("limit", func(t *testing.T) {
		runs, err := j.History(ctx, "alice", 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "exit", runs[0].Action)
	})

	t.Run("unknown owner", func(t *testing.T) {
		runs, err := j.History(ctx, "carol", 0)
		require.NoError(t, err)
		assert.Empty(t, runs)
	})
}

func TestJournal_RunWithoutFills(t *testing.T) {
	j := openTestJournal(t)

	id, err := j.RecordRun(context.Background(), models.MirrorRun{
		TradeID: "t9", Action: "exit", Pair: "BTC/USDT", Side: "sell", Status: "skipped",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	runs, err := j.History(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Fills)
	assert.False(t, runs[0].CreatedAt.IsZero())
}
