package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"spotmirror/internal/storage"

	"github.com/shopspring/decimal"
)

const fileVersion = 1

// fileEntry keeps amounts as JSON numbers, the format other readers of the file expect.
type fileEntry struct {
	Pair   string      `json:"pair"`
	Amount json.Number `json:"amount"`
}

type fileState struct {
	Version int                             `json:"version"`
	Trades  map[string]map[string]fileEntry `json:"trades"`
}

func (s fileState) clone() fileState {
	c := fileState{Version: s.Version, Trades: make(map[string]map[string]fileEntry, len(s.Trades))}
	for id, bucket := range s.Trades {
		c.Trades[id] = maps.Clone(bucket)
	}

	return c
}

// FileStore keeps the ledger in one JSON document, rewritten atomically on every mutation.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	state fileState
}

// OpenFile loads the ledger at path. A missing file starts an empty ledger;
// an unreadable one is an error.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logger,
		state:  fileState{Version: fileVersion, Trades: map[string]map[string]fileEntry{}},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("Mirror ledger starts empty", slog.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("failed to decode ledger %s: %w", path, err)
	}
	if s.state.Trades == nil {
		s.state.Trades = map[string]map[string]fileEntry{}
	}

	logger.Info("✅ Mirror ledger loaded",
		slog.String("path", path),
		slog.Int("trades", len(s.state.Trades)))

	return s, nil
}

func (s *FileStore) Accumulate(ctx context.Context, tradeID, profileID, pair string, amount decimal.Decimal) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Entry
	err := s.commit(ctx, func(st fileState) error {
		bucket := st.Trades[tradeID]
		if bucket == nil {
			bucket = map[string]fileEntry{}
			st.Trades[tradeID] = bucket
		}

		cur, err := toEntry(bucket[profileID])
		if err != nil {
			return err
		}
		if cur.Pair == "" {
			cur.Pair = pair
		}
		cur.Amount = cur.Amount.Add(amount)

		bucket[profileID] = fileEntry{Pair: cur.Pair, Amount: json.Number(cur.Amount.String())}
		out = cur

		return nil
	})

	return out, err
}

func (s *FileStore) Get(_ context.Context, tradeID, profileID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe, ok := s.state.Trades[tradeID][profileID]
	if !ok {
		return Entry{}, false, nil
	}

	e, err := toEntry(fe)

	return e, true, err
}

func (s *FileStore) Remove(ctx context.Context, tradeID, profileID string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe, ok := s.state.Trades[tradeID][profileID]
	if !ok {
		return Entry{}, false, nil
	}

	err := s.commit(ctx, func(st fileState) error {
		delete(st.Trades[tradeID], profileID)
		if len(st.Trades[tradeID]) == 0 {
			delete(st.Trades, tradeID)
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	e, err := toEntry(fe)

	return e, true, err
}

func (s *FileStore) Trade(_ context.Context, tradeID string) (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(s.state.Trades[tradeID]))
	for id, fe := range s.state.Trades[tradeID] {
		e, err := toEntry(fe)
		if err != nil {
			return nil, err
		}
		out[id] = e
	}

	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

// commit applies fn to a copy of the state, persists it, then swaps it in.
// A failed write leaves the in-memory ledger as it was. Callers hold s.mu.
func (s *FileStore) commit(ctx context.Context, fn func(fileState) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create ledger dir: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}

	s.state = next

	return nil
}

func toEntry(fe fileEntry) (Entry, error) {
	if fe.Amount == "" {
		return Entry{Pair: fe.Pair, Amount: decimal.Zero}, nil
	}

	amount, err := decimal.NewFromString(fe.Amount.String())
	if err != nil {
		return Entry{}, fmt.Errorf("malformed ledger amount %q: %w", fe.Amount, err)
	}

	return Entry{Pair: fe.Pair, Amount: amount}, nil
}

var _ Store = (*FileStore)(nil)
