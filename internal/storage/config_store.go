package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"spotmirror/internal/apperr"
)

// ConfigStore owns the configuration document on disk and its running in-memory copy.
//
// Every mutation goes through Update, which re-reads the file, applies the change,
// rewrites the file and only then swaps the in-memory copy. Updates are serialized,
// so concurrent writers never lose each other's changes.
type ConfigStore struct {
	path   string
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.RWMutex
	current *Document
}

// OpenConfig loads the document at path. A missing file is reported as apperr.ErrNotFound.
func OpenConfig(path string, logger *slog.Logger) (*ConfigStore, error) {
	s := &ConfigStore{
		path:   path,
		logger: logger,
	}

	doc, err := s.ReadDisk(context.Background())
	if err != nil {
		return nil, err
	}
	s.current = doc

	logger.Info("✅ Configuration loaded",
		slog.String("path", path),
		slog.Int("tenants", len(doc.APIServer.Users)))

	return s, nil
}

// Path returns the location of the document on disk.
func (s *ConfigStore) Path() string {
	return s.path
}

// Snapshot returns a copy of the running configuration.
func (s *ConfigStore) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current.Clone()
}

// ReadDisk decodes the document straight from the file, bypassing the running copy.
func (s *ConfigStore) ReadDisk(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", s.path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", s.path, err)
	}

	return &doc, nil
}

// Update runs a read-decode-mutate-encode-write cycle. If fn returns an error
// nothing is written and the file stays byte-for-byte unchanged.
func (s *ConfigStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.ReadDisk(ctx)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	perm := os.FileMode(0o600)
	if info, err := os.Stat(s.path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := WriteFileAtomic(s.path, append(data, '\n'), perm); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	s.mu.Lock()
	s.current = doc.Clone()
	s.mu.Unlock()

	s.logger.Debug("Configuration updated", slog.String("path", s.path))

	return nil
}
