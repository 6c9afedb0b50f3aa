package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spotmirror/internal/exchange"
	"spotmirror/internal/models"
)

type session struct {
	apiKey string
	conn   exchange.Connector
}

// SessionCache holds one connector per follower profile, bound to the key it was built with.
// A session is rebuilt only when the profile's stored key changes.
type SessionCache struct {
	factory exchange.Factory
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessionCache(factory exchange.Factory, buildTimeout time.Duration, logger *slog.Logger) *SessionCache {
	return &SessionCache{
		factory:  factory,
		timeout:  buildTimeout,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Acquire returns the profile's session, building it if missing or stale.
// Building happens without holding the cache lock.
func (c *SessionCache) Acquire(ctx context.Context, p models.CredentialProfile) (exchange.Connector, error) {
	c.mu.Lock()
	if s, ok := c.sessions[p.ID]; ok && s.apiKey == p.APIKey {
		c.mu.Unlock()
		return s.conn, nil
	}
	c.mu.Unlock()

	buildCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.factory(buildCtx, exchange.Credentials{
		APIKey:      p.APIKey,
		Secret:      p.SecretKey,
		TradingMode: p.TradingMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build session for %s: %w", p.Name, err)
	}

	c.mu.Lock()
	cur, ok := c.sessions[p.ID]
	if ok && cur.apiKey == p.APIKey {
		c.mu.Unlock()
		c.closeQuietly(p.ID, conn)
		return cur.conn, nil
	}
	c.sessions[p.ID] = &session{apiKey: p.APIKey, conn: conn}
	c.mu.Unlock()

	if ok {
		c.logger.Info("🔄 Follower credentials rotated, session rebuilt", slog.String("profile", p.ID))
		c.closeQuietly(p.ID, cur.conn)
	}

	return conn, nil
}

// Retain closes and forgets every session whose profile id is not in keep.
func (c *SessionCache) Retain(keep map[string]bool) int {
	c.mu.Lock()
	var stale []*session
	var ids []string
	for id, s := range c.sessions {
		if !keep[id] {
			stale = append(stale, s)
			ids = append(ids, id)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for i, s := range stale {
		c.closeQuietly(ids[i], s.conn)
	}

	return len(stale)
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sessions)
}

// Close closes every session.
func (c *SessionCache) Close() {
	c.Retain(nil)
}

func (c *SessionCache) closeQuietly(profileID string, conn exchange.Connector) {
	if err := conn.Close(); err != nil {
		c.logger.Debug("Ignoring session close error",
			slog.String("profile", profileID),
			slog.Any("error", err))
	}
}
