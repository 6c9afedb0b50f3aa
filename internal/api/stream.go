package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"spotmirror/internal/auth"
	"spotmirror/internal/mirror"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// tokens, not cookies, authenticate the stream
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamMessage is one frame on the live stream.
type streamMessage struct {
	Type string                 `json:"type"`
	Data mirror.ExecutionResult `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	// owner limits the client to its own followers; empty means every follower.
	owner string
	send  chan []byte
}

// Hub fans mirror results out to connected stream clients.
// Clients that cannot keep up are disconnected.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Publish delivers result to every client allowed to see it.
func (h *Hub) Publish(result mirror.ExecutionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var all []byte
	for c := range h.clients {
		var msg []byte
		if c.owner == "" {
			if all == nil {
				all = h.encode(result)
			}
			msg = all
		} else {
			scoped, ok := scopeToOwner(result, c.owner)
			if !ok {
				continue
			}
			msg = h.encode(scoped)
		}
		if msg == nil {
			continue
		}

		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Stream client too slow, disconnecting", slog.String("owner", c.owner))
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) encode(result mirror.ExecutionResult) []byte {
	b, err := json.Marshal(streamMessage{Type: "mirror_" + result.Action, Data: result})
	if err != nil {
		h.logger.Error("Failed to encode stream message", slog.Any("error", err))
		return nil
	}

	return b
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("📡 Stream client connected", slog.Int("clients", n))
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	h.removeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Stream client disconnected", slog.Int("clients", n))
}

func (h *Hub) removeLocked(c *streamClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// scopeToOwner keeps only owner's follower results. ok is false when none remain.
func scopeToOwner(result mirror.ExecutionResult, owner string) (mirror.ExecutionResult, bool) {
	scoped := mirror.ExecutionResult{
		TradeID: result.TradeID,
		Action:  result.Action,
		Pair:    result.Pair,
		Side:    result.Side,
	}

	for _, r := range result.Results {
		if r.Owner != owner {
			continue
		}
		scoped.TotalCount++
		switch {
		case r.Skipped:
			scoped.SkippedCount++
		case r.Success:
			scoped.SuccessCount++
		default:
			scoped.FailedCount++
		}
		scoped.Results = append(scoped.Results, r)
	}

	return scoped, scoped.TotalCount > 0
}

// HandleStream upgrades to a WebSocket carrying live mirror results.
// The token query parameter is a stream secret (every follower) or an access token (own followers).
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	owner := ""
	if !h.svc.Auth.VerifyStreamSecret(token) {
		subject, err := h.svc.Auth.VerifyToken(token, auth.TokenAccess)
		if err != nil {
			h.respondErr(w, r, err)
			return
		}
		owner = subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &streamClient{
		conn:  conn,
		owner: owner,
		send:  make(chan []byte, sendBufferSize),
	}
	h.svc.Hub.add(c)

	go h.svc.Hub.writePump(c)
	go h.svc.Hub.readPump(c)
}

// readPump only watches for close and pong frames.
func (h *Hub) readPump(c *streamClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
