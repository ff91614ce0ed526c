// Package eventstream broadcasts repair loop events to websocket clients.
package eventstream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowsmith/internal/orchestrator"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingEvery  = (pongWait * 9) / 10
	sendBuffer = 64
)

type inbound struct {
	Type string `json:"type"`
}

type outbound struct {
	Type    string              `json:"type"`
	RunID   string              `json:"runId,omitempty"`
	Event   *orchestrator.Event `json:"event,omitempty"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

type client struct {
	runID    string
	send     chan outbound
	quit     chan struct{}
	quitOnce sync.Once
}

func (c *client) stop() { c.quitOnce.Do(func() { close(c.quit) }) }

// push never blocks; events for a full buffer are dropped.
func (c *client) push(out outbound) bool {
	select {
	case c.send <- out:
		return true
	default:
		return false
	}
}

// Hub is an orchestrator.Observer that fans events out to every connected
// websocket client. Clients may pass ?run_id= to receive a single run.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var _ orchestrator.Observer = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Observe delivers e to every client subscribed to its run.
func (h *Hub) Observe(e orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.runID != "" && c.runID != e.RunID {
			continue
		}
		ev := e
		if !c.push(outbound{Type: "event", RunID: e.RunID, Event: &ev}) {
			h.logger.Debug("event dropped for slow client", zap.String("run_id", e.RunID), zap.String("state", string(e.State)))
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{
		runID: strings.TrimSpace(r.URL.Query().Get("run_id")),
		send:  make(chan outbound, sendBuffer),
		quit:  make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		return
	}
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Warn("eventstream set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writerDone := make(chan struct{})
	go h.writePump(ctx, conn, c, writerDone)

	c.push(outbound{Type: "subscribed", RunID: c.runID})
	h.logger.Debug("eventstream client connected", zap.String("run_id", c.runID))

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch strings.ToLower(strings.TrimSpace(in.Type)) {
		case "ping":
			c.push(outbound{Type: "pong"})
		case "":
			c.push(outbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		default:
			c.push(outbound{Type: "error", Code: "invalid_argument", Message: "unsupported message type " + in.Type})
		}
	}
}

// writePump owns all writes to conn. It closes the connection when it stops
// on a quit or a failed write, which unblocks the reader.
func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, c *client, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	fail := func(err error) {
		h.logger.Debug("eventstream write failed", zap.String("run_id", c.runID), zap.Error(err))
		_ = conn.Close()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case out := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				fail(err)
				return
			}
			if err := conn.WriteJSON(out); err != nil {
				fail(err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				fail(err)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				fail(err)
				return
			}
		}
	}
}
