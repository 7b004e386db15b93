// Package statusfeed pushes controller status, log lines, consultation views
// and answered questions to WebSocket clients as JSON events.
//
// Each client gets a bounded send queue. A client that falls behind is
// disconnected rather than slowing down publishers.
package statusfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event types.
const (
	TypeStatus = "status"
	TypeLog    = "log"
	TypeViews  = "views"
	TypeQA     = "qa"
)

// replayed lists the event types a new client receives on connect.
var replayed = []string{TypeStatus, TypeViews}

const (
	defaultQueue = 64
	writeTimeout = 5 * time.Second
)

// Event is one message on the feed.
type Event struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueue sets the per-client send queue length.
func WithQueue(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queue = n
		}
	}
}

// WithOriginPatterns allows cross-origin clients matching the given host
// patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub fans events out to connected clients. The latest status and views
// events are replayed to every new client.
type Hub struct {
	queue   int
	origins []string
	now     func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	latest  map[string][]byte
}

type client struct {
	send chan []byte
	slow chan struct{}
	once sync.Once
}

func (c *client) drop() { c.once.Do(func() { close(c.slow) }) }

// NewHub creates a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		queue:   defaultQueue,
		now:     time.Now,
		clients: make(map[*client]struct{}),
		latest:  make(map[string][]byte),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish encodes data and queues it for every client. It never blocks.
func (h *Hub) Publish(typ string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("statusfeed: encode event", "type", typ, "err", err)
		return
	}
	msg, err := json.Marshal(Event{Type: typ, Time: h.now(), Data: raw})
	if err != nil {
		slog.Error("statusfeed: encode event", "type", typ, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if slices.Contains(replayed, typ) {
		h.latest[typ] = msg
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("statusfeed: dropping slow client")
			delete(h.clients, c)
			c.drop()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Register mounts the feed at /ws on mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("statusfeed: accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// The queue always has room for the replay, so it cannot block while
	// h.mu is held.
	c := &client{send: make(chan []byte, max(h.queue, len(replayed))), slow: make(chan struct{})}
	h.mu.Lock()
	for _, typ := range replayed {
		if msg, ok := h.latest[typ]; ok {
			c.send <- msg
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	// The feed is one-way; CloseRead handles control frames and cancels ctx
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.slow:
			conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case msg := <-c.send:
			if err := write(ctx, conn, msg); err != nil {
				slog.Debug("statusfeed: write", "err", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
