// Package gateway pushes runner events to WebSocket clients.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shadowbeta/internal/model"
	"shadowbeta/internal/ringbuf"
)

// RunnerChannel is the envelope channel of runner events.
const RunnerChannel = "runner"

// DefaultReplaySize is how many recent events a new client receives.
const DefaultReplaySize = 500

// replayEntry is one sent envelope kept for late joiners.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// Observer is notified when the client count changes.
type Observer interface {
	ClientsChanged(n int)
}

type nopObserver struct{}

func (nopObserver) ClientsChanged(int) {}

// Option configures a Hub.
type Option func(*Hub)

// WithObserver sets the client-count observer.
func WithObserver(o Observer) Option { return func(h *Hub) { h.obs = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Hub) { h.log = l } }

// WithClock overrides the envelope timestamp clock.
func WithClock(now func() time.Time) Option { return func(h *Hub) { h.now = now } }

// Hub manages WebSocket clients and fans runner events out to them. It
// implements model.Broadcaster; a slow client misses messages rather than
// blocking the runner.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	seq     int64
	replay  *ringbuf.Ring[replayEntry]

	upgrader websocket.Upgrader
	obs      Observer
	log      *slog.Logger
	now      func() time.Time
}

// NewHub creates a Hub that keeps the last replaySize envelopes.
func NewHub(replaySize int, opts ...Option) *Hub {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	h := &Hub{
		clients: make(map[*Client]bool),
		replay:  ringbuf.New[replayEntry](replaySize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		obs: nopObserver{},
		log: slog.Default(),
		now: time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.log = h.log.With("component", "gateway")
	return h
}

// Broadcast wraps ev in an envelope, stores it for replay and sends it to
// every connected client.
func (h *Hub) Broadcast(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event failed", "type", ev.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	buf := buildEnvelope(RunnerChannel, data, h.now().UTC(), h.seq)
	h.replay.Push(replayEntry{Seq: h.seq, Data: buf})

	for client := range h.clients {
		client.offer(buf)
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// A reconnecting client passes ?since=<last seq seen> to receive only the
// events it missed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}
	h.RegisterSince(conn, since)
}

// Register starts serving conn. The client first receives a hello message
// and then the buffered recent events, oldest first.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	return h.RegisterSince(conn, 0)
}

// RegisterSince is Register replaying only events with seq > since.
func (h *Hub) RegisterSince(conn *websocket.Conn, since int64) *Client {
	client := newClient(h, conn, h.replay.Cap()+64)

	hello, _ := json.Marshal(model.Event{Type: model.EventHello, Time: h.now().UTC(), Status: "connected"})

	h.mu.Lock()
	client.offer(buildEnvelope(RunnerChannel, hello, h.now().UTC(), 0))
	for _, e := range h.replay.Filter(func(e replayEntry) bool { return e.Seq > since }) {
		client.offer(e.Data)
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.obs.ClientsChanged(count)
	h.log.Info("ws client connected", "clients", count)

	go client.writeLoop()
	go client.readLoop()
	return client
}

// RemoveClient removes a client from the hub. It is safe to call twice.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	c.shutdown()
	count := len(h.clients)
	h.mu.Unlock()

	h.obs.ClientsChanged(count)
	h.log.Info("ws client disconnected", "clients", count, "dropped", c.Dropped())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Recent returns up to the last n buffered envelopes, oldest first.
func (h *Hub) Recent(n int) [][]byte {
	all := h.replay.Snapshot()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([][]byte, len(all))
	for i, e := range all {
		out[i] = e.Data
	}
	return out
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		conn.Close()
	}
}
