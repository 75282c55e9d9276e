package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingEvery    = 30 * time.Second
	maxInbound   = 1024
)

// Client is one connected subscriber. Outgoing envelopes are queued in
// outbox; when it is full the envelope is dropped for this client only.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	outbox  chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newClient(h *Hub, conn *websocket.Conn, queue int) *Client {
	return &Client{
		conn:   conn,
		hub:    h,
		outbox: make(chan []byte, queue),
		done:   make(chan struct{}),
	}
}

// offer queues msg without blocking and reports whether it was queued.
func (c *Client) offer(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped is the number of envelopes this client missed because its
// queue was full.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

func (c *Client) shutdown() { c.once.Do(func() { close(c.done) }) }

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			msg  []byte
		)
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg = <-c.outbox:
		case <-ping.C:
			kind = websocket.PingMessage
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(kind, msg); err != nil {
			return
		}
	}
}

// readLoop keeps the read deadline fresh and answers {"ping":<ms>} with a
// pong carrying the server time. Anything else from the peer is ignored.
func (c *Client) readLoop() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in struct {
			Ping int64 `json:"ping"`
		}
		if err := json.Unmarshal(raw, &in); err != nil || in.Ping <= 0 {
			continue
		}
		pong, _ := json.Marshal(struct {
			Type     string `json:"type"`
			Ping     int64  `json:"ping"`
			ServerTS int64  `json:"server_ts"`
		}{"pong", in.Ping, c.hub.now().UnixMilli()})
		c.offer(pong)
	}
}
