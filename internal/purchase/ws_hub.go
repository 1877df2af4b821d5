package purchase

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/transit-fare/internal/metrics"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsQueueLen   = 32
)

// WSMessage is one event pushed to gates and terminals.
type WSMessage struct {
	Type     string `json:"type"`
	TicketID string `json:"ticket_id,omitempty"`
	RiderID  string `json:"rider_id,omitempty"`
	Station  string `json:"station,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Status   string `json:"status,omitempty"`
	Price    int64  `json:"price,omitempty"`
}

// wsClient is a subscriber with its own outbound queue. Only its writer
// goroutine touches conn for writes.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans events out to subscribers. The client set is owned by the Run
// goroutine; a subscriber whose queue is full is dropped rather than
// stalling the others.
type WSHub struct {
	events  chan []byte
	join    chan *wsClient
	leave   chan *wsClient
	done    chan struct{}
	clients atomic.Int64
}

// NewWSHub creates a hub. Call Run before serving HandleWS.
func NewWSHub() *WSHub {
	return &WSHub{
		events: make(chan []byte, 256),
		join:   make(chan *wsClient),
		leave:  make(chan *wsClient),
		done:   make(chan struct{}),
	}
}

// Clients returns the number of connected subscribers.
func (h *WSHub) Clients() int {
	return int(h.clients.Load())
}

// Run delivers events until ctx is cancelled, then disconnects everyone.
func (h *WSHub) Run(ctx context.Context) {
	subs := make(map[*wsClient]struct{})
	drop := func(c *wsClient) {
		if _, ok := subs[c]; !ok {
			return
		}
		delete(subs, c)
		close(c.send)
		h.clients.Store(int64(len(subs)))
		metrics.WebSocketClients.Set(float64(len(subs)))
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range subs {
				drop(c)
			}
			return

		case c := <-h.join:
			subs[c] = struct{}{}
			h.clients.Store(int64(len(subs)))
			metrics.WebSocketClients.Set(float64(len(subs)))
			slog.Info("ws subscriber joined", "subscribers", len(subs))

		case c := <-h.leave:
			drop(c)

		case msg := <-h.events:
			for c := range subs {
				select {
				case c.send <- msg:
				default:
					slog.Warn("ws subscriber too slow, disconnecting")
					drop(c)
				}
			}
		}
	}
}

// Broadcast queues msg for every subscriber. It never blocks; when the hub
// is backed up the event is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- data:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// HandleWS upgrades GET /api/v1/ws and subscribes the connection.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsQueueLen)}
	select {
	case h.join <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writeLoop()
	go h.readLoop(c)
}

// readLoop discards inbound frames and notices when the peer goes away.
func (h *WSHub) readLoop(c *wsClient) {
	defer func() {
		select {
		case h.leave <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop drains the client's queue and keeps the connection alive. It
// exits, closing the socket, when the hub closes the queue.
func (c *wsClient) writeLoop() {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
