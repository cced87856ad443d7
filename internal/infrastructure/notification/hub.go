// Package notification delivers committed order events to live clients and the log
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/po-workflow/internal/domain/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// HubConfig tunes the websocket hub
type HubConfig struct {
	ClientBuffer    int
	BroadcastBuffer int
	AllowedOrigins  []string
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// orderID filters events; 0 receives everything
	orderID int64
}

type message struct {
	orderID int64
	data    []byte
}

// Hub fans order events out to connected websocket clients.
// It runs as a background worker; Broadcast never blocks the caller.
type Hub struct {
	cfg      HubConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients    map[*client]struct{}
	broadcast  chan message
	register   chan *client
	unregister chan *client

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewHub creates a hub; call Start before serving connections
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 64
	}
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 256
	}
	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, cfg.BroadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Name identifies the hub in the worker manager
func (h *Hub) Name() string { return "websocket-hub" }

// Start launches the dispatch loop; it ends when ctx is cancelled or Stop is called
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return errors.New("websocket hub already running")
	}
	h.running = true
	h.done = make(chan struct{})
	h.stopped = make(chan struct{})
	go h.run(ctx, h.done, h.stopped)
	return nil
}

// Stop ends the loop and disconnects every client
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.done)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	return nil
}

func (h *Hub) run(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("WebSocket client connected", zap.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("WebSocket client disconnected", zap.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.orderID != 0 && c.orderID != msg.orderID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow client; drop it rather than stall everyone else
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("Dropped slow websocket client")
				}
			}
		}
	}
}

// Broadcast queues evt for every interested client
func (h *Hub) Broadcast(evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{orderID: evt.OrderID, data: data}:
		return nil
	default:
		return errors.New("websocket broadcast queue full")
	}
}

// Handle is a dispatcher handler that broadcasts each event
func (h *Hub) Handle(_ context.Context, evt *event.Event) error {
	return h.Broadcast(evt)
}

// ServeWS upgrades the request and attaches the connection to the hub.
// orderID limits the stream to one order; 0 subscribes to all orders.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, orderID int64) error {
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if !running {
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return errors.New("websocket hub not running")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, h.cfg.ClientBuffer), orderID: orderID}
	select {
	case h.register <- c:
	case <-r.Context().Done():
		_ = conn.Close()
		return r.Context().Err()
	}

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// readPump only services control frames; clients do not send commands
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stoppedChan():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) stoppedChan() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
