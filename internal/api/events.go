package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sydlexius/intake/internal/event"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = (wsPongWait * 9) / 10
	wsClientSize = 64
)

// Hub fans bus events out to websocket clients. Slow clients miss events
// rather than blocking the bus.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	detach  []func()
}

type wsClient struct {
	send chan event.Event
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "events-ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     loopbackOrigin,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// loopbackOrigin accepts requests without an Origin header (native clients)
// and browser pages served from the same host or from a loopback address.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Attach subscribes the hub to every event type on bus until Close. A nil
// bus is ignored.
func (h *Hub) Attach(bus *event.Bus) {
	if bus == nil {
		return
	}
	unsubscribe := bus.Subscribe(h.Broadcast, event.Types...)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		unsubscribe()
		return
	}
	h.detach = append(h.detach, unsubscribe)
}

// Broadcast queues e for every connected client.
func (h *Hub) Broadcast(e event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.logger.Debug("websocket client lagging, dropping event", "type", string(e.Type))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, unsubscribe := range h.detach {
		unsubscribe()
	}
	h.detach = nil
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register() (*wsClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &wsClient{send: make(chan event.Event, wsClientSize)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams events as JSON text frames until
// the client disconnects or the hub closes. Incoming messages are ignored.
// GET /api/v1/events
func (h *Hub) ServeWS(w http.ResponseWriter, req *http.Request) {
	client, ok := h.register()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.unregister(client)
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(4096)
		if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(conn, client, readerDone)
	h.unregister(client)
}

func (h *Hub) writeLoop(conn *websocket.Conn, client *wsClient, readerDone <-chan struct{}) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case e, ok := <-client.send:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
