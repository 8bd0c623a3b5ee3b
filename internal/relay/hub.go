// Package relay pushes workflow events to connected browsers and accepts
// utterances back over WebSocket. Delivery is at-most-once: a client that
// cannot keep up is disconnected rather than buffered without bound.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Outbound is one event for a session's clients.
type Outbound struct {
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound is one event sent by a client.
type Inbound struct {
	ID      string            `json:"id,omitempty"`
	Agent   string            `json:"agent"`
	Message string            `json:"message"`
	Context map[string]string `json:"context,omitempty"`
}

const (
	defaultClientBuffer = 64
	defaultInboundRate  = rate.Limit(5)
	defaultInboundBurst = 10
)

// Observer receives hub counters. All methods may be called from the hub
// goroutine.
type Observer interface {
	SetRelayClients(n int)
	RelayClientDropped()
	RelayRateLimited()
}

type nopObserver struct{}

func (nopObserver) SetRelayClients(int) {}
func (nopObserver) RelayClientDropped()  {}
func (nopObserver) RelayRateLimited()    {}

type publication struct {
	sessionID string
	blob      []byte
}

// Hub fans events out to the clients of each session.
type Hub struct {
	logger   *slog.Logger
	observer Observer
	upgrader websocket.Upgrader

	inboundRate  rate.Limit
	inboundBurst int
	clientBuffer int

	register   chan *Client
	unregister chan *Client
	broadcast  chan publication
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	count    int
}

func NewHub(logger *slog.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Hub{
		logger:       logger,
		observer:     observer,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		inboundRate:  defaultInboundRate,
		inboundBurst: defaultInboundBurst,
		clientBuffer: defaultClientBuffer,
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		broadcast:    make(chan publication, 256),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		sessions:     make(map[string]map[*Client]struct{}),
	}
}

// SetInboundLimit bounds how fast one client may send events. Events over
// the limit are discarded.
func (h *Hub) SetInboundLimit(r rate.Limit, burst int) {
	h.inboundRate, h.inboundBurst = r, burst
}

// SetClientBuffer sets how many events may queue for one client before it
// is considered too slow.
func (h *Hub) SetClientBuffer(n int) {
	if n > 0 {
		h.clientBuffer = n
	}
}

// SetCheckOrigin replaces the same-origin check applied to upgrades.
func (h *Hub) SetCheckOrigin(fn func(*http.Request) bool) {
	h.upgrader.CheckOrigin = fn
}

// Run processes registrations and publications until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for _, clients := range h.sessions {
				for c := range clients {
					close(c.send)
				}
			}
			h.sessions = make(map[string]map[*Client]struct{})
			h.count = 0
			h.mu.Unlock()
			h.observer.SetRelayClients(0)
			return
		case c := <-h.register:
			h.mu.Lock()
			clients, ok := h.sessions[c.sessionID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.sessions[c.sessionID] = clients
			}
			clients[c] = struct{}{}
			h.count++
			n := h.count
			h.mu.Unlock()
			h.observer.SetRelayClients(n)
			h.logger.Debug("relay client registered", "session_id", c.sessionID, "clients", n)
		case c := <-h.unregister:
			h.remove(c)
		case p := <-h.broadcast:
			h.deliver(p)
		}
	}
}

// Stop shuts the hub down and closes every client's queue.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	clients, ok := h.sessions[c.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.sessionID)
	}
	close(c.send)
	h.count--
	n := h.count
	h.mu.Unlock()
	h.observer.SetRelayClients(n)
}

func (h *Hub) deliver(p publication) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.sessions[p.sessionID] {
		select {
		case c.send <- p.blob:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.logger.Warn("relay client too slow; disconnecting", "session_id", c.sessionID)
		h.observer.RelayClientDropped()
		h.remove(c)
	}
}

// Publish queues ev for every client of sessionID. It never blocks on a
// client; when the hub itself is saturated the event is dropped.
func (h *Hub) Publish(sessionID string, ev Outbound) bool {
	blob, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("relay event encode failed", "session_id", sessionID, "type", ev.Type, "error", err)
		return false
	}
	select {
	case <-h.stop:
		return false
	default:
	}
	select {
	case h.broadcast <- publication{sessionID: sessionID, blob: blob}:
		return true
	default:
		h.logger.Warn("relay hub saturated; event dropped", "session_id", sessionID, "type", ev.Type)
		return false
	}
}

// ClientCount returns the number of connected clients across sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// SessionClients returns the number of clients attached to sessionID.
func (h *Hub) SessionClients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) add(c *Client) bool {
	select {
	case <-h.stop:
		return false
	case h.register <- c:
		return true
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case <-h.stop:
	case h.unregister <- c:
	}
}
