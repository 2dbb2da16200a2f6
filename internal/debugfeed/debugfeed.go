// Package debugfeed streams the RTC guidance ring buffer to connected
// operators over a websocket, adapted from the teacher's pkg/api
// WSHub (register/unregister/broadcast channels guarded by a mutex)
// generalized from session events to rtc.DebugSample entries.
package debugfeed

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lerobot-rtc/policyserver/internal/rtc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Sample is one guidance-ring-buffer entry broadcast to clients.
type Sample struct {
	Time           float64 `json:"t"`
	GuidanceWeight float64 `json:"guidance_weight"`
	CorrectionNorm float64 `json:"correction_norm"`
}

// Hub fans out rtc debug samples to every connected websocket client.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan Sample
}

// NewHub creates a Hub; call Run in its own goroutine before serving
// HandleWS.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan Sample, 256),
	}
}

// Run pumps register/unregister/broadcast events until stop closes.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = nil
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case sample := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(sample); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts one debug sample to all connected clients;
// non-blocking, drops the sample if the broadcast channel is full.
func (h *Hub) Publish(s rtc.DebugSample) {
	sample := Sample{Time: s.Time, GuidanceWeight: s.GuidanceWeight, CorrectionNorm: s.CorrectionNorm}
	select {
	case h.broadcast <- sample:
	default:
		h.logger.Warn("debugfeed: broadcast channel full, dropping sample")
	}
}

// HandleWS upgrades an HTTP request to a websocket and registers the
// connection with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("debugfeed: upgrade failed", "error", err)
		return
	}
	clientID := uuid.NewString()
	h.logger.Info("debugfeed: client connected", "client_id", clientID)
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
