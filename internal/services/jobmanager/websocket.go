package jobmanager

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/revisor/internal/common"
	"github.com/bobmcallan/revisor/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ScanWSHub manages WebSocket clients and broadcasts scan events.
type ScanWSHub struct {
	clients    map[*ScanWSClient]bool
	broadcast  chan models.ScanEvent
	register   chan *ScanWSClient
	unregister chan *ScanWSClient
	done       chan struct{}
	running    bool
	mu         sync.RWMutex
	logger     *common.Logger
}

// ScanWSClient represents a connected WebSocket client.
type ScanWSClient struct {
	hub  *ScanWSHub
	conn *websocket.Conn
	send chan []byte
}

// NewScanWSHub creates a new WebSocket hub. Events are dropped until Start.
func NewScanWSHub(logger *common.Logger) *ScanWSHub {
	return &ScanWSHub{
		clients:    make(map[*ScanWSClient]bool),
		broadcast:  make(chan models.ScanEvent, 256),
		register:   make(chan *ScanWSClient),
		unregister: make(chan *ScanWSClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start arms the hub for a following Run.
func (h *ScanWSHub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.done = make(chan struct{})
	h.running = true
}

// Run is the hub's event loop. Should be called as a goroutine after Start.
func (h *ScanWSHub) Run() {
	h.mu.RLock()
	done := h.done
	h.mu.RUnlock()

	for {
		select {
		case <-done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("Failed to marshal scan event")
				continue
			}

			h.mu.RLock()
			var slow []*ScanWSClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			}
		}
	}
}

// Stop signals the event loop to exit and disconnects every client.
func (h *ScanWSHub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.done)
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues an event for every connected client. It never blocks.
func (h *ScanWSHub) Broadcast(event models.ScanEvent) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Str("type", event.Type).Msg("WebSocket broadcast channel full, dropping event")
	}
}

// ServeWS upgrades an HTTP connection to WebSocket and registers the client.
func (h *ScanWSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	running, done := h.running, h.done
	h.mu.RUnlock()
	if !running {
		http.Error(w, "scan events unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &ScanWSClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- client:
	case <-done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(done)
}

// ClientCount returns the number of connected clients.
func (h *ScanWSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends messages from the send channel to the WebSocket connection.
func (c *ScanWSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads from the connection until it closes, then unregisters.
func (c *ScanWSClient) readPump(done <-chan struct{}) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
