package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// broadcastEvents is every event type pushed to connected clients
var broadcastEvents = []interfaces.EventType{
	interfaces.EventJobCreated,
	interfaces.EventJobStarted,
	interfaces.EventJobCompleted,
	interfaces.EventJobRetry,
	interfaces.EventJobFailed,
	interfaces.EventJobCancelled,
	interfaces.EventObjectProgress,
}

// wsMessage is the wire format pushed to clients
type wsMessage struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// WebSocketHandler pushes queue and object events to connected browsers
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService
	writeTimeout time.Duration

	mu          sync.RWMutex
	clients     map[*websocket.Conn]*sync.Mutex
	throttler   *rate.Limiter
	subTokens   map[interfaces.EventType]string
}

func NewWebSocketHandler(eventService interfaces.EventService, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:       common.GetLogger(),
		eventService: eventService,
		writeTimeout: 5 * time.Second,
		clients:      make(map[*websocket.Conn]*sync.Mutex),
		subTokens:    make(map[interfaces.EventType]string),
	}

	if config != nil {
		if d, err := time.ParseDuration(config.WriteTimeout); err == nil && d > 0 {
			h.writeTimeout = d
		}
		if config.RatePerSecond > 0 {
			burst := config.Burst
			if burst <= 0 {
				burst = config.RatePerSecond
			}
			h.throttler = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
		}
	}

	return h
}

// Start subscribes to every broadcast event type
func (h *WebSocketHandler) Start() {
	for _, eventType := range broadcastEvents {
		et := eventType
		h.subTokens[et] = h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(event)
			return nil
		})
	}
	h.logger.Debug().Int("event_types", len(broadcastEvents)).Msg("WebSocket event subscriptions registered")
}

// Stop unsubscribes and disconnects all clients
func (h *WebSocketHandler) Stop() {
	for eventType, token := range h.subTokens {
		h.eventService.Unsubscribe(eventType, token)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
}

// HandleWebSocket upgrades the connection and registers the client
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	// Read loop exists only to observe the close
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")
}

// broadcast pushes one event to every connected client. When the rate
// limit is exceeded the event is dropped; clients reconcile via the REST
// endpoints.
func (h *WebSocketHandler) broadcast(event interfaces.Event) {
	if h.throttler != nil && !h.throttler.Allow() {
		return
	}

	msg := wsMessage{
		Type:      string(event.Type),
		Payload:   event.Payload,
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, mu := range h.clients {
		conns[conn] = mu
	}
	h.mu.RUnlock()

	for conn, mu := range conns {
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := conn.WriteJSON(msg)
		mu.Unlock()
		if err != nil {
			h.removeClient(conn)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
