package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chanpod/agent-sessions-sub001/internal/review"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024 * 16,
	WriteBufferSize: 1024 * 64,
	CheckOrigin: func(r *http.Request) bool {
		return true // local-only server; restrict if ever exposed
	},
}

// wsEnvelope is the message sent to websocket clients for every pipeline
// event.
type wsEnvelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Hub fans pipeline events out to all connected websocket clients. It
// implements review.Publisher. Delivery is fire-and-forget: a slow or gone
// client is dropped, never waited on.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte)}
}

// Publish implements review.Publisher.
func (h *Hub) Publish(ev review.Event) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Printf("marshaling event payload: %v", err)
		return
	}
	msg, err := json.Marshal(wsEnvelope{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Data:      data,
	})
	if err != nil {
		log.Printf("marshaling event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Client can't keep up; drop it.
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	go h.writeLoop(conn, ch)

	// Read loop: the client sends nothing meaningful, but reading detects
	// disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read: %v", err)
			}
			break
		}
	}

	h.mu.Lock()
	if existing, ok := h.clients[conn]; ok && existing == ch {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan []byte) {
	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("websocket write: %v", err)
			conn.Close()
			return
		}
	}
}
