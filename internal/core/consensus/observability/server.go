// Package observability exposes the consensus core's event bus over a
// broadcast-only WebSocket stream: every event published to
// consensus.EventBus is JSON-encoded and pushed to connected clients. It is
// strictly a diagnostics feed, not the client query API (no subscribe
// filtering, no RPC methods) — that surface lives outside this core.
package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	sendBuffer   = 256
)

// EventFrame is the wire shape pushed to every connected client: the event's
// type name plus its JSON-encoded payload.
type EventFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Server upgrades HTTP connections to WebSocket and fans out every event it
// receives via OnEvent to all connections currently attached.
type Server struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*connection
	next  uint64
}

type connection struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewServer creates an observability Server. CheckOrigin always allows the
// connection; this endpoint carries no authority, only a read-only event
// feed, so origin restriction is left to whatever reverse proxy fronts it.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
}

// ServeHTTP upgrades the request and registers the resulting connection for
// broadcast. It returns once the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("observability: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.next++
	c := &connection{
		id:   fmt.Sprintf("conn-%d", s.next),
		conn: wsConn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards inbound frames (this stream is push-only) and waits for
// the connection to close, driving pong-deadline resets.
func (s *Server) readLoop(c *connection) {
	defer s.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) remove(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c.id]; ok {
		delete(s.conns, c.id)
		close(c.done)
		c.conn.Close()
	}
}

// OnEvent implements consensus.EventSubscriber: it encodes ev and pushes it
// to every connected client, dropping it for any connection whose send
// buffer is already full rather than blocking the publisher.
func (s *Server) OnEvent(ev consensus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("observability: marshal event: %v", err)
		return
	}
	frame := EventFrame{
		Type:      ev.Type().String(),
		Payload:   payload,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("observability: marshal frame: %v", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		select {
		case c.send <- data:
		default:
			log.Printf("observability: dropping event for slow connection %s", c.id)
		}
	}
}
