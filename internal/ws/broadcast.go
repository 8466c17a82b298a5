package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

// writePump drains the client's send channel onto the wire. A write
// error means the observer is gone: the pump removes it from the hub
// and exits.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.RemoveClient(c)
			return
		}
	}
}

// Hub fans each accepted batch out to every connected observer,
// best-effort and decoupled from the ingestion path.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	buffer  int
}

func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		clients: make(map[*client]bool),
		buffer:  sendBuffer,
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		hub:  h,
		send: make(chan []byte, h.buffer),
	}
	go c.writePump()

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	log.Info().Int("clients", n).Msg("observer connected")
	return c
}

// RemoveClient is idempotent: the send channel is closed only on the
// first removal.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		log.Info().Int("clients", n).Msg("observer disconnected")
	}
}

// Broadcast serializes batch once and pushes it to every observer. A
// full send channel means the observer cannot keep up: it is dropped so
// neither the rest of the set nor the ingestion caller is affected.
//
// Sends happen under the read lock while RemoveClient closes channels
// under the write lock, so a send can never race a close. The sends are
// non-blocking, so holding the lock across them cannot stall ingestion.
func (h *Hub) Broadcast(batch []int32) {
	data, err := json.Marshal(batch)
	if err != nil {
		log.Error().Err(err).Msg("broadcast marshal error")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Msg("observer too slow, disconnecting")
		h.RemoveClient(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
