// Package ws groups the relay's live sockets by room and fans frames out to
// every socket in a room.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

type Client struct {
	User string
	Room string
	Send chan []byte
	Conn *websocket.Conn
}

func NewClient(user, room string, conn *websocket.Conn) *Client {
	return &Client{User: user, Room: room, Send: make(chan []byte, sendBuffer), Conn: conn}
}

type BroadcastMessage struct {
	Room string
	Data []byte
}

type Hub struct {
	clients    map[string]map[*Client]bool // room -> clients
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage, sendBuffer),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Register adds c to its room. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues data for every socket in room.
func (h *Hub) Broadcast(room string, data []byte) {
	select {
	case h.broadcast <- BroadcastMessage{Room: room, Data: data}:
	case <-h.done:
	}
}

// Count is the number of sockets in room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[room])
}

// Run owns the room table until ctx is cancelled, then closes every socket's
// send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for room, clients := range h.clients {
				for c := range clients {
					close(c.Send)
				}
				delete(h.clients, room)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.Room] == nil {
				h.clients[c.Room] = make(map[*Client]bool)
			}
			h.clients[c.Room][c] = true
			h.mu.Unlock()
			h.log.Debug().Str("room", c.Room).Str("user", c.User).Msg("[WS] joined")
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[msg.Room] {
				select {
				case c.Send <- msg.Data:
				default:
					h.log.Warn().Str("room", msg.Room).Str("user", c.User).Msg("[WS] slow consumer dropped")
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *Client) {
	clients, ok := h.clients[c.Room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.Send)
	if len(clients) == 0 {
		delete(h.clients, c.Room)
	}
	h.log.Debug().Str("room", c.Room).Str("user", c.User).Msg("[WS] left")
}

// ReadPump hands every inbound message to handle until the socket fails,
// then unregisters the client. Call it on its own goroutine.
func (h *Hub) ReadPump(c *Client, handle func(data []byte)) {
	defer func() {
		h.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Str("room", c.Room).Msg("[WS] read")
			}
			return
		}
		handle(data)
	}
}

// WritePump drains the client's send queue to the socket and keeps it alive
// with pings. Call it on its own goroutine.
func (h *Hub) WritePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
