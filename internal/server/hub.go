package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes session snapshots to connected browsers. Writers go through
// the broadcast channel so a slow client never blocks a state mutation.
type Hub struct {
	log       zerolog.Logger
	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
	broadcast chan any
	initial   func() any
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewHub(initial func() any, log zerolog.Logger) *Hub {
	h := &Hub{
		log:       log,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, 256),
		initial:   initial,
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Hub) Close() {
	close(h.done)
	h.wg.Wait()
	h.clientsMu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientsMu.Unlock()
}

// Broadcast queues a message for every connected client; dropped when the
// queue is full rather than blocking the caller.
func (h *Hub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Msg("broadcast queue full, update dropped")
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.broadcast:
			h.clientsMu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.clientsMu.Unlock()
		}
	}
}

// Handler upgrades the connection, sends the current state as an init
// message, and keeps the socket registered until the peer goes away.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.clientsMu.Unlock()

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		conn.Close()
	}()

	conn.WriteJSON(map[string]any{"type": "init", "data": h.initial()})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
