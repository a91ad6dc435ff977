// Package websocket serves map clients. Each connection gets its own session:
// a map view controller wired to a feed subscription and to the client's own
// position reports relayed over the socket.
package websocket

import (
	"sync"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"map-engine/docstore"
	"map-engine/mapview"
	"map-engine/position"
)

// Config carries the per-session wiring handed to every new connection.
type Config struct {
	Store      docstore.Store
	Collection string
	View       mapview.Options
	Watch      position.WatchOptions
}

// Hub tracks connected sessions.
type Hub struct {
	cfg Config

	// Registered sessions
	sessions map[*Session]bool

	// Register requests from sessions
	Register chan *Session

	// Unregister requests from sessions
	Unregister chan *Session

	// Mutex for thread-safe operations
	mutex sync.RWMutex
}

// NewHub creates a new session hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:        cfg,
		sessions:   make(map[*Session]bool),
		Register:   make(chan *Session),
		Unregister: make(chan *Session),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.Register:
			h.mutex.Lock()
			h.sessions[s] = true
			total := len(h.sessions)
			h.mutex.Unlock()
			log.Infof("session connected, total sessions: %d", total)

		case s := <-h.Unregister:
			h.mutex.Lock()
			delete(h.sessions, s)
			total := len(h.sessions)
			h.mutex.Unlock()
			log.Infof("session disconnected, total sessions: %d", total)
		}
	}
}

// ServeSession wires a freshly upgraded connection into a session and starts
// its pumps. On wiring failure the connection is closed immediately.
func (h *Hub) ServeSession(conn *websocket.Conn) {
	s, err := newSession(h, conn)
	if err != nil {
		log.Errorf("failed to start session: %v", err)
		conn.Close()
		return
	}

	h.Register <- s
	go s.writePump()
	go s.readPump()
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// CloseAll disconnects every session. Callers stop accepting new connections
// first; the hub keeps running so stragglers can still unregister.
func (h *Hub) CloseAll() {
	h.mutex.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.RUnlock()

	for _, s := range sessions {
		s.close()
	}
}
