package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mnemohq/mnemo/pkg/memory"
)

// EventHub fans service events out to websocket subscribers. It implements
// memory.Notifier; a slow or dead subscriber is dropped rather than allowed
// to block the write path.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan memory.Event
	logger  zerolog.Logger

	upgrader websocket.Upgrader
}

// NewEventHub builds the hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan memory.Event),
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Notify broadcasts an event to every subscriber. Non-blocking.
func (h *EventHub) Notify(event memory.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.logger.Warn().Str("remote", conn.RemoteAddr().String()).
				Msg("Subscriber too slow, dropping event")
		}
	}
}

// HandleWS upgrades the connection and streams events until the client
// disconnects.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	ch := make(chan memory.Event, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Subscriber connected")

	// Reader goroutine detects disconnects; inbound frames are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Subscriber disconnected")
	}()

	for {
		select {
		case event := <-ch:
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Close disconnects all subscribers.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
