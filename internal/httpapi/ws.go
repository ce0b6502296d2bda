package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local tools; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebsocket streams pipeline events to a connected client. The
// subscription drops events for a client that cannot keep up instead of
// blocking the pipeline.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	events, cancel := s.events.Subscribe()
	defer cancel()
	defer conn.Close()

	// Reader goroutine: we ignore client messages, but a read error is the
	// only reliable disconnect signal.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
