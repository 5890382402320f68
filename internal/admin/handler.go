package admin

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/chainworker/chainworker/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS upgrades the request to a WebSocket connection and registers a
// client with the hub.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("admin: websocket upgrade failed")
		return
	}

	c := newClient(s.hub, conn)
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}
