package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware config;
	// the websocket handshake accepts any origin the browser sends.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// update is the message pushed to websocket clients when a refresh
// cycle publishes a new generation.
type update struct {
	Generation uint64 `json:"generation"`
}

// handleWebsocket streams generation updates. On connect the client
// immediately receives the current generation, then one message per
// published change. The client is not expected to send anything.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.core.Subscribe()
	defer unsubscribe()

	// Reader goroutine: discard client messages, detect disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snapshot, ok := s.core.LatestSnapshot(); ok {
		if err := s.push(conn, snapshot.Generation); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case generation := <-updates:
			if err := s.push(conn, generation); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, generation uint64) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(update{Generation: generation})
}
