package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// statusPushInterval is the cadence of status documents on the
	// websocket stream.
	statusPushInterval = 5 * time.Second
	// wsWriteWait bounds a single websocket write.
	wsWriteWait = 10 * time.Second
)

// Origin checks are the CORS layer's concern; the upgrader accepts all.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStatusStream upgrades the connection and pushes the status
// document immediately, then every five seconds until the client
// disconnects.
func (s *Server) handleStatusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.Debug().Str("client_ip", c.ClientIP()).Msg("Status stream connected")

	// Drain client frames so close and ping/pong handling keep working;
	// the first read error signals disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		doc := s.statusDocument(c.Request.Context())

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(doc); err != nil {
			s.logger.Debug().Err(err).Msg("Status stream write failed, closing")
			return
		}

		select {
		case <-done:
			s.logger.Debug().Str("client_ip", c.ClientIP()).Msg("Status stream disconnected")
			return
		case <-ticker.C:
		}
	}
}
