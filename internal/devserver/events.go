package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// eventFrame is the wire shape of a synthetic activity event.
type eventFrame struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Type      string `json:"type,omitempty"`
}

// handleEvents upgrades to a websocket and emits scenario events plus
// heartbeats for the requested tenant. The credential arrives as the
// `token` query parameter because the websocket handshake carries no
// custom headers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	claims, err := s.verifyToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token", nil)
		return
	}

	if claims.TenantID != tenantID && !hasRole(claims.Roles, "admin") {
		writeError(w, http.StatusForbidden, "tenant not permitted", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	log := zerolog.Ctx(r.Context())
	log.Debug().Str("tenant", tenantID).Str("subject", claims.Subject).Msg("stream opened")

	go s.writeLoop(conn, tenantID)
	s.readLoop(conn, tenantID)
}

// writeLoop emits scenario events and heartbeats until a write fails.
func (s *Server) writeLoop(conn *websocket.Conn, tenantID string) {
	events := time.NewTicker(s.cfg.EventInterval)
	defer events.Stop()
	pings := time.NewTicker(s.cfg.PingInterval)
	defer pings.Stop()

	i := 0
	for {
		select {
		case <-events.C:
			ev := s.scenario.Events[i%len(s.scenario.Events)]
			i++
			frame := eventFrame{
				ID:        uuid.NewString(),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Message:   ev.Message,
				Detail:    ev.Detail,
			}
			if err := writeFrame(conn, frame); err != nil {
				return
			}

		case <-pings.C:
			if err := writeFrame(conn, eventFrame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// readLoop consumes pong replies; the connection drops once no frame
// arrives within the grace window.
func (s *Server) readLoop(conn *websocket.Conn, tenantID string) {
	defer conn.Close()

	grace := 3 * s.cfg.PingInterval
	for {
		_ = conn.SetReadDeadline(time.Now().Add(grace))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Str("tenant", tenantID).Msg("stream closed")
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "pong" {
			s.logger.Debug().Str("tenant", tenantID).Msg("unexpected client frame")
		}
	}
}

func writeFrame(conn *websocket.Conn, frame eventFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
