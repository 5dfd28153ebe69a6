package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"jamsync/internal/protocol"
	"jamsync/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket to the hub's Conn interface. The
// registry's writer goroutine is the only frame writer, but close
// control messages may race it, so writes stay behind a mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// handleJamSocket serves /ws/jam/{jamID}?username=Name. The connection
// joins the session immediately and receives a full state snapshot;
// everything after that is event-driven.
func (js *JamServer) handleJamSocket(w http.ResponseWriter, r *http.Request) {
	jamID := strings.TrimPrefix(r.URL.Path, "/ws/jam/")
	if jamID == "" || strings.Contains(jamID, "/") {
		http.Error(w, "Invalid jam ID", http.StatusBadRequest)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Guest"
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		js.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	s, err := js.sessions.GetOrCreate(jamID)
	if err != nil {
		// Reaped IDs are never revived; the client must create a new jam.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Jam session not found"))
		conn.Close()
		return
	}
	js.attachSink(s)

	connID := uuid.New().String()
	js.registry.Register(s.ID, connID, &wsConn{conn: conn})

	// Join emits the snapshot to this connection through the session
	// sink, inside the same critical section as the roster update, so
	// no event committed afterwards can overtake it.
	s.Join(connID, username)

	js.logger.WithFields(logrus.Fields{
		"jam_id":   s.ID,
		"conn_id":  connID,
		"username": username,
	}).Info("Participant connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			js.registry.Unregister(connID)
			return
		}
		js.dispatch(s, connID, data)
	}
}

// dispatch applies one inbound frame to the session. Rejected commands
// answer the sender with a targeted error event; the connection stays up.
func (js *JamServer) dispatch(s *session.Session, connID string, data []byte) {
	payload, err := protocol.DecodeFrame(data)
	if err != nil {
		js.sendError(connID, protocol.ReasonMalformed, err)
		return
	}
	msg, err := protocol.ParseClientMessage(payload)
	if err != nil {
		js.sendError(connID, protocol.ReasonMalformed, err)
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		// Re-sync request: answer with a fresh snapshot, delivered
		// through the sink so it stays ordered with the broadcast stream.
		s.Resync(connID)

	case protocol.TypeTransport:
		if err := s.ApplyTransport(connID, msg); err != nil {
			js.sendError(connID, reasonFor(err), err)
		}

	case protocol.TypePlaylist:
		if err := s.ApplyPlaylist(connID, msg); err != nil {
			js.sendError(connID, reasonFor(err), err)
		}

	case protocol.TypeChat:
		if err := s.PostChat(connID, msg.Text); err != nil {
			js.sendError(connID, reasonFor(err), err)
		}
	}
}

// reasonFor maps session errors to wire error reasons.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return protocol.ReasonPermissionDenied
	case errors.Is(err, session.ErrInvalidReference):
		return protocol.ReasonInvalidReference
	default:
		return protocol.ReasonMalformed
	}
}

// sendEvent delivers one event to a single connection.
func (js *JamServer) sendEvent(connID string, event interface{}) {
	frame, err := protocol.EncodeFrame(event)
	if err != nil {
		js.logger.WithError(err).WithField("conn_id", connID).Error("Failed to encode event")
		return
	}
	if err := js.router.Send(connID, frame); err != nil {
		js.logger.WithError(err).WithField("conn_id", connID).Debug("Targeted send failed")
	}
}

func (js *JamServer) sendError(connID, reason string, cause error) {
	js.sendEvent(connID, protocol.NewErrorEvent(reason, cause.Error()))
}
