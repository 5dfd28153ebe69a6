package hub

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is the duplex channel handed to the registry by the transport
// layer. Send delivers one framed message; a failed send means the
// peer is gone.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// ErrUnknownConnection is returned for sends to unregistered IDs.
var ErrUnknownConnection = errors.New("unknown connection")

// connection ties one duplex channel to a (session, participant)
// identity for its lifetime. Outbound frames go through sendq so one
// slow peer never delays another.
type connection struct {
	id        string
	sessionID string
	conn      Conn
	sendq     chan []byte
	removing  bool

	closeOnce sync.Once
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.sendq)
		c.conn.Close()
	})
}

// Registry maps live connections to their session. Register and
// Unregister are the only mutators; everything else is lookup. The
// registry never touches session state directly — participant removal
// goes through the leave hook.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*connection
	sessions map[string]map[string]*connection

	// onLeave is invoked exactly once per unregistered connection,
	// before the connection object is discarded, so the session roster
	// never outlives the channel.
	onLeave func(sessionID, connID string)

	queueDepth int
	logger     *logrus.Logger
}

// NewRegistry creates a connection registry. queueDepth bounds each
// connection's outbound queue; a full queue is treated as a dead peer.
func NewRegistry(queueDepth int, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Registry{
		conns:      make(map[string]*connection),
		sessions:   make(map[string]map[string]*connection),
		queueDepth: queueDepth,
		logger:     logger,
	}
}

// SetLeaveHook installs the callback run during Unregister. Set once at
// wiring time, before any connection registers.
func (r *Registry) SetLeaveHook(hook func(sessionID, connID string)) {
	r.onLeave = hook
}

// Register binds a connection ID to a session and starts its writer.
func (r *Registry) Register(sessionID, connID string, conn Conn) {
	c := &connection{
		id:        connID,
		sessionID: sessionID,
		conn:      conn,
		sendq:     make(chan []byte, r.queueDepth),
	}

	r.mu.Lock()
	r.conns[connID] = c
	byConn, ok := r.sessions[sessionID]
	if !ok {
		byConn = make(map[string]*connection)
		r.sessions[sessionID] = byConn
	}
	byConn[connID] = c
	r.mu.Unlock()

	go r.writeLoop(c)

	r.logger.WithFields(logrus.Fields{
		"conn_id":    connID,
		"session_id": sessionID,
	}).Debug("Connection registered")
}

// Unregister tears a connection down: the session leave hook runs
// first, then the mapping is dropped, so no half-removed connection
// ever remains addressable for fan-out. Safe to call multiple times
// and from writer goroutines.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok || c.removing {
		r.mu.Unlock()
		return
	}
	c.removing = true
	r.mu.Unlock()

	if r.onLeave != nil {
		r.onLeave(c.sessionID, c.id)
	}

	r.mu.Lock()
	delete(r.conns, connID)
	if byConn, ok := r.sessions[c.sessionID]; ok {
		delete(byConn, connID)
		if len(byConn) == 0 {
			delete(r.sessions, c.sessionID)
		}
	}
	r.mu.Unlock()

	c.shutdown()

	r.logger.WithFields(logrus.Fields{
		"conn_id":    connID,
		"session_id": c.sessionID,
	}).Debug("Connection unregistered")
}

// SessionOf resolves a connection ID to its session.
func (r *Registry) SessionOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.sessionID, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SessionCount returns the number of connections in one session.
func (r *Registry) SessionCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// enqueue appends a frame to one connection's outbound queue. A full
// queue means the peer stopped draining; it is treated as disconnected
// rather than ever blocking the caller.
func (r *Registry) enqueue(c *connection, frame []byte) {
	defer func() {
		// The queue closes concurrently when the connection is torn
		// down; a frame racing that close is simply dropped.
		recover()
	}()

	select {
	case c.sendq <- frame:
	default:
		r.logger.WithFields(logrus.Fields{
			"conn_id":    c.id,
			"session_id": c.sessionID,
		}).Warn("Send queue full, dropping connection")
		go r.Unregister(c.id)
	}
}

// writeLoop drains one connection's queue. The first failed send kills
// the connection; there are no retries, a stale participant is worse
// than a dropped one.
func (r *Registry) writeLoop(c *connection) {
	for frame := range c.sendq {
		if err := c.conn.Send(frame); err != nil {
			r.logger.WithFields(logrus.Fields{
				"conn_id":    c.id,
				"session_id": c.sessionID,
			}).WithError(err).Info("Send failed, dropping connection")
			r.Unregister(c.id)
			// Drain remaining frames so publishers never block.
			for range c.sendq {
			}
			return
		}
	}
}
