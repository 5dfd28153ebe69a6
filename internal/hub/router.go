package hub

// Router fans session events out to every registered connection of
// that session. Delivery to each connection is independent: frames are
// enqueued onto per-connection queues and written by per-connection
// goroutines, so a slow or dead recipient never delays the rest.
type Router struct {
	reg *Registry
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *Registry) *Router {
	return &Router{reg: reg}
}

// Publish enqueues frame for every connection of sessionID except
// exclude (empty string excludes nobody). Calls for the same session
// must be serialized by the caller — the session's own mutex already
// does this — which makes enqueue order, and therefore delivery order,
// match commit order within a session.
func (rt *Router) Publish(sessionID string, frame []byte, exclude string) {
	rt.reg.mu.RLock()
	targets := make([]*connection, 0, len(rt.reg.sessions[sessionID]))
	for id, c := range rt.reg.sessions[sessionID] {
		if id == exclude {
			continue
		}
		targets = append(targets, c)
	}
	rt.reg.mu.RUnlock()

	for _, c := range targets {
		rt.reg.enqueue(c, frame)
	}
}

// Send delivers a frame to a single connection, in order with any
// broadcasts already queued for it. Used for targeted messages:
// snapshots and error responses.
func (rt *Router) Send(connID string, frame []byte) error {
	rt.reg.mu.RLock()
	c, ok := rt.reg.conns[connID]
	rt.reg.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	rt.reg.enqueue(c, frame)
	return nil
}
