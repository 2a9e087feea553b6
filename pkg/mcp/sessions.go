package mcp

import "sync"

// SessionRegistry maps flowlab session IDs (interactive executions and
// flowchart IDs being edited) to the MCP client session that started them.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // flowlab session ID → MCP session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a flowlab session with an MCP client session. A later
// registration from another client takes the session over.
func (r *SessionRegistry) Register(sessionID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = clientID
}

// ClientFor returns the MCP client session following sessionID, if any.
func (r *SessionRegistry) ClientFor(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.sessions[sessionID]
	return cid, ok
}

// Remove deletes every mapping that points at clientID.
// Called when a client disconnects.
func (r *SessionRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, cid := range r.sessions {
		if cid == clientID {
			delete(r.sessions, sid)
		}
	}
}

// Len returns the number of followed sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
