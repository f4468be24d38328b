package broker

import "sync"

// Registry maps agent_id -> session and public_port -> agent_id. Both
// indexes are updated atomically on insertion and removal. It does not own
// session resources; the caller's teardown path does. Lookups return false
// rather than failing when the key is absent.
type Registry struct {
	mu     sync.Mutex
	byID   map[string]*Session
	byPort map[int]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byPort: make(map[int]string),
	}
}

// Save registers sess under both indexes.
func (r *Registry) Save(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sess.ID] = sess
	r.byPort[sess.PublicPort] = sess.ID
}

// GetByID looks up a session by agent id.
func (r *Registry) GetByID(agentID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[agentID]
	return sess, ok
}

// GetByPort looks up a session by its leased public port.
func (r *Registry) GetByPort(port int) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agentID, ok := r.byPort[port]
	if !ok {
		return nil, false
	}
	sess, ok := r.byID[agentID]
	return sess, ok
}

// Remove drops sess from both indexes. It is a no-op if the session is
// already absent.
func (r *Registry) Remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byID[agentID]
	if !ok {
		return
	}
	delete(r.byID, agentID)
	delete(r.byPort, sess.PublicPort)
}

// All returns a snapshot of every currently registered session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byID))
	for _, sess := range r.byID {
		out = append(out, sess)
	}
	return out
}
