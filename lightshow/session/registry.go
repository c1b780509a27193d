package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tuchoir/lightshow/lightshow/service"
)

// Option configures a Registry.
type Option func(*Registry)

// WithHostOnlyClose restricts Close to the session host.
func WithHostOnlyClose(enabled bool) Option {
	return func(r *Registry) {
		r.hostOnlyClose = enabled
	}
}

// WithIDGenerator replaces the session ID generator.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry is the in-memory directory of active sessions.
// Sessions are kept in creation order.
type Registry struct {
	sessions      map[string]*service.Session
	order         []string
	hostOnlyClose bool
	newID         func() (string, error)
	now           func() time.Time
	mu            sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*service.Session),
		newID:    generateSessionID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new session owned by hostConnectionID with the default state
func (r *Registry) Create(name, hostConnectionID string) (*service.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("generated session ID %s already in use", id)
	}

	now := r.now()
	sess := &service.Session{
		ID:               id,
		Name:             name,
		HostConnectionID: hostConnectionID,
		State:            service.DefaultState(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	r.sessions[id] = sess
	r.order = append(r.order, id)

	return sess.Clone(), nil
}

// Get retrieves a copy of a session by ID
func (r *Registry) Get(id string) (*service.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[id]
	if !exists {
		return nil, service.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// List returns copies of all active sessions in creation order
func (r *Registry) List() []*service.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*service.Session, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.sessions[id].Clone())
	}
	return result
}

// Close removes a session. It reports false without error when the session
// does not exist, so repeated closes are harmless.
func (r *Registry) Close(id, requesterConnectionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[id]
	if !exists {
		return false, nil
	}
	if r.hostOnlyClose && !sess.IsHost(requesterConnectionID) {
		return false, service.ErrUnauthorized
	}

	r.remove(id)
	return true, nil
}

// UpdateState replaces the session state when requested by the host
func (r *Registry) UpdateState(id, requesterConnectionID string, state service.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[id]
	if !exists {
		return service.ErrSessionNotFound
	}
	if !sess.IsHost(requesterConnectionID) {
		return service.ErrUnauthorized
	}

	sess.State = state
	sess.UpdatedAt = r.now()
	return nil
}

// RemoveHostedBy deletes every session owned by connectionID and returns
// their IDs in creation order
func (r *Registry) RemoveHostedBy(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for _, id := range r.order {
		if r.sessions[id].IsHost(connectionID) {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		r.remove(id)
	}
	return removed
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// remove deletes id from the map and the order slice. Caller holds mu.
func (r *Registry) remove(id string) {
	delete(r.sessions, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// generateSessionID returns a UUIDv7: a millisecond timestamp followed by random bits
func generateSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
