package service

import (
	"context"
	"time"
)

// SessionService defines all lightshow session operations
type SessionService interface {
	// Session lifecycle
	CreateSession(ctx context.Context, name, hostConnectionID string) (*SessionInfo, error)
	CloseSession(ctx context.Context, sessionID, requesterConnectionID string) (bool, error)
	RemoveSessionsHostedBy(ctx context.Context, connectionID string) ([]string, error)

	// Queries
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	GetSessionState(ctx context.Context, sessionID string) (State, error)
	ListSessions(ctx context.Context) ([]Summary, error)
	ListSessionInfos(ctx context.Context) ([]*SessionInfo, error)
	CountSessions(ctx context.Context) int

	// Host operations
	UpdateSessionState(ctx context.Context, sessionID, requesterConnectionID string, state State) error
}

// Registry defines session storage operations
type Registry interface {
	Create(name, hostConnectionID string) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Close(id, requesterConnectionID string) (bool, error)
	UpdateState(id, requesterConnectionID string, state State) error
	RemoveHostedBy(connectionID string) []string
	Count() int
}

// Session represents one lightshow broadcast group
type Session struct {
	ID               string
	Name             string
	HostConnectionID string
	State            State
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Clone returns a copy that callers may keep without sharing registry memory.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// IsHost reports whether connectionID owns the session.
func (s *Session) IsHost(connectionID string) bool {
	return connectionID != "" && s.HostConnectionID == connectionID
}
