package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	pkglog "github.com/tuchoir/lightshow/pkg/log"
)

// DefaultMaxNameLength bounds session names when Options leaves it unset.
const DefaultMaxNameLength = 64

// Options tunes input validation.
type Options struct {
	MaxNameLength int
}

// sessionServiceImpl implements the SessionService interface
type sessionServiceImpl struct {
	registry      Registry
	maxNameLength int
}

// NewSessionService creates a new session service instance
func NewSessionService(registry Registry, opts Options) SessionService {
	if opts.MaxNameLength <= 0 {
		opts.MaxNameLength = DefaultMaxNameLength
	}
	return &sessionServiceImpl{
		registry:      registry,
		maxNameLength: opts.MaxNameLength,
	}
}

// CreateSession validates the name and registers a new session hosted by hostConnectionID
func (s *sessionServiceImpl) CreateSession(ctx context.Context, name, hostConnectionID string) (*SessionInfo, error) {
	name, err := s.normalizeName(name)
	if err != nil {
		return nil, err
	}

	sess, err := s.registry.Create(name, hostConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldSessionID, sess.ID).
		Str(pkglog.FieldSessionName, sess.Name).
		Str(pkglog.FieldConnectionID, hostConnectionID).
		Msg("session created")

	return newSessionInfo(sess), nil
}

// CloseSession removes a session. Closing an unknown session is a no-op.
func (s *sessionServiceImpl) CloseSession(ctx context.Context, sessionID, requesterConnectionID string) (bool, error) {
	closed, err := s.registry.Close(sessionID, requesterConnectionID)
	if err != nil {
		return false, fmt.Errorf("close session %s: %w", sessionID, err)
	}

	if closed {
		l := pkglog.Ctx(ctx)
		l.Info().
			Str(pkglog.FieldSessionID, sessionID).
			Str(pkglog.FieldConnectionID, requesterConnectionID).
			Msg("session closed")
	}
	return closed, nil
}

// RemoveSessionsHostedBy drops every session owned by a departed connection
func (s *sessionServiceImpl) RemoveSessionsHostedBy(ctx context.Context, connectionID string) ([]string, error) {
	removed := s.registry.RemoveHostedBy(connectionID)

	l := pkglog.Ctx(ctx)
	for _, id := range removed {
		l.Info().
			Str(pkglog.FieldSessionID, id).
			Str(pkglog.FieldConnectionID, connectionID).
			Msg("session removed because host disconnected")
	}
	return removed, nil
}

// GetSession retrieves session information
func (s *sessionServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return newSessionInfo(sess), nil
}

// GetSessionState returns the current state of a session
func (s *sessionServiceImpl) GetSessionState(ctx context.Context, sessionID string) (State, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return State{}, err
	}
	return sess.State, nil
}

// ListSessions returns the session list in creation order
func (s *sessionServiceImpl) ListSessions(ctx context.Context) ([]Summary, error) {
	sessions := s.registry.List()
	result := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, Summary{
			SessionID:   sess.ID,
			SessionName: sess.Name,
		})
	}
	return result, nil
}

// ListSessionInfos returns detailed views in creation order
func (s *sessionServiceImpl) ListSessionInfos(ctx context.Context) ([]*SessionInfo, error) {
	sessions := s.registry.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, newSessionInfo(sess))
	}
	return result, nil
}

// CountSessions returns the number of active sessions
func (s *sessionServiceImpl) CountSessions(ctx context.Context) int {
	return s.registry.Count()
}

// UpdateSessionState changes the screen color; only the host may do this
func (s *sessionServiceImpl) UpdateSessionState(ctx context.Context, sessionID, requesterConnectionID string, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	if err := s.registry.UpdateState(sessionID, requesterConnectionID, state); err != nil {
		return fmt.Errorf("update session %s: %w", sessionID, err)
	}

	l := pkglog.Ctx(ctx)
	l.Debug().
		Str(pkglog.FieldSessionID, sessionID).
		Str(pkglog.FieldScreenColor, string(state.ScreenColor)).
		Msg("session state changed")
	return nil
}

// normalizeName trims the name and enforces the configured bounds
func (s *sessionServiceImpl) normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: session name is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(name); n > s.maxNameLength {
		return "", fmt.Errorf("%w: session name is %d characters, limit is %d",
			ErrInvalidInput, n, s.maxNameLength)
	}
	return name, nil
}
