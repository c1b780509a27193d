package service

import (
	"fmt"
	"time"
)

// ScreenColor is the color every member screen displays.
type ScreenColor string

const (
	ScreenBlack ScreenColor = "black"
	ScreenWhite ScreenColor = "white"
)

// Valid reports whether c is one of the supported colors.
func (c ScreenColor) Valid() bool {
	return c == ScreenBlack || c == ScreenWhite
}

// State is the shared state of a session
type State struct {
	ScreenColor ScreenColor `json:"screenColor"`
}

// DefaultState is the state of a freshly created session.
func DefaultState() State {
	return State{ScreenColor: ScreenBlack}
}

// Validate returns ErrInvalidInput for unknown colors.
func (s State) Validate() error {
	if !s.ScreenColor.Valid() {
		return fmt.Errorf("%w: screen color %q must be %q or %q",
			ErrInvalidInput, s.ScreenColor, ScreenBlack, ScreenWhite)
	}
	return nil
}

// Summary is the list entry shown to clients picking a session to join
type Summary struct {
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
}

// SessionInfo provides information about a session for read-only views.
// The host connection is deliberately not exposed.
type SessionInfo struct {
	SessionID   string    `json:"sessionId"`
	SessionName string    `json:"sessionName"`
	State       State     `json:"state"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newSessionInfo(s *Session) *SessionInfo {
	return &SessionInfo{
		SessionID:   s.ID,
		SessionName: s.Name,
		State:       s.State,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
