package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tuchoir/lightshow/lightshow/service"
)

// Inbound events.
const (
	EventGetSessionList     = "getSessionList"
	EventGetSessionState    = "getSessionState"
	EventCreateSession      = "createSession"
	EventCloseSession       = "closeSession"
	EventJoinSession        = "joinSession"
	EventUpdateSessionState = "updateSessionState"
)

// Server pushes.
const (
	EventSessionStateUpdated = "sessionStateUpdated"
	EventSessionListUpdated  = "sessionListUpdated"
	EventSessionClosed       = "sessionClosed"
	EventError               = "error"
	EventAck                 = "ack"
)

// Error codes carried in ErrorBody.Code.
const (
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeInvalidInput = "invalid_input"
	CodeInternal     = "internal"
)

// ErrMalformed is returned by Decode for frames that are not a request.
var ErrMalformed = errors.New("malformed message")

// Request is a client to server frame.
type Request struct {
	Event       string         `json:"event"`
	Ack         *int64         `json:"ack,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	SessionName string         `json:"sessionName,omitempty"`
	State       *service.State `json:"state,omitempty"`
}

// WantsAck reports whether the request carries an ack id.
func (r *Request) WantsAck() bool {
	return r.Ack != nil
}

// Message is a server to client frame.
type Message struct {
	Event     string            `json:"event"`
	Ack       *int64            `json:"ack,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	State     *service.State    `json:"state,omitempty"`
	Sessions  []service.Summary `json:"sessions,omitempty"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Error     *ErrorBody        `json:"error,omitempty"`
}

// MarshalJSON always encodes the session list of a sessionListUpdated push,
// so an empty directory is sent as [] rather than omitted.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Event != EventSessionListUpdated {
		return json.Marshal(alias(m))
	}
	sessions := m.Sessions
	if sessions == nil {
		sessions = []service.Summary{}
	}
	return json.Marshal(struct {
		alias
		Sessions []service.Summary `json:"sessions"`
	}{alias: alias(m), Sessions: sessions})
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

func (e *ErrorBody) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Event, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is lets errors.Is match a decoded ErrorBody against the service sentinels.
func (e *ErrorBody) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == service.ErrSessionNotFound
	case CodeUnauthorized:
		return target == service.ErrUnauthorized
	case CodeInvalidInput:
		return target == service.ErrInvalidInput
	}
	return false
}

// CreatedSession is the ack payload of createSession.
type CreatedSession struct {
	SessionID string        `json:"sessionId"`
	State     service.State `json:"state"`
}

// ClosedResult is the ack payload of closeSession.
type ClosedResult struct {
	Closed bool `json:"closed"`
}

// Decode parses a single inbound frame.
func Decode(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return &req, nil
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, ErrMalformed):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

// NewErrorBody builds the error description for a failed event. Internal
// errors are reported with a generic message.
func NewErrorBody(event string, err error) *ErrorBody {
	code := CodeFor(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = "internal server error"
	}
	return &ErrorBody{Code: code, Message: msg, Event: event}
}

// NewAck builds a successful acknowledgement.
func NewAck(ack int64, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal ack data: %w", err)
	}
	return &Message{Event: EventAck, Ack: &ack, Data: raw}, nil
}

// NewAckError builds a failed acknowledgement.
func NewAckError(ack int64, event string, err error) *Message {
	return &Message{Event: EventAck, Ack: &ack, Error: NewErrorBody(event, err)}
}

// NewError builds an "error" push for a request without an ack id.
func NewError(event string, err error) *Message {
	return &Message{Event: EventError, Error: NewErrorBody(event, err)}
}

// NewStateUpdated builds a sessionStateUpdated push.
func NewStateUpdated(sessionID string, state service.State) *Message {
	return &Message{Event: EventSessionStateUpdated, SessionID: sessionID, State: &state}
}

// NewListUpdated builds a sessionListUpdated push.
func NewListUpdated(sessions []service.Summary) *Message {
	return &Message{Event: EventSessionListUpdated, Sessions: sessions}
}

// NewSessionClosed builds a sessionClosed push.
func NewSessionClosed(sessionID string) *Message {
	return &Message{Event: EventSessionClosed, SessionID: sessionID}
}
