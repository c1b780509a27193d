// Package client is a Go client for the lightshow websocket protocol.
//
// Requests that expect an answer (ListSessions, GetSessionState,
// CreateSession) carry an ack id and wait for the matching ack. The other
// requests are sent without one; their failures and every server push
// arrive on Events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
)

// ErrClosed is returned by requests on a closed client.
var ErrClosed = errors.New("client closed")

const defaultWriteWait = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithEventBuffer sets how many pushes are buffered before new ones are
// discarded.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client is a connection to a lightshow server. It is safe for concurrent use.
type Client struct {
	conn        *websocket.Conn
	dialer      *websocket.Dialer
	eventBuffer int

	writeMu sync.Mutex
	nextAck atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *protocol.Message
	err     error

	events    chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the websocket endpoint at url, e.g. ws://host:3000/ws.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:      websocket.DefaultDialer,
		eventBuffer: 64,
		pending:     make(map[int64]chan *protocol.Message),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan *protocol.Message, c.eventBuffer)

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// Events delivers server pushes: session list and state updates, closed
// sessions and errors of requests sent without an ack. The channel is
// closed when the connection ends.
func (c *Client) Events() <-chan *protocol.Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// ListSessions returns the active sessions in creation order.
func (c *Client) ListSessions(ctx context.Context) ([]service.Summary, error) {
	var list []service.Summary
	if err := c.call(ctx, protocol.Request{Event: protocol.EventGetSessionList}, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSessionState returns the state of a session.
func (c *Client) GetSessionState(ctx context.Context, sessionID string) (service.State, error) {
	var state service.State
	err := c.call(ctx, protocol.Request{Event: protocol.EventGetSessionState, SessionID: sessionID}, &state)
	return state, err
}

// CreateSession creates a session hosted by this connection.
func (c *Client) CreateSession(ctx context.Context, name string) (*protocol.CreatedSession, error) {
	var created protocol.CreatedSession
	if err := c.call(ctx, protocol.Request{Event: protocol.EventCreateSession, SessionName: name}, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CloseSession asks the server to close a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.write(ctx, protocol.Request{Event: protocol.EventCloseSession, SessionID: sessionID})
}

// JoinSession subscribes to a session's state updates. The current state
// arrives on Events.
func (c *Client) JoinSession(ctx context.Context, sessionID string) error {
	return c.write(ctx, protocol.Request{Event: protocol.EventJoinSession, SessionID: sessionID})
}

// UpdateSessionState changes the screen color of a session this connection
// hosts.
func (c *Client) UpdateSessionState(ctx context.Context, sessionID string, state service.State) error {
	return c.write(ctx, protocol.Request{Event: protocol.EventUpdateSessionState, SessionID: sessionID, State: &state})
}

// call sends req with a fresh ack id and decodes the ack data into out.
// Error acks are returned as *protocol.ErrorBody, which matches the
// service sentinels with errors.Is.
func (c *Client) call(ctx context.Context, req protocol.Request, out any) error {
	id := c.nextAck.Add(1)
	req.Ack = &id

	reply := make(chan *protocol.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, req); err != nil {
		return err
	}

	select {
	case msg := <-reply:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil || len(msg.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Data, out); err != nil {
			return fmt.Errorf("decode %s ack: %w", req.Event, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, req protocol.Request) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		if msg.Event == protocol.EventAck && msg.Ack != nil {
			c.mu.Lock()
			reply, ok := c.pending[*msg.Ack]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- &msg:
				default:
				}
			}
			continue
		}

		select {
		case c.events <- &msg:
		default:
			l := pkglog.L()
			l.Warn().Str(pkglog.FieldEvent, msg.Event).Msg("event buffer full, dropping push")
		}
	}
}
