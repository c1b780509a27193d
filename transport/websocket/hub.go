package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	"github.com/tuchoir/lightshow/metrics"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrHubClosed is returned by queries issued after Run has returned.
var ErrHubClosed = errors.New("hub is closed")

// Options tunes connection handling.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Send pings to peer with this period. Must be less than PongWait.
	PingInterval time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Frames buffered per connection before it is dropped as too slow.
	SendBuffer int

	Metrics *metrics.Metrics
}

// DefaultOptions returns the standard keepalive timings.
func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

type inboundMessage struct {
	client *Client
	req    *protocol.Request
	err    error
}

// Hub owns the live connections and the session rooms. Everything it owns
// is touched only by the Run goroutine; other goroutines talk to it through
// channels.
type Hub struct {
	service  service.SessionService
	opts     Options
	upgrader websocket.Upgrader
	tracer   trace.Tracer
	logger   zerolog.Logger

	// Connected clients by connection ID
	clients map[string]*Client

	// Room members by session ID
	rooms map[string]map[*Client]struct{}

	// Clients whose send buffer overflowed, disconnected after the
	// current event
	dropped []*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	queries    chan func()
	done       chan struct{}
}

// NewHub creates a hub dispatching events to svc.
func NewHub(svc service.SessionService, opts Options) *Hub {
	def := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = (opts.PongWait * 9) / 10
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}

	return &Hub{
		service: svc,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Members connect from native apps on the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tracer:     otel.Tracer("github.com/tuchoir/lightshow/transport/websocket"),
		logger:     pkglog.L().With().Str("component", "hub").Logger(),
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundMessage),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns when ctx is cancelled, after
// closing every connection.
func (h *Hub) Run(ctx context.Context) {
	ctx = pkglog.WithLogger(ctx, h.logger)
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(ctx, client)

		case client := <-h.unregister:
			h.unregisterClient(ctx, client)

		case msg := <-h.inbound:
			h.handleInbound(ctx, msg)

		case query := <-h.queries:
			query()
		}

		h.flushDropped(ctx)
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := pkglog.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.New().String()
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		id:     id,
		rooms:  make(map[string]struct{}),
		logger: h.logger.With().Str(pkglog.FieldConnectionID, id).Logger(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount(ctx context.Context) (int, error) {
	var n int
	err := h.query(ctx, func() {
		n = len(h.clients)
	})
	return n, err
}

// RoomSizes returns the number of connections joined to each session room.
func (h *Hub) RoomSizes(ctx context.Context) (map[string]int, error) {
	sizes := make(map[string]int)
	err := h.query(ctx, func() {
		for id, members := range h.rooms {
			sizes[id] = len(members)
		}
	})
	return sizes, err
}

// query runs f on the hub goroutine and waits for it to finish.
func (h *Hub) query(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		f()
		close(finished)
	}

	select {
	case h.queries <- wrapped:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerClient tracks a new connection and sends it the session list
func (h *Hub) registerClient(ctx context.Context, client *Client) {
	h.clients[client.id] = client
	h.opts.Metrics.ConnectionOpened()

	client.logger.Info().
		Int("connections", len(h.clients)).
		Msg("client connected")

	list, err := h.service.ListSessions(ctx)
	if err != nil {
		client.logger.Error().Err(err).Msg("failed to list sessions for new client")
		return
	}
	h.sendMessage(client, protocol.NewListUpdated(list))
}

// unregisterClient handles a connection that went away on its own
func (h *Hub) unregisterClient(ctx context.Context, client *Client) {
	if h.clients[client.id] != client {
		return
	}
	h.disconnect(ctx, client, "client disconnected")
}

// disconnect removes the client and every session it hosts. Members of
// those sessions get sessionClosed, everyone gets the new list once.
func (h *Hub) disconnect(ctx context.Context, client *Client, reason string) {
	delete(h.clients, client.id)
	for sessionID := range client.rooms {
		h.leaveRoom(client, sessionID)
	}
	client.closed = true
	close(client.send)
	h.opts.Metrics.ConnectionClosed()

	client.logger.Info().
		Int("connections", len(h.clients)).
		Msg(reason)

	ctx = pkglog.WithLogger(ctx, client.logger)
	removed, err := h.service.RemoveSessionsHostedBy(ctx, client.id)
	if err != nil {
		client.logger.Error().Err(err).Msg("failed to remove hosted sessions")
		return
	}
	if len(removed) == 0 {
		return
	}

	for _, sessionID := range removed {
		h.closeRoom(sessionID)
	}
	h.broadcastList(ctx)
}

// shutdown closes every connection when the hub stops
func (h *Hub) shutdown() {
	for id, client := range h.clients {
		client.closed = true
		close(client.send)
		delete(h.clients, id)
		h.opts.Metrics.ConnectionClosed()
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.dropped = nil
	h.logger.Info().Msg("hub stopped")
}

// flushDropped disconnects clients whose buffers overflowed. Disconnecting
// one may broadcast and overflow another, so loop until none remain.
func (h *Hub) flushDropped(ctx context.Context) {
	for len(h.dropped) > 0 {
		client := h.dropped[0]
		h.dropped = h.dropped[1:]
		if h.clients[client.id] != client {
			continue
		}
		h.opts.Metrics.ConnectionDropped()
		h.disconnect(ctx, client, "client dropped: send buffer full")
	}
}

func (h *Hub) joinRoom(client *Client, sessionID string) {
	members, ok := h.rooms[sessionID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[sessionID] = members
	}
	members[client] = struct{}{}
	client.rooms[sessionID] = struct{}{}
}

func (h *Hub) leaveRoom(client *Client, sessionID string) {
	delete(client.rooms, sessionID)
	if members, ok := h.rooms[sessionID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// closeRoom tells every member the session is gone and drops the room
func (h *Hub) closeRoom(sessionID string) {
	h.broadcastToRoom(sessionID, protocol.NewSessionClosed(sessionID))
	for member := range h.rooms[sessionID] {
		delete(member.rooms, sessionID)
	}
	delete(h.rooms, sessionID)
}

// broadcastList sends the current session list to every connection
func (h *Hub) broadcastList(ctx context.Context) {
	list, err := h.service.ListSessions(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sessions for broadcast")
		return
	}
	h.opts.Metrics.SetSessions(len(list))

	data, ok := h.encode(protocol.NewListUpdated(list))
	if !ok {
		return
	}
	n := 0
	for _, client := range h.clients {
		if h.enqueue(client, data) {
			n++
		}
	}
	h.opts.Metrics.Pushed(protocol.EventSessionListUpdated, n)
}

// broadcastToRoom sends msg to every member of a session room
func (h *Hub) broadcastToRoom(sessionID string, msg *protocol.Message) {
	members := h.rooms[sessionID]
	if len(members) == 0 {
		return
	}
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	n := 0
	for member := range members {
		if h.enqueue(member, data) {
			n++
		}
	}
	h.opts.Metrics.Pushed(msg.Event, n)
}

// sendMessage sends msg to a single connection
func (h *Hub) sendMessage(client *Client, msg *protocol.Message) {
	data, ok := h.encode(msg)
	if !ok {
		return
	}
	if h.enqueue(client, data) {
		h.opts.Metrics.Pushed(msg.Event, 1)
	}
}

func (h *Hub) encode(msg *protocol.Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str(pkglog.FieldEvent, msg.Event).Msg("failed to marshal message")
		return nil, false
	}
	return data, true
}

// enqueue never blocks. A client whose buffer is full is scheduled for
// disconnection and receives nothing further.
func (h *Hub) enqueue(client *Client, data []byte) bool {
	if client.closed || client.dropping {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		client.dropping = true
		h.dropped = append(h.dropped, client)
		return false
	}
}
