package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	"github.com/tuchoir/lightshow/metrics"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// eventHandler handles one inbound event for client. A returned error is
// reported to the client only.
type eventHandler func(h *Hub, ctx context.Context, client *Client, req *protocol.Request) error

var handlers = map[string]eventHandler{
	protocol.EventGetSessionList:     (*Hub).handleGetSessionList,
	protocol.EventGetSessionState:    (*Hub).handleGetSessionState,
	protocol.EventCreateSession:      (*Hub).handleCreateSession,
	protocol.EventCloseSession:       (*Hub).handleCloseSession,
	protocol.EventJoinSession:        (*Hub).handleJoinSession,
	protocol.EventUpdateSessionState: (*Hub).handleUpdateSessionState,
}

// handleInbound routes a decoded frame to its handler
func (h *Hub) handleInbound(ctx context.Context, msg inboundMessage) {
	client := msg.client
	if h.clients[client.id] != client {
		return
	}

	if msg.err != nil {
		client.logger.Debug().Err(msg.err).Msg("malformed message")
		h.opts.Metrics.ObserveEvent("malformed", metrics.ResultError, 0)
		h.sendMessage(client, protocol.NewError("", msg.err))
		return
	}

	req := msg.req
	handler, ok := handlers[req.Event]
	label := req.Event
	if !ok {
		label = "unknown"
		handler = (*Hub).handleUnknown
	}

	ctx, span := h.tracer.Start(ctx, "lightshow."+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("lightshow.event", req.Event),
			attribute.String("lightshow.connection_id", client.id),
		),
	)
	if req.SessionID != "" {
		span.SetAttributes(attribute.String("lightshow.session_id", req.SessionID))
	}
	defer span.End()

	l := client.logger.With().Str(pkglog.FieldEvent, req.Event).Logger()
	ctx = pkglog.WithLogger(ctx, l)

	start := time.Now()
	err := handler(h, ctx, client, req)
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		code := protocol.CodeFor(err)
		if code == protocol.CodeInternal {
			l.Error().Err(err).Msg("event failed")
		} else {
			l.Debug().Err(err).Str("code", code).Msg("event rejected")
		}
		h.fail(client, req, err)
	}
	h.opts.Metrics.ObserveEvent(label, result, time.Since(start))
}

// reply acknowledges req with data when the client asked for an ack
func (h *Hub) reply(client *Client, req *protocol.Request, data any) {
	if !req.WantsAck() {
		return
	}
	msg, err := protocol.NewAck(*req.Ack, data)
	if err != nil {
		h.fail(client, req, err)
		return
	}
	h.sendMessage(client, msg)
}

// fail reports err to the requester as an ack error or an error push
func (h *Hub) fail(client *Client, req *protocol.Request, err error) {
	if req.WantsAck() {
		h.sendMessage(client, protocol.NewAckError(*req.Ack, req.Event, err))
		return
	}
	h.sendMessage(client, protocol.NewError(req.Event, err))
}

func requireSessionID(req *protocol.Request) error {
	if req.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", service.ErrInvalidInput)
	}
	return nil
}

func (h *Hub) handleGetSessionList(ctx context.Context, client *Client, req *protocol.Request) error {
	list, err := h.service.ListSessions(ctx)
	if err != nil {
		return err
	}
	if list == nil {
		list = []service.Summary{}
	}
	if req.WantsAck() {
		h.reply(client, req, list)
		return nil
	}
	h.sendMessage(client, protocol.NewListUpdated(list))
	return nil
}

func (h *Hub) handleGetSessionState(ctx context.Context, client *Client, req *protocol.Request) error {
	if err := requireSessionID(req); err != nil {
		return err
	}
	state, err := h.service.GetSessionState(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if req.WantsAck() {
		h.reply(client, req, state)
		return nil
	}
	h.sendMessage(client, protocol.NewStateUpdated(req.SessionID, state))
	return nil
}

func (h *Hub) handleCreateSession(ctx context.Context, client *Client, req *protocol.Request) error {
	info, err := h.service.CreateSession(ctx, req.SessionName, client.id)
	if err != nil {
		return err
	}

	h.joinRoom(client, info.SessionID)

	if req.WantsAck() {
		h.reply(client, req, protocol.CreatedSession{SessionID: info.SessionID, State: info.State})
	} else {
		h.sendMessage(client, protocol.NewStateUpdated(info.SessionID, info.State))
	}
	h.broadcastList(ctx)
	return nil
}

func (h *Hub) handleCloseSession(ctx context.Context, client *Client, req *protocol.Request) error {
	if err := requireSessionID(req); err != nil {
		return err
	}
	closed, err := h.service.CloseSession(ctx, req.SessionID, client.id)
	if err != nil {
		return err
	}

	h.reply(client, req, protocol.ClosedResult{Closed: closed})
	if closed {
		h.closeRoom(req.SessionID)
		h.broadcastList(ctx)
	}
	return nil
}

func (h *Hub) handleJoinSession(ctx context.Context, client *Client, req *protocol.Request) error {
	if err := requireSessionID(req); err != nil {
		return err
	}
	state, err := h.service.GetSessionState(ctx, req.SessionID)
	if err != nil {
		return err
	}

	h.joinRoom(client, req.SessionID)
	client.logger.Debug().
		Str(pkglog.FieldSessionID, req.SessionID).
		Int("members", len(h.rooms[req.SessionID])).
		Msg("client joined session")

	h.reply(client, req, state)
	h.sendMessage(client, protocol.NewStateUpdated(req.SessionID, state))
	return nil
}

func (h *Hub) handleUpdateSessionState(ctx context.Context, client *Client, req *protocol.Request) error {
	if err := requireSessionID(req); err != nil {
		return err
	}
	if req.State == nil {
		return fmt.Errorf("%w: state is required", service.ErrInvalidInput)
	}
	if err := h.service.UpdateSessionState(ctx, req.SessionID, client.id, *req.State); err != nil {
		return err
	}

	h.reply(client, req, *req.State)
	h.broadcastToRoom(req.SessionID, protocol.NewStateUpdated(req.SessionID, *req.State))
	return nil
}

var errUnknownEvent = errors.New("unknown event")

func (h *Hub) handleUnknown(ctx context.Context, client *Client, req *protocol.Request) error {
	return fmt.Errorf("%w: %w %q", service.ErrInvalidInput, errUnknownEvent, req.Event)
}
