package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuchoir/lightshow/client"
	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	"github.com/tuchoir/lightshow/lightshow/session"
	"github.com/tuchoir/lightshow/transport/websocket"
)

func startServer(t *testing.T) string {
	t.Helper()
	svc := service.NewSessionService(session.NewRegistry(), service.Options{})
	hub := websocket.NewHub(svc, websocket.DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	first := nextEvent(t, c)
	require.Equal(t, protocol.EventSessionListUpdated, first.Event)
	return c
}

func nextEvent(t *testing.T, c *client.Client) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHostAndMember(t *testing.T) {
	url := startServer(t)
	ctx := testContext(t)

	host := dial(t, url)
	member := dial(t, url)

	created, err := host.CreateSession(ctx, "Choir A")
	require.NoError(t, err)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, service.ScreenBlack, created.State.ScreenColor)

	listPush := nextEvent(t, member)
	assert.Equal(t, protocol.EventSessionListUpdated, listPush.Event)
	assert.Equal(t, []service.Summary{{SessionID: created.SessionID, SessionName: "Choir A"}}, listPush.Sessions)

	sessions, err := member.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, listPush.Sessions, sessions)

	require.NoError(t, member.JoinSession(ctx, created.SessionID))
	joined := nextEvent(t, member)
	assert.Equal(t, protocol.EventSessionStateUpdated, joined.Event)

	white := service.State{ScreenColor: service.ScreenWhite}
	require.NoError(t, host.UpdateSessionState(ctx, created.SessionID, white))

	update := nextEvent(t, member)
	assert.Equal(t, protocol.EventSessionStateUpdated, update.Event)
	assert.Equal(t, white, *update.State)

	state, err := member.GetSessionState(ctx, created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, white, state)

	require.NoError(t, host.CloseSession(ctx, created.SessionID))
	closed := nextEvent(t, member)
	assert.Equal(t, protocol.EventSessionClosed, closed.Event)
	assert.Equal(t, created.SessionID, closed.SessionID)
}

func TestErrors(t *testing.T) {
	url := startServer(t)
	ctx := testContext(t)
	c := dial(t, url)

	_, err := c.GetSessionState(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = c.CreateSession(ctx, "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	var body *protocol.ErrorBody
	require.ErrorAs(t, err, &body)
	assert.Equal(t, protocol.EventCreateSession, body.Event)

	require.NoError(t, c.JoinSession(ctx, "missing"))
	push := nextEvent(t, c)
	assert.Equal(t, protocol.EventError, push.Event)
	assert.Equal(t, protocol.CodeNotFound, push.Error.Code)
}

func TestMemberCannotUpdate(t *testing.T) {
	url := startServer(t)
	ctx := testContext(t)

	host := dial(t, url)
	member := dial(t, url)

	created, err := host.CreateSession(ctx, "Choir A")
	require.NoError(t, err)
	nextEvent(t, member)

	require.NoError(t, member.UpdateSessionState(ctx, created.SessionID, service.State{ScreenColor: service.ScreenWhite}))
	push := nextEvent(t, member)
	assert.Equal(t, protocol.EventError, push.Event)
	assert.ErrorIs(t, push.Error, service.ErrUnauthorized)
}

func TestClose(t *testing.T) {
	url := startServer(t)
	c := dial(t, url)

	require.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}

	_, err := c.ListSessions(context.Background())
	assert.ErrorIs(t, err, client.ErrClosed)
	assert.ErrorIs(t, c.JoinSession(context.Background(), "x"), client.ErrClosed)

	// closing twice is harmless
	assert.NotPanics(t, func() { c.Close() })
}

func TestDialFailure(t *testing.T) {
	ctx := testContext(t)
	_, err := client.Dial(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}
