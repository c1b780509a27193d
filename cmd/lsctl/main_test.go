package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuchoir/lightshow/client"
	"github.com/tuchoir/lightshow/lightshow/service"
	"github.com/tuchoir/lightshow/lightshow/session"
	"github.com/tuchoir/lightshow/transport/websocket"
)

// syncBuffer is a bytes.Buffer safe for a writer goroutine and a polling test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startServer(t *testing.T, opts ...session.Option) string {
	t.Helper()
	svc := service.NewSessionService(session.NewRegistry(opts...), service.Options{})
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
	return c
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.Run(ctx, append([]string{"lsctl"}, args...))
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "list")
	require.NoError(t, err)
	assert.Equal(t, "no active sessions\n", out)

	host := dial(t, url)
	created, err := host.CreateSession(context.Background(), "Choir A")
	require.NoError(t, err)

	out, err = run(t, "--url", url, "list")
	require.NoError(t, err)
	assert.Contains(t, out, created.SessionID)
	assert.Contains(t, out, "Choir A")
}

func TestStateCommand(t *testing.T) {
	url := startServer(t)

	host := dial(t, url)
	created, err := host.CreateSession(context.Background(), "Choir A")
	require.NoError(t, err)

	out, err := run(t, "--url", url, "state", created.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "black\n", out)

	_, err = run(t, "--url", url, "state", "missing")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = run(t, "--url", url, "state")
	assert.Error(t, err)
}

func TestHostCommandAlternatesColors(t *testing.T) {
	url := startServer(t)

	out, err := run(t, "--url", url, "host", "--name", "Demo", "--interval", "10ms", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], `hosting "Demo"`)
	assert.Equal(t, []string{"white", "black", "white"}, lines[1:])

	// The session goes away with the host connection.
	assert.Eventually(t, func() bool {
		out, err := run(t, "--url", url, "list")
		return err == nil && out == "no active sessions\n"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatchUntilSessionCloses(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dial(t, url)
	created, err := host.CreateSession(ctx, "Choir A")
	require.NoError(t, err)

	member := dial(t, url)
	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- watchSession(ctx, member, &out, created.SessionID)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "black")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.UpdateSessionState(ctx, created.SessionID, service.State{ScreenColor: service.ScreenWhite}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "white")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after the host left")
	}
	assert.Contains(t, out.String(), "session closed")
}

func TestWatchUnknownSession(t *testing.T) {
	url := startServer(t)

	_, err := run(t, "--url", url, "watch", "missing")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestCloseCommand(t *testing.T) {
	t.Run("removes the session", func(t *testing.T) {
		url := startServer(t)
		host := dial(t, url)
		created, err := host.CreateSession(context.Background(), "Choir A")
		require.NoError(t, err)

		out, err := run(t, "--url", url, "close", created.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "closed "+created.SessionID+"\n", out)
	})

	t.Run("host-only close rejects other connections", func(t *testing.T) {
		url := startServer(t, session.WithHostOnlyClose(true))
		host := dial(t, url)
		created, err := host.CreateSession(context.Background(), "Choir A")
		require.NoError(t, err)

		_, err = run(t, "--url", url, "close", created.SessionID)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})
}

func TestToggle(t *testing.T) {
	assert.Equal(t, service.ScreenWhite, toggle(service.ScreenBlack))
	assert.Equal(t, service.ScreenBlack, toggle(service.ScreenWhite))
}
