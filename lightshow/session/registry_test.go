package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuchoir/lightshow/lightshow/service"
)

func TestRegistry_Create(t *testing.T) {
	registry := NewRegistry()

	t.Run("fresh session defaults to black", func(t *testing.T) {
		sess, err := registry.Create("Choir A", "conn-1")
		require.NoError(t, err)

		assert.NotEmpty(t, sess.ID)
		assert.Equal(t, "Choir A", sess.Name)
		assert.Equal(t, "conn-1", sess.HostConnectionID)
		assert.Equal(t, service.ScreenBlack, sess.State.ScreenColor)
		assert.False(t, sess.CreatedAt.IsZero())
	})

	t.Run("ids are not reused", func(t *testing.T) {
		a, err := registry.Create("A", "conn-1")
		require.NoError(t, err)
		b, err := registry.Create("B", "conn-1")
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("returned copy does not alias registry state", func(t *testing.T) {
		sess, err := registry.Create("Copy", "conn-2")
		require.NoError(t, err)

		sess.State.ScreenColor = service.ScreenWhite
		stored, err := registry.Get(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, service.ScreenBlack, stored.State.ScreenColor)
	})

	t.Run("id generator failure", func(t *testing.T) {
		failing := NewRegistry(WithIDGenerator(func() (string, error) {
			return "", errors.New("entropy exhausted")
		}))
		_, err := failing.Create("X", "conn-1")
		require.Error(t, err)
		assert.Equal(t, 0, failing.Count())
	})

	t.Run("duplicate generated id is rejected", func(t *testing.T) {
		fixed := NewRegistry(WithIDGenerator(func() (string, error) { return "same", nil }))
		_, err := fixed.Create("first", "conn-1")
		require.NoError(t, err)
		_, err = fixed.Create("second", "conn-1")
		require.Error(t, err)
		assert.Equal(t, 1, fixed.Count())
	})
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	created, err := registry.Create("get-test", "conn-1")
	require.NoError(t, err)

	t.Run("existing session", func(t *testing.T) {
		sess, err := registry.Get(created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, sess.ID)
	})

	t.Run("non-existent session", func(t *testing.T) {
		_, err := registry.Get("non-existent")
		assert.ErrorIs(t, err, service.ErrSessionNotFound)
	})
}

func TestRegistry_ListKeepsCreationOrder(t *testing.T) {
	registry := NewRegistry()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := registry.Create(fmt.Sprintf("choir-%d", i), "conn-1")
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	first := registry.List()
	second := registry.List()
	require.Len(t, first, 5)
	assert.Equal(t, first, second)
	for i, sess := range first {
		assert.Equal(t, ids[i], sess.ID)
		assert.Equal(t, fmt.Sprintf("choir-%d", i), sess.Name)
	}

	_, err := registry.Close(ids[2], "conn-1")
	require.NoError(t, err)

	after := registry.List()
	require.Len(t, after, 4)
	assert.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]},
		[]string{after[0].ID, after[1].ID, after[2].ID, after[3].ID})
}

func TestRegistry_UpdateState(t *testing.T) {
	start := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	now := start
	registry := NewRegistry(WithClock(func() time.Time { return now }))

	sess, err := registry.Create("Choir A", "host")
	require.NoError(t, err)

	white := service.State{ScreenColor: service.ScreenWhite}

	t.Run("non-host is rejected and state is unchanged", func(t *testing.T) {
		err := registry.UpdateState(sess.ID, "member", white)
		assert.ErrorIs(t, err, service.ErrUnauthorized)

		stored, _ := registry.Get(sess.ID)
		assert.Equal(t, service.ScreenBlack, stored.State.ScreenColor)
	})

	t.Run("empty requester is never the host", func(t *testing.T) {
		err := registry.UpdateState(sess.ID, "", white)
		assert.ErrorIs(t, err, service.ErrUnauthorized)
	})

	t.Run("host update", func(t *testing.T) {
		now = start.Add(time.Minute)
		require.NoError(t, registry.UpdateState(sess.ID, "host", white))

		stored, _ := registry.Get(sess.ID)
		assert.Equal(t, service.ScreenWhite, stored.State.ScreenColor)
		assert.Equal(t, now, stored.UpdatedAt)
		assert.Equal(t, start, stored.CreatedAt)
	})

	t.Run("unknown session", func(t *testing.T) {
		err := registry.UpdateState("missing", "host", white)
		assert.ErrorIs(t, err, service.ErrSessionNotFound)
	})
}

func TestRegistry_Close(t *testing.T) {
	t.Run("any connection may close by default", func(t *testing.T) {
		registry := NewRegistry()
		sess, _ := registry.Create("Choir A", "host")

		closed, err := registry.Close(sess.ID, "someone-else")
		require.NoError(t, err)
		assert.True(t, closed)

		_, err = registry.Get(sess.ID)
		assert.ErrorIs(t, err, service.ErrSessionNotFound)
	})

	t.Run("second close is a no-op", func(t *testing.T) {
		registry := NewRegistry()
		sess, _ := registry.Create("Choir A", "host")

		closed, err := registry.Close(sess.ID, "host")
		require.NoError(t, err)
		assert.True(t, closed)

		closed, err = registry.Close(sess.ID, "host")
		require.NoError(t, err)
		assert.False(t, closed)
	})

	t.Run("host-only close", func(t *testing.T) {
		registry := NewRegistry(WithHostOnlyClose(true))
		sess, _ := registry.Create("Choir A", "host")

		closed, err := registry.Close(sess.ID, "member")
		assert.ErrorIs(t, err, service.ErrUnauthorized)
		assert.False(t, closed)
		assert.Equal(t, 1, registry.Count())

		closed, err = registry.Close(sess.ID, "host")
		require.NoError(t, err)
		assert.True(t, closed)
		assert.Equal(t, 0, registry.Count())
	})
}

func TestRegistry_RemoveHostedBy(t *testing.T) {
	registry := NewRegistry()

	a, _ := registry.Create("A", "host-1")
	b, _ := registry.Create("B", "host-2")
	c, _ := registry.Create("C", "host-1")

	removed := registry.RemoveHostedBy("host-1")
	assert.Equal(t, []string{a.ID, c.ID}, removed)
	assert.Equal(t, 1, registry.Count())

	remaining := registry.List()
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID, remaining[0].ID)

	assert.Empty(t, registry.RemoveHostedBy("host-1"))
	assert.Empty(t, registry.RemoveHostedBy("unknown"))
}

func TestRegistry_ConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	registry := NewRegistry()
	const n = 200

	var wg sync.WaitGroup
	ids := make(chan string, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := registry.Create(fmt.Sprintf("choir-%d", i), fmt.Sprintf("conn-%d", i%7))
			if err != nil {
				errs <- err
				return
			}
			ids <- sess.ID
		}(i)
	}

	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent create failed: %v", err)
	}

	seen := make(map[string]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, registry.Count())
	assert.Len(t, registry.List(), n)
}

func TestRegistry_ConcurrentReadsAndWrites(t *testing.T) {
	registry := NewRegistry()
	sess, _ := registry.Create("Choir A", "host")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			color := service.ScreenBlack
			if i%2 == 0 {
				color = service.ScreenWhite
			}
			_ = registry.UpdateState(sess.ID, "host", service.State{ScreenColor: color})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = registry.Get(sess.ID)
			_ = registry.List()
		}()
	}
	wg.Wait()

	stored, err := registry.Get(sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.State.ScreenColor.Valid())
}
