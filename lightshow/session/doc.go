// Package session provides the in-memory session registry for the lightshow server.
//
// The session package implements:
//   - Thread-safe session storage and retrieval
//   - Unique session ID generation (UUIDv7, time-ordered with random bits)
//   - Creation-ordered listing for stable UI display
//   - Host-only state updates and optional host-only close
//   - Cascade removal of every session hosted by a departed connection
//
// Core Types:
//
// Registry implements service.Registry. It owns every session record and only
// hands out copies, so callers can never mutate shared state behind its back.
//
// Concurrency:
//
// The registry guards its map with a sync.RWMutex. The websocket hub already
// serializes mutations on its event loop; the lock keeps concurrent snapshot
// reads from the REST API safe.
//
// Usage:
//
//	registry := session.NewRegistry(session.WithHostOnlyClose(false))
//
//	sess, err := registry.Create("Choir A", connectionID)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Only the host may change the color
//	err = registry.UpdateState(sess.ID, connectionID,
//		service.State{ScreenColor: service.ScreenWhite})
//
//	// Host disconnected
//	removed := registry.RemoveHostedBy(connectionID)
//
// Persistence:
//
// None. The registry starts empty on every process start.
package session
