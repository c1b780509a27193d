// Package websocket provides the real-time transport of the lightshow server.
//
// The websocket package implements:
//   - Connection tracking with a connection ID per websocket
//   - Session rooms: hosts join their own session, members join by ID
//   - Event routing from inbound frames to the session service
//   - Fan-out of state changes to the room and list changes to everyone
//   - Host disconnect cleanup
//
// Architecture:
//
// A central Hub owns every connection and room. Its Run goroutine is the
// only code that touches them: register, unregister, inbound events and
// read-only queries all arrive over channels and are handled one at a time,
// so events from different connections never interleave. Each connection
// has a read pump that decodes frames and a write pump that delivers queued
// frames and keeps the connection alive with pings.
//
// Slow consumers:
//
// Sends never block the hub. When a connection's send buffer is full it is
// dropped and goes through the normal disconnect path.
//
// Usage:
//
//	hub := websocket.NewHub(sessionService, websocket.DefaultOptions())
//	go hub.Run(ctx)
//
//	router.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects and receives the current session list
// 2. Client creates or joins sessions and exchanges events
// 3. Disconnection closes every session the client hosted
package websocket
