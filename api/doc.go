// Package api provides the HTTP surface of the lightshow server.
//
// The api package implements:
//   - Read-only REST views of the session registry
//   - The websocket upgrade endpoint
//   - Health and metrics endpoints
//   - Mounting of the MCP JSON-RPC endpoint
//
// Endpoints:
//
// Sessions:
//   - GET /api/sessions - List sessions in creation order with member counts
//   - GET /api/sessions/{id} - Get one session
//   - GET /api/sessions/{id}/state - Get the screen color of a session
//
// Realtime:
//   - GET /ws - Websocket upgrade; see package websocket for the protocol
//
// Operations:
//   - GET /healthz - Session and connection counts
//   - GET /metrics - Prometheus metrics (when enabled)
//   - POST /mcp - MCP JSON-RPC (when mounted)
//
// Creating, closing and updating sessions is only possible over the
// websocket, where the server knows which connection hosts a session.
//
// Error Handling:
//
// Failed requests return {"error": "...", "code": "..."} with 404 for
// unknown sessions, 403 for host-only operations, 400 for invalid input and
// 500 otherwise.
package api
