// Package mcp exposes the lightshow server to AI agents through the Model
// Context Protocol.
//
// The Client is a thin proxy: every tool calls the REST API, so the same
// binary can serve MCP over stdio against a remote server or answer POST
// /mcp inside the server itself.
//
// MCP Tools:
//   - list_sessions: List active sessions with color and member count
//   - get_session: Get one session
//   - get_session_state: Get the screen color of one session
//
// Usage:
//
//	// Stdio mode
//	c := mcp.NewClient("http://localhost:3000", version)
//	c.ServeStdio()
//
//	// HTTP mode
//	router.Handle("/mcp", c.HTTPHandler())
package mcp
