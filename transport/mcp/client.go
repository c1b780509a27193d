package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tuchoir/lightshow/api"
	"github.com/tuchoir/lightshow/lightshow/service"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
)

// maxBodySize bounds MCP requests accepted over HTTP.
const maxBodySize = 1 << 20

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API at baseURL
func NewClient(baseURL, version string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer(version)
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer(version string) {
	c.mcpServer = server.NewMCPServer(
		"Choir Lightshow",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Choir Lightshow - MCP Interface

Read-only view of a lightshow server. A host device broadcasts a screen color
(black or white) to every member device that joined its session.

AVAILABLE TOOLS:
- list_sessions: List active sessions with their color and member count
- get_session: Get details of one session
- get_session_state: Get the current screen color of one session

Sessions are created, changed and closed by devices over the websocket; these
tools cannot modify them.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	sessionIDSchema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session ID",
			},
		},
		Required: []string{"session_id"},
	}

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active lightshow sessions in creation order",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: sessionIDSchema,
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session_state",
		Description: "Get the screen color a session is currently showing",
		InputSchema: sessionIDSchema,
	}, c.handleGetSessionState)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// ServeStdio serves MCP over stdin/stdout until the input closes.
func (c *Client) ServeStdio() error {
	return server.ServeStdio(c.mcpServer)
}

// HTTPHandler serves single JSON-RPC messages posted to it.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		if response == nil {
			// notifications have no response
			w.WriteHeader(http.StatusAccepted)
			return
		}
		responseData, err := json.Marshal(response)
		if err != nil {
			l := pkglog.Ctx(r.Context())
			l.Error().Err(err).Msg("failed to marshal MCP response")
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

// Tool handlers

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response api.SessionList
	if err := c.apiCall(ctx, "/api/sessions", &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionList(&response)), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session api.SessionView
	if err := c.apiCall(ctx, "/api/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSession(&session)), nil
}

func (c *Client) handleGetSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state service.State
	if err := c.apiCall(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/state", &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Session %s is showing %s\n", sessionID, state.ScreenColor)), nil
}

func formatSessionList(list *api.SessionList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active Sessions (%d):\n\n", list.Count)
	for _, s := range list.Sessions {
		fmt.Fprintf(&b, "- %s %q (Color: %s, Members: %d, Created: %s)\n",
			s.SessionID, s.SessionName, s.State.ScreenColor, s.Members, s.CreatedAt.Format("15:04:05"))
	}
	return b.String()
}

func formatSession(s *api.SessionView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", s.SessionID)
	fmt.Fprintf(&b, "Name: %s\n", s.SessionName)
	fmt.Fprintf(&b, "Color: %s\n", s.State.ScreenColor)
	fmt.Fprintf(&b, "Members: %d\n", s.Members)
	fmt.Fprintf(&b, "Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Last change: %s\n", s.UpdatedAt.Format(time.RFC3339))
	return b.String()
}
