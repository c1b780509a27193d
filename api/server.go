package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tuchoir/lightshow/lightshow/protocol"
	"github.com/tuchoir/lightshow/lightshow/service"
	pkglog "github.com/tuchoir/lightshow/pkg/log"
)

// Hub is the part of the websocket hub the API needs.
type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ConnectionCount(ctx context.Context) (int, error)
	RoomSizes(ctx context.Context) (map[string]int, error)
}

// SessionView is a session as shown by the REST API.
type SessionView struct {
	service.SessionInfo
	Members int `json:"members"`
}

// SessionList is the body of GET /api/sessions.
type SessionList struct {
	Count    int           `json:"count"`
	Sessions []SessionView `json:"sessions"`
}

// Health is the body of GET /healthz.
type Health struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Option configures a Server.
type Option func(*Server)

// WithMCPHandler mounts an MCP JSON-RPC handler at POST /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) {
		s.mcpHandler = h
	}
}

// WithMetricsHandler exposes h at path, usually promhttp output.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithVersion sets the version reported by the banner and health check.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// Server represents the REST API server
type Server struct {
	service service.SessionService
	hub     Hub
	router  *mux.Router

	mcpHandler     http.Handler
	metricsPath    string
	metricsHandler http.Handler
	version        string
}

// NewServer creates a new API server
func NewServer(sessionService service.SessionService, hub Hub, opts ...Option) *Server {
	s := &Server{
		service: sessionService,
		hub:     hub,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(pkglog.HTTPMiddleware(pkglog.L()))

	// Read-only views; mutations need a websocket connection identity
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/state", s.handleGetSessionState).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metricsHandler != nil {
		s.router.Handle(s.metricsPath, s.metricsHandler).Methods(http.MethodGet)
	}
	if s.mcpHandler != nil {
		s.router.Handle("/mcp", s.mcpHandler).Methods(http.MethodPost)
	}

	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondServiceError maps a service error to its HTTP status
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := protocol.CodeFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Msg("request failed")
		message = "internal server error"
	}
	respondError(w, status, code, message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Choir Lightshow server %s\n\n", s.version)
	fmt.Fprintln(w, "  websocket   /ws")
	fmt.Fprintln(w, "  sessions    /api/sessions")
	fmt.Fprintln(w, "  health      /healthz")
}

func (s *Server) roomSizes(ctx context.Context) map[string]int {
	if s.hub == nil {
		return nil
	}
	sizes, err := s.hub.RoomSizes(ctx)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("room sizes unavailable")
		return nil
	}
	return sizes
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.service.ListSessionInfos(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	sizes := s.roomSizes(r.Context())
	views := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, SessionView{SessionInfo: *info, Members: sizes[info.SessionID]})
	}

	respondJSON(w, http.StatusOK, SessionList{
		Count:    len(views),
		Sessions: views,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	sizes := s.roomSizes(r.Context())
	respondJSON(w, http.StatusOK, SessionView{SessionInfo: *info, Members: sizes[info.SessionID]})
}

func (s *Server) handleGetSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	state, err := s.service.GetSessionState(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:   "ok",
		Version:  s.version,
		Sessions: s.service.CountSessions(r.Context()),
	}

	if s.hub != nil {
		n, err := s.hub.ConnectionCount(r.Context())
		if err != nil {
			respondJSON(w, http.StatusServiceUnavailable, Health{Status: "unavailable", Version: s.version})
			return
		}
		health.Connections = n
	}

	respondJSON(w, http.StatusOK, health)
}

// WebSocket handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, protocol.CodeInternal, "websocket hub not available")
		return
	}
	s.hub.ServeWS(w, r)
}
