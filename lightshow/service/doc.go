// Package service provides the business logic layer for the lightshow server.
//
// The service package defines:
//   - Domain types shared by every transport (Session, State, ScreenColor, Summary)
//   - The error taxonomy surfaced to clients (not found, unauthorized, invalid input)
//   - The Registry contract implemented by the session package
//   - SessionService, the facade used by the websocket router, the REST API and MCP
//
// Architecture:
//
// The service layer sits between the transports and the in-memory registry. It
// validates input (session names, screen colors), applies the host-only rules
// enforced by the registry, and logs each mutation. It never talks to
// connections: fan-out is the router's job.
//
// Usage:
//
//	registry := session.NewRegistry()
//	svc := service.NewSessionService(registry, service.Options{MaxNameLength: 64})
//
//	info, err := svc.CreateSession(ctx, "Choir A", connectionID)
//	if err != nil {
//		return err
//	}
//
//	err = svc.UpdateSessionState(ctx, info.SessionID, connectionID,
//		service.State{ScreenColor: service.ScreenWhite})
//
// Errors:
//
// Every failure wraps one of ErrSessionNotFound, ErrUnauthorized or
// ErrInvalidInput so callers can classify with errors.Is.
package service
