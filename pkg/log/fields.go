package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Lightshow
	FieldConnectionID = "connection_id"
	FieldSessionID    = "session_id"
	FieldSessionName  = "session_name"
	FieldEvent        = "event"
	FieldScreenColor  = "screen_color"

	// Service
	FieldService = "service"
)

const headerRequestID = "X-Request-ID"
