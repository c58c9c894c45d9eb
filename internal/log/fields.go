package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldPrincipal = "principal"
	FieldTokenID   = "token_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Media / stream fields
	FieldKey     = "key"
	FieldQuality = "quality"
	FieldRange   = "range"
	FieldBytes   = "bytes"

	// Network fields
	FieldRemoteAddr = "remote_addr"
	FieldOrigin     = "origin"
	FieldStatus     = "status"
	FieldPath       = "path"
)
