package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/memory"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/sanitize"
	"github.com/sharedcontext/server/internal/session"
	"github.com/sharedcontext/server/internal/token"
)

// ToolError represents a structured error from tool execution, carrying the
// same code/severity vocabulary as the response envelope so it can be
// rendered either as a JSON-RPC protocol fault or as an in-band error
// envelope.
type ToolError struct {
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity sanitize.Severity  `json:"severity"`
	Data     map[string]any     `json:"data,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Standard error codes for the response envelope.
const (
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeMessageNotFound   = "MESSAGE_NOT_FOUND"
	ErrCodeMemoryNotFound    = "MEMORY_NOT_FOUND"
	ErrCodeKeyExists         = "KEY_EXISTS"
	ErrCodeSerialization     = "SERIALIZATION_ERROR"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeSessionLocked     = "SESSION_LOCKED"
	ErrCodeNoLockHeld        = "NO_LOCK_HELD"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"

	// ErrCodeMethodNotFound is a JSON-RPC-layer code, not one of the
	// envelope codes above: it only ever surfaces for an unregistered tool
	// name, before any envelope could be built.
	ErrCodeMethodNotFound = "METHOD_NOT_FOUND"
)

// NewToolError constructs a ToolError with an explicit severity.
func NewToolError(code, message string, severity sanitize.Severity, data map[string]any) *ToolError {
	return &ToolError{Code: code, Message: message, Severity: severity, Data: data}
}

// Validation builds a VALIDATION_ERROR ToolError. Validation failures are
// never audited.
func Validation(msg string) *ToolError {
	return NewToolError(ErrCodeValidation, msg, sanitize.SeverityInfo, nil)
}

// Permission builds a PERMISSION_DENIED ToolError for a missing permission.
func Permission(required string) *ToolError {
	return NewToolError(ErrCodePermissionDenied, "requires permission: "+required, sanitize.SeverityWarning, nil)
}

// authFailed builds an AUTH_FAILED ToolError whose message never reveals
// whether the agent, key, or token was the actual problem.
func authFailed() *ToolError {
	return NewToolError(ErrCodeAuthFailed, "authentication failed", sanitize.SeverityWarning, nil)
}

// internalError wraps an unexpected failure as INTERNAL_ERROR. The
// underlying error is never echoed verbatim to the caller: callers log it
// separately with sanitized context (ids and types only).
func internalError(err error) *ToolError {
	return NewToolError(ErrCodeInternal, "internal error", sanitize.SeverityError, nil)
}

// WrapDomainError translates a C5-C10 package's sentinel error into the
// ToolError vocabulary above. Unrecognized errors become INTERNAL_ERROR.
func WrapDomainError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var permErr authctx.ErrPermissionDenied
	if errors.As(err, &permErr) {
		return Permission(permErr.Required)
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return NewToolError(ErrCodeSessionNotFound, "session not found", sanitize.SeverityWarning, nil)
	case errors.Is(err, message.ErrSessionNotFound):
		return NewToolError(ErrCodeSessionNotFound, "session not found", sanitize.SeverityWarning, nil)
	case errors.Is(err, message.ErrNotFound):
		return NewToolError(ErrCodeMessageNotFound, "message not found", sanitize.SeverityWarning, nil)
	case errors.Is(err, message.ErrPermission):
		return Permission("write")
	case errors.Is(err, message.ErrInvalidContent), errors.Is(err, message.ErrInvalidVisibility):
		return Validation(err.Error())
	case errors.Is(err, memory.ErrNotFound):
		return NewToolError(ErrCodeMemoryNotFound, "memory key not found", sanitize.SeverityInfo, nil)
	case errors.Is(err, memory.ErrKeyExists):
		return NewToolError(ErrCodeKeyExists, "key already exists", sanitize.SeverityInfo, nil)
	case errors.Is(err, memory.ErrSerialization):
		return NewToolError(ErrCodeSerialization, "value could not be serialized", sanitize.SeverityWarning, nil)
	case errors.Is(err, memory.ErrInvalidKey), errors.Is(err, memory.ErrInvalidTTL):
		return Validation(err.Error())
	case errors.Is(err, token.ErrAuthInvalid):
		return authFailed()
	default:
		return internalError(err)
	}
}

// ToJSONRPCError converts ToolError to a JSON-RPC error code. This path is
// only reached for protocol-level faults (bad tool name, malformed
// arguments the handler never got to run) — business errors are rendered as
// in-band error envelopes by errorResult instead.
func (e *ToolError) ToJSONRPCError() (int, string, json.RawMessage) {
	code := -32603 // InternalError
	if e.Code == ErrCodeMethodNotFound {
		code = -32601
	}
	if e.Code == ErrCodeValidation {
		code = -32602
	}

	var data json.RawMessage
	if e.Data != nil {
		dataBytes, _ := json.Marshal(e.Data)
		data = dataBytes
	}
	return code, e.Message, data
}
