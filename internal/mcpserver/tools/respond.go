package tools

import (
	"fmt"
	"time"

	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/sanitize"
)

// notifyPayload builds a notify.Payload of the given type with the current
// time stamped on, for the handlers that publish a change event alongside
// their success envelope.
func notifyPayload(kind string, data any) notify.Payload {
	return notify.Payload{Type: kind, Data: data, Timestamp: fmt.Sprintf("%.0f", float64(time.Now().Unix()))}
}

// success builds the canonical success envelope: most fields are inlined
// at the top level alongside success/code/timestamp rather than nested
// under a "data" object.
func success(fields map[string]any) map[string]any {
	out := map[string]any{
		"success":   true,
		"code":      "SUCCESS",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// errorResult renders a ToolError as the canonical error envelope, to be
// returned as the tool's *result* (not a JSON-RPC fault) so MCP clients
// that only inspect tool output still see the structured error.
func errorResult(e *ToolError) map[string]any {
	env := sanitize.BuildError(e.Message, e.Code, e.Severity, e.Data)
	return map[string]any{
		"success":   env.Success,
		"error":     env.Error,
		"code":      env.Code,
		"severity":  env.Severity,
		"details":   env.Details,
		"timestamp": env.Timestamp,
	}
}
