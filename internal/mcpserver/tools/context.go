package tools

import (
	"github.com/rs/zerolog"
)

// ToolContext provides shared resources for tool handlers: the service
// bundle (Deps) and a request-scoped logger. Per-caller identity is not
// carried here — it lives on context.Context via authctx, so handlers
// that need it call authctx.FromContext(ctx) rather than taking it as a
// parameter.
type ToolContext struct {
	Logger *zerolog.Logger
	Deps   *Deps

	// SubscriberID identifies the transport connection issuing this call,
	// for tools that subscribe the caller to a resource as a side effect
	// (none currently do).
	SubscriberID string
}

// NewToolContext constructs a ToolContext for a single request.
func NewToolContext(logger *zerolog.Logger, deps *Deps, subscriberID string) *ToolContext {
	return &ToolContext{Logger: logger, Deps: deps, SubscriberID: subscriberID}
}
