package tools

import (
	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/coordination"
	"github.com/sharedcontext/server/internal/memory"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/search"
	"github.com/sharedcontext/server/internal/session"
	"github.com/sharedcontext/server/internal/store"
	"github.com/sharedcontext/server/internal/token"
)

// Deps bundles every storage and coordination service the tool handlers
// in this package compose into the server's public operations. A single
// Deps is constructed at startup and shared read-only across every
// request; per-request identity lives separately, on the context, via
// authctx.
type Deps struct {
	Sessions      *session.Registry
	Messages      *message.Log
	Memory        *memory.Store
	Search        *search.Engine
	Tokens        *token.Service
	Audit         *audit.Log
	Hub           *notify.Hub
	Coordination  *coordination.Registry
	Store         *store.Store

	DefaultSearchRecencyHours int
	DefaultSearchMaxRows      int
}
