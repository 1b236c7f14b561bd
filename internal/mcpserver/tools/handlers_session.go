package tools

import (
	"context"
	"encoding/json"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/sanitize"
)

type createSessionParams struct {
	Purpose  string         `json:"purpose" validate:"required,min=1,max=2000"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleCreateSession implements create_session [write].
func handleCreateSession(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p createSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if err := sanitize.ValidateStruct(p); err != nil {
		return errorResult(Validation(err.Error())), nil
	}

	ac := authctx.FromContext(ctx)
	s, err := tc.Deps.Sessions.Create(ctx, ac.AgentID, sanitize.SanitizeText(p.Purpose), sanitize.SanitizeJSON(p.Metadata).(map[string]any))
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"session_id": s.ID, "session": s}), nil
}

type getSessionParams struct {
	SessionID string `json:"session_id" validate:"required"`
}

// handleGetSession implements get_session [read].
func handleGetSession(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	ac := authctx.FromContext(ctx)
	detail, err := tc.Deps.Sessions.Get(ctx, p.SessionID, ac.AgentID, ac.Permissions)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{
		"session":         detail.Session,
		"recent_messages": detail.RecentMessages,
	}), nil
}
