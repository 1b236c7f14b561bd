package tools

import (
	"context"
	"encoding/json"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/sanitize"
)

type setMemoryParams struct {
	Key              string         `json:"key" validate:"required"`
	Value            any            `json:"value"`
	SessionID        string         `json:"session_id,omitempty"`
	ExpiresInSeconds *int64         `json:"expires_in_seconds,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Overwrite        *bool          `json:"overwrite,omitempty"`
}

// handleSetMemory implements set_memory [write].
func handleSetMemory(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p setMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateMemoryKey(p.Key) {
		return errorResult(Validation("invalid key: must be 1-255 chars, excluding / \\ : * ? \" < > |")), nil
	}

	overwrite := true
	if p.Overwrite != nil {
		overwrite = *p.Overwrite
	}

	ac := authctx.FromContext(ctx)
	entry, err := tc.Deps.Memory.Set(ctx, ac.AgentID, p.SessionID, p.Key, p.Value, p.ExpiresInSeconds, sanitize.SanitizeJSON(p.Metadata).(map[string]any), overwrite)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	tc.Deps.Hub.Notify("agent://"+ac.AgentID+"/memory", 100, notifyPayload("agent_event", map[string]any{"key": p.Key, "action": "set"}))

	return success(map[string]any{"key": p.Key, "created_at": entry.CreatedAt, "updated_at": entry.UpdatedAt, "expires_at": entry.ExpiresAt}), nil
}

type getMemoryParams struct {
	Key       string `json:"key" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// handleGetMemory implements get_memory [read].
func handleGetMemory(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	ac := authctx.FromContext(ctx)
	entry, err := tc.Deps.Memory.Get(ctx, ac.AgentID, p.SessionID, p.Key)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var value any
	_ = json.Unmarshal([]byte(entry.Value), &value)

	return success(map[string]any{
		"key": p.Key, "value": value, "metadata": entry.Metadata,
		"created_at": entry.CreatedAt, "updated_at": entry.UpdatedAt, "expires_at": entry.ExpiresAt,
	}), nil
}

type listMemoryParams struct {
	SessionID string `json:"session_id,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// handleListMemory implements list_memory [read]. An empty SessionID lists
// only the global scope; "all" enumerates every scope.
func handleListMemory(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p listMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	ac := authctx.FromContext(ctx)
	entries, err := tc.Deps.Memory.List(ctx, ac.AgentID, p.SessionID, p.Prefix, p.Limit)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"entries": entries, "count": len(entries)}), nil
}

type deleteMemoryParams struct {
	Key       string `json:"key" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// handleDeleteMemory implements delete_memory [write].
func handleDeleteMemory(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p deleteMemoryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	ac := authctx.FromContext(ctx)
	if err := tc.Deps.Memory.Delete(ctx, ac.AgentID, p.SessionID, p.Key); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	tc.Deps.Hub.Notify("agent://"+ac.AgentID+"/memory", 100, notifyPayload("agent_event", map[string]any{"key": p.Key, "action": "delete"}))

	return success(map[string]any{"key": p.Key, "deleted": true}), nil
}
