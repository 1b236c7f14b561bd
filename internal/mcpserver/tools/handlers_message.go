package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/sanitize"
)

type addMessageParams struct {
	SessionID       string         `json:"session_id" validate:"required"`
	Content         string         `json:"content" validate:"required"`
	Visibility      string         `json:"visibility,omitempty"`
	MessageType     string         `json:"message_type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentMessageID *int64         `json:"parent_message_id,omitempty"`
}

// handleAddMessage implements add_message [write].
func handleAddMessage(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p addMessageParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	ac := authctx.FromContext(ctx)
	vis := message.Visibility(p.Visibility)
	if vis == "" {
		vis = message.VisibilityPublic
	}

	m, err := tc.Deps.Messages.Add(ctx, p.SessionID, ac.AgentID, ac.AgentType, p.Content, vis, sanitize.SanitizeJSON(p.Metadata).(map[string]any), p.ParentMessageID)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"message_id": m.ID, "message": m}), nil
}

type getMessagesParams struct {
	SessionID        string `json:"session_id" validate:"required"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
	VisibilityFilter string `json:"visibility_filter,omitempty"`
}

// handleGetMessages implements get_messages [read].
func handleGetMessages(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getMessagesParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	ac := authctx.FromContext(ctx)
	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var msgs []message.Message
	var err error
	if p.VisibilityFilter != "" {
		msgs, err = tc.Deps.Messages.GetMessagesAdvanced(ctx, p.SessionID, ac.AgentID, ac.Permissions, ac.AgentType, messageFilter(p.VisibilityFilter, "", false, limit, p.Offset))
	} else {
		msgs, err = tc.Deps.Messages.GetMessages(ctx, p.SessionID, ac.AgentID, ac.Permissions, limit, p.Offset)
	}
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"messages": msgs, "count": len(msgs)}), nil
}

type getMessagesAdvancedParams struct {
	SessionID        string `json:"session_id" validate:"required"`
	VisibilityFilter string `json:"visibility_filter,omitempty"`
	AgentTypeFilter  string `json:"agent_type_filter,omitempty"`
	IncludeAdminOnly bool   `json:"include_admin_only,omitempty"`
	Limit            int    `json:"limit,omitempty"`
	Offset           int    `json:"offset,omitempty"`
}

// handleGetMessagesAdvanced implements get_messages_advanced [read].
func handleGetMessagesAdvanced(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getMessagesAdvancedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}
	if p.IncludeAdminOnly {
		if err := authctx.RequirePermission(ctx, "admin"); err != nil {
			return errorResult(WrapDomainError(err)), nil
		}
	}

	ac := authctx.FromContext(ctx)
	limit := p.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	msgs, err := tc.Deps.Messages.GetMessagesAdvanced(ctx, p.SessionID, ac.AgentID, ac.Permissions, ac.AgentType,
		messageFilter(p.VisibilityFilter, p.AgentTypeFilter, p.IncludeAdminOnly, limit, p.Offset))
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"messages": msgs, "count": len(msgs)}), nil
}

func messageFilter(visibility, agentType string, includeAdminOnly bool, limit, offset int) message.Filter {
	return message.Filter{
		VisibilityFilter: message.Visibility(visibility),
		AgentTypeFilter:  agentType,
		IncludeAdminOnly: includeAdminOnly,
		Limit:            limit,
		Offset:           offset,
	}
}

type setMessageVisibilityParams struct {
	MessageID     int64  `json:"message_id" validate:"required"`
	NewVisibility string `json:"visibility" validate:"required"`
	Reason        string `json:"reason,omitempty"`
}

// handleSetMessageVisibility implements set_message_visibility [write].
func handleSetMessageVisibility(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p setMessageVisibilityParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	ac := authctx.FromContext(ctx)
	err := tc.Deps.Messages.SetVisibility(ctx, p.MessageID, ac.AgentID, ac.Has("admin"), message.Visibility(p.NewVisibility), p.Reason)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"message_id": p.MessageID, "visibility": p.NewVisibility,
		"confirmation": fmt.Sprintf("message %d visibility set to %s", p.MessageID, p.NewVisibility)}), nil
}
