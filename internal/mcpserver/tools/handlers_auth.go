package tools

import (
	"context"
	"encoding/json"

	"github.com/sharedcontext/server/internal/sanitize"
)

type authenticateAgentParams struct {
	AgentID   string   `json:"agent_id" validate:"required"`
	AgentType string   `json:"agent_type" validate:"required"`
	APIKey    string   `json:"api_key" validate:"required"`
	Requested []string `json:"requested_permissions,omitempty"`
}

// handleAuthenticateAgent implements authenticate_agent [public]. No
// RequirePermission check: this is the entry point that grants permissions
// in the first place.
func handleAuthenticateAgent(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var p authenticateAgentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateAgentID(p.AgentID) {
		return errorResult(Validation("invalid agent_id format")), nil
	}

	result, err := tc.Deps.Tokens.Authenticate(ctx, p.AgentID, p.AgentType, p.APIKey, p.Requested)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{
		"token":       result.OpaqueToken,
		"permissions": result.Permissions,
		"expires_at":  result.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}), nil
}

type refreshTokenParams struct {
	Token string `json:"token" validate:"required"`
}

// handleRefreshToken implements refresh_token [public].
func handleRefreshToken(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	var p refreshTokenParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	newToken, err := tc.Deps.Tokens.Refresh(ctx, p.Token)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"token": newToken}), nil
}
