package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/coordination"
	"github.com/sharedcontext/server/internal/sanitize"
)

type registerAgentPresenceParams struct {
	SessionID string         `json:"session_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleRegisterAgentPresence implements register_agent_presence [write].
func handleRegisterAgentPresence(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p registerAgentPresenceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if p.Status == "" {
		p.Status = "active"
	}

	ac := authctx.FromContext(ctx)
	presence := tc.Deps.Coordination.Register(ac.AgentID, ac.AgentType, p.SessionID, p.Status, sanitize.SanitizeJSON(p.Metadata).(map[string]any))

	if p.SessionID != "" {
		tc.Deps.Hub.Notify("session://"+p.SessionID, 100, notifyPayload("agent_event", map[string]any{"agent_id": ac.AgentID, "status": p.Status}))
	}

	return success(map[string]any{"agent_id": presence.AgentID, "status": presence.Status}), nil
}

type getActiveAgentsParams struct {
	SessionID string `json:"session_id,omitempty"`
}

// handleGetActiveAgents implements get_active_agents [read].
func handleGetActiveAgents(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getActiveAgentsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return errorResult(Validation("invalid parameters: " + err.Error())), nil
		}
	}

	agents := tc.Deps.Coordination.Active(p.SessionID)
	return success(map[string]any{"agents": agents, "count": len(agents)}), nil
}

type coordinateSessionWorkParams struct {
	SessionID string `json:"session_id" validate:"required"`
	Action    string `json:"action" validate:"required"`
	LockType  string `json:"lock_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleCoordinateSessionWork implements coordinate_session_work [write]:
// the action ∈ {lock, unlock, notify, status} session-lock protocol.
func handleCoordinateSessionWork(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "write"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p coordinateSessionWorkParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	ac := authctx.FromContext(ctx)
	lockType := coordination.LockType(p.LockType)
	if lockType == "" {
		lockType = coordination.LockWrite
	}

	switch p.Action {
	case "lock":
		lock, err := tc.Deps.Coordination.Lock(p.SessionID, ac.AgentID, lockType, ac.Has("admin"))
		if err != nil {
			return errorResult(lockErrorToTool(err)), nil
		}
		return success(map[string]any{"locked": true, "lock": lock}), nil

	case "unlock":
		forced, err := tc.Deps.Coordination.Unlock(p.SessionID, ac.AgentID, ac.Has("admin"))
		if err != nil {
			return errorResult(lockErrorToTool(err)), nil
		}
		if forced {
			tc.Deps.Hub.Notify("session://"+p.SessionID, 0, notifyPayload("session_update", map[string]any{"event": "lock_force_unlocked", "by": ac.AgentID}))
		}
		return success(map[string]any{"unlocked": true, "forced": forced}), nil

	case "notify":
		if err := tc.Deps.Coordination.Heartbeat(p.SessionID, ac.AgentID); err != nil {
			return errorResult(lockErrorToTool(err)), nil
		}
		tc.Deps.Hub.Notify("session://"+p.SessionID, 100, notifyPayload("session_update", map[string]any{"event": "coordination_notify", "from": ac.AgentID, "message": p.Message}))
		return success(map[string]any{"notified": true}), nil

	case "status":
		lock, held := tc.Deps.Coordination.Status(p.SessionID)
		return success(map[string]any{"locked": held, "lock": lock}), nil

	default:
		return errorResult(Validation("unknown action: " + p.Action)), nil
	}
}

func lockErrorToTool(err error) *ToolError {
	var locked coordination.ErrSessionLocked
	if errors.As(err, &locked) {
		return NewToolError(ErrCodeSessionLocked, "session locked by "+locked.HolderAgent, sanitize.SeverityInfo, map[string]any{"holder": locked.HolderAgent})
	}
	if errors.Is(err, coordination.ErrNoLockHeld) {
		return NewToolError(ErrCodeNoLockHeld, "no lock held", sanitize.SeverityInfo, nil)
	}
	return internalError(err)
}
