package tools

import (
	"context"
	"encoding/json"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/authctx"
)

type getAuditLogParams struct {
	AgentID   string  `json:"agent_id,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	EventType string  `json:"event_type,omitempty"`
	StartTs   float64 `json:"start_ts,omitempty"`
	EndTs     float64 `json:"end_ts,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// handleGetAuditLog implements get_audit_log [admin].
func handleGetAuditLog(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "admin"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getAuditLogParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return errorResult(Validation("invalid parameters: " + err.Error())), nil
		}
	}

	entries, err := tc.Deps.Audit.Query(ctx, audit.QueryFilter{
		AgentID: p.AgentID, SessionID: p.SessionID, EventType: p.EventType,
		StartTs: p.StartTs, EndTs: p.EndTs, Limit: p.Limit,
	})
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"entries": entries, "count": len(entries)}), nil
}

type getAgentActivitySummaryParams struct {
	AgentID string  `json:"agent_id" validate:"required"`
	StartTs float64 `json:"start_ts,omitempty"`
	EndTs   float64 `json:"end_ts,omitempty"`
}

// handleGetAgentActivitySummary implements get_agent_activity_summary
// [read]: an aggregate event-type breakdown for one agent, built from the
// audit log rather than a bespoke per-table count query.
func handleGetAgentActivitySummary(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p getAgentActivitySummaryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}

	entries, err := tc.Deps.Audit.Query(ctx, audit.QueryFilter{
		AgentID: p.AgentID, StartTs: p.StartTs, EndTs: p.EndTs, Limit: 1000,
	})
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	byType := make(map[string]int)
	sessions := make(map[string]struct{})
	var lastActivity float64
	for _, e := range entries {
		byType[e.EventType]++
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
		if e.Timestamp > lastActivity {
			lastActivity = e.Timestamp
		}
	}

	return success(map[string]any{
		"agent_id":          p.AgentID,
		"event_counts":      byType,
		"total_events":      len(entries),
		"distinct_sessions": len(sessions),
		"last_activity":     lastActivity,
	}), nil
}

// handleGetPerformanceMetrics implements get_performance_metrics [admin]: a
// snapshot of store health plus the in-memory coordination/presence state.
func handleGetPerformanceMetrics(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "admin"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	health := tc.Deps.Store.HealthCheck(ctx)
	activeAgents := tc.Deps.Coordination.Active("")

	return success(map[string]any{
		"database_ok":         health.OK,
		"database_latency_ms": health.LatencyMs,
		"active_agents":       len(activeAgents),
	}), nil
}
