package tools

import (
	"context"
	"encoding/json"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/sanitize"
	"github.com/sharedcontext/server/internal/search"
)

type searchContextParams struct {
	SessionID          string `json:"session_id" validate:"required"`
	Query              string `json:"query" validate:"required"`
	FuzzyThreshold     int    `json:"fuzzy_threshold,omitempty"`
	Limit              int    `json:"limit,omitempty"`
	SearchMetadata     *bool  `json:"search_metadata,omitempty"`
	SearchScope        string `json:"search_scope,omitempty"`
	RecencyWindowHours int    `json:"recency_window_hours,omitempty"`
	MaxRowsScanned     int    `json:"max_rows_scanned,omitempty"`
}

// handleSearchContext implements search_context [read].
func handleSearchContext(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p searchContextParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	opts := search.DefaultOptions()
	if p.FuzzyThreshold > 0 {
		opts.FuzzyThreshold = p.FuzzyThreshold
	}
	if p.Limit > 0 {
		opts.Limit = p.Limit
	}
	if p.SearchMetadata != nil {
		opts.SearchMetadata = *p.SearchMetadata
	}
	if p.SearchScope != "" {
		opts.SearchScope = search.Scope(p.SearchScope)
	}
	if p.RecencyWindowHours > 0 {
		opts.RecencyWindowHours = p.RecencyWindowHours
	} else {
		opts.RecencyWindowHours = tc.Deps.DefaultSearchRecencyHours
	}
	if p.MaxRowsScanned > 0 {
		opts.MaxRowsScanned = p.MaxRowsScanned
	} else {
		opts.MaxRowsScanned = tc.Deps.DefaultSearchMaxRows
	}

	ac := authctx.FromContext(ctx)
	results, err := tc.Deps.Search.SearchContext(ctx, p.SessionID, p.Query, ac.AgentID, ac.Permissions, ac.AgentType, opts)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"results": results, "count": len(results)}), nil
}

type searchBySenderParams struct {
	SessionID string `json:"session_id" validate:"required"`
	Sender    string `json:"sender" validate:"required"`
	Limit     int    `json:"limit,omitempty"`
}

// handleSearchBySender implements search_by_sender [read].
func handleSearchBySender(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p searchBySenderParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}

	ac := authctx.FromContext(ctx)
	msgs, err := tc.Deps.Search.SearchBySender(ctx, p.SessionID, p.Sender, ac.AgentID, ac.Permissions, ac.AgentType, p.Limit)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"messages": msgs, "count": len(msgs)}), nil
}

type searchByTimerangeParams struct {
	SessionID string  `json:"session_id" validate:"required"`
	StartTs   float64 `json:"start_ts" validate:"required"`
	EndTs     float64 `json:"end_ts" validate:"required"`
	Limit     int     `json:"limit,omitempty"`
}

// handleSearchByTimerange implements search_by_timerange [read].
func handleSearchByTimerange(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	var p searchByTimerangeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return errorResult(Validation("invalid parameters: " + err.Error())), nil
	}
	if !sanitize.ValidateSessionID(p.SessionID) {
		return errorResult(Validation("invalid session_id format")), nil
	}
	if p.EndTs < p.StartTs {
		return errorResult(Validation("end_ts must be >= start_ts")), nil
	}

	ac := authctx.FromContext(ctx)
	msgs, err := tc.Deps.Search.SearchByTimerange(ctx, p.SessionID, p.StartTs, p.EndTs, ac.AgentID, ac.Permissions, ac.AgentType, p.Limit)
	if err != nil {
		return errorResult(WrapDomainError(err)), nil
	}

	return success(map[string]any{"messages": msgs, "count": len(msgs)}), nil
}
