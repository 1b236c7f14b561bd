package tools

// RegisterAllTools wires every public tool this server exposes into reg.
// Called once at startup after Deps is fully constructed.
func RegisterAllTools(reg *Registry) {
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}
	boolean := map[string]any{"type": "boolean"}
	obj := map[string]any{"type": "object"}

	schema := func(required []string, props map[string]any) map[string]any {
		return map[string]any{"type": "object", "properties": props, "required": required}
	}

	reg.MustRegister(ToolDefinition{
		Name:        "create_session",
		Description: "Create a new shared-context session",
		InputSchema: schema([]string{"purpose"}, map[string]any{"purpose": str, "metadata": obj}),
	}, handleCreateSession)

	reg.MustRegister(ToolDefinition{
		Name:        "get_session",
		Description: "Fetch a session and its recent messages",
		InputSchema: schema([]string{"session_id"}, map[string]any{"session_id": str}),
	}, handleGetSession)

	reg.MustRegister(ToolDefinition{
		Name:        "add_message",
		Description: "Append a message to a session",
		InputSchema: schema([]string{"session_id", "content"}, map[string]any{
			"session_id": str, "content": str, "visibility": str, "message_type": str,
			"metadata": obj, "parent_message_id": num,
		}),
	}, handleAddMessage)

	reg.MustRegister(ToolDefinition{
		Name:        "get_messages",
		Description: "Retrieve a session's visible messages",
		InputSchema: schema([]string{"session_id"}, map[string]any{
			"session_id": str, "limit": num, "offset": num, "visibility_filter": str,
		}),
	}, handleGetMessages)

	reg.MustRegister(ToolDefinition{
		Name:        "get_messages_advanced",
		Description: "Retrieve a session's messages with extended filters",
		InputSchema: schema([]string{"session_id"}, map[string]any{
			"session_id": str, "visibility_filter": str, "agent_type_filter": str,
			"include_admin_only": boolean, "limit": num, "offset": num,
		}),
	}, handleGetMessagesAdvanced)

	reg.MustRegister(ToolDefinition{
		Name:        "set_message_visibility",
		Description: "Change a message's visibility class",
		InputSchema: schema([]string{"message_id", "visibility"}, map[string]any{
			"message_id": num, "visibility": str, "reason": str,
		}),
	}, handleSetMessageVisibility)

	reg.MustRegister(ToolDefinition{
		Name:        "search_context",
		Description: "Fuzzy-search a session's message history",
		InputSchema: schema([]string{"session_id", "query"}, map[string]any{
			"session_id": str, "query": str, "fuzzy_threshold": num, "limit": num,
			"search_metadata": boolean, "search_scope": str,
			"recency_window_hours": num, "max_rows_scanned": num,
		}),
	}, handleSearchContext)

	reg.MustRegister(ToolDefinition{
		Name:        "search_by_sender",
		Description: "Find a session's messages from one sender",
		InputSchema: schema([]string{"session_id", "sender"}, map[string]any{
			"session_id": str, "sender": str, "limit": num,
		}),
	}, handleSearchBySender)

	reg.MustRegister(ToolDefinition{
		Name:        "search_by_timerange",
		Description: "Find a session's messages within a Unix-seconds time window",
		InputSchema: schema([]string{"session_id", "start_ts", "end_ts"}, map[string]any{
			"session_id": str, "start_ts": num, "end_ts": num, "limit": num,
		}),
	}, handleSearchByTimerange)

	reg.MustRegister(ToolDefinition{
		Name:        "set_memory",
		Description: "Store a value in the caller's memory",
		InputSchema: schema([]string{"key"}, map[string]any{
			"key": str, "value": map[string]any{}, "session_id": str,
			"expires_in_seconds": num, "metadata": obj, "overwrite": boolean,
		}),
	}, handleSetMemory)

	reg.MustRegister(ToolDefinition{
		Name:        "get_memory",
		Description: "Read a value from the caller's memory",
		InputSchema: schema([]string{"key"}, map[string]any{"key": str, "session_id": str}),
	}, handleGetMemory)

	reg.MustRegister(ToolDefinition{
		Name:        "list_memory",
		Description: "List the caller's memory keys",
		InputSchema: schema(nil, map[string]any{"session_id": str, "prefix": str, "limit": num}),
	}, handleListMemory)

	reg.MustRegister(ToolDefinition{
		Name:        "delete_memory",
		Description: "Delete a key from the caller's memory",
		InputSchema: schema([]string{"key"}, map[string]any{"key": str, "session_id": str}),
	}, handleDeleteMemory)

	reg.MustRegister(ToolDefinition{
		Name:        "authenticate_agent",
		Description: "Exchange an API key for a scoped opaque token",
		InputSchema: schema([]string{"agent_id", "agent_type", "api_key"}, map[string]any{
			"agent_id": str, "agent_type": str, "api_key": str,
			"requested_permissions": map[string]any{"type": "array", "items": str},
		}),
	}, handleAuthenticateAgent)

	reg.MustRegister(ToolDefinition{
		Name:        "refresh_token",
		Description: "Refresh an opaque token before it expires",
		InputSchema: schema([]string{"token"}, map[string]any{"token": str}),
	}, handleRefreshToken)

	reg.MustRegister(ToolDefinition{
		Name:        "register_agent_presence",
		Description: "Report the caller's liveness, optionally scoped to a session",
		InputSchema: schema(nil, map[string]any{"session_id": str, "status": str, "metadata": obj}),
	}, handleRegisterAgentPresence)

	reg.MustRegister(ToolDefinition{
		Name:        "get_active_agents",
		Description: "List agents with recent presence, optionally scoped to a session",
		InputSchema: schema(nil, map[string]any{"session_id": str}),
	}, handleGetActiveAgents)

	reg.MustRegister(ToolDefinition{
		Name:        "coordinate_session_work",
		Description: "Acquire, release, heartbeat, or inspect a session's work lock",
		InputSchema: schema([]string{"session_id", "action"}, map[string]any{
			"session_id": str, "action": str, "lock_type": str, "message": str,
		}),
	}, handleCoordinateSessionWork)

	reg.MustRegister(ToolDefinition{
		Name:        "get_audit_log",
		Description: "Query the audit log (admin only)",
		InputSchema: schema(nil, map[string]any{
			"agent_id": str, "session_id": str, "event_type": str,
			"start_ts": num, "end_ts": num, "limit": num,
		}),
	}, handleGetAuditLog)

	reg.MustRegister(ToolDefinition{
		Name:        "get_agent_activity_summary",
		Description: "Summarize one agent's recorded activity",
		InputSchema: schema([]string{"agent_id"}, map[string]any{
			"agent_id": str, "start_ts": num, "end_ts": num,
		}),
	}, handleGetAgentActivitySummary)

	reg.MustRegister(ToolDefinition{
		Name:        "get_performance_metrics",
		Description: "Report store health and live coordination state (admin only)",
		InputSchema: schema(nil, map[string]any{}),
	}, handleGetPerformanceMetrics)
}
