package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/message"
)

// ResourceDescriptor is the MCP resources/list entry shape.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is the MCP resources/read result shape: one blob per
// resource, JSON-encoded as text.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ListResourceTemplates describes the two resource URI templates this
// server supports. It advertises templates rather than concrete URIs
// since both are parameterized by an id that only exists at read time.
func ListResourceTemplates() []ResourceDescriptor {
	return []ResourceDescriptor{
		{
			URI:         "session://{sessionId}",
			Name:        "session",
			Description: "A session's detail, visible messages, and summary statistics",
			MimeType:    "application/json",
		},
		{
			URI:         "agent://{agentId}/memory",
			Name:        "agent-memory",
			Description: "An agent's memory entries, organized by scope",
			MimeType:    "application/json",
		},
	}
}

// ErrUnknownResource is returned for a URI matching neither template.
var ErrUnknownResource = fmt.Errorf("tools: unknown resource URI")

// ReadResource dispatches a resources/read request to the session:// or
// agent://.../memory handler based on the URI's scheme.
func ReadResource(ctx context.Context, tc *ToolContext, uri string) (any, error) {
	switch {
	case strings.HasPrefix(uri, "session://"):
		return readSessionResource(ctx, tc, strings.TrimPrefix(uri, "session://"))
	case strings.HasPrefix(uri, "agent://") && strings.HasSuffix(uri, "/memory"):
		agentID := strings.TrimSuffix(strings.TrimPrefix(uri, "agent://"), "/memory")
		return readAgentMemoryResource(ctx, tc, agentID)
	default:
		return nil, ErrUnknownResource
	}
}

type sessionResourceStatistics struct {
	Total        int     `json:"total"`
	Visible      int     `json:"visible"`
	UniqueAgents int     `json:"unique_agents"`
	LastActivity float64 `json:"last_activity"`
}

type sessionResource struct {
	Session          any                       `json:"session"`
	VisibleMessages  []message.Message         `json:"visible_messages"`
	Statistics       sessionResourceStatistics `json:"statistics"`
	ResourceInfo     map[string]any            `json:"resource_info"`
}

// readSessionResource implements the session://{sessionId} resource:
// session detail plus its full (permission-filtered) message history and
// rollup statistics.
func readSessionResource(ctx context.Context, tc *ToolContext, sessionID string) (any, error) {
	ac := authctx.FromContext(ctx)
	if err := authctx.RequirePermission(ctx, "read"); err != nil {
		return nil, err
	}

	detail, err := tc.Deps.Sessions.Get(ctx, sessionID, ac.AgentID, ac.Permissions)
	if err != nil {
		return nil, err
	}

	msgs, err := tc.Deps.Messages.GetMessagesAdvanced(ctx, sessionID, ac.AgentID, ac.Permissions, ac.AgentType, message.Filter{
		Limit: 1000, NewestFirst: false,
	})
	if err != nil {
		return nil, err
	}

	agents := make(map[string]struct{})
	var lastActivity float64
	for _, m := range msgs {
		agents[m.Sender] = struct{}{}
		if m.Timestamp > lastActivity {
			lastActivity = m.Timestamp
		}
	}

	return sessionResource{
		Session:         detail.Session,
		VisibleMessages: msgs,
		Statistics: sessionResourceStatistics{
			Total:        len(msgs),
			Visible:      len(msgs),
			UniqueAgents: len(agents),
			LastActivity: lastActivity,
		},
		ResourceInfo: map[string]any{
			"uri":  "session://" + sessionID,
			"type": "session",
		},
	}, nil
}

type memoryEntryView struct {
	Key       string   `json:"key"`
	CreatedAt float64  `json:"created_at"`
	UpdatedAt float64  `json:"updated_at"`
	ExpiresAt *float64 `json:"expires_at,omitempty"`
	SizeBytes int      `json:"size_bytes,omitempty"`
}

type agentMemoryResource struct {
	Global       map[string]memoryEntryView            `json:"global"`
	Sessions     map[string]map[string]memoryEntryView `json:"sessions"`
	ResourceInfo map[string]any                         `json:"resource_info"`
}

// readAgentMemoryResource implements the agent://{agentId}/memory resource,
// organizing the agent's flat entry list back into the {global,
// sessions:{sessionId:{key:entry}}} shape. A caller reading another
// agent's memory resource — admins included — gets ErrUnknownResource
// (surfacing as a not-found error, never PERMISSION_DENIED): returning
// PERMISSION_DENIED would let a caller distinguish "agent exists but
// isn't mine" from "agent doesn't exist", an existence oracle this
// resource must not leak.
func readAgentMemoryResource(ctx context.Context, tc *ToolContext, agentID string) (any, error) {
	ac := authctx.FromContext(ctx)
	if ac.AgentID != agentID {
		return nil, ErrUnknownResource
	}

	entries, err := tc.Deps.Memory.List(ctx, agentID, "all", "", 0)
	if err != nil {
		return nil, err
	}

	global := make(map[string]memoryEntryView)
	sessions := make(map[string]map[string]memoryEntryView)
	for _, e := range entries {
		view := memoryEntryView{
			Key: e.Key, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
			ExpiresAt: e.ExpiresAt, SizeBytes: e.SizeBytes,
		}
		if e.SessionID == "" {
			global[e.Key] = view
			continue
		}
		scoped, ok := sessions[e.SessionID]
		if !ok {
			scoped = make(map[string]memoryEntryView)
			sessions[e.SessionID] = scoped
		}
		scoped[e.Key] = view
	}

	return agentMemoryResource{
		Global:   global,
		Sessions: sessions,
		ResourceInfo: map[string]any{
			"uri":  "agent://" + agentID + "/memory",
			"type": "agent-memory",
		},
	}, nil
}
