// Package message implements the Message Log: append-only message
// storage with the canonical four-way visibility filter, pagination, and
// an advanced filtered retrieval operation. The visibility rule is always
// encoded as a SQL disjunction in the WHERE clause — callers never
// receive rows they would then have to post-filter.
package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/sanitize"
	"github.com/sharedcontext/server/internal/store"
)

// Visibility enumerates the four message visibility classes.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityAgentOnly Visibility = "agent_only"
	VisibilityAdminOnly Visibility = "admin_only"
)

func (v Visibility) valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAgentOnly, VisibilityAdminOnly:
		return true
	}
	return false
}

// Errors returned by the Message Log's operations.
var (
	ErrSessionNotFound = errors.New("message: session not found")
	ErrNotFound        = errors.New("message: not found")
	ErrPermission      = errors.New("message: permission denied")
	ErrInvalidContent  = errors.New("message: invalid content")
	ErrInvalidVisibility = errors.New("message: invalid visibility")
)

// Message is the persisted Message entity.
type Message struct {
	ID              int64          `json:"id"`
	SessionID       string         `json:"session_id"`
	Sender          string         `json:"sender"`
	SenderType      string         `json:"sender_type"`
	Content         string         `json:"content"`
	Visibility      Visibility     `json:"visibility"`
	MessageType     string         `json:"message_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       float64        `json:"timestamp"`
	ParentMessageID *int64         `json:"parent_message_id,omitempty"`
}

// sessionExister is the slice of session.Registry that message needs,
// kept as an interface so the two packages don't import each other
// directly (session already imports message for its recent-window read).
type sessionExister interface {
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// Log implements addMessage/getMessages/getMessagesAdvanced/setMessageVisibility.
type Log struct {
	st       *store.Store
	audit    *audit.Log
	hub      *notify.Hub
	sessions sessionExister
}

// NewLog constructs a Log. SetSessions must be called once the owning
// session.Registry exists, breaking the otherwise-cyclic construction
// order between the two packages.
func NewLog(st *store.Store, auditLog *audit.Log, hub *notify.Hub) *Log {
	return &Log{st: st, audit: auditLog, hub: hub}
}

// SetSessions wires the session existence checker after both registries
// have been constructed.
func (l *Log) SetSessions(s sessionExister) {
	l.sessions = s
}

// Filter parameterizes getMessages/getMessagesAdvanced.
type Filter struct {
	VisibilityFilter Visibility // "" = no restriction beyond the canonical rule
	AgentTypeFilter  string     // "" = no restriction
	IncludeAdminOnly bool
	Limit            int
	Offset           int
	NewestFirst      bool
}

// Add implements addMessage.
func (l *Log) Add(ctx context.Context, sessionID string, callerAgentID, callerAgentType string, content string, visibility Visibility, metadata map[string]any, parentMessageID *int64) (Message, error) {
	if l.sessions != nil {
		ok, err := l.sessions.Exists(ctx, sessionID)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{}, ErrSessionNotFound
		}
	}

	clean := sanitize.SanitizeText(content)
	if len(clean) < 1 || len(clean) > 10000 {
		return Message{}, fmt.Errorf("%w: content must be 1-10000 characters after sanitization", ErrInvalidContent)
	}
	if visibility == "" {
		visibility = VisibilityPublic
	}
	if !visibility.valid() {
		return Message{}, ErrInvalidVisibility
	}

	m := Message{
		SessionID:       sessionID,
		Sender:          callerAgentID,
		SenderType:      callerAgentType,
		Content:         clean,
		Visibility:      visibility,
		MessageType:     "message",
		Metadata:        metadata,
		Timestamp:       float64(time.Now().Unix()),
		ParentMessageID: parentMessageID,
	}

	err := l.st.ExecuteUpdateReturning(ctx, `
		INSERT INTO messages (session_id, sender, sender_type, content, visibility, message_type, metadata, timestamp, parent_message_id)
		VALUES (:session_id, :sender, :sender_type, :content, :visibility, :message_type, :metadata, :timestamp, :parent_message_id)
		RETURNING id`,
		map[string]any{
			"session_id":        m.SessionID,
			"sender":            m.Sender,
			"sender_type":       m.SenderType,
			"content":           m.Content,
			"visibility":        string(m.Visibility),
			"message_type":      m.MessageType,
			"metadata":          marshalMetadata(m.Metadata),
			"timestamp":         m.Timestamp,
			"parent_message_id": nullableInt64(m.ParentMessageID),
		}, &m.ID)
	if err != nil {
		return Message{}, err
	}

	l.audit.Record("message_added", callerAgentID, sessionID, map[string]any{"message_id": m.ID, "visibility": string(m.Visibility)})
	l.hub.Notify("session://"+sessionID, 100, notify.Payload{
		Type:      "new_message",
		Data:      map[string]any{"session_id": sessionID, "message_id": m.ID},
		Timestamp: fmt.Sprintf("%.0f", m.Timestamp),
	})

	return m, nil
}

// GetMessages implements getMessages: the canonical visibility rule,
// ordered by timestamp ascending (tie-break ascending id), paginated.
// No caller agent type is passed in, so agent_only messages are never
// returned here.
func (l *Log) GetMessages(ctx context.Context, sessionID, callerAgentID string, callerPermissions []string, limit, offset int) ([]Message, error) {
	return l.query(ctx, sessionID, callerAgentID, callerPermissions, "", Filter{Limit: limit, Offset: offset, IncludeAdminOnly: true})
}

// GetMessagesAdvanced implements getMessagesAdvanced with the extra
// agent-type and admin-only inclusion filters layered atop the canonical
// rule.
func (l *Log) GetMessagesAdvanced(ctx context.Context, sessionID, callerAgentID string, callerPermissions []string, callerAgentType string, f Filter) ([]Message, error) {
	return l.query(ctx, sessionID, callerAgentID, callerPermissions, callerAgentType, f)
}

func (l *Log) query(ctx context.Context, sessionID, callerAgentID string, callerPermissions []string, callerAgentType string, f Filter) ([]Message, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	isAdmin := false
	for _, p := range callerPermissions {
		if p == "admin" {
			isAdmin = true
			break
		}
	}

	sql := `SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, timestamp, parent_message_id
	        FROM messages WHERE session_id = :session_id AND (
	            visibility = 'public'
	            OR (visibility = 'private' AND sender = :caller_agent_id)
	            OR (visibility = 'agent_only' AND sender_type = :caller_agent_type)
	            OR (visibility = 'admin_only' AND :is_admin)
	        )`
	params := map[string]any{
		"session_id":        sessionID,
		"caller_agent_id":   callerAgentID,
		"caller_agent_type": callerAgentType,
		"is_admin":          isAdmin,
	}

	if f.VisibilityFilter != "" {
		sql += ` AND visibility = :visibility_filter`
		params["visibility_filter"] = string(f.VisibilityFilter)
	}
	if f.AgentTypeFilter != "" {
		sql += ` AND sender_type = :agent_type_filter`
		params["agent_type_filter"] = f.AgentTypeFilter
	}
	if !f.IncludeAdminOnly {
		sql += ` AND visibility <> 'admin_only'`
	}

	if f.NewestFirst {
		sql += ` ORDER BY timestamp DESC, id DESC`
	} else {
		sql += ` ORDER BY timestamp ASC, id ASC`
	}
	sql += ` LIMIT :limit OFFSET :offset`
	params["limit"] = f.Limit
	params["offset"] = f.Offset

	var msgs []Message
	err := l.st.ExecuteQuery(ctx, sql, params, func(rows pgx.Rows) error {
		for rows.Next() {
			var m Message
			var metaRaw []byte
			var parentID *int64
			if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.SenderType, &m.Content, &m.Visibility, &m.MessageType, &metaRaw, &m.Timestamp, &parentID); err != nil {
				return err
			}
			m.Metadata = unmarshalMetadata(metaRaw)
			m.ParentMessageID = parentID
			msgs = append(msgs, m)
		}
		return nil
	})
	return msgs, err
}

// SetVisibility implements setMessageVisibility. callerIsAdmin gates
// admin_only; the sender may otherwise always change their own message's
// visibility.
func (l *Log) SetVisibility(ctx context.Context, messageID int64, callerAgentID string, callerIsAdmin bool, newVisibility Visibility, reason string) error {
	if !newVisibility.valid() {
		return ErrInvalidVisibility
	}
	if newVisibility == VisibilityAdminOnly && !callerIsAdmin {
		return ErrPermission
	}

	var sender string
	found := false
	err := l.st.ExecuteQuery(ctx, `SELECT sender FROM messages WHERE id = :id`,
		map[string]any{"id": messageID}, func(rows pgx.Rows) error {
			for rows.Next() {
				if err := rows.Scan(&sender); err != nil {
					return err
				}
				found = true
			}
			return nil
		})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if sender != callerAgentID && !callerIsAdmin {
		return ErrPermission
	}

	_, err = l.st.ExecuteUpdate(ctx, `UPDATE messages SET visibility = :visibility WHERE id = :id`,
		map[string]any{"id": messageID, "visibility": string(newVisibility)})
	if err != nil {
		return err
	}

	l.audit.Record("message_visibility_changed", callerAgentID, "", map[string]any{
		"message_id": messageID, "new_visibility": string(newVisibility), "reason": reason,
	})
	return nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
