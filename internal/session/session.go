// Package session implements the session registry: creation, lookup
// with a bounded recent-message window, and admin active/inactive
// toggling, backed by a persisted table since sessions must survive
// process restarts.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/store"
)

// ErrNotFound is returned when a session id has no matching row.
var ErrNotFound = errors.New("session: not found")

// Session is the persisted Session entity.
type Session struct {
	ID        string         `json:"session_id"`
	Purpose   string         `json:"purpose"`
	CreatedBy string         `json:"created_by"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsActive  bool           `json:"is_active"`
	CreatedAt float64        `json:"created_at"`
	UpdatedAt float64        `json:"updated_at"`
}

// Detail bundles a session with its recent-message window for getSession.
type Detail struct {
	Session        Session           `json:"session"`
	RecentMessages []message.Message `json:"recent_messages"`
}

// recentMessageLimit bounds getSession's embedded message window.
const recentMessageLimit = 50

// Registry implements createSession/getSession/setSessionActive.
type Registry struct {
	st    *store.Store
	audit *audit.Log
	msgs  *message.Log
}

// NewRegistry constructs a Registry backed by st, recording lifecycle
// events to auditLog and reading recent messages through msgs.
func NewRegistry(st *store.Store, auditLog *audit.Log, msgs *message.Log) *Registry {
	return &Registry{st: st, audit: auditLog, msgs: msgs}
}

// newSessionID generates an id matching session_[16 lowercase hex chars].
func newSessionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "session_" + hex.EncodeToString(b), nil
}

// Create persists a new active session and records session_created.
func (r *Registry) Create(ctx context.Context, callerAgentID, purpose string, metadata map[string]any) (Session, error) {
	id, err := newSessionID()
	if err != nil {
		return Session{}, fmt.Errorf("session: generate id: %w", err)
	}

	now := float64(time.Now().Unix())
	s := Session{ID: id, Purpose: purpose, CreatedBy: callerAgentID, Metadata: metadata, IsActive: true, CreatedAt: now, UpdatedAt: now}

	_, err = r.st.ExecuteUpdate(ctx, `
		INSERT INTO sessions (id, purpose, created_by, metadata, is_active, created_at, updated_at)
		VALUES (:id, :purpose, :created_by, :metadata, true, :created_at, :updated_at)`,
		map[string]any{
			"id":         s.ID,
			"purpose":    s.Purpose,
			"created_by": s.CreatedBy,
			"metadata":   marshalMetadata(s.Metadata),
			"created_at": s.CreatedAt,
			"updated_at": s.UpdatedAt,
		})
	if err != nil {
		return Session{}, err
	}

	r.audit.Record("session_created", callerAgentID, s.ID, map[string]any{"purpose": purpose})
	return s, nil
}

// Get implements getSession: the session row plus up to 50 of its most
// recent visible messages, newest last. As with message.Log.GetMessages,
// no caller agent type is passed, so agent_only messages are left out.
func (r *Registry) Get(ctx context.Context, sessionID, callerAgentID string, callerPermissions []string) (Detail, error) {
	s, err := r.get(ctx, sessionID)
	if err != nil {
		return Detail{}, err
	}

	recent, err := r.msgs.GetMessagesAdvanced(ctx, sessionID, callerAgentID, callerPermissions, "",
		message.Filter{Limit: recentMessageLimit, NewestFirst: true, IncludeAdminOnly: true})
	if err != nil {
		return Detail{}, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	return Detail{Session: s, RecentMessages: recent}, nil
}

func (r *Registry) get(ctx context.Context, sessionID string) (Session, error) {
	var s Session
	var metaRaw []byte
	found := false

	err := r.st.ExecuteQuery(ctx, `
		SELECT id, purpose, created_by, metadata, is_active, created_at, updated_at
		FROM sessions WHERE id = :id`,
		map[string]any{"id": sessionID},
		func(rows pgx.Rows) error {
			for rows.Next() {
				if err := rows.Scan(&s.ID, &s.Purpose, &s.CreatedBy, &metaRaw, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
					return err
				}
				found = true
			}
			return nil
		})
	if err != nil {
		return Session{}, err
	}
	if !found {
		return Session{}, ErrNotFound
	}
	s.Metadata = unmarshalMetadata(metaRaw)
	return s, nil
}

// Exists reports whether sessionID has a row, for C6's addMessage
// foreign-key-style existence check.
func (r *Registry) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := r.get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetActive implements admin-only setSessionActive, auditing the change.
func (r *Registry) SetActive(ctx context.Context, sessionID, callerAgentID string, active bool) error {
	affected, err := r.st.ExecuteUpdate(ctx, `
		UPDATE sessions SET is_active = :active, updated_at = :updated_at WHERE id = :id`,
		map[string]any{
			"id":         sessionID,
			"active":     active,
			"updated_at": float64(time.Now().Unix()),
		})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	r.audit.Record("session_active_changed", callerAgentID, sessionID, map[string]any{"active": active})
	return nil
}
