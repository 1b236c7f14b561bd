// Package memory implements the agent memory store: per-agent key/value
// storage with optional session scoping and TTL-based expiry, upserted
// by (agent, session, key) into an opaque JSON-valued record.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/sanitize"
	"github.com/sharedcontext/server/internal/store"
)

// Errors returned by the Memory Store's operations.
var (
	ErrNotFound     = errors.New("memory: not found")
	ErrKeyExists    = errors.New("memory: key exists")
	ErrSerialization = errors.New("memory: serialization error")
	ErrInvalidKey   = errors.New("memory: invalid key")
	ErrInvalidTTL   = errors.New("memory: invalid expiry")
)

// globalScope is the storage sentinel for sessionId = ∅ (global scope);
// the agent_memory table's session_id column is NOT NULL, so the empty
// string stands in for "global".
const globalScope = ""

// Entry is the Memory Store's returned shape for getMemory/listMemory.
// SessionID is filled in by List with the scope each row is stored under
// (empty for the global scope); resources.go's agent://{agentId}/memory
// reader uses it from the "all"-scope enumeration to group entries back
// into a {global, sessions:{...}} shape. Get and Set leave it empty.
type Entry struct {
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt float64        `json:"created_at"`
	UpdatedAt float64        `json:"updated_at"`
	ExpiresAt *float64       `json:"expires_at,omitempty"`
	SizeBytes int            `json:"size_bytes,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Store implements setMemory/getMemory/listMemory/deleteMemory.
type Store struct {
	st    *store.Store
	audit *audit.Log
}

// NewStore constructs a memory Store backed by st.
func NewStore(st *store.Store, auditLog *audit.Log) *Store {
	return &Store{st: st, audit: auditLog}
}

// Set implements setMemory.
func (s *Store) Set(ctx context.Context, agentID, sessionID, key string, value any, expiresInSeconds *int64, metadata map[string]any, overwrite bool) (Entry, error) {
	if !sanitize.ValidateMemoryKey(key) {
		return Entry{}, ErrInvalidKey
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return Entry{}, ErrSerialization
	}

	scope := scopeOf(sessionID)
	now := float64(time.Now().Unix())

	var expiresAt *float64
	if expiresInSeconds != nil {
		secs := *expiresInSeconds
		if secs < 1 || secs > 365*24*3600 {
			return Entry{}, ErrInvalidTTL
		}
		v := now + float64(secs)
		expiresAt = &v
	}

	if !overwrite {
		existing, err := s.get(ctx, agentID, scope, key)
		if err == nil && !expired(existing.ExpiresAt, now) {
			return Entry{}, ErrKeyExists
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Entry{}, err
		}
	}

	_, err = s.st.ExecuteUpdate(ctx, `
		INSERT INTO agent_memory (agent_id, session_id, key, value, metadata, created_at, updated_at, expires_at)
		VALUES (:agent_id, :session_id, :key, :value, :metadata, :now, :now, :expires_at)
		ON CONFLICT (agent_id, session_id, key) DO UPDATE SET
			value = EXCLUDED.value,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`,
		map[string]any{
			"agent_id":   agentID,
			"session_id": scope,
			"key":        key,
			"value":      string(valueJSON),
			"metadata":   marshalMetadata(metadata),
			"now":        now,
			"expires_at": nullableFloat(expiresAt),
		})
	if err != nil {
		return Entry{}, err
	}

	s.audit.Record("memory_set", agentID, "", map[string]any{"key": key, "session_id": sessionID})

	return Entry{Key: key, Value: string(valueJSON), Metadata: metadata, CreatedAt: now, UpdatedAt: now, ExpiresAt: expiresAt}, nil
}

// Get implements getMemory: a caller-scoped expiry sweep followed by a
// lookup. The background sweeper (C12) also removes expired rows
// periodically; this inline sweep guarantees getMemory never returns a
// stale entry even between sweeps.
func (s *Store) Get(ctx context.Context, agentID, sessionID, key string) (Entry, error) {
	scope := scopeOf(sessionID)
	now := float64(time.Now().Unix())

	_, _ = s.st.ExecuteUpdate(ctx, `
		DELETE FROM agent_memory WHERE agent_id = :agent_id AND session_id = :session_id AND expires_at IS NOT NULL AND expires_at <= :now`,
		map[string]any{"agent_id": agentID, "session_id": scope, "now": now})

	return s.get(ctx, agentID, scope, key)
}

func (s *Store) get(ctx context.Context, agentID, scope, key string) (Entry, error) {
	var e Entry
	var metaRaw []byte
	var expiresAt *float64
	found := false

	err := s.st.ExecuteQuery(ctx, `
		SELECT key, value, metadata, created_at, updated_at, expires_at
		FROM agent_memory WHERE agent_id = :agent_id AND session_id = :session_id AND key = :key`,
		map[string]any{"agent_id": agentID, "session_id": scope, "key": key},
		func(rows pgx.Rows) error {
			for rows.Next() {
				if err := rows.Scan(&e.Key, &e.Value, &metaRaw, &e.CreatedAt, &e.UpdatedAt, &expiresAt); err != nil {
					return err
				}
				found = true
			}
			return nil
		})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, ErrNotFound
	}
	if expired(expiresAt, float64(time.Now().Unix())) {
		return Entry{}, ErrNotFound
	}
	e.Metadata = unmarshalMetadata(metaRaw)
	e.ExpiresAt = expiresAt
	return e, nil
}

// List implements listMemory. sessionID = "all" enumerates both the
// global scope and every session scope for this agent.
func (s *Store) List(ctx context.Context, agentID, sessionID, prefix string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	now := float64(time.Now().Unix())

	sql := `SELECT key, session_id, LENGTH(value), created_at, updated_at, expires_at
	        FROM agent_memory WHERE agent_id = :agent_id AND (expires_at IS NULL OR expires_at > :now)`
	params := map[string]any{"agent_id": agentID, "now": now, "limit": limit}

	if sessionID != "all" {
		sql += ` AND session_id = :session_id`
		params["session_id"] = scopeOf(sessionID)
	}
	if prefix != "" {
		sql += ` AND key LIKE :prefix`
		params["prefix"] = strings.ReplaceAll(prefix, "%", `\%`) + "%"
	}
	sql += ` ORDER BY key ASC LIMIT :limit`

	var entries []Entry
	err := s.st.ExecuteQuery(ctx, sql, params, func(rows pgx.Rows) error {
		for rows.Next() {
			var e Entry
			var expiresAt *float64
			if err := rows.Scan(&e.Key, &e.SessionID, &e.SizeBytes, &e.CreatedAt, &e.UpdatedAt, &expiresAt); err != nil {
				return err
			}
			e.ExpiresAt = expiresAt
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Delete implements deleteMemory.
func (s *Store) Delete(ctx context.Context, agentID, sessionID, key string) error {
	affected, err := s.st.ExecuteUpdate(ctx, `
		DELETE FROM agent_memory WHERE agent_id = :agent_id AND session_id = :session_id AND key = :key`,
		map[string]any{"agent_id": agentID, "session_id": scopeOf(sessionID), "key": key})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.audit.Record("memory_deleted", agentID, "", map[string]any{"key": key, "session_id": sessionID})
	return nil
}

func scopeOf(sessionID string) string {
	if sessionID == "" {
		return globalScope
	}
	return sessionID
}

func expired(expiresAt *float64, now float64) bool {
	return expiresAt != nil && *expiresAt <= now
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
