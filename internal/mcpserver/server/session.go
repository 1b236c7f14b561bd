package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sharedcontext/server/internal/authctx"
)

// MCPSession is an active Streamable HTTP transport session: the
// connection-level state tying a transport connection to the caller
// identity its initialize request established. It is distinct from the
// domain Session (internal/session) a create_session tool call produces.
type MCPSession struct {
	ID        string
	Auth      authctx.AuthContext
	CreatedAt time.Time
	LastSeen  time.Time
}

// SessionManager manages MCP transport sessions with a TTL-based sweep,
// the same mutex-guarded map plus background ticker idiom used throughout
// this server (background.Scheduler, notify.Hub.Reap).
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*MCPSession
	ttl      time.Duration
}

// NewSessionManager creates a new session manager and starts its
// background expiry sweep.
func NewSessionManager(ttl time.Duration) *SessionManager {
	mgr := &SessionManager{
		sessions: make(map[string]*MCPSession),
		ttl:      ttl,
	}
	go mgr.cleanupExpired()
	return mgr
}

// CreateSession creates a new transport session for an authenticated
// caller.
func (sm *SessionManager) CreateSession(ac authctx.AuthContext) *MCPSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session := &MCPSession{
		ID:        uuid.New().String(),
		Auth:      ac,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}
	sm.sessions[session.ID] = session

	log.Debug().Str("sessionId", session.ID).Str("agentId", ac.AgentID).Msg("Created MCP transport session")
	return session
}

// GetSession retrieves a transport session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*MCPSession, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, fmt.Errorf("session not found")
	}
	return session, nil
}

// UpdateLastSeen refreshes a session's idle-expiry clock.
func (sm *SessionManager) UpdateLastSeen(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[sessionID]; exists {
		session.LastSeen = time.Now()
	}
}

// DeleteSession removes a transport session.
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.sessions, sessionID)
	log.Debug().Str("sessionId", sessionID).Msg("Deleted MCP transport session")
}

// cleanupExpired periodically evicts sessions idle longer than the TTL.
func (sm *SessionManager) cleanupExpired() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		sm.mu.Lock()
		now := time.Now()
		expired := 0
		for id, session := range sm.sessions {
			if now.Sub(session.LastSeen) > sm.ttl {
				delete(sm.sessions, id)
				expired++
			}
		}
		sm.mu.Unlock()

		if expired > 0 {
			log.Info().Int("count", expired).Msg("Cleaned up expired MCP transport sessions")
		}
	}
}
