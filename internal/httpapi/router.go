// Package httpapi is the dashboard HTTP surface: a thin, read-mostly REST
// and WebSocket front end over the same tools.Deps the MCP server uses,
// for operators who want to inspect session/memory/audit state without
// speaking MCP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/mcpserver/tools"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/token"
)

// Server holds the dependencies the dashboard handlers compose.
type Server struct {
	Deps            *tools.Deps
	Tokens          *token.Service
	RateLimitConfig RateLimitInfo
	WSIdleTimeout   time.Duration
}

// DefaultRateLimitConfig is the dashboard's default per-agent rate limit.
var DefaultRateLimitConfig = RateLimitInfo{
	WindowSeconds: 60,
	MaxRequests:   600,
	Burst:         120,
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

// writeError writes an error response carrying the request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, CorrelationID: GetCorrelationID(r.Context())})
}

func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// authMiddleware resolves the Authorization bearer token into an
// authctx.AuthContext the same way the MCP transport does (server.go's
// resolveAuth), so the dashboard enforces the identical permission model.
func authMiddleware(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := tokens.Resolve(r.Context(), tokenStr)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "authentication failed")
				return
			}

			ac := authctx.AuthContext{
				AgentID:       claims.Subject,
				AgentType:     claims.AgentType,
				Permissions:   claims.Permissions,
				Authenticated: true,
				AuthMethod:    authctx.AuthMethodOpaque,
			}
			r = r.WithContext(authctx.WithAuthContext(r.Context(), ac))
			next.ServeHTTP(w, r)
		})
	}
}

// Routes builds the dashboard's chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SessionMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// /ws authenticates itself (token may arrive as a query param, since
	// browsers cannot set handshake headers), so it sits outside the
	// bearer-header auth group.
	r.Get("/ws", s.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.Tokens))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		r.Get("/v1/sessions/{id}", s.GetSessionDetail)
		r.Get("/v1/agents/active", s.GetActiveAgents)
		r.Get("/v1/audit", s.GetAuditLog)
		r.Get("/v1/metrics", s.GetMetrics)
	})

	log.Info().Msg("dashboard HTTP routes registered")
	return r
}

// GetSessionDetail handles GET /v1/sessions/{id}: the same session detail,
// visible messages, and statistics shape as the session://{id} MCP resource,
// reachable here for operators without an MCP client.
func (s *Server) GetSessionDetail(w http.ResponseWriter, r *http.Request) {
	ac := authctx.FromContext(r.Context())
	if err := authctx.RequirePermission(r.Context(), "read"); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	sessionID := chi.URLParam(r, "id")
	detail, err := s.Deps.Sessions.Get(r.Context(), sessionID, ac.AgentID, ac.Permissions)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "session not found")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 100, 1000)
	msgs, err := s.Deps.Messages.GetMessagesAdvanced(r.Context(), sessionID, ac.AgentID, ac.Permissions, ac.AgentType, message.Filter{
		Limit: limit, NewestFirst: true,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":  detail.Session,
		"messages": msgs,
	})
}

// GetActiveAgents handles GET /v1/agents/active.
func (s *Server) GetActiveAgents(w http.ResponseWriter, r *http.Request) {
	if err := authctx.RequirePermission(r.Context(), "read"); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	agents := s.Deps.Coordination.Active(r.URL.Query().Get("session_id"))
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

// GetAuditLog handles GET /v1/audit (admin only).
func (s *Server) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	if err := authctx.RequirePermission(r.Context(), "admin"); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	q := r.URL.Query()
	var startTs, endTs float64
	if v := q.Get("start_ts"); v != "" {
		startTs, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("end_ts"); v != "" {
		endTs, _ = strconv.ParseFloat(v, 64)
	}

	entries, err := s.Deps.Audit.Query(r.Context(), audit.QueryFilter{
		AgentID:   q.Get("agent_id"),
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
		StartTs:   startTs,
		EndTs:     endTs,
		Limit:     parseLimit(q.Get("limit"), 100, 1000),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to query audit log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// GetMetrics handles GET /v1/metrics (admin only).
func (s *Server) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := authctx.RequirePermission(r.Context(), "admin"); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	health := s.Deps.Store.HealthCheck(r.Context())
	agents := s.Deps.Coordination.Active("")
	writeJSON(w, http.StatusOK, map[string]any{
		"database_ok":         health.OK,
		"database_latency_ms": health.LatencyMs,
		"active_agents":       len(agents),
	})
}
