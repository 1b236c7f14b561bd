package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sharedcontext/server/internal/authctx"
	"github.com/sharedcontext/server/internal/config"
	"github.com/sharedcontext/server/internal/mcpserver/tools"
	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/token"
)

const (
	protocolVersionLatest = "2025-03-26"
	protocolVersionPrior  = "2024-11-05"
)

// MCPServer is the Streamable HTTP MCP transport: it resolves the
// caller's AuthContext from the request's bearer token, then dispatches
// tools/list, tools/call, resources/list, and resources/read against a
// shared tools.Registry and tools.Deps.
type MCPServer struct {
	cfg          *config.Config
	tokens       *token.Service
	hub          *notify.Hub
	sessionMgr   *SessionManager
	toolRegistry *tools.Registry
	deps         *tools.Deps
	httpServer   *http.Server
}

// NewMCPServer constructs the MCP server over an already-wired Deps/Hub.
func NewMCPServer(cfg *config.Config, deps *tools.Deps) *MCPServer {
	toolRegistry := tools.NewRegistry()
	tools.RegisterAllTools(toolRegistry)

	return &MCPServer{
		cfg:          cfg,
		tokens:       deps.Tokens,
		hub:          deps.Hub,
		sessionMgr:   NewSessionManager(cfg.WSIdleTimeout),
		toolRegistry: toolRegistry,
		deps:         deps,
	}
}

// Start starts the HTTP server.
func (s *MCPServer) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /mcp", s.handleMCPPost)
	mux.HandleFunc("GET /mcp", s.handleMCPGet)
	mux.HandleFunc("DELETE /mcp", s.handleMCPDelete)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout is intentionally omitted: SSE streams stay open
		// indefinitely for server-to-client notifications.
	}

	log.Info().Str("addr", addr).Msg("Starting MCP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// resolveAuth establishes the caller's AuthContext from the Authorization
// header: a missing or invalid token yields authctx.Unauthenticated(),
// never an error — permission checks in the tool handlers are what
// actually reject the request.
func (s *MCPServer) resolveAuth(r *http.Request) authctx.AuthContext {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return authctx.Unauthenticated()
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := s.tokens.Resolve(r.Context(), tokenStr)
	if err != nil {
		return authctx.Unauthenticated()
	}

	method := authctx.AuthMethodJWT
	if strings.HasPrefix(tokenStr, "sct_") {
		method = authctx.AuthMethodOpaque
	}

	return authctx.AuthContext{
		AgentID:       claims.Subject,
		AgentType:     claims.AgentType,
		Permissions:   claims.Permissions,
		Authenticated: true,
		AuthMethod:    method,
	}
}

func validProtocolVersion(v string) bool {
	return v == protocolVersionLatest || v == protocolVersionPrior
}

// handleMCPPost handles POST /mcp (JSON-RPC requests).
func (s *MCPServer) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if pv := r.Header.Get("Mcp-Protocol-Version"); pv != "" && !validProtocolVersion(pv) {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "invalid jsonrpc version")
		return
	}

	ac := s.resolveAuth(r)
	ctx := authctx.WithAuthContext(r.Context(), ac)

	if req.Method == "initialize" {
		s.handleInitialize(w, &req, ac)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		s.sendError(w, req.ID, InvalidRequest, "missing Mcp-Session-Id header")
		return
	}
	transportSession, err := s.sessionMgr.GetSession(sessionID)
	if err != nil {
		s.sendError(w, req.ID, InvalidRequest, "session not found")
		return
	}
	s.sessionMgr.UpdateLastSeen(sessionID)

	s.handleJSONRPC(ctx, w, &req, transportSession)
}

// handleInitialize handles the initialize request, establishing a new
// transport session tied to the caller's resolved identity.
func (s *MCPServer) handleInitialize(w http.ResponseWriter, req *JSONRPCRequest, ac authctx.AuthContext) {
	transportSession := s.sessionMgr.CreateSession(ac)

	log.Info().Str("sessionId", transportSession.ID).Str("agentId", ac.AgentID).Msg("Created new MCP session")

	w.Header().Set("Mcp-Session-Id", transportSession.ID)
	w.Header().Set("Content-Type", "application/json")

	result := map[string]any{
		"protocolVersion": protocolVersionLatest,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "shared-context-server",
			"version": "0.1.0",
		},
	}

	response := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: mustMarshal(result)}
	json.NewEncoder(w).Encode(response)
}

// handleJSONRPC routes JSON-RPC requests to the tool registry / resource
// reader.
func (s *MCPServer) handleJSONRPC(ctx context.Context, w http.ResponseWriter, req *JSONRPCRequest, transportSession *MCPSession) {
	logger := log.With().
		Str("sessionId", transportSession.ID).
		Str("agentId", transportSession.Auth.AgentID).
		Str("method", req.Method).
		Logger()

	switch req.Method {
	case "tools/list":
		s.sendResult(w, req.ID, map[string]any{"tools": s.toolRegistry.List()})

	case "tools/call":
		var callReq tools.CallRequest
		if err := json.Unmarshal(req.Params, &callReq); err != nil {
			s.sendError(w, req.ID, InvalidParams, "invalid tool call parameters")
			return
		}

		toolCtx := tools.NewToolContext(&logger, s.deps, transportSession.ID)
		result, err := s.toolRegistry.Call(ctx, toolCtx, callReq)
		if err != nil {
			s.sendToolError(w, req.ID, err)
			return
		}
		s.sendResult(w, req.ID, result)

	case "resources/list":
		s.sendResult(w, req.ID, map[string]any{"resources": tools.ListResourceTemplates()})

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, InvalidParams, "invalid resource read parameters")
			return
		}

		toolCtx := tools.NewToolContext(&logger, s.deps, transportSession.ID)
		content, err := tools.ReadResource(ctx, toolCtx, params.URI)
		if err != nil {
			s.sendToolError(w, req.ID, err)
			return
		}

		blob, _ := json.Marshal(content)
		s.sendResult(w, req.ID, map[string]any{
			"contents": []tools.ResourceContent{{URI: params.URI, MimeType: "application/json", Text: string(blob)}},
		})

	case "ping":
		s.sendResult(w, req.ID, map[string]any{"status": "ok"})

	default:
		s.sendError(w, req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *MCPServer) sendToolError(w http.ResponseWriter, id json.RawMessage, err error) {
	if toolErr, ok := err.(*tools.ToolError); ok {
		code, message, data := toolErr.ToJSONRPCError()
		s.sendError(w, id, code, message, data)
		return
	}
	s.sendError(w, id, InternalError, err.Error())
}

// handleMCPGet handles GET /mcp (SSE push stream). An optional
// resource_uri query parameter subscribes the stream to that resource's
// notifications; omitting it leaves the connection open without a live
// subscription, matching a client that only wants the response channel
// for a later POST.
func (s *MCPServer) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	transportSession, err := s.sessionMgr.GetSession(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	stream, err := notify.NewSSEWriter(r.Context(), w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	if resourceURI := r.URL.Query().Get("resource_uri"); resourceURI != "" {
		s.hub.Subscribe(sessionID, transportSession.Auth.AgentID, resourceURI, stream.Deliver)
		defer s.hub.Unsubscribe(sessionID, resourceURI)
	}

	log.Info().Str("sessionId", sessionID).Msg("SSE stream established")
	<-stream.Done()
	log.Info().Str("sessionId", sessionID).Msg("SSE stream closed")
}

// handleMCPDelete handles DELETE /mcp (close session).
func (s *MCPServer) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing session ID", http.StatusBadRequest)
		return
	}

	s.sessionMgr.DeleteSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// validateOrigin checks if the request Origin header is allowed, guarding
// against DNS rebinding per the MCP Streamable HTTP transport spec.
func (s *MCPServer) validateOrigin(r *http.Request) bool {
	if s.cfg.IsDev() {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // server-to-server and CLI clients send no Origin header
	}

	log.Debug().Str("origin", origin).Msg("accepting request (no origin allowlist configured)")
	return true
}

func (s *MCPServer) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data ...json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors are still HTTP 200

	errObj := &JSONRPCError{Code: code, Message: message}
	if len(data) > 0 && data[0] != nil {
		errObj.Data = data[0]
	}

	response := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: errObj}
	json.NewEncoder(w).Encode(response)
}

func (s *MCPServer) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	response := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: mustMarshal(result)}
	json.NewEncoder(w).Encode(response)
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
