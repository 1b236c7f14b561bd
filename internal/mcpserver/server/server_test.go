package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sharedcontext/server/internal/config"
	"github.com/sharedcontext/server/internal/mcpserver/tools"
	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/token"
)

const testSigningKey = "test-signing-key-0123456789abcdef"
const testEncryptionKey = "test-encryption-key-0123456789abcdef"

// innerClaims mirrors token.Claims's wire shape (the "type" and "perms"
// claims plus the registered claims); the test keeps its own copy rather
// than importing token.Claims.
type innerClaims struct {
	Type  string   `json:"type"`
	Perms []string `json:"perms"`
	jwt.RegisteredClaims
}

// signTestJWT builds a bare HS256 JWT that Service.Resolve will accept
// without touching the database (Resolve only queries secure_tokens for the
// sct_-prefixed opaque form).
func signTestJWT(t *testing.T, subject, agentType string, perms []string) string {
	t.Helper()
	now := time.Now()
	claims := innerClaims{
		Type:  agentType,
		Perms: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			Issuer:    "shared-context-server",
			Audience:  jwt.ClaimStrings{"mcp-agents"},
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("failed to sign test JWT: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T) *MCPServer {
	t.Helper()
	tokenSvc, err := token.NewService(nil, token.Config{
		SigningKey:    testSigningKey,
		EncryptionKey: testEncryptionKey,
	})
	if err != nil {
		t.Fatalf("failed to build token service: %v", err)
	}
	cfg := &config.Config{WSIdleTimeout: time.Hour, Env: "dev"}
	deps := &tools.Deps{Tokens: tokenSvc, Hub: notify.NewHub()}
	return NewMCPServer(cfg, deps)
}

func TestMCPServer_Initialize(t *testing.T) {
	srv := newTestServer(t)
	jwtStr := signTestJWT(t, "agent-1", "claude", []string{"read", "write"})

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
		},
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "2025-03-26")

	w := httptest.NewRecorder()
	srv.handleMCPPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Error("expected Mcp-Session-Id header, got empty")
	}

	var response JSONRPCResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Error != nil {
		t.Fatalf("expected no error, got: %s", response.Error.Message)
	}

	var result map[string]any
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if _, ok := result["capabilities"]; !ok {
		t.Error("response missing capabilities")
	}
}

func TestMCPServer_MissingSessionID(t *testing.T) {
	srv := newTestServer(t)
	jwtStr := signTestJWT(t, "agent-1", "claude", []string{"read"})

	reqBody := map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list", "params": map[string]any{}}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "2025-03-26")
	// deliberately no Mcp-Session-Id header

	w := httptest.NewRecorder()
	srv.handleMCPPost(w, req)

	var response JSONRPCResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Error == nil {
		t.Fatal("expected error for missing session ID")
	}
	if response.Error.Code != InvalidRequest {
		t.Errorf("expected error code %d, got %d", InvalidRequest, response.Error.Code)
	}
}

// An unresolvable bearer token yields Unauthenticated, not a transport
// error: permission checks happen in the tool handlers, not here.
func TestMCPServer_InvalidToken_StillInitializes(t *testing.T) {
	srv := newTestServer(t)

	reqBody := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{}}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "2025-03-26")

	w := httptest.NewRecorder()
	srv.handleMCPPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Mcp-Session-Id") == "" {
		t.Error("expected a transport session to still be created")
	}
}

func TestMCPServer_DeleteSession(t *testing.T) {
	srv := newTestServer(t)
	session := srv.sessionMgr.CreateSession(testAuthContext("agent-1"))

	req := httptest.NewRequest("DELETE", "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", session.ID)

	w := httptest.NewRecorder()
	srv.handleMCPDelete(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", w.Code)
	}

	if _, err := srv.sessionMgr.GetSession(session.ID); err == nil {
		t.Error("expected session to be deleted")
	}
}

func TestMCPServer_UnsupportedProtocolVersion(t *testing.T) {
	srv := newTestServer(t)

	reqBody := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{}}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer fake-token")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "1.0.0")

	w := httptest.NewRecorder()
	srv.handleMCPPost(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestMCPServer_ToolsList(t *testing.T) {
	srv := newTestServer(t)
	jwtStr := signTestJWT(t, "agent-1", "claude", []string{"read", "write"})

	initReq := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": map[string]any{}}
	body, _ := json.Marshal(initReq)
	req := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "2025-03-26")

	w := httptest.NewRecorder()
	srv.handleMCPPost(w, req)
	sessionID := w.Header().Get("Mcp-Session-Id")

	toolsReq := map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list", "params": map[string]any{}}
	body, _ = json.Marshal(toolsReq)
	req = httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+jwtStr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Protocol-Version", "2025-03-26")
	req.Header.Set("Mcp-Session-Id", sessionID)

	w = httptest.NewRecorder()
	srv.handleMCPPost(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response JSONRPCResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Error != nil {
		t.Fatalf("expected no error, got: %s", response.Error.Message)
	}

	var result map[string]any
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	toolsList, ok := result["tools"].([]any)
	if !ok {
		t.Fatal("expected tools to be an array")
	}
	if len(toolsList) != 21 {
		t.Errorf("expected 21 registered tools, got %d", len(toolsList))
	}
}
