package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sharedcontext/server/internal/authctx"
)

func withAgent(r *http.Request, agentID string) *http.Request {
	ac := authctx.AuthContext{AgentID: agentID, Authenticated: true, Permissions: []string{"read"}}
	return r.WithContext(authctx.WithAuthContext(r.Context(), ac))
}

func TestTokenBucket_AllowsBurstThenBlocks(t *testing.T) {
	tb := NewTokenBucket(2, 1.0)

	for i := 0; i < 2; i++ {
		allowed, _, _, _ := tb.Allow()
		if !allowed {
			t.Fatalf("request %d: expected allowed within burst capacity", i)
		}
	}

	allowed, remaining, _, _ := tb.Allow()
	if allowed {
		t.Fatal("expected 3rd request to be blocked once burst is exhausted")
	}
	if remaining != 0 {
		t.Errorf("expected remaining=0 when blocked, got %d", remaining)
	}
}

func TestRateLimiter_PerAgentBuckets(t *testing.T) {
	rl := NewRateLimiter(RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2})

	for i := 0; i < 2; i++ {
		if allowed, _, _, _ := rl.Allow("agent-a"); !allowed {
			t.Fatalf("agent-a request %d should be within burst", i)
		}
	}
	if allowed, _, _, _ := rl.Allow("agent-a"); allowed {
		t.Fatal("expected agent-a to be rate limited after exhausting burst")
	}

	// A different agent has its own bucket and is unaffected.
	if allowed, _, _, _ := rl.Allow("agent-b"); !allowed {
		t.Fatal("expected agent-b to have its own independent bucket")
	}
}

func TestRateLimitMiddleware_SetsHeadersAndBlocks(t *testing.T) {
	cfg := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 2}
	handler := RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 1; i <= 3; i++ {
		req := withAgent(httptest.NewRequest("GET", "/v1/metrics", nil), "agent-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code

		if rec.Header().Get("X-RateLimit-Limit") != strconv.Itoa(cfg.MaxRequests) {
			t.Errorf("request %d: missing or wrong X-RateLimit-Limit header", i)
		}

		if i <= 2 && rec.Code == http.StatusTooManyRequests {
			t.Errorf("request %d: expected success within burst, got 429", i)
		}
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("expected 3rd request to be rate limited, got %d", lastCode)
	}
}

func TestRateLimitMiddleware_UnauthenticatedSkipsLimiting(t *testing.T) {
	cfg := RateLimitInfo{WindowSeconds: 60, MaxRequests: 10, Burst: 1}
	handler := RateLimitMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/metrics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unauthenticated request %d should bypass rate limiting, got %d", i, rec.Code)
		}
	}
}
