package memory

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/store"
)

func getTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	s, err := store.Open(context.Background(), url, store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	return s
}

func TestScopeOf(t *testing.T) {
	if scopeOf("") != globalScope {
		t.Errorf("scopeOf(\"\") = %q, want global scope", scopeOf(""))
	}
	if scopeOf("session_abc") != "session_abc" {
		t.Errorf("scopeOf(session) mismatch")
	}
}

func TestSetGetDeleteAndOverwrite_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()

	m := NewStore(st, auditLog)
	agent := "agent-memtest"

	if _, err := m.Set(context.Background(), agent, "", "k1", "v1", nil, nil, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	entry, err := m.Get(context.Background(), agent, "", "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Value != `"v1"` {
		t.Errorf("Get() value = %q, want %q", entry.Value, `"v1"`)
	}

	_, err = m.Set(context.Background(), agent, "", "k1", "v2", nil, nil, false)
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("Set() overwrite=false expected ErrKeyExists, got %v", err)
	}

	if err := m.Delete(context.Background(), agent, "", "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := m.Get(context.Background(), agent, "", "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete expected ErrNotFound, got %v", err)
	}
}

func TestTTLExpiry_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()

	m := NewStore(st, auditLog)
	agent := "agent-ttltest"
	ttl := int64(1)

	if _, err := m.Set(context.Background(), agent, "", "k", 1, &ttl, nil, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(2 * time.Second)

	if _, err := m.Get(context.Background(), agent, "", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after TTL expiry expected ErrNotFound, got %v", err)
	}
}

func TestCrossAgentIsolation_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()

	m := NewStore(st, auditLog)

	if _, err := m.Set(context.Background(), "agentA", "", "shared", 1, nil, nil, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(context.Background(), "agentB", "", "shared"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() cross-agent expected ErrNotFound, got %v", err)
	}
}
