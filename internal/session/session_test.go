package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/notify"
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

func TestNewSessionID_MatchesPattern(t *testing.T) {
	id, err := newSessionID()
	if err != nil {
		t.Fatalf("newSessionID() error = %v", err)
	}
	if len(id) != len("session_")+16 {
		t.Errorf("newSessionID() = %q, want session_+16 hex chars", id)
	}
}

func TestCreateGetSetActive_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()
	hub := notify.NewHub()
	msgs := message.NewLog(st, auditLog, hub)

	reg := NewRegistry(st, auditLog, msgs)
	msgs.SetSessions(reg)

	s, err := reg.Create(context.Background(), "agent1", "integration test", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !s.IsActive {
		t.Errorf("Create() session not active")
	}

	detail, err := reg.Get(context.Background(), s.ID, "agent1", []string{"read"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if detail.Session.ID != s.ID {
		t.Errorf("Get() session id = %q, want %q", detail.Session.ID, s.ID)
	}

	if err := reg.SetActive(context.Background(), s.ID, "admin1", false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	detail, err = reg.Get(context.Background(), s.ID, "agent1", []string{"read"})
	if err != nil {
		t.Fatalf("Get() after deactivate error = %v", err)
	}
	if detail.Session.IsActive {
		t.Errorf("Get() session still active after SetActive(false)")
	}
}

func TestGet_NotFound(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()
	hub := notify.NewHub()
	msgs := message.NewLog(st, auditLog, hub)
	reg := NewRegistry(st, auditLog, msgs)
	msgs.SetSessions(reg)

	_, err := reg.Get(context.Background(), "session_doesnotexist0", "agent1", []string{"read"})
	if err == nil {
		t.Errorf("Get() on missing session expected error, got nil")
	}
}
