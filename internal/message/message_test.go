package message

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sharedcontext/server/internal/audit"
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

type alwaysExists struct{}

func (alwaysExists) Exists(ctx context.Context, sessionID string) (bool, error) { return true, nil }

func TestVisibilityValid(t *testing.T) {
	cases := map[Visibility]bool{
		VisibilityPublic:    true,
		VisibilityPrivate:   true,
		VisibilityAgentOnly: true,
		VisibilityAdminOnly: true,
		Visibility("bogus"): false,
	}
	for v, want := range cases {
		if got := v.valid(); got != want {
			t.Errorf("Visibility(%q).valid() = %v, want %v", v, got, want)
		}
	}
}

func TestAddAndGetMessages_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()
	hub := notify.NewHub()

	sessionID := "session_msgtest00000001"
	_, _ = st.ExecuteUpdate(context.Background(), `
		INSERT INTO sessions (id, purpose, created_by, metadata, is_active, created_at, updated_at)
		VALUES (:id, 'test', 'agent1', '{}', true, :now, :now)
		ON CONFLICT (id) DO NOTHING`,
		map[string]any{"id": sessionID, "now": float64(time.Now().Unix())})

	l := NewLog(st, auditLog, hub)
	l.SetSessions(alwaysExists{})

	_, err := l.Add(context.Background(), sessionID, "agent1", "worker", "hello world", VisibilityPublic, nil, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	_, err = l.Add(context.Background(), sessionID, "agent2", "worker", "secret", VisibilityPrivate, nil, nil)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	msgs, err := l.GetMessages(context.Background(), sessionID, "agent1", []string{"read"}, 100, 0)
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	for _, m := range msgs {
		if m.Visibility == VisibilityPrivate && m.Sender != "agent1" {
			t.Errorf("GetMessages() leaked private message from %s to agent1", m.Sender)
		}
	}
}
