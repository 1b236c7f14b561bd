package audit

import (
	"context"
	"os"
	"testing"
	"time"

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

func TestRecordAndFlush_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	l := NewLog(st, 2, 50*time.Millisecond)
	defer l.Close()

	l.Record("session_created", "agent1", "session_auditabc0000001", map[string]any{"purpose": "test"})
	time.Sleep(150 * time.Millisecond)

	entries, err := l.Query(context.Background(), QueryFilter{AgentID: "agent1", Limit: 10})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	found := false
	for _, e := range entries {
		if e.EventType == "session_created" && e.SessionID == "session_auditabc0000001" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected flushed entry to be queryable, got %+v", entries)
	}
}
