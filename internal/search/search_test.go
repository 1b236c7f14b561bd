package search

import (
	"context"
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

func TestRatio_IdenticalScoresMax(t *testing.T) {
	if got := ratio("hello world", "hello world"); got != 100 {
		t.Errorf("ratio(identical) = %d, want 100", got)
	}
}

func TestRatio_Symmetric(t *testing.T) {
	a, b := "the quick brown fox", "quick brown the fox hops"
	if got1, got2 := tokenSortRatio(a, b), tokenSortRatio(b, a); got1 != got2 {
		t.Errorf("tokenSortRatio not symmetric: %d vs %d", got1, got2)
	}
}

func TestRelevanceOf(t *testing.T) {
	cases := map[int]Relevance{90: RelevanceHigh, 80: RelevanceHigh, 70: RelevanceMedium, 60: RelevanceMedium, 10: RelevanceLow}
	for score, want := range cases {
		if got := relevanceOf(score); got != want {
			t.Errorf("relevanceOf(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestPreview_TruncatesLongContent(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	p := preview(string(long))
	if len(p) == 200 {
		t.Errorf("preview() did not truncate")
	}
}

func TestFuzzySearch_Integration(t *testing.T) {
	st := getTestStore(t)
	defer st.Close()

	auditLog := audit.NewLog(st, 1, 20*time.Millisecond)
	defer auditLog.Close()

	sessionID := "session_searchtest0001"
	now := float64(time.Now().Unix())
	_, _ = st.ExecuteUpdate(context.Background(), `
		INSERT INTO sessions (id, purpose, created_by, metadata, is_active, created_at, updated_at)
		VALUES (:id, 'test', 'agent1', '{}', true, :now, :now)
		ON CONFLICT (id) DO NOTHING`,
		map[string]any{"id": sessionID, "now": now})

	seed := []string{
		"the quick brown fox",
		"python async await",
		"FastMCP server",
		"agent memory TTL",
		"fuzzy search perf",
	}
	for _, content := range seed {
		_, _ = st.ExecuteUpdate(context.Background(), `
			INSERT INTO messages (session_id, sender, sender_type, content, visibility, message_type, metadata, timestamp)
			VALUES (:session_id, 'agent1', 'worker', :content, 'public', 'message', '{}', :ts)`,
			map[string]any{"session_id": sessionID, "content": content, "ts": now})
	}

	e := NewEngine(st, auditLog)
	results, err := e.SearchContext(context.Background(), sessionID, "fuzzy search performance", "agent1", []string{"read"}, "worker", Options{FuzzyThreshold: 60, Limit: 5})
	if err != nil {
		t.Fatalf("SearchContext() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("SearchContext() returned no results")
	}

	top := results[0]
	if top.Message.Content != "fuzzy search perf" {
		t.Errorf("SearchContext() top result = %q, want %q", top.Message.Content, "fuzzy search perf")
	}
	if top.Score < 80 {
		t.Errorf("SearchContext() top score = %d, want >= 80", top.Score)
	}
	if top.Relevance != RelevanceHigh {
		t.Errorf("SearchContext() top relevance = %q, want %q", top.Relevance, RelevanceHigh)
	}

	for _, r := range results {
		if r.Score < 60 {
			t.Errorf("SearchContext() returned result below threshold: %+v", r)
		}
	}
}
