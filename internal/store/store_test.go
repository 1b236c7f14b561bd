package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestRewriteNamedParams(t *testing.T) {
	sql, args, err := rewrite(
		"SELECT * FROM messages WHERE session_id = :sid AND sender = :sender OR sender = :sender",
		map[string]any{"sid": "session_abc", "sender": "agent1"},
	)
	if err != nil {
		t.Fatalf("rewrite() error = %v", err)
	}
	want := "SELECT * FROM messages WHERE session_id = $1 AND sender = $2 OR sender = $2"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 2 || args[0] != "session_abc" || args[1] != "agent1" {
		t.Errorf("args = %v", args)
	}
}

func TestRewriteMissingParamIsProgrammerError(t *testing.T) {
	_, _, err := rewrite("SELECT * FROM x WHERE id = :id", map[string]any{})
	if !errors.Is(err, ErrProgrammer) {
		t.Fatalf("expected ErrProgrammer, got %v", err)
	}
}

func TestRewriteNoParams(t *testing.T) {
	sql, args, err := rewrite("SELECT 1", nil)
	if err != nil || sql != "SELECT 1" || args != nil {
		t.Fatalf("rewrite(nil) = %q, %v, %v", sql, args, err)
	}
}

// getTestStore connects to TEST_DATABASE_URL, skipping when unset or in
// short mode.
func getTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	s, err := Open(context.Background(), url, DefaultConfig())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestHealthCheck_Integration(t *testing.T) {
	s := getTestStore(t)
	defer s.Close()

	res := s.HealthCheck(context.Background())
	if !res.OK {
		t.Fatalf("HealthCheck() not ok")
	}
}

func TestExecuteUpdateAndQuery_Integration(t *testing.T) {
	s := getTestStore(t)
	defer s.Close()

	ctx := context.Background()
	_, err := s.ExecuteUpdate(ctx, `DELETE FROM sessions WHERE id = :id`, map[string]any{"id": "session_teststoreabc1"})
	if err != nil {
		t.Fatalf("ExecuteUpdate(cleanup) error = %v", err)
	}

	_, err = s.ExecuteUpdate(ctx,
		`INSERT INTO sessions (id, purpose, created_by) VALUES (:id, :purpose, :created_by)`,
		map[string]any{"id": "session_teststoreabc1", "purpose": "test", "created_by": "agent1"})
	if err != nil {
		t.Fatalf("ExecuteUpdate(insert) error = %v", err)
	}

	var purpose string
	err = s.ExecuteQuery(ctx, `SELECT purpose FROM sessions WHERE id = :id`,
		map[string]any{"id": "session_teststoreabc1"}, func(rows pgx.Rows) error {
			for rows.Next() {
				if err := rows.Scan(&purpose); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if purpose != "test" {
		t.Errorf("purpose = %q, want %q", purpose, "test")
	}
}
