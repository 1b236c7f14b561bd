// Package audit implements the audit log: an append-only event stream
// keyed by (event_type, agent, session, timestamp), written through a
// small buffered batch writer so audit writes never block the
// originating operation's critical path for more than O(1) work. The
// buffering follows the ticker-driven background-flush idiom used for
// periodic cleanup elsewhere in this server.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/store"
)

// Entry is a single audit record.
type Entry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	AgentID   string         `json:"agent_id"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp float64        `json:"timestamp"`
}

// QueryFilter is admin-only queryAudit's parameter set.
type QueryFilter struct {
	AgentID   string
	SessionID string
	EventType string
	StartTs   float64
	EndTs     float64
	Limit     int
}

// Log buffers Record() calls and flushes them in small batched
// transactions.
type Log struct {
	st *store.Store

	mu      sync.Mutex
	pending []Entry

	batchSize     int
	flushInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewLog constructs a Log with the given batch size and flush cadence.
// Background flushing starts immediately; call Close to drain and stop.
func NewLog(st *store.Store, batchSize int, flushInterval time.Duration) *Log {
	if batchSize <= 0 {
		batchSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	l := &Log{
		st:            st,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Record appends a state-mutating event. It never touches the store
// directly: the caller's critical path only takes a mutex and appends to
// a slice.
func (l *Log) Record(eventType, agentID, sessionID string, metadata map[string]any) {
	l.mu.Lock()
	l.pending = append(l.pending, Entry{
		EventType: eventType,
		AgentID:   agentID,
		SessionID: sessionID,
		Metadata:  metadata,
		Timestamp: float64(time.Now().Unix()),
	})
	full := len(l.pending) >= l.batchSize
	l.mu.Unlock()

	if full {
		l.flush()
	}
}

func (l *Log) flushLoop() {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()
	defer close(l.done)

	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.stop:
			l.flush()
			return
		}
	}
}

func (l *Log) flush() {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = l.st.WithConnection(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, e := range batch {
			var sessionID any
			if e.SessionID != "" {
				sessionID = e.SessionID
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO audit_log (event_type, agent_id, session_id, metadata, timestamp)
				 VALUES ($1, $2, $3, $4, $5)`,
				e.EventType, e.AgentID, sessionID, metadataJSON(e.Metadata), e.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the background flush loop after draining any pending
// entries.
func (l *Log) Close() {
	close(l.stop)
	<-l.done
}

// Query implements admin-only queryAudit. Limit is clamped to 1000.
func (l *Log) Query(ctx context.Context, f QueryFilter) ([]Entry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 1000
	}

	sql := `SELECT id, event_type, agent_id, COALESCE(session_id, ''), metadata, timestamp
	        FROM audit_log WHERE 1=1`
	params := map[string]any{"limit": f.Limit}

	if f.AgentID != "" {
		sql += ` AND agent_id = :agent_id`
		params["agent_id"] = f.AgentID
	}
	if f.SessionID != "" {
		sql += ` AND session_id = :session_id`
		params["session_id"] = f.SessionID
	}
	if f.EventType != "" {
		sql += ` AND event_type = :event_type`
		params["event_type"] = f.EventType
	}
	if f.StartTs > 0 {
		sql += ` AND timestamp >= :start_ts`
		params["start_ts"] = f.StartTs
	}
	if f.EndTs > 0 {
		sql += ` AND timestamp <= :end_ts`
		params["end_ts"] = f.EndTs
	}
	sql += ` ORDER BY timestamp DESC LIMIT :limit`

	var entries []Entry
	err := l.st.ExecuteQuery(ctx, sql, params, func(rows pgx.Rows) error {
		for rows.Next() {
			var e Entry
			var metaRaw []byte
			if err := rows.Scan(&e.ID, &e.EventType, &e.AgentID, &e.SessionID, &metaRaw, &e.Timestamp); err != nil {
				return err
			}
			e.Metadata = unmarshalMetadata(metaRaw)
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}
