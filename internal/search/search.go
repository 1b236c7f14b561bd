// Package search implements the full-text search engine: a SQL-scoped
// candidate prefilter followed by a token-aware, Levenshtein-derived
// fuzzy ranking, with hot read paths cached via hashicorp/golang-lru/v2.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"

	"github.com/sharedcontext/server/internal/audit"
	"github.com/sharedcontext/server/internal/message"
	"github.com/sharedcontext/server/internal/store"
)

// Scope restricts a search to a visibility class before the canonical
// visibility rule is applied.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopePublic  Scope = "public"
	ScopePrivate Scope = "private"
)

// Options parameterizes searchContext.
type Options struct {
	FuzzyThreshold     int
	Limit              int
	SearchMetadata     bool
	SearchScope        Scope
	RecencyWindowHours int
	MaxRowsScanned     int
}

// DefaultOptions returns the documented default search parameters.
func DefaultOptions() Options {
	return Options{
		FuzzyThreshold:     60,
		Limit:              10,
		SearchMetadata:     true,
		SearchScope:        ScopeAll,
		RecencyWindowHours: 24,
		MaxRowsScanned:     1000,
	}
}

// Relevance buckets a result's score into a coarse human-readable label.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

func relevanceOf(score int) Relevance {
	switch {
	case score >= 80:
		return RelevanceHigh
	case score >= 60:
		return RelevanceMedium
	default:
		return RelevanceLow
	}
}

// Result is a single ranked search hit.
type Result struct {
	Message      message.Message `json:"message"`
	Score        int             `json:"score"`
	MatchPreview string          `json:"match_preview"`
	Relevance    Relevance       `json:"relevance"`
}

// candidateCacheTTL bounds how long a candidate row set is reused across
// identical (session, scope, recency window) searches arriving in quick
// succession — searchContext still rescans when the cache misses or
// expires, so correctness never depends on the cache being warm.
const candidateCacheTTL = 2 * time.Second

type cachedCandidates struct {
	rows      []candidateRow
	expiresAt time.Time
}

type candidateRow struct {
	msg        message.Message
	searchable string
}

// Engine implements searchContext/searchBySender/searchByTimerange.
type Engine struct {
	st    *store.Store
	audit *audit.Log
	cache *lru.Cache[string, cachedCandidates]
}

// NewEngine constructs an Engine with a bounded candidate-set cache.
func NewEngine(st *store.Store, auditLog *audit.Log) *Engine {
	cache, _ := lru.New[string, cachedCandidates](128)
	return &Engine{st: st, audit: auditLog, cache: cache}
}

// SearchContext implements searchContext.
func (e *Engine) SearchContext(ctx context.Context, sessionID, query, callerAgentID string, callerPermissions []string, callerAgentType string, opts Options) ([]Result, error) {
	opts = withDefaults(opts)

	rows, err := e.candidates(ctx, sessionID, callerAgentID, callerPermissions, callerAgentType, opts)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		score := weightedRatio(q, row.searchable)
		if score < opts.FuzzyThreshold {
			continue
		}
		results = append(results, Result{
			Message:      row.msg,
			Score:        score,
			MatchPreview: preview(row.msg.Content),
			Relevance:    relevanceOf(score),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	e.audit.Record("context_searched", callerAgentID, sessionID, map[string]any{
		"query": query, "result_count": len(results), "threshold": opts.FuzzyThreshold, "scope": string(opts.SearchScope),
	})

	return results, nil
}

// SearchBySender implements searchBySender: every visible message from
// senderID in the session, most recent first.
func (e *Engine) SearchBySender(ctx context.Context, sessionID, senderID, callerAgentID string, callerPermissions []string, callerAgentType string, limit int) ([]message.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	sql := visibilitySQL("sender = :sender_filter") + ` ORDER BY timestamp DESC, id DESC LIMIT :limit`
	return e.scanMessages(ctx, sql, map[string]any{
		"session_id": sessionID, "caller_agent_id": callerAgentID, "caller_agent_type": callerAgentType,
		"is_admin": hasAdmin(callerPermissions), "sender_filter": senderID, "limit": limit,
	})
}

// SearchByTimerange implements searchByTimerange over [startTs, endTs].
func (e *Engine) SearchByTimerange(ctx context.Context, sessionID string, startTs, endTs float64, callerAgentID string, callerPermissions []string, callerAgentType string, limit int) ([]message.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	sql := visibilitySQL("timestamp >= :start_ts AND timestamp <= :end_ts") + ` ORDER BY timestamp ASC, id ASC LIMIT :limit`
	return e.scanMessages(ctx, sql, map[string]any{
		"session_id": sessionID, "caller_agent_id": callerAgentID, "caller_agent_type": callerAgentType,
		"is_admin": hasAdmin(callerPermissions), "start_ts": startTs, "end_ts": endTs, "limit": limit,
	})
}

func visibilitySQL(extra string) string {
	sql := `SELECT id, session_id, sender, sender_type, content, visibility, message_type, metadata, timestamp, parent_message_id
	        FROM messages WHERE session_id = :session_id AND (
	            visibility = 'public'
	            OR (visibility = 'private' AND sender = :caller_agent_id)
	            OR (visibility = 'agent_only' AND sender_type = :caller_agent_type)
	            OR (visibility = 'admin_only' AND :is_admin)
	        )`
	if extra != "" {
		sql += " AND " + extra
	}
	return sql
}

func (e *Engine) scanMessages(ctx context.Context, sql string, params map[string]any) ([]message.Message, error) {
	var msgs []message.Message
	err := e.st.ExecuteQuery(ctx, sql, params, func(rows pgx.Rows) error {
		for rows.Next() {
			var m message.Message
			var metaRaw []byte
			var parentID *int64
			if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.SenderType, &m.Content, &m.Visibility, &m.MessageType, &metaRaw, &m.Timestamp, &parentID); err != nil {
				return err
			}
			_ = json.Unmarshal(metaRaw, &m.Metadata)
			m.ParentMessageID = parentID
			msgs = append(msgs, m)
		}
		return nil
	})
	return msgs, err
}

func (e *Engine) candidates(ctx context.Context, sessionID, callerAgentID string, callerPermissions []string, callerAgentType string, opts Options) ([]candidateRow, error) {
	cacheKey := fmt.Sprintf("%s|%s|%s|%v|%d|%d", sessionID, callerAgentID, callerAgentType, opts.SearchScope, opts.RecencyWindowHours, opts.MaxRowsScanned)
	if e.cache != nil {
		if c, ok := e.cache.Get(cacheKey); ok && time.Now().Before(c.expiresAt) {
			return c.rows, nil
		}
	}

	cutoff := float64(time.Now().Add(-time.Duration(opts.RecencyWindowHours) * time.Hour).Unix())

	sql := visibilitySQL("timestamp >= :cutoff")
	if opts.SearchScope == ScopePublic {
		sql += ` AND visibility = 'public'`
	} else if opts.SearchScope == ScopePrivate {
		sql += ` AND visibility = 'private'`
	}
	sql += ` ORDER BY timestamp DESC LIMIT :max_rows`

	msgs, err := e.scanMessages(ctx, sql, map[string]any{
		"session_id": sessionID, "caller_agent_id": callerAgentID, "caller_agent_type": callerAgentType,
		"is_admin": hasAdmin(callerPermissions), "cutoff": cutoff, "max_rows": opts.MaxRowsScanned,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]candidateRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, candidateRow{msg: m, searchable: searchableString(m, opts.SearchMetadata)})
	}

	if e.cache != nil {
		e.cache.Add(cacheKey, cachedCandidates{rows: rows, expiresAt: time.Now().Add(candidateCacheTTL)})
	}
	return rows, nil
}

func searchableString(m message.Message, includeMetadata bool) string {
	var b strings.Builder
	b.WriteString(m.Sender)
	b.WriteByte(' ')
	b.WriteString(m.Content)
	if includeMetadata {
		for _, v := range m.Metadata {
			if s, ok := v.(string); ok {
				b.WriteByte(' ')
				b.WriteString(s)
			}
		}
	}
	return strings.ToLower(b.String())
}

func preview(content string) string {
	const max = 150
	r := []rune(content)
	if len(r) <= max {
		return content
	}
	return string(r[:max]) + "..."
}

func hasAdmin(perms []string) bool {
	for _, p := range perms {
		if p == "admin" {
			return true
		}
	}
	return false
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.FuzzyThreshold == 0 {
		o.FuzzyThreshold = d.FuzzyThreshold
	}
	if o.Limit == 0 {
		o.Limit = d.Limit
	}
	if o.SearchScope == "" {
		o.SearchScope = d.SearchScope
	}
	if o.RecencyWindowHours == 0 {
		o.RecencyWindowHours = d.RecencyWindowHours
	}
	if o.MaxRowsScanned == 0 {
		o.MaxRowsScanned = d.MaxRowsScanned
	}
	return o
}

// ratio converts a Levenshtein edit distance into a [0,100] similarity
// score: identical strings score 100, completely disjoint strings of
// length N score near 0.
func ratio(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	score := 100 * (1 - float64(dist)/float64(maxLen))
	if score < 0 {
		score = 0
	}
	return int(score)
}

// tokenSortRatio reorders both strings' whitespace-delimited tokens
// alphabetically before scoring, making the result invariant to token
// order.
func tokenSortRatio(a, b string) int {
	return ratio(sortedTokenString(a), sortedTokenString(b))
}

func sortedTokenString(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// partialRatio scores the best-aligning substring of the longer string
// against the shorter one, so a short candidate embedded in a longer
// query (or vice versa) still scores as a near-match instead of being
// penalized for the length difference. The window count is capped so a
// long candidate stays bounded cost.
func partialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		if len(long) == 0 {
			return 100
		}
		return 0
	}
	if len(short) == len(long) {
		return ratio(string(short), string(long))
	}

	windows := len(long) - len(short) + 1
	const maxWindows = 64
	stride := 1
	if windows > maxWindows {
		stride = windows / maxWindows
	}

	best := 0
	for start := 0; start < windows; start += stride {
		score := ratio(string(short), string(long[start:start+len(short)]))
		if score > best {
			best = score
		}
		if best == 100 {
			break
		}
	}
	return best
}

// tokenSets builds the three rapidfuzz-style token-set strings out of a's
// and b's whitespace-delimited, sorted tokens: t0 is their intersection,
// t1 is the intersection plus a's leftover tokens, t2 is the intersection
// plus b's leftover tokens. A query that is a superset of a candidate's
// tokens collapses to t0 == candidate, so it scores as a near-exact match
// against t0 regardless of extra query words.
func tokenSets(a, b string) (t0, t1, t2 string) {
	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)

	bSet := make(map[string]int, len(bTokens))
	for _, t := range bTokens {
		bSet[t]++
	}

	var intersection, aOnly []string
	seen := make(map[string]bool, len(aTokens))
	for _, t := range aTokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		if bSet[t] > 0 {
			intersection = append(intersection, t)
		} else {
			aOnly = append(aOnly, t)
		}
	}

	var bOnly []string
	aSet := make(map[string]bool, len(aTokens))
	for _, t := range aTokens {
		aSet[t] = true
	}
	seenB := make(map[string]bool, len(bTokens))
	for _, t := range bTokens {
		if seenB[t] || aSet[t] {
			continue
		}
		seenB[t] = true
		bOnly = append(bOnly, t)
	}

	sort.Strings(intersection)
	sort.Strings(aOnly)
	sort.Strings(bOnly)

	t0 = strings.Join(intersection, " ")
	t1 = strings.TrimSpace(t0 + " " + strings.Join(aOnly, " "))
	t2 = strings.TrimSpace(t0 + " " + strings.Join(bOnly, " "))
	return t0, t1, t2
}

// tokenSetRatio scores the best pairing among a/b's intersection and
// intersection-plus-difference constructions, so extra tokens on either
// side no longer drag down a match on the tokens they share.
func tokenSetRatio(a, b string) int {
	t0, t1, t2 := tokenSets(a, b)
	best := ratio(t0, t1)
	if r := ratio(t0, t2); r > best {
		best = r
	}
	if r := ratio(t1, t2); r > best {
		best = r
	}
	return best
}

// partialTokenSetRatio applies partialRatio across the same token-set
// constructions, catching the case where the shared tokens are an exact
// substring match but carry extra surrounding words on both sides.
func partialTokenSetRatio(a, b string) int {
	t0, t1, t2 := tokenSets(a, b)
	best := partialRatio(t0, t1)
	if r := partialRatio(t0, t2); r > best {
		best = r
	}
	if r := partialRatio(t1, t2); r > best {
		best = r
	}
	return best
}

// weightedRatio takes the best of several scoring strategies — plain,
// token-sorted, token-set, partial, and partial-token-set — the same
// blend rapidfuzz's WRatio uses so a query that is a reordered subset or
// superset of a candidate's tokens still scores as a strong match.
func weightedRatio(query, candidate string) int {
	best := ratio(query, candidate)
	if r := tokenSortRatio(query, candidate); r > best {
		best = r
	}
	if r := tokenSetRatio(query, candidate); r > best {
		best = r
	}
	if r := partialRatio(query, candidate); r > best {
		best = r
	}
	if r := partialTokenSetRatio(query, candidate); r > best {
		best = r
	}
	return best
}
