// Package store implements the Store contract: a single pooled handle to
// the relational backend, named-parameter rewriting, and the
// transient/fatal/programmer error taxonomy the rest of the server relies
// on for retry decisions.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Failure-class sentinels. Callers switch on errors.Is.
var (
	// ErrPoolTimeout is returned when connection acquisition blocks past
	// its deadline.
	ErrPoolTimeout = errors.New("store: pool acquisition timed out")
	// ErrTransient wraps driver errors a caller may retry with backoff.
	ErrTransient = errors.New("store: transient error")
	// ErrFatal wraps schema/permission failures. Never retried.
	ErrFatal = errors.New("store: fatal error")
	// ErrProgrammer wraps parameter-type or placeholder-count mismatches.
	// Never retried; indicates a bug in the caller.
	ErrProgrammer = errors.New("store: programmer error")
)

// Store wraps a pgxpool.Pool with named-parameter rewriting and the
// failure-class translation callers rely on for retry decisions.
type Store struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// Config tunes the underlying pool, parameterized so the server's config
// package can drive pool_min/pool_max from the environment.
type Config struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AcquireTimeout    time.Duration
}

// DefaultConfig returns hand-tuned pool settings for a single-writer
// SQL backend under moderate concurrent load.
func DefaultConfig() Config {
	return Config{
		MaxConns:          50,
		MinConns:          5,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		AcquireTimeout:    5 * time.Second,
	}
}

// Open creates a new pooled Store, verifying connectivity before returning.
func Open(ctx context.Context, url string, cfg Config) (*Store, error) {
	pgCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	pgCfg.MaxConns = cfg.MaxConns
	pgCfg.MinConns = cfg.MinConns
	pgCfg.MaxConnLifetime = cfg.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pgCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}

	log.Info().
		Int32("max_conns", pgCfg.MaxConns).
		Int32("min_conns", pgCfg.MinConns).
		Msg("postgres connection pool created")

	return &Store{pool: pool, acquireTimeout: cfg.AcquireTimeout}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the raw pgxpool for packages that need driver-level access
// (e.g. LISTEN/NOTIFY in a future extension). Prefer WithConnection,
// ExecuteQuery, and ExecuteUpdate elsewhere.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// namedParam matches `:name` tokens so they can be rewritten to pgx's
// positional `$N` placeholders.
var namedParam = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// rewrite translates a SQL string using named (`:name`) placeholders into
// pgx's `$N` form, returning the positional argument slice in the order
// pgx expects; a repeated name reuses its first `$N`. A `?` is not treated
// as a placeholder and passes through unchanged. This is the Store's placeholder
// translation contract: callers always pass named params; drivers that
// want positional placeholders (like pgx) get them transparently.
func rewrite(sql string, named map[string]any) (string, []any, error) {
	if named == nil {
		return sql, nil, nil
	}

	var args []any
	seen := make(map[string]int)
	missing := map[string]bool{}

	out := namedParam.ReplaceAllStringFunc(sql, func(tok string) string {
		name := tok[1:]
		if idx, ok := seen[name]; ok {
			return fmt.Sprintf("$%d", idx)
		}
		v, ok := named[name]
		if !ok {
			missing[name] = true
			return tok
		}
		args = append(args, v)
		idx := len(args)
		seen[name] = idx
		return fmt.Sprintf("$%d", idx)
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		return "", nil, fmt.Errorf("%w: missing named parameter(s) %v", ErrProgrammer, names)
	}

	return out, args, nil
}

// classify maps a pgx/driver error onto the Store's failure taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrPoolTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "28", "42": // invalid_authorization_specification, syntax_error_or_access_rule_violation
			return fmt.Errorf("%w: %v", ErrFatal, err)
		case "08", "53", "57": // connection_exception, insufficient_resources, operator_intervention
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// WithConnection acquires a pooled connection, guaranteeing release on
// every exit path. fn's error (if any) determines whether the implicit
// transaction is committed or rolled back.
func (s *Store) WithConnection(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()

	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		return classify(err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify(err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Msg("rollback failed after handler error")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// ExecuteQuery runs a parameterized SELECT and hands each row to scan.
// sql uses named (`:name`) placeholders; raw string interpolation of
// caller values is never permitted by this contract.
func (s *Store) ExecuteQuery(ctx context.Context, sql string, named map[string]any, scan func(pgx.Rows) error) error {
	stmt, args, err := rewrite(sql, named)
	if err != nil {
		return err
	}

	return s.retry(ctx, func() error {
		rows, err := s.pool.Query(ctx, stmt, args...)
		if err != nil {
			return classify(err)
		}
		defer rows.Close()

		if err := scan(rows); err != nil {
			return err
		}
		return classify(rows.Err())
	})
}

// ExecuteUpdate runs a parameterized INSERT/UPDATE/DELETE, returning the
// number of affected rows. Statements whose RETURNING value the caller
// needs go through ExecuteUpdateReturning instead.
func (s *Store) ExecuteUpdate(ctx context.Context, sql string, named map[string]any) (affected int64, err error) {
	stmt, args, err := rewrite(sql, named)
	if err != nil {
		return 0, err
	}

	err = s.retry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, stmt, args...)
		if err != nil {
			return classify(err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// ExecuteUpdateReturning is ExecuteUpdate for statements with a RETURNING
// clause whose single value the caller wants scanned back (e.g. a
// monotonic message id).
func (s *Store) ExecuteUpdateReturning(ctx context.Context, sql string, named map[string]any, dest ...any) error {
	stmt, args, err := rewrite(sql, named)
	if err != nil {
		return err
	}

	return s.retry(ctx, func() error {
		return classify(s.pool.QueryRow(ctx, stmt, args...).Scan(dest...))
	})
}

// retry wraps fn in a transient-error backoff policy: up to 3 attempts
// with exponential backoff, never retrying ErrFatal or ErrProgrammer.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrFatal) || errors.Is(err, ErrProgrammer) || errors.Is(err, pgx.ErrNoRows) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// HealthCheckResult is the C1 healthCheck() response shape.
type HealthCheckResult struct {
	OK        bool  `json:"ok"`
	LatencyMs int64 `json:"latency_ms"`
}

// HealthCheck pings the pool and reports round-trip latency.
func (s *Store) HealthCheck(ctx context.Context) HealthCheckResult {
	start := time.Now()
	err := s.pool.Ping(ctx)
	latency := time.Since(start)
	return HealthCheckResult{
		OK:        err == nil,
		LatencyMs: latency.Milliseconds(),
	}
}
