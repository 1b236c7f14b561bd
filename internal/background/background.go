// Package background implements the periodic task scheduler: the memory
// TTL sweep and subscription reap cadences, plus the optional
// lock-heartbeat-expiry task. Batched audit writes are flushed by
// audit.Log's own loop, not here. Each task is a ticker loop
// selecting on a done channel, registered independently so tasks can be
// added or removed without touching the others.
package background

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sharedcontext/server/internal/notify"
	"github.com/sharedcontext/server/internal/store"
)

// LockReaper is satisfied by the session-lock table the MCP surface
// maintains for coordinate_session_work; background only needs to expire
// stale heartbeats, not acquire or release locks itself.
type LockReaper interface {
	ExpireStaleLocks(now time.Time) int
}

// Scheduler runs the two mandatory periodic tasks (and the optional
// third) as independent goroutines, none of which ever panics the
// process on a transient error.
type Scheduler struct {
	st  *store.Store
	hub *notify.Hub

	memorySweepInterval time.Duration
	subscriptionReapTTL time.Duration
	reapInterval        time.Duration

	locks LockReaper

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler. locks may be nil, in which case the
// optional lock-heartbeat-expiry task is skipped.
func New(st *store.Store, hub *notify.Hub, memorySweepInterval, subscriptionReapTTL time.Duration, locks LockReaper) *Scheduler {
	return &Scheduler{
		st:                  st,
		hub:                 hub,
		memorySweepInterval: memorySweepInterval,
		subscriptionReapTTL: subscriptionReapTTL,
		reapInterval:        time.Minute,
		locks:               locks,
		stop:                make(chan struct{}),
		done:                make(chan struct{}, 3),
	}
}

// Start launches the background goroutines. Stop must be called to
// release them.
func (s *Scheduler) Start() {
	go s.run("memory_sweep", s.memorySweepInterval, s.sweepMemory)
	go s.run("subscription_reap", s.reapInterval, s.reapSubscriptions)
	if s.locks != nil {
		go s.run("lock_heartbeat_expiry", 30*time.Second, s.expireLocks)
	}
}

// Stop signals every task loop to exit. It returns at once, without
// waiting for the loops to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) run(name string, interval time.Duration, task func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			task(ctx)
			cancel()
		case <-s.stop:
			return
		}
	}
}

// sweepMemory implements the memory TTL sweeper: DELETE FROM
// agent_memory WHERE expires_at < now, every memorySweepInterval.
func (s *Scheduler) sweepMemory(ctx context.Context) {
	affected, err := s.st.ExecuteUpdate(ctx,
		`DELETE FROM agent_memory WHERE expires_at IS NOT NULL AND expires_at < :now`,
		map[string]any{"now": float64(time.Now().Unix())})
	if err != nil {
		log.Error().Err(err).Msg("background: memory sweep failed")
		return
	}
	if affected > 0 {
		log.Debug().Int64("rows", affected).Msg("background: memory sweep")
	}
}

// reapSubscriptions implements the subscription reaper: evict
// subscribers whose lastSeen exceeds the idle timeout.
func (s *Scheduler) reapSubscriptions(ctx context.Context) {
	n := s.hub.Reap(s.subscriptionReapTTL)
	if n > 0 {
		log.Debug().Int("count", n).Msg("background: subscription reap")
	}
}

// expireLocks implements the optional lock-heartbeat-expiry task.
func (s *Scheduler) expireLocks(ctx context.Context) {
	n := s.locks.ExpireStaleLocks(time.Now())
	if n > 0 {
		log.Debug().Int("count", n).Msg("background: lock heartbeat expiry")
	}
}
