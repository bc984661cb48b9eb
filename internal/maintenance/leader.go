package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// CleanupLockID is the advisory lock that elects the instance running
// shared-table cleanups
const CleanupLockID int64 = 0x41727466_00000001

// LockSession is a connection holding session-level advisory locks. The lock
// belongs to the session, so acquire and release must use the same one.
type LockSession interface {
	TryLock(ctx context.Context, id int64) (bool, error)
	Unlock(ctx context.Context, id int64) error
	Close()
}

// SessionFactory opens a lock session
type SessionFactory func(ctx context.Context) (LockSession, error)

// LeaderElector elects one instance among those sharing a database using a
// PostgreSQL advisory lock
type LeaderElector struct {
	open          SessionFactory
	lockID        int64
	lockName      string
	checkInterval time.Duration

	mu       sync.Mutex
	session  LockSession
	isLeader bool

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

// NewLeaderElector creates an elector for lockID. lockName is used for logging.
func NewLeaderElector(open SessionFactory, lockID int64, lockName string) *LeaderElector {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderElector{
		open:          open,
		lockID:        lockID,
		lockName:      lockName,
		checkInterval: 15 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// PoolSessions opens lock sessions on dedicated pool connections
func PoolSessions(pool *pgxpool.Pool) SessionFactory {
	return func(ctx context.Context) (LockSession, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock connection: %w", err)
		}
		return &poolSession{conn: conn}, nil
	}
}

type poolSession struct {
	conn *pgxpool.Conn
}

func (p *poolSession) TryLock(ctx context.Context, id int64) (bool, error) {
	var acquired bool
	err := p.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired)
	return acquired, err
}

func (p *poolSession) Unlock(ctx context.Context, id int64) error {
	_, err := p.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", id)
	return err
}

func (p *poolSession) Close() {
	p.conn.Release()
}

// Start runs the election loop until Stop
func (le *LeaderElector) Start() {
	if !le.started.CompareAndSwap(false, true) {
		return
	}
	log.Info().Str("lock", le.lockName).Int64("lock_id", le.lockID).Msg("Starting leader election")
	go le.loop()
}

// Stop ends the election and releases the lock if held
func (le *LeaderElector) Stop() {
	le.cancel()
	if le.started.Load() {
		<-le.done
	}
	le.release()
}

// IsLeader reports whether this instance holds the lock
func (le *LeaderElector) IsLeader() bool {
	le.mu.Lock()
	defer le.mu.Unlock()
	return le.isLeader
}

func (le *LeaderElector) loop() {
	defer close(le.done)

	ticker := time.NewTicker(le.checkInterval)
	defer ticker.Stop()

	le.check()
	for {
		select {
		case <-le.ctx.Done():
			return
		case <-ticker.C:
			le.check()
		}
	}
}

// check acquires the lock, or re-asserts it on the session already holding it
func (le *LeaderElector) check() {
	ctx, cancel := context.WithTimeout(le.ctx, 5*time.Second)
	defer cancel()

	le.mu.Lock()
	defer le.mu.Unlock()

	if le.session == nil {
		session, err := le.open(ctx)
		if err != nil {
			log.Warn().Err(err).Str("lock", le.lockName).Msg("Failed to open lock session")
			le.setLeader(false)
			return
		}
		le.session = session
	}

	// Advisory locks are re-entrant per session, so the holder keeps succeeding
	acquired, err := le.session.TryLock(ctx, le.lockID)
	if err != nil {
		log.Warn().Err(err).Str("lock", le.lockName).Msg("Failed to try advisory lock")
		le.session.Close()
		le.session = nil
		le.setLeader(false)
		return
	}
	if acquired && le.isLeader {
		// Balance the re-entrant acquisition so one unlock releases the lock
		if err := le.session.Unlock(ctx, le.lockID); err != nil {
			log.Warn().Err(err).Str("lock", le.lockName).Msg("Failed to balance advisory lock")
		}
	}
	le.setLeader(acquired)
}

func (le *LeaderElector) setLeader(leader bool) {
	if leader == le.isLeader {
		return
	}
	le.isLeader = leader
	if leader {
		log.Info().Str("lock", le.lockName).Msg("Acquired leader lock - this instance runs maintenance")
	} else {
		log.Warn().Str("lock", le.lockName).Msg("Lost leader lock")
	}
}

func (le *LeaderElector) release() {
	le.mu.Lock()
	defer le.mu.Unlock()

	if le.session == nil {
		return
	}
	if le.isLeader {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := le.session.Unlock(ctx, le.lockID); err != nil {
			log.Warn().Err(err).Str("lock", le.lockName).Msg("Failed to release advisory lock")
		}
	}
	le.session.Close()
	le.session = nil
	le.isLeader = false
}
