// Package lock keeps two regstage runs for the same system type from
// processing the same event window at once.
package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dbsmedya/regstage/internal/sqlutil"
)

// ErrLockTimeout is returned when another run holds the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Timeouts for lock acquisition, in seconds.
const (
	TimeoutImmediate = 0
	TimeoutShort     = 1
	TimeoutMedium    = 10
	TimeoutLong      = 60
	TimeoutInfinite  = -1
)

// pollInterval paces retries for dialects without a blocking lock call.
var pollInterval = 200 * time.Millisecond

// local holds the names taken by SQLite sources, which have no server-side
// advisory locks. It only excludes runs inside one process.
var local = struct {
	sync.Mutex
	names map[string]bool
}{names: make(map[string]bool)}

// AdvisoryLock is a named session lock on the source database. MySQL uses
// GET_LOCK, PostgreSQL uses pg_try_advisory_lock on a hash of the name.
// The lock lives on one pinned connection for as long as it is held.
type AdvisoryLock struct {
	db       *sql.DB
	dialect  sqlutil.Dialect
	lockName string
	conn     *sql.Conn
	held     bool
}

// NewAdvisoryLock creates an unacquired lock.
func NewAdvisoryLock(db *sql.DB, dialect sqlutil.Dialect, lockName string) *AdvisoryLock {
	return &AdvisoryLock{db: db, dialect: dialect, lockName: lockName}
}

// Key returns the 64-bit key PostgreSQL locks for this name.
func (a *AdvisoryLock) Key() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.lockName))
	return int64(h.Sum64())
}

// AcquireLock tries to take the lock, waiting up to timeoutSeconds.
// It returns false without error when another session holds it.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.held {
		return true, nil
	}
	if a.db == nil {
		return false, fmt.Errorf("lock %q has no database", a.lockName)
	}

	if a.dialect.Driver == sqlutil.SQLite {
		return a.poll(ctx, timeoutSeconds, func(context.Context) (bool, error) {
			return a.tryLocal(), nil
		})
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve connection for lock %q: %w", a.lockName, err)
	}
	a.conn = conn

	var acquired bool
	switch a.dialect.Driver {
	case sqlutil.MySQL:
		acquired, err = a.getLock(ctx, timeoutSeconds)
	case sqlutil.Postgres:
		acquired, err = a.poll(ctx, timeoutSeconds, a.tryPostgres)
	default:
		err = fmt.Errorf("advisory locks are not supported for driver %q", a.dialect.Driver)
	}
	if err != nil || !acquired {
		_ = a.conn.Close()
		a.conn = nil
		a.held = false
	}
	return acquired, err
}

// poll retries try until it succeeds or the timeout passes.
func (a *AdvisoryLock) poll(ctx context.Context, timeoutSeconds int, try func(context.Context) (bool, error)) (bool, error) {
	var deadline time.Time
	if timeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	}
	for {
		ok, err := try(ctx)
		if err != nil || ok {
			a.held = ok
			return ok, err
		}
		if timeoutSeconds == TimeoutImmediate || (timeoutSeconds > 0 && time.Now().After(deadline)) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// getLock runs GET_LOCK, which returns 1 on success, 0 on timeout and
// NULL on error.
func (a *AdvisoryLock) getLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	var result sql.NullInt64
	if err := a.conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q (possible database error)", a.lockName)
	}
	switch result.Int64 {
	case 1:
		a.held = true
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

func (a *AdvisoryLock) tryPostgres(ctx context.Context) (bool, error) {
	var ok bool
	if err := a.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", a.Key()).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
	}
	return ok, nil
}

func (a *AdvisoryLock) tryLocal() bool {
	local.Lock()
	defer local.Unlock()
	if local.names[a.lockName] {
		return false
	}
	local.names[a.lockName] = true
	return true
}

// ReleaseLock releases the lock. It returns false when the lock was not held.
// A failed release discards the pinned connection so the server drops the
// session and the lock with it.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if !a.held {
		return false, nil
	}
	a.held = false

	if a.dialect.Driver == sqlutil.SQLite {
		local.Lock()
		delete(local.names, a.lockName)
		local.Unlock()
		return true, nil
	}

	released, err := a.release(ctx)
	if err != nil {
		a.discard()
		return false, err
	}
	_ = a.conn.Close()
	a.conn = nil
	return released, nil
}

func (a *AdvisoryLock) release(ctx context.Context) (bool, error) {
	switch a.dialect.Driver {
	case sqlutil.Postgres:
		var ok bool
		if err := a.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", a.Key()).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
		}
		return ok, nil
	default:
		var result sql.NullInt64
		if err := a.conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
			return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
		}
		if !result.Valid {
			return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q (lock did not exist)", a.lockName)
		}
		return result.Int64 == 1, nil
	}
}

func (a *AdvisoryLock) discard() {
	if a.conn == nil {
		return
	}
	_ = a.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
	_ = a.conn.Close()
	a.conn = nil
}

// IsHeld reports whether this instance holds the lock.
func (a *AdvisoryLock) IsHeld() bool {
	return a.held
}

// LockName returns the name of the lock.
func (a *AdvisoryLock) LockName() string {
	return a.lockName
}

// TryAcquire attempts the lock without waiting.
func (a *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	return a.AcquireLock(ctx, TimeoutImmediate)
}

// AcquireOrFail takes the lock with TimeoutShort, returning ErrLockTimeout
// when another run holds it.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	acquired, err := a.AcquireLock(ctx, TimeoutShort)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}
	return nil
}

// GenerateRunLockName returns the lock name for runs of one system type,
// e.g. "regstage:run:BC".
func GenerateRunLockName(systemType string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, systemType)

	name := "regstage:run:" + sanitized
	// MySQL rejects lock names longer than 64 characters
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// NewRunLock creates the lock guarding runs of systemType.
func NewRunLock(db *sql.DB, dialect sqlutil.Dialect, systemType string) *AdvisoryLock {
	return NewAdvisoryLock(db, dialect, GenerateRunLockName(systemType))
}

// IsRunActive reports whether another run of systemType holds its lock.
// The answer can be stale as soon as it is returned.
func IsRunActive(ctx context.Context, db *sql.DB, dialect sqlutil.Dialect, systemType string) (bool, error) {
	l := NewRunLock(db, dialect, systemType)
	acquired, err := l.TryAcquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check if %q is running: %w", systemType, err)
	}
	if acquired {
		_, _ = l.ReleaseLock(ctx)
		return false, nil
	}
	return true, nil
}

// WithLock runs fn while holding the lock and releases it afterwards, even
// if fn panics.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error {
	acquired, err := a.AcquireLock(ctx, timeoutSeconds)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}

	defer func() {
		// ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = a.ReleaseLock(releaseCtx)
	}()

	return fn()
}

// WithRunLock runs fn under the run lock of systemType.
func WithRunLock(ctx context.Context, db *sql.DB, dialect sqlutil.Dialect, systemType string, fn func() error) error {
	return NewRunLock(db, dialect, systemType).WithLock(ctx, TimeoutShort, fn)
}
