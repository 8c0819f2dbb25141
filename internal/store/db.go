package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/config"
)

// ErrContention signals local persistent-store lock contention: retried a
// few times with a short fixed delay, then the operation is skipped.
var ErrContention = errors.New("storage contention")

// Advisory lock keys for the independently-lockable resources. The scan
// pipeline and each slow-refresh routine serialize on their own key, so a
// weekly listings rebuild never blocks anything but itself and a scan
// touching the same table.
const (
	LockScan     int64 = 7203001
	LockListings int64 = 7203002
	LockMappings int64 = 7203003
)

// DB wraps the shared sqlx handle with the query timeout and contention
// policy every repository uses.
type DB struct {
	*sqlx.DB
	timeout time.Duration
	tries   int
	delay   time.Duration
}

// Open connects to Postgres and ensures the schema exists.
func Open(cfg config.StorageConfig) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	d := &DB{
		DB:      db,
		timeout: cfg.QueryTimeout,
		tries:   cfg.ContentionTries,
		delay:   cfg.ContentionDelay,
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.tries <= 0 {
		d.tries = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewForTest wraps an existing database handle, used with sqlmock.
func NewForTest(db *sqlx.DB) *DB {
	return &DB{DB: db, timeout: time.Second, tries: 1, delay: 0}
}

// QueryCtx derives the standard per-query timeout context.
func (d *DB) QueryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// AcquireLock takes a session-scoped advisory lock on key, retrying on
// contention per policy. The returned release func must be called when
// done; if the process dies first, Postgres drops the lock with the
// session, so a crashed run never wedges the next one.
func (d *DB) AcquireLock(ctx context.Context, key int64) (func(), error) {
	conn, err := d.DB.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	for attempt := 0; attempt < d.tries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.delay):
			case <-ctx.Done():
				conn.Close()
				return nil, ctx.Err()
			}
		}

		var locked bool
		if err := conn.GetContext(ctx, &locked, "SELECT pg_try_advisory_lock($1)", key); err != nil {
			conn.Close()
			return nil, fmt.Errorf("try advisory lock %d: %w", key, err)
		}
		if locked {
			release := func() {
				if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
					log.Warn().Int64("key", key).Err(err).Msg("advisory unlock failed")
				}
				conn.Close()
			}
			return release, nil
		}
	}

	conn.Close()
	return nil, fmt.Errorf("%w: advisory lock %d held elsewhere", ErrContention, key)
}

// IsNoRows reports whether err is the expected-absence result.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
