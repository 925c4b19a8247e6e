// Package store is the Postgres-backed task queue substrate. It is the
// only component that talks to the database; every other control loop
// (producer, consumer, rescheduler, supervisor) goes through the Store
// interface. Leasing is contention-safe across any number of concurrent
// consumer processes because it pairs a conditional UPDATE with
// PostgreSQL's session-scoped advisory locks in a single statement —
// two consumers racing for the same row never both win it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/metrics"
	"github.com/oleg79/tasks-queue-go/internal/task"
)

// ErrTransientIO wraps a Postgres connectivity failure — a dropped
// connection, a timed-out round trip — as distinct from a data error
// (bad payload, unknown status). Callers may use errors.Is against it
// to decide whether a retry is worth attempting.
var ErrTransientIO = errors.New("transient task store I/O error")

// Store is the interface every control loop depends on. A real Postgres
// implementation is the only production implementation; tests may
// substitute a fake.
type Store interface {
	// Insert persists a new pending task and returns the row the store
	// assigned (ID and timestamps included).
	Insert(ctx context.Context, topic string, payload task.Payload) (task.Task, error)

	// LeaseBatch atomically claims up to limit pending tasks, flips them
	// to processing, and returns the claimed rows. It never blocks on
	// contention — rows already locked by another process are simply
	// excluded from this call's result, not waited on.
	LeaseBatch(ctx context.Context, limit int) ([]task.Task, error)

	// Mark transitions every task in ids to status in one round trip.
	// Callers are responsible for only requesting legal transitions
	// (see task.Status.CanTransitionTo); Mark does not validate them.
	Mark(ctx context.Context, ids []uuid.UUID, status task.Status) error

	// FailedIDs returns the IDs of every task currently in the failed
	// state, for the rescheduler's retry-budget reconciliation.
	FailedIDs(ctx context.Context) ([]uuid.UUID, error)

	// CountWithStatus returns how many tasks currently sit in status —
	// the supervisor uses CountWithStatus(pending) to size the fleet.
	CountWithStatus(ctx context.Context, status task.Status) (int64, error)

	// Close releases the underlying connection pool.
	Close()
}

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to Postgres, verifies the connection, and ensures the
// tasks table exists before returning.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{
		pool: pool,
		log:  logger.WithComponent("store"),
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	topic      text NOT NULL,
	payload    jsonb NOT NULL,
	status     text NOT NULL DEFAULT 'pending'
	           CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_status_id_idx ON tasks (status, id);
`

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

// Close releases the pool. Safe to call once at process shutdown.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func observe(operation string, start time.Time) {
	metrics.RecordStoreOperation(operation, time.Since(start).Seconds())
}
