// Package rescheduler implements the control loop that gives failed
// tasks a bounded number of retries by moving them back to pending. The
// retry budget itself lives only in process memory (internal/retry) —
// restarting the rescheduler resets every still-failed task's budget.
package rescheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/metrics"
	"github.com/oleg79/tasks-queue-go/internal/retry"
	"github.com/oleg79/tasks-queue-go/internal/store"
	"github.com/oleg79/tasks-queue-go/internal/task"
)

// Interval is the rescheduler's tick cadence.
const Interval = 12 * time.Second

// Loop owns the retry map and periodically requeues failed tasks that
// still have budget remaining.
type Loop struct {
	store store.Store
	log   zerolog.Logger
	retry *retry.Map
}

// New constructs a rescheduler loop granting DefaultAttempts retries to
// each newly observed failed task.
func New(s store.Store) *Loop {
	return &Loop{
		store: s,
		log:   logger.WithComponent("rescheduler"),
		retry: retry.NewMap(retry.DefaultAttempts),
	}
}

// Run executes one tick every Interval until ctx is cancelled or a store
// call fails. A transient store error surfaces here rather than being
// logged and swallowed, so the caller can exit and let the orchestrator
// restart the process against a healthy store.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", Interval).Int("initial_attempts", retry.DefaultAttempts).Msg("rescheduler started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("rescheduler stopping")
			return nil
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				if ctx.Err() != nil {
					l.log.Info().Msg("rescheduler stopping")
					return nil
				}
				return err
			}
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	failedIDs, err := l.store.FailedIDs(ctx)
	if err != nil {
		return fmt.Errorf("fetch failed task ids: %w", err)
	}

	eligible := l.retry.Reconcile(failedIDs)
	metrics.SetRetryMapSize(l.retry.Len())

	if len(eligible) == 0 {
		l.log.Debug().Int("failed", len(failedIDs)).Msg("no tasks eligible for retry")
		return nil
	}

	if err := l.store.Mark(ctx, eligible, task.StatusPending); err != nil {
		return fmt.Errorf("requeue eligible tasks: %w", err)
	}

	metrics.RecordRequeued(len(eligible))
	l.log.Info().Int("requeued", len(eligible)).Int("failed", len(failedIDs)).Msg("requeued failed tasks")
	return nil
}
