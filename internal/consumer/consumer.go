// Package consumer implements the worker loop that leases batches of
// pending tasks, simulates processing them concurrently, and commits
// the outcome back to the store once per round: one Mark call for the
// completed set, then one for the failed set.
package consumer

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/metrics"
	"github.com/oleg79/tasks-queue-go/internal/store"
	"github.com/oleg79/tasks-queue-go/internal/task"
)

const (
	// Batch is the number of tasks leased per round.
	Batch = 7
	// IdleGrace is the number of consecutive empty rounds tolerated
	// before the loop exits.
	IdleGrace = 5
	// IdleSleep is how long the loop waits after an empty round.
	IdleSleep = 4 * time.Second

	minProcessingSeconds = 5
	maxProcessingSeconds = 20
	failureThreshold     = 0.3
)

// Loop is one consumer worker process. It has no identity beyond the
// container it runs in — the supervisor decides how many of these run
// at once.
type Loop struct {
	store   store.Store
	log     zerolog.Logger
	process func(context.Context, task.Task) result
}

// New constructs a consumer loop leasing from and committing to s.
func New(s store.Store) *Loop {
	return &Loop{
		store:   s,
		log:     logger.WithComponent("consumer"),
		process: process,
	}
}

// Run executes rounds until ctx is cancelled or the loop idles out
// IdleGrace consecutive empty rounds. Cancellation abandons any
// in-flight batch: tasks already leased stay in processing and are
// left for an operator, never re-marked on exit (the rescheduler only
// requeues failed tasks, not processing ones). Run
// returns a non-nil error only when a round failed for a reason other
// than cancellation — signal-driven shutdown always returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Int("batch", Batch).Msg("consumer started")

	remaining := IdleGrace
	for remaining > 0 {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("consumer stopping")
			return nil
		default:
		}

		emptied, err := l.round(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info().Msg("consumer stopping")
				return nil
			}
			l.log.Error().Err(err).Msg("round failed")
			return err
		}

		if !emptied {
			remaining = IdleGrace
			continue
		}

		remaining--
		secondsLeft := remaining * int(IdleSleep/time.Second)
		l.log.Info().Int("seconds_till_shutdown", secondsLeft).Msg("idle round")

		select {
		case <-ctx.Done():
			l.log.Info().Msg("consumer stopping")
			return nil
		case <-time.After(IdleSleep):
		}
	}

	l.log.Info().Msg("consumer idled out, exiting")
	return nil
}

// round runs one scheduling round. It returns emptied=true when the
// lease produced no tasks, signalling the idle-countdown path. If ctx
// is cancelled while the batch is in flight, round returns immediately
// without marking anything — the leased tasks stay in processing.
func (l *Loop) round(ctx context.Context) (emptied bool, err error) {
	leased, err := l.store.LeaseBatch(ctx, Batch)
	if err != nil {
		return false, err
	}

	if len(leased) == 0 {
		return true, nil
	}

	metrics.RecordTaskLeased(len(leased))
	results, abandoned := l.runBatch(ctx, leased)
	if abandoned {
		l.log.Info().Int("leased", len(leased)).Msg("batch abandoned, leaving leased tasks processing")
		return false, ctx.Err()
	}

	var completed, failed []uuid.UUID
	for _, r := range results {
		metrics.RecordTaskOutcome(r.completed, r.seconds)
		if r.completed {
			completed = append(completed, r.id)
		} else {
			failed = append(failed, r.id)
		}
	}

	if err := l.store.Mark(ctx, completed, task.StatusCompleted); err != nil {
		return false, err
	}
	if err := l.store.Mark(ctx, failed, task.StatusFailed); err != nil {
		return false, err
	}

	l.log.Info().
		Int("leased", len(leased)).
		Int("completed", len(completed)).
		Int("failed", len(failed)).
		Msg("round committed")

	return false, nil
}

type result struct {
	id        uuid.UUID
	completed bool
	seconds   float64
}

// runBatch executes every task in the batch concurrently and races their
// completion against ctx. If ctx is cancelled first, runBatch returns
// immediately with abandoned=true: it does not wait for the still-running
// goroutines, which themselves notice cancellation via process's own
// select and unwind promptly without being preempted.
func (l *Loop) runBatch(ctx context.Context, tasks []task.Task) (results []result, abandoned bool) {
	results = make([]result, len(tasks))

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		go func(i int, t task.Task) {
			defer wg.Done()
			results[i] = l.process(ctx, t)
		}(i, t)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, false
	case <-ctx.Done():
		return nil, true
	}
}

// process simulates doing the work described by a task: a random sleep
// followed by a random pass/fail draw. It abandons the sleep early if
// ctx is cancelled; the caller discards its result in that case.
func process(ctx context.Context, t task.Task) result {
	seconds := minProcessingSeconds + randomIntn(maxProcessingSeconds-minProcessingSeconds+1)

	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-ctx.Done():
	}

	return result{
		id:        t.ID,
		completed: randomFloat() > failureThreshold,
		seconds:   float64(seconds),
	}
}

func randomIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func randomFloat() float64 {
	const precision = 1_000_000
	return float64(randomIntn(precision)) / float64(precision)
}
