// Package producer implements the control loop that manufactures
// synthetic work: every tick it inserts one random task so the rest of
// the system has something to lease, process, and occasionally fail.
package producer

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/store"
	"github.com/oleg79/tasks-queue-go/internal/task"
)

// Interval is the producer's tick cadence.
const Interval = 2 * time.Second

var topics = []string{"render", "transcode", "thumbnail", "publish"}

// Loop owns the ticker and inserts one task per tick until its context
// is cancelled. A tick whose insert is still running when the next tick
// fires is simply skipped — time.Ticker never queues missed ticks, so
// a slow store call cannot cause a burst of catch-up inserts.
type Loop struct {
	store store.Store
	log   zerolog.Logger
}

// New constructs a producer loop writing through store.
func New(s store.Store) *Loop {
	return &Loop{
		store: s,
		log:   logger.WithComponent("producer"),
	}
}

// Run blocks, inserting one random task every Interval, until ctx is
// cancelled or a store call fails. A transient store error surfaces
// here rather than being logged and swallowed, so the caller can exit
// and let the orchestrator restart the process against a healthy store.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", Interval).Msg("producer started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("producer stopping")
			return nil
		case <-ticker.C:
			if err := l.produceOne(ctx); err != nil {
				if ctx.Err() != nil {
					l.log.Info().Msg("producer stopping")
					return nil
				}
				return err
			}
		}
	}
}

func (l *Loop) produceOne(ctx context.Context) error {
	payload := randomPayload()

	t, err := l.store.Insert(ctx, randomTopic(), payload)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	l.log.Info().Str("task_id", t.ID.String()).Str("topic", t.Topic).Msg("task created")
	return nil
}

func randomTopic() string {
	return topics[randomIntn(len(topics))]
}

// randomPayload mirrors the original's fake-data generation (Rust's
// fake::Faker) with the handful of fields our domain cares about.
func randomPayload() task.Payload {
	return task.Payload{
		Quality: randomFloat(),
		Length:  uint32(randomIntn(600) + 1),
		Title:   fmt.Sprintf("task-%s", randomHex(6)),
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
	return float64(randomIntn(1000)) / 1000.0
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%x", buf)
}
