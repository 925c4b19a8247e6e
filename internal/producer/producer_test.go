package producer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg79/tasks-queue-go/internal/task"
)

// fakeStore is a minimal in-memory store.Store used only to exercise the
// producer loop without a database.
type fakeStore struct {
	mu       sync.Mutex
	inserted []task.Task
	insertErr error
}

func (f *fakeStore) Insert(ctx context.Context, topic string, payload task.Payload) (task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return task.Task{}, f.insertErr
	}

	t := task.New(topic, payload)
	f.inserted = append(f.inserted, t)
	return t, nil
}

func (f *fakeStore) LeaseBatch(ctx context.Context, limit int) ([]task.Task, error) { return nil, nil }
func (f *fakeStore) Mark(ctx context.Context, ids []uuid.UUID, status task.Status) error { return nil }
func (f *fakeStore) FailedIDs(ctx context.Context) ([]uuid.UUID, error)                  { return nil, nil }
func (f *fakeStore) CountWithStatus(ctx context.Context, status task.Status) (int64, error) {
	return 0, nil
}
func (f *fakeStore) Close() {}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func TestLoop_ProduceOne_InsertsATask(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs)

	require.NoError(t, l.produceOne(context.Background()))

	require.Equal(t, 1, fs.count())
	assert.NotEmpty(t, fs.inserted[0].Topic)
	assert.Contains(t, topics, fs.inserted[0].Topic)
}

func TestLoop_ProduceOne_SurfacesStoreError(t *testing.T) {
	fs := &fakeStore{insertErr: errors.New("connection reset")}
	l := New(fs)

	err := l.produceOne(context.Background())
	assert.Error(t, err)
}

func TestLoop_Run_StopsOnContextCancel(t *testing.T) {
	fs := &fakeStore{}
	l := New(fs)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestLoop_Run_ReturnsErrorOnStoreFailure(t *testing.T) {
	fs := &fakeStore{insertErr: errors.New("connection reset")}
	l := New(fs)

	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(Interval + 2*time.Second):
		t.Fatal("Run did not return after a store error")
	}
}

func TestRandomPayload_IsWithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		p := randomPayload()
		assert.GreaterOrEqual(t, p.Quality, 0.0)
		assert.Less(t, p.Quality, 1.0)
		assert.Greater(t, p.Length, uint32(0))
		assert.Contains(t, p.Title, "task-")
	}
}
