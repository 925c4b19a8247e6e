package supervisor

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oleg79/tasks-queue-go/internal/task"
)

type fakeStoreInt struct {
	pending int64
}

func (f *fakeStoreInt) Insert(ctx context.Context, topic string, payload task.Payload) (task.Task, error) {
	return task.Task{}, nil
}
func (f *fakeStoreInt) LeaseBatch(ctx context.Context, limit int) ([]task.Task, error) { return nil, nil }
func (f *fakeStoreInt) Mark(ctx context.Context, ids []uuid.UUID, status task.Status) error {
	return nil
}
func (f *fakeStoreInt) FailedIDs(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakeStoreInt) CountWithStatus(ctx context.Context, status task.Status) (int64, error) {
	return f.pending, nil
}
func (f *fakeStoreInt) Close() {}

// fakeDocker is a hand-written double for dockerClient.
type fakeDocker struct {
	running     int
	created     []string
	started     []string
	stopped     []string
	removed     []string
	inspectOK   bool
	stopToRunningFalse bool
}

func (d *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	running := d.inspectOK && !d.stopToRunningFalse
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			State: &types.ContainerState{Running: running},
		},
		NetworkSettings: &types.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{"tasks-queue_default": {}},
		},
	}, nil
}

func (d *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	out := make([]types.Container, d.running)
	return out, nil
}

func (d *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	d.created = append(d.created, containerName)
	return container.CreateResponse{}, nil
}

func (d *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	d.started = append(d.started, containerID)
	return nil
}

func (d *fakeDocker) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	d.stopped = append(d.stopped, containerID)
	d.stopToRunningFalse = true
	return nil
}

func (d *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	d.removed = append(d.removed, containerID)
	return nil
}

func TestLoop_Tick_ScalesUpWhenPendingExceedsCapacity(t *testing.T) {
	s := &fakeStoreInt{pending: 450} // need = 2
	d := &fakeDocker{running: 0, inspectOK: true}
	l := &Loop{store: s, docker: d}

	require.NoError(t, l.tick(context.Background()))
	assert.Len(t, d.created, 2)
	assert.Len(t, d.started, 2)
	assert.Len(t, l.fleet, 2)
}

func TestLoop_Tick_ScalesDownWhenOverProvisioned(t *testing.T) {
	s := &fakeStoreInt{pending: 0} // need = 0
	d := &fakeDocker{running: 2, inspectOK: true}
	l := &Loop{store: s, docker: d, fleet: []string{"consumer-worker-aaaa", "consumer-worker-bbbb"}}

	require.NoError(t, l.tick(context.Background()))
	assert.Len(t, d.stopped, 2)
	assert.Len(t, d.removed, 2)
	assert.Empty(t, l.fleet)
}

func TestLoop_Tick_NoOpWhenBalanced(t *testing.T) {
	s := &fakeStoreInt{pending: 0}
	d := &fakeDocker{running: 0}
	l := &Loop{store: s, docker: d}

	require.NoError(t, l.tick(context.Background()))
	assert.Empty(t, d.created)
	assert.Empty(t, d.stopped)
}

func TestLoop_Drain_NeverUnderflowsBelowZero(t *testing.T) {
	d := &fakeDocker{inspectOK: true}
	l := &Loop{docker: d, fleet: []string{"consumer-worker-aaaa"}}

	require.NoError(t, l.drain(context.Background(), 5))
	assert.Empty(t, l.fleet)
	assert.Len(t, d.stopped, 1)
}

func TestLoop_Fleet_ReturnsACopy(t *testing.T) {
	l := &Loop{fleet: []string{"a", "b"}}
	got := l.Fleet()
	got[0] = "mutated"
	assert.Equal(t, "a", l.fleet[0])
}
