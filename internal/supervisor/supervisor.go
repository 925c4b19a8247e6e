// Package supervisor implements the closed-loop autoscaler: it compares
// pending task volume against the number of running consumer-worker
// containers and spawns or drains the fleet to match, via the Docker
// Engine API.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/oleg79/tasks-queue-go/internal/logger"
	"github.com/oleg79/tasks-queue-go/internal/metrics"
	"github.com/oleg79/tasks-queue-go/internal/store"
	"github.com/oleg79/tasks-queue-go/internal/task"
)

const (
	// Interval is the supervisor's load-check cadence.
	Interval = 20 * time.Second
	// TasksPerWorker is the number of pending tasks that justifies one
	// consumer worker.
	TasksPerWorker = 200
	// StopGrace is the stop timeout a draining container is given to exit
	// cleanly before the Docker daemon kills it.
	StopGrace = 4 * time.Second
	// Poll is the interval used while waiting for a stopped container
	// to actually report not-running.
	Poll = 200 * time.Millisecond

	consumerImage   = "tasks-queue-consumer"
	networkModeName = "tasks-queue_default"
)

var passthroughEnv = []string{
	"POSTGRES_USER",
	"POSTGRES_PASSWORD",
	"POSTGRES_HOST",
	"POSTGRES_PORT",
	"POSTGRES_DB",
}

// dockerClient is the subset of *client.Client the supervisor uses,
// narrowed so tests can substitute a fake.
type dockerClient interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Loop is the supervisor control loop. It tracks the fleet of consumer
// workers it has spawned; containers it did not create are never
// touched, even if they share the consumer image.
type Loop struct {
	store  store.Store
	docker dockerClient
	log    zerolog.Logger

	fleet []string // container names, spawn order, oldest first
}

// New connects to the local Docker daemon and constructs a supervisor
// loop that scales the consumer fleet against s.
func New(s store.Store) (*Loop, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}

	return &Loop{
		store:  s,
		docker: cli,
		log:    logger.WithComponent("supervisor"),
	}, nil
}

// Fleet returns the container names currently tracked as spawned by
// this supervisor, oldest first. Exposed for tests and diagnostics.
func (l *Loop) Fleet() []string {
	out := make([]string, len(l.fleet))
	copy(out, l.fleet)
	return out
}

// Run executes one load check every Interval until ctx is cancelled or a
// load check fails. A transient store or Docker error surfaces here
// rather than being logged and swallowed, so the caller can exit and let
// the orchestrator restart the process against a healthy environment.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	l.log.Info().Dur("interval", Interval).Int("tasks_per_worker", TasksPerWorker).Msg("supervisor started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("supervisor stopping")
			return nil
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				if ctx.Err() != nil {
					l.log.Info().Msg("supervisor stopping")
					return nil
				}
				return fmt.Errorf("load check: %w", err)
			}
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	pendingCount, err := l.store.CountWithStatus(ctx, task.StatusPending)
	if err != nil {
		return fmt.Errorf("count pending tasks: %w", err)
	}

	need := int(pendingCount / TasksPerWorker)

	have, err := l.countRunningConsumers(ctx)
	if err != nil {
		return fmt.Errorf("list running consumers: %w", err)
	}

	metrics.SetFleetSize(have)

	diff := need - have
	switch {
	case diff > 0:
		l.log.Info().Int64("pending", pendingCount).Int("need", need).Int("have", have).Msg("scaling up")
		return l.spawn(ctx, diff)
	case diff < 0:
		drainCount := -diff
		l.log.Info().Int64("pending", pendingCount).Int("need", need).Int("have", have).Msg("scaling down")
		return l.drain(ctx, drainCount)
	default:
		return nil
	}
}

func (l *Loop) countRunningConsumers(ctx context.Context) (int, error) {
	containers, err := l.docker.ContainerList(ctx, container.ListOptions{
		All:     false,
		Filters: filters.NewArgs(filters.Arg("ancestor", consumerImage)),
	})
	if err != nil {
		return 0, err
	}
	return len(containers), nil
}

func (l *Loop) spawn(ctx context.Context, n int) error {
	hostname, err := selfHostname()
	if err != nil {
		return fmt.Errorf("read self hostname: %w", err)
	}

	self, err := l.docker.ContainerInspect(ctx, hostname)
	if err != nil {
		return fmt.Errorf("inspect self container %s: %w", hostname, err)
	}

	var parentNetworks map[string]*network.EndpointSettings
	if self.NetworkSettings != nil {
		parentNetworks = self.NetworkSettings.Networks
	}

	env := make([]string, 0, len(passthroughEnv))
	for _, name := range passthroughEnv {
		env = append(env, fmt.Sprintf("%s=%s", name, os.Getenv(name)))
	}

	cfg := &container.Config{
		Image: consumerImage,
		Env:   env,
	}
	hostCfg := &container.HostConfig{
		NetworkMode:  container.NetworkMode(networkModeName),
		PortBindings: nat.PortMap{},
	}
	netCfg := &network.NetworkingConfig{EndpointsConfig: parentNetworks}

	for i := 0; i < n; i++ {
		name := "consumer-worker-" + randomHex(10)

		l.log.Info().Str("container", name).Msg("starting consumer worker")

		if _, err := l.docker.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name); err != nil {
			return fmt.Errorf("create container %s: %w", name, err)
		}
		if err := l.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
			return fmt.Errorf("start container %s: %w", name, err)
		}

		l.fleet = append(l.fleet, name)
		metrics.WorkersSpawned.Inc()

		logger.WithFleetMember(name).Info().Msg("started consumer worker")
	}

	return nil
}

func (l *Loop) drain(ctx context.Context, n int) error {
	for i := 0; i < n && len(l.fleet) > 0; i++ {
		name := l.fleet[len(l.fleet)-1]
		l.fleet = l.fleet[:len(l.fleet)-1]

		fleetLog := logger.WithFleetMember(name)
		fleetLog.Info().Msg("shutting down consumer worker")

		stopTimeout := int(StopGrace.Seconds())
		if err := l.docker.ContainerStop(ctx, name, container.StopOptions{Timeout: &stopTimeout}); err != nil {
			return fmt.Errorf("stop container %s: %w", name, err)
		}

		if err := l.waitUntilStopped(ctx, name); err != nil {
			return err
		}

		if err := l.docker.ContainerRemove(ctx, name, container.RemoveOptions{RemoveVolumes: true, Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", name, err)
		}

		metrics.WorkersDrained.Inc()
		fleetLog.Info().Msg("shut down consumer worker")
	}

	return nil
}

func (l *Loop) waitUntilStopped(ctx context.Context, name string) error {
	for {
		info, err := l.docker.ContainerInspect(ctx, name)
		if err != nil {
			return fmt.Errorf("inspect container %s while draining: %w", name, err)
		}
		if info.State != nil && !info.State.Running {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Poll):
		}
	}
}

func selfHostname() (string, error) {
	raw, err := os.ReadFile("/etc/hostname")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
