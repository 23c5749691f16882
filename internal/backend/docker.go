package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/trial"
)

// trialSpecEnv is the environment variable carrying the serialized task
// into a worker container.
const trialSpecEnv = "TRIAL_SPEC"

// DockerClient interface for Docker operations (mockable)
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	Close() error
}

// Compile-time interface check
var _ DockerClient = (*client.Client)(nil)

// DockerPool runs each task in its own resource-limited container. The
// worker image receives the serialized task through TRIAL_SPEC and must
// print a trial report as the last JSON line on stdout.
type DockerPool struct {
	cli     DockerClient
	image   string
	workers int
	limits  ResourceLimits
	logger  *zap.Logger
}

func init() {
	Register("docker", func(opts Options) (Pool, error) { return NewDockerPool(opts) })
}

// NewDockerPool builds a docker-backed pool from the environment's
// Docker daemon.
func NewDockerPool(opts Options) (*DockerPool, error) {
	if opts.Image == "" {
		return nil, errors.New("docker pool requires a worker image")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return NewDockerPoolWithClient(cli, opts), nil
}

// NewDockerPoolWithClient builds a docker pool with a provided client
// (for testing).
func NewDockerPoolWithClient(cli DockerClient, opts Options) *DockerPool {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &DockerPool{
		cli:     cli,
		image:   opts.Image,
		workers: workers,
		limits:  opts.Limits,
		logger:  logger.Named("docker-pool"),
	}
}

// Map dispatches one container per task, at most `workers` at a time,
// and blocks until the batch drained. The first failure (in task order)
// is returned once every container finished.
func (p *DockerPool) Map(ctx context.Context, tasks []Task) ([]Result, error) {
	if err := p.ensureImage(ctx); err != nil {
		return nil, err
	}

	results := make([]Result, len(tasks))
	errs := make([]error, len(tasks))

	jobs := make(chan int, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result, err := p.runTask(ctx, tasks[i])
				if err != nil {
					errs[i] = fmt.Errorf("task %d: %w", tasks[i].ID, err)
					continue
				}
				results[i] = result
			}
		}()
	}

	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ensureImage pulls the worker image if it's not available locally.
func (p *DockerPool) ensureImage(ctx context.Context) error {
	// Try to inspect the image first; if it exists locally, no pull needed
	_, err := p.cli.ImageInspect(ctx, p.image)
	if err == nil {
		return nil
	}

	p.logger.Info("image not found locally, pulling from registry", zap.String("image", p.image))

	reader, err := p.cli.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.image, err)
	}
	defer reader.Close()

	// Consume the reader to complete the pull (progress output is discarded)
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error during image pull %s: %w", p.image, err)
	}
	return nil
}

// runTask creates, starts and awaits one worker container, then parses
// the trial report from its stdout.
func (p *DockerPool) runTask(ctx context.Context, task Task) (Result, error) {
	spec, err := json.Marshal(task)
	if err != nil {
		return Result{}, fmt.Errorf("failed to serialize task: %w", err)
	}

	env := []string{fmt.Sprintf("%s=%s", trialSpecEnv, spec)}
	hostConfig := &container.HostConfig{}
	if cpus := p.limits.CPUsPerWorker; cpus > 0 {
		hostConfig.Resources.NanoCPUs = int64(cpus) * 1e9
	}
	if p.limits.GPUsPerWorker > 0 {
		hostConfig.Runtime = "nvidia"
		visible := task.Settings.GPUs
		if visible == "" {
			visible = "all"
		}
		env = append(env,
			fmt.Sprintf("NVIDIA_VISIBLE_DEVICES=%s", visible),
			"NVIDIA_DRIVER_CAPABILITIES=all")
	}

	name := fmt.Sprintf("trial-%s-%d", sanitizeName(task.Settings.ExperimentName), task.ID)
	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image: p.image,
		Env:   env,
	}, hostConfig, nil, nil, name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = p.cli.ContainerRemove(removeCtx, containerID, container.RemoveOptions{
			RemoveVolumes: true,
			Force:         true,
		})
	}()

	if err := p.startContainer(ctx, containerID); err != nil {
		return Result{}, err
	}

	waitCh, errCh := p.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		if status.StatusCode != 0 {
			return Result{}, fmt.Errorf("trial container exited with status %d", status.StatusCode)
		}
	case err := <-errCh:
		return Result{}, fmt.Errorf("error waiting for trial container: %w", err)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	return p.collectReport(ctx, containerID)
}

// startContainer starts a container with exponential backoff retry
func (p *DockerPool) startContainer(ctx context.Context, containerID string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		if err := p.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start container: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("failed to start container after retries: %w", err)
	}
	return nil
}

// collectReport demultiplexes the container's stdout and parses the last
// non-empty line as a trial report.
func (p *DockerPool) collectReport(ctx context.Context, containerID string) (Result, error) {
	logs, err := p.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to read trial logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Result{}, fmt.Errorf("failed to demultiplex trial logs: %w", err)
	}

	report, err := trial.ParseReport(stdout.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("%w (stderr tail: %s)", err, tail(stderr.String(), 512))
	}
	return Result{TrainStats: report.TrainStats, EvalStats: report.EvalStats}, nil
}

func (p *DockerPool) Close() error {
	if p.cli != nil {
		return p.cli.Close()
	}
	return nil
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var _ Pool = (*DockerPool)(nil)
