package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Paths at which the workspace is mounted inside containers.
const (
	ContainerSourceDir = "/app"
	ContainerWorkDir   = "/work"
)

// Label marks every container created by the docker backend.
const Label = "polyrun"

// dockerAPI is the subset of the Engine API client the backend uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Close() error
}

// DockerConfig configures the docker backend.
type DockerConfig struct {
	// Host overrides DOCKER_HOST.
	Host string

	// ImagePrefix is prepended to the language to form image names.
	ImagePrefix string

	// User is the non-root user containers run as.
	User string

	Logger *slog.Logger
}

var _ Executor = (*Docker)(nil)

// Docker runs each step in a fresh, locked-down container.
type Docker struct {
	api    dockerAPI
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDocker connects to the Docker daemon described by cfg and the
// standard DOCKER_* environment variables. Connecting is lazy; a missing
// daemon is reported by Available.
func NewDocker(cfg DockerConfig) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDocker(cli, cfg), nil
}

func newDocker(api dockerAPI, cfg DockerConfig) *Docker {
	if cfg.ImagePrefix == "" {
		cfg.ImagePrefix = "polyrun-"
	}
	if cfg.User == "" {
		cfg.User = "65534:65534"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Docker{api: api, cfg: cfg, logger: cfg.Logger}
}

func (d *Docker) Name() string { return "docker" }

// ImageFor returns the image name for language.
func (d *Docker) ImageFor(language string) string {
	return ImageName(d.cfg.ImagePrefix, language)
}

// Available checks that the daemon answers and the image exists locally.
func (d *Docker) Available(ctx context.Context, language, img string) error {
	if img == "" {
		img = d.ImageFor(language)
	}
	if _, err := d.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker daemon not reachable: %v", ErrIsolationUnavailable, err)
	}
	if _, err := d.api.ImageInspect(ctx, img); err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("%w: image %s not found", ErrIsolationUnavailable, img)
		}
		return fmt.Errorf("%w: inspecting image %s: %v", ErrIsolationUnavailable, img, err)
	}
	return nil
}

func (d *Docker) Run(ctx context.Context, job Job) (*Outcome, error) {
	limits := job.Limits.WithDefaults()
	img := job.Image
	if img == "" {
		img = d.ImageFor(job.Language)
	}

	env := []string{"HOME=/tmp", "XDG_CACHE_HOME=/tmp/.cache"}
	keys := make([]string, 0, len(job.Env))
	for k := range job.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+Expand(job.Env[k], ContainerSourceDir, ContainerWorkDir))
	}

	var out *Outcome
	for _, step := range job.Steps {
		if len(step.Argv) == 0 {
			return nil, fmt.Errorf("empty %s step", step.Phase)
		}
		argv := ExpandArgv(step.Argv, ContainerSourceDir, ContainerWorkDir)
		o, err := d.runStep(ctx, job, img, step.Phase, argv, env, limits)
		if err != nil {
			return nil, err
		}
		out = o
		if out.Failed() {
			break
		}
	}
	if out == nil {
		return nil, errors.New("job has no steps")
	}
	return out, nil
}

func (d *Docker) runStep(ctx context.Context, job Job, img string, phase Phase, argv, env []string, limits Limits) (*Outcome, error) {
	cfg := &container.Config{
		Image:           img,
		Cmd:             argv,
		Env:             env,
		WorkingDir:      ContainerWorkDir,
		User:            d.cfg.User,
		NetworkDisabled: true,
		Labels: map[string]string{
			Label:              "1",
			Label + ".lang":    job.Language,
			Label + ".phase":   string(phase),
			Label + ".created": time.Now().UTC().Format(time.RFC3339),
		},
	}

	created, err := d.api.ContainerCreate(ctx, cfg, d.hostConfig(job.Workspace, limits), nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := created.ID

	// The container is removed on every path, including cancellation.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !cerrdefs.IsNotFound(err) {
			d.logger.Warn("removing container failed", "container", shortID(id), "error", err)
		}
	}()

	budget := limits.StepTimeout(phase)
	start := time.Now()
	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	statusCh, errCh := d.api.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	out := &Outcome{Phase: phase, Backend: d.Name()}
	select {
	case st := <-statusCh:
		out.ExitCode = int(st.StatusCode)
		if st.Error != nil && st.Error.Message != "" {
			d.logger.Warn("container wait reported error", "container", shortID(id), "error", st.Error.Message)
		}
	case err := <-errCh:
		if !errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
		out.TimedOut = true
		out.ExitCode = -1
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.api.ContainerKill(killCtx, id, "KILL"); err != nil && !cerrdefs.IsNotFound(err) {
			d.logger.Warn("killing container failed", "container", shortID(id), "error", err)
		}
		killCancel()
	}
	out.Duration = time.Since(start)

	stdout := &cappedBuffer{max: limits.MaxOutputBytes}
	stderr := &cappedBuffer{max: limits.MaxOutputBytes}
	logCtx, logCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer logCancel()
	if rc, err := d.api.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true}); err != nil {
		d.logger.Warn("reading container logs failed", "container", shortID(id), "error", err)
	} else {
		if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
			d.logger.Warn("demultiplexing container logs failed", "container", shortID(id), "error", err)
		}
		rc.Close()
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if out.TimedOut && out.Stderr == "" {
		out.Stderr = timeoutMessage(phase, budget)
	}

	d.logger.Debug("container step finished",
		"container", shortID(id),
		"image", img,
		"phase", phase,
		"exit_code", out.ExitCode,
		"timed_out", out.TimedOut,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out, nil
}

// hostConfig builds the isolation settings of every step container.
func (d *Docker) hostConfig(ws Workspace, limits Limits) *container.HostConfig {
	pids := limits.PidsLimit
	return &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: ws.SourceDir, Target: ContainerSourceDir, ReadOnly: true},
			{Type: mount.TypeBind, Source: ws.WorkDir, Target: ContainerWorkDir},
		},
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,nosuid,nodev,size=" + limits.TmpfsSize},
		Resources: container.Resources{
			Memory:     limits.MemoryBytes,
			MemorySwap: limits.MemoryBytes,
			CPUPeriod:  limits.CPUPeriod,
			CPUQuota:   limits.CPUQuota,
			PidsLimit:  &pids,
		},
	}
}

// Prune force-removes leftover containers carrying the polyrun label and
// returns how many were removed.
func (d *Docker) Prune(ctx context.Context) (int, error) {
	list, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", Label+"=1")),
	})
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	removed := 0
	var errs []error
	for _, c := range list {
		if err := d.api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			if cerrdefs.IsNotFound(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("removing %s: %w", shortID(c.ID), err))
			continue
		}
		removed++
		d.logger.Info("pruned container", "container", shortID(c.ID), "state", c.State)
	}
	return removed, errors.Join(errs...)
}

// DockerStatus describes the daemon and the language images.
type DockerStatus struct {
	Available     bool          `json:"available"`
	ServerVersion string        `json:"server_version,omitempty"`
	APIVersion    string        `json:"api_version,omitempty"`
	Images        []ImageStatus `json:"images,omitempty"`
	Leftover      int           `json:"leftover_containers"`
	Error         string        `json:"error,omitempty"`
}

// ImageStatus describes one local language image.
type ImageStatus struct {
	Reference string `json:"reference"`
	Size      string `json:"size"`
}

// Status reports daemon reachability, language images present locally and
// leftover containers.
func (d *Docker) Status(ctx context.Context) DockerStatus {
	v, err := d.api.ServerVersion(ctx)
	if err != nil {
		return DockerStatus{Error: err.Error()}
	}
	st := DockerStatus{Available: true, ServerVersion: v.Version, APIVersion: v.APIVersion}

	imgs, err := d.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", d.cfg.ImagePrefix+"*")),
	})
	if err != nil {
		st.Error = err.Error()
		return st
	}
	for _, img := range imgs {
		for _, tag := range img.RepoTags {
			if !strings.HasPrefix(tag, d.cfg.ImagePrefix) {
				continue
			}
			st.Images = append(st.Images, ImageStatus{Reference: tag, Size: units.HumanSize(float64(img.Size))})
		}
	}
	sort.Slice(st.Images, func(i, j int) bool { return st.Images[i].Reference < st.Images[j].Reference })

	if list, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", Label+"=1")),
	}); err == nil {
		st.Leftover = len(list)
	}
	return st
}

// Close releases the client connection.
func (d *Docker) Close() error {
	return d.api.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
