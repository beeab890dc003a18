// Package docker implements actuator.Actuator on the Docker Engine API.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/actuator"
)

// Config configures the docker actuator.
type Config struct {
	// Host is the daemon address (e.g. unix:///var/run/docker.sock).
	// Empty uses DOCKER_HOST or the platform default.
	Host string

	// APIVersion pins the Engine API version. Empty negotiates with the daemon.
	APIVersion string
}

// Engine is the part of *client.Client the actuator calls.
type Engine interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
}

// Actuator controls containers through the Docker Engine API.
type Actuator struct {
	engine Engine
}

// Connect builds an Engine API client from cfg. No request is made until
// the first call.
func Connect(cfg Config) (*Actuator, error) {
	opts := []client.Opt{client.FromEnv}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating docker client: %v", actuator.ErrUnavailable, err)
	}
	return New(cli), nil
}

// New wraps an existing engine client.
func New(engine Engine) *Actuator {
	return &Actuator{engine: engine}
}

// Describe inspects the container.
func (a *Actuator) Describe(ctx context.Context, name string) (actuator.Info, error) {
	if err := checkName(name); err != nil {
		return actuator.Info{}, err
	}

	resp, err := a.engine.ContainerInspect(ctx, name)
	if err != nil {
		return actuator.Info{}, classify("inspect", name, err)
	}

	info := actuator.Info{Name: name}
	if resp.ContainerJSONBase != nil {
		info.Name = strings.TrimPrefix(resp.Name, "/")
		if resp.State != nil {
			info.Status = string(resp.State.Status)
			info.Running = resp.State.Running
		}
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
	}
	return info, nil
}

// IsRunning reports the container's running state.
func (a *Actuator) IsRunning(ctx context.Context, name string) (bool, error) {
	info, err := a.Describe(ctx, name)
	if err != nil {
		return false, err
	}
	return info.Running, nil
}

// Apply starts, stops or restarts the container. NOTIFY is a no-op.
func (a *Actuator) Apply(ctx context.Context, name string, kind action.Kind) error {
	if err := checkName(name); err != nil {
		return err
	}

	var err error
	switch kind.Effective() {
	case action.KindStart:
		err = a.engine.ContainerStart(ctx, name, container.StartOptions{})
	case action.KindStop:
		err = a.engine.ContainerStop(ctx, name, container.StopOptions{})
	case action.KindRestart:
		err = a.engine.ContainerRestart(ctx, name, container.StopOptions{})
	case action.KindNotify:
		return nil
	default:
		return fmt.Errorf("%w: %s", actuator.ErrUnsupported, kind)
	}
	if err != nil {
		return classify(string(kind.Effective()), name, err)
	}
	return nil
}

// checkName rejects names the daemon could never resolve to a container.
func checkName(name string) error {
	if strings.TrimSpace(name) == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: invalid container name %q", actuator.ErrNotFound, name)
	}
	return nil
}

// classify maps Engine API errors onto actuator sentinel errors.
func classify(op, name string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%w: %s", actuator.ErrNotFound, name)
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err), errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return fmt.Errorf("%w: %v", actuator.ErrUnavailable, err)
	}
	return fmt.Errorf("docker %s %s: %w", op, name, err)
}
