// Package actuator defines the contract between the dispatch queue and the
// system that actually manages containers.
//
// Backends live in sub-packages: docker drives the Docker Engine API, kube drives
// Kubernetes Deployments through client-go.
package actuator

import (
	"context"
	"errors"

	"github.com/nerrad567/warden/internal/action"
)

// Domain errors returned by actuator backends.
var (
	// ErrNotFound is returned when the named resource does not exist.
	ErrNotFound = errors.New("actuator: resource not found")

	// ErrUnavailable is returned when the resource manager cannot be reached.
	ErrUnavailable = errors.New("actuator: resource manager unavailable")

	// ErrUnsupported is returned for action kinds a backend cannot perform.
	ErrUnsupported = errors.New("actuator: unsupported action")
)

// Info describes a managed resource.
type Info struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Image   string `json:"image,omitempty"`
	Running bool   `json:"running"`
}

// Actuator performs lifecycle operations on named resources.
// Implementations must honour ctx cancellation and return errors, not panic.
type Actuator interface {
	Describe(ctx context.Context, name string) (Info, error)
	IsRunning(ctx context.Context, name string) (bool, error)
	Apply(ctx context.Context, name string, kind action.Kind) error
}
