package dispatch

import "errors"

var (
	// ErrStopped is returned by Submit after Stop has been called.
	ErrStopped = errors.New("dispatch: queue stopped")

	// ErrCommandTimeout is returned when an actuator call exceeds the command timeout.
	ErrCommandTimeout = errors.New("dispatch: actuator timeout")

	// ErrNotCancellable is returned by Cancel once the actuator has been called
	// or the request has already completed.
	ErrNotCancellable = errors.New("dispatch: request no longer cancellable")

	// ErrUnknownRequest is returned by Cancel for an ID the queue does not hold.
	ErrUnknownRequest = errors.New("dispatch: unknown request")
)
