package dispatch

import (
	"context"

	"github.com/nerrad567/warden/internal/action"
)

// Future resolves to the outcome of a submitted request.
type Future struct {
	id      string
	done    chan struct{}
	outcome action.Outcome
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the request ID, usable with Queue.Cancel.
func (f *Future) ID() string { return f.id }

// Done is closed once the outcome has been recorded.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the outcome if the future has resolved.
func (f *Future) Outcome() (action.Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, true
	default:
		return action.Outcome{}, false
	}
}

// Wait blocks until the outcome is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (action.Outcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return action.Outcome{}, ctx.Err()
	}
}

func (f *Future) resolve(o action.Outcome) {
	f.outcome = o
	close(f.done)
}
