package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/warden/internal/action"
)

// DefaultBuffer is the bus channel capacity when none is configured.
const DefaultBuffer = 256

// sinkTimeout bounds a single sink delivery.
const sinkTimeout = 10 * time.Second

// Sink receives notifications from the bus. Send is called from the bus
// goroutine, one notification at a time.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Logger is the logging surface the bus uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus decouples the dispatch path from notification delivery.
//
// Thread Safety:
//   - Observe is safe to call from any goroutine.
//   - AddSink must be called before Run.
type Bus struct {
	ch      chan Notification
	sinks   []Sink
	logger  Logger
	dropped atomic.Uint64
	sent    atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	runOnce sync.Once
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(buffer int, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		ch:     make(chan Notification, buffer),
		sinks:  sinks,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for dropped notifications and sink failures.
func (b *Bus) SetLogger(l Logger) {
	if l != nil {
		b.logger = l
	}
}

// AddSink registers a sink. Nil sinks are ignored.
func (b *Bus) AddSink(s Sink) {
	if s != nil {
		b.sinks = append(b.sinks, s)
	}
}

// Observe implements dispatch.Observer. It never blocks; when the buffer
// is full the notification is dropped with a warning.
func (b *Bus) Observe(o action.Outcome) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.ch <- FromOutcome(o):
	default:
		b.dropped.Add(1)
		b.logger.Warn("notification dropped, bus full",
			"request_id", o.RequestID,
			"resource", o.Resource,
			"status", o.Status,
		)
	}
}

// Run delivers notifications until ctx is cancelled, then drains whatever
// is already buffered. It returns nil; calling Run twice is a no-op.
func (b *Bus) Run(ctx context.Context) error {
	started := false
	b.runOnce.Do(func() { started = true })
	if !started {
		return nil
	}

	for {
		select {
		case n := <-b.ch:
			b.deliver(ctx, n)
		case <-ctx.Done():
			b.mu.Lock()
			b.closed = true
			b.mu.Unlock()
			b.drain()
			return nil
		}
	}
}

func (b *Bus) drain() {
	// Sinks get a fresh context so shutdown still flushes what was queued.
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for {
		select {
		case n := <-b.ch:
			b.deliver(ctx, n)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, n Notification) {
	for _, s := range b.sinks {
		b.sendOne(ctx, s, n)
	}
	b.sent.Add(1)
}

func (b *Bus) sendOne(parent context.Context, s Sink, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification sink panicked", "sink", s.Name(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), sinkTimeout)
	defer cancel()

	if err := s.Send(ctx, n); err != nil {
		b.logger.Warn("notification sink failed",
			"sink", s.Name(),
			"request_id", n.RequestID,
			"resource", n.Resource,
			"error", err,
		)
		return
	}
	b.logger.Debug("notification delivered", "sink", s.Name(), "request_id", n.RequestID)
}

// Stats reports delivered and dropped notification counts.
func (b *Bus) Stats() (delivered, dropped uint64) {
	return b.sent.Load(), b.dropped.Load()
}
