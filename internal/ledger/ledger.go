// Package ledger keeps the capped, append-only history of dispatch outcomes.
//
// Each resource has its own ring of at most Capacity entries; recording the
// next entry evicts the oldest. Entries are written through to a Store so a
// restart can rebuild the rings with Load.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/warden/internal/action"
)

// DefaultCapacity is the per-resource entry cap.
const DefaultCapacity = 100

// Entry is one recorded outcome.
type Entry struct {
	ID string `json:"id"`
	action.Outcome
}

// Store persists ledger entries.
type Store interface {
	// Append writes a single entry.
	Append(ctx context.Context, e Entry) error

	// Trim deletes all but the newest keep entries for resource.
	Trim(ctx context.Context, resource string, keep int) error

	// LoadRecent returns up to perResource newest entries for every
	// resource, oldest first.
	LoadRecent(ctx context.Context, perResource int) ([]Entry, error)
}

// Logger is the logging interface used by the ledger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Ledger is the in-memory view of the execution history, written through
// to an optional Store.
type Ledger struct {
	mu       sync.Mutex
	rings    map[string]*ring
	capacity int
	seq      uint64

	writeMu sync.Mutex // serialises Store writes
	store   Store
	logger  Logger
}

// New creates a ledger. store may be nil for a memory-only ledger.
func New(store Store, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		rings:    make(map[string]*ring),
		capacity: capacity,
		store:    store,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the ledger.
func (l *Ledger) SetLogger(logger Logger) {
	l.logger = logger
}

// Load rebuilds the in-memory rings from the store.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.LoadRecent(ctx, l.capacity)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}

	l.mu.Lock()
	l.rings = make(map[string]*ring)
	for _, e := range entries {
		l.appendLocked(e)
	}
	l.mu.Unlock()

	l.logger.Info("ledger loaded", "entries", len(entries))
	return nil
}

// Record appends an entry and persists it. The entry is visible to Query
// even if persistence fails; the error is returned so callers can log it.
func (l *Ledger) Record(ctx context.Context, o action.Outcome) (Entry, error) {
	e := Entry{ID: uuid.New().String(), Outcome: o}

	l.mu.Lock()
	l.appendLocked(e)
	l.mu.Unlock()

	if l.store == nil {
		return e, nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.store.Append(ctx, e); err != nil {
		return e, fmt.Errorf("persisting ledger entry: %w", err)
	}
	if err := l.store.Trim(ctx, e.Resource, l.capacity); err != nil {
		return e, fmt.Errorf("trimming ledger: %w", err)
	}
	return e, nil
}

// Query returns up to limit entries, newest first. Resource names match
// case-insensitively and an empty resource queries across all resources. limit <= 0 means no limit.
func (l *Ledger) Query(resource string, limit int) []Entry {
	l.mu.Lock()
	var recs []record
	if resource != "" {
		if r, ok := l.rings[action.ResourceKey(resource)]; ok {
			recs = r.items()
		}
	} else {
		for _, r := range l.rings {
			recs = append(recs, r.items()...)
		}
	}
	l.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = r.entry
	}
	return out
}

// Len returns the number of entries held for resource.
func (l *Ledger) Len(resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.rings[action.ResourceKey(resource)]; ok {
		return r.n
	}
	return 0
}

func (l *Ledger) appendLocked(e Entry) {
	key := action.ResourceKey(e.Resource)
	r, ok := l.rings[key]
	if !ok {
		r = newRing(l.capacity)
		l.rings[key] = r
	}
	l.seq++
	r.push(record{seq: l.seq, entry: e})
}

type record struct {
	seq   uint64
	entry Entry
}

// ring is a fixed-size circular buffer; push overwrites the oldest slot when full.
type ring struct {
	buf   []record
	start int
	n     int
}

func newRing(size int) *ring {
	return &ring{buf: make([]record, size)}
}

func (r *ring) push(rec record) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = rec
		r.n++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

// items returns a copy, oldest first.
func (r *ring) items() []record {
	out := make([]record, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
