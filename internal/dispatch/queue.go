package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/ledger"
)

// Defaults for Config fields left at zero.
const (
	DefaultWorkers        = 3
	DefaultQueueSize      = 256
	DefaultCommandTimeout = 30 * time.Second

	// recordTimeout bounds a single ledger write.
	recordTimeout = 5 * time.Second
)

// Actuator is the part of actuator.Actuator the queue calls.
type Actuator interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	Apply(ctx context.Context, name string, kind action.Kind) error
}

// Safety is the part of the safety store the queue needs: a last-line
// protected check plus settling of the reservation carried by a request.
// Release rolls back a reservation that never reached the actuator; Commit
// keeps the cooldown of one that did.
type Safety interface {
	IsProtected(resource string) bool
	Release(token string)
	Commit(token string)
}

// Recorder persists outcomes. *ledger.Ledger satisfies it.
type Recorder interface {
	Record(ctx context.Context, o action.Outcome) (ledger.Entry, error)
}

// Observer is told about every recorded outcome. Observe must not block.
type Observer interface {
	Observe(o action.Outcome)
}

// Config configures the queue.
type Config struct {
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
	Retry          RetryPolicy
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Workers int `json:"workers"`
	Delayed int `json:"delayed"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

type jobState int

const (
	stateDelayed jobState = iota
	stateQueued
	stateRunning
	stateDone
)

type job struct {
	req    action.Request
	future *Future
	timer  *time.Timer
	state  jobState
}

// Queue is the bounded-concurrency FIFO through which every lifecycle
// call reaches the actuator. Requests with a delay wait on a timer and
// join the FIFO when it fires, so a delayed request never holds a worker.
type Queue struct {
	cfg      Config
	act      Actuator
	safety   Safety
	recorder Recorder
	logger   Logger

	ready chan *job
	stop  chan struct{}
	wg    sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*job
	observers []Observer
	started   bool
	stopped   bool
}

// New creates a queue. Call Start to launch the workers.
func New(cfg Config, act Actuator, safety Safety, recorder Recorder) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Queue{
		cfg:      cfg,
		act:      act,
		safety:   safety,
		recorder: recorder,
		logger:   noopLogger{},
		ready:    make(chan *job, cfg.QueueSize),
		stop:     make(chan struct{}),
		jobs:     make(map[string]*job),
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// AddObserver registers an outcome observer.
func (q *Queue) AddObserver(o Observer) {
	q.mu.Lock()
	q.observers = append(q.observers, o)
	q.mu.Unlock()
}

// Start launches the worker pool. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		go q.worker(i)
	}
	q.logger.Info("dispatch queue started", "workers", q.cfg.Workers, "queue_size", q.cfg.QueueSize)
}

// Stop refuses new work, cancels delayed and queued requests, and waits
// for in-flight actuator calls to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true

	var pending []*job
	for _, j := range q.jobs {
		if j.state == stateDelayed || j.state == stateQueued {
			j.state = stateDone
			if j.timer != nil {
				j.timer.Stop()
			}
			pending = append(pending, j)
		}
	}
	q.mu.Unlock()

	close(q.stop)
	q.wg.Wait()

	for _, j := range pending {
		q.release(j.req)
		q.complete(j, action.NewOutcome(j.req, action.StatusSkipped, action.ReasonCancelled))
	}
	q.logger.Info("dispatch queue stopped", "cancelled", len(pending))
}

// Submit enqueues req and returns a Future that resolves once the outcome
// is recorded in the ledger.
func (q *Queue) Submit(req action.Request) (*Future, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	j := &job{req: req, future: newFuture(req.ID)}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}
	q.jobs[req.ID] = j
	if req.Delay > 0 {
		j.state = stateDelayed
		j.timer = time.AfterFunc(req.Delay, func() { q.promote(j) })
		q.mu.Unlock()

		q.logger.Debug("dispatch request delayed",
			"request_id", req.ID, "resource", req.Resource, "delay", req.Delay.String())
		return j.future, nil
	}
	j.state = stateQueued
	q.mu.Unlock()

	q.enqueue(j)
	return j.future, nil
}

// Skip records a SKIPPED outcome for a request that was denied before
// reaching the queue (for example by the safety store).
func (q *Queue) Skip(req action.Request, reason string) action.Outcome {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	o := action.NewOutcome(req, action.StatusSkipped, reason)
	q.record(o)
	q.notify(o)

	q.logger.Info("dispatch skipped",
		"request_id", req.ID, "resource", req.Resource, "action", req.Kind, "reason", reason)
	return o
}

// Cancel aborts a request that has not reached the actuator yet.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownRequest
	}
	if j.state != stateDelayed && j.state != stateQueued {
		q.mu.Unlock()
		return ErrNotCancellable
	}
	j.state = stateDone
	if j.timer != nil {
		j.timer.Stop()
	}
	q.mu.Unlock()

	q.release(j.req)
	q.complete(j, action.NewOutcome(j.req, action.StatusSkipped, action.ReasonCancelled))
	return nil
}

// Pending returns delayed and queued requests ordered by request time.
func (q *Queue) Pending() []action.Request {
	q.mu.Lock()
	out := make([]action.Request, 0, len(q.jobs))
	for _, j := range q.jobs {
		if j.state == stateDelayed || j.state == stateQueued {
			out = append(out, j.req)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].RequestedAt.Before(out[k].RequestedAt) })
	return out
}

// Stats returns current queue occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Workers: q.cfg.Workers}
	for _, j := range q.jobs {
		switch j.state {
		case stateDelayed:
			s.Delayed++
		case stateQueued:
			s.Queued++
		case stateRunning:
			s.Running++
		}
	}
	return s
}

// promote moves a delayed job into the FIFO when its timer fires.
func (q *Queue) promote(j *job) {
	if !q.transition(j, stateQueued, stateDelayed) {
		return
	}
	q.enqueue(j)
}

func (q *Queue) enqueue(j *job) {
	select {
	case q.ready <- j:
	default:
		if !q.transition(j, stateDone, stateQueued) {
			return
		}
		q.logger.Warn("dispatch queue full", "request_id", j.req.ID, "resource", j.req.Resource)
		q.release(j.req)
		q.complete(j, action.NewOutcome(j.req, action.StatusFailed, "dispatch queue full"))
	}
}

// transition moves j to `to` if its current state is `from`.
func (q *Queue) transition(j *job, to, from jobState) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.state != from || (q.stopped && to != stateDone) {
		return false
	}
	j.state = to
	return true
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stop:
			return
		case j := <-q.ready:
			if !q.transition(j, stateRunning, stateQueued) {
				continue
			}
			q.process(id, j)
		}
	}
}

func (q *Queue) process(workerID int, j *job) {
	req := j.req
	start := time.Now()

	var (
		o       action.Outcome
		release bool
	)
	if q.safety != nil && q.safety.IsProtected(req.Resource) {
		o, release = action.NewOutcome(req, action.StatusSkipped, action.ReasonProtected), true
	} else {
		o, release = q.execute(req)
	}

	if release {
		q.release(req)
	} else {
		q.commit(req)
	}

	q.mu.Lock()
	j.state = stateDone
	q.mu.Unlock()
	q.complete(j, o)

	q.logger.Info("dispatch complete",
		"worker_id", workerID,
		"request_id", req.ID,
		"resource", req.Resource,
		"action", req.Kind,
		"rule_id", req.RuleID,
		"status", o.Status,
		"detail", o.Detail,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// execute runs the running-state check and the actuator call. The bool
// result asks the caller to release the safety reservation, which is the
// case whenever the resource was left untouched.
func (q *Queue) execute(req action.Request) (action.Outcome, bool) {
	// Actuator calls are committed once started; they are not tied to queue shutdown.
	ctx := context.Background()

	if req.OnlyIfRunning && req.Kind.Touches() {
		running, err := q.isRunning(ctx, req.Resource)
		if err != nil {
			return action.NewOutcome(req, action.StatusFailed, err.Error()), true
		}
		if !running {
			return action.NewOutcome(req, action.StatusSkipped, action.ReasonNotRunning), true
		}
	}

	if !req.Kind.Touches() {
		return action.NewOutcome(req, action.StatusSuccess, "notification only"), false
	}

	attempts, err := retry(ctx, q.cfg.Retry, q.logger, func(ctx context.Context) error {
		return q.applyOnce(ctx, req)
	})
	if err != nil {
		return action.NewOutcome(req, action.StatusFailed, err.Error()), true
	}

	detail := ""
	if attempts > 1 {
		detail = fmt.Sprintf("succeeded after %d attempts", attempts)
	}
	return action.NewOutcome(req, action.StatusSuccess, detail), false
}

func (q *Queue) isRunning(ctx context.Context, resource string) (bool, error) {
	var running bool
	err := q.bounded(ctx, func(ctx context.Context) error {
		var err error
		running, err = q.act.IsRunning(ctx, resource)
		return err
	})
	return running, err
}

func (q *Queue) applyOnce(ctx context.Context, req action.Request) error {
	return q.bounded(ctx, func(ctx context.Context) error {
		return q.act.Apply(ctx, req.Resource, req.Kind.Effective())
	})
}

// bounded runs fn with the command timeout and returns ErrCommandTimeout
// even if fn ignores its context.
func (q *Queue) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.CommandTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrCommandTimeout, q.cfg.CommandTimeout)
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrCommandTimeout, q.cfg.CommandTimeout)
	}
}

// complete records the outcome, resolves the future and notifies observers,
// in that order.
func (q *Queue) complete(j *job, o action.Outcome) {
	q.record(o)

	q.mu.Lock()
	delete(q.jobs, j.req.ID)
	q.mu.Unlock()

	j.future.resolve(o)
	q.notify(o)
}

func (q *Queue) record(o action.Outcome) {
	if q.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if _, err := q.recorder.Record(ctx, o); err != nil {
		q.logger.Error("recording ledger entry failed",
			"request_id", o.RequestID, "resource", o.Resource, "error", err)
	}
}

func (q *Queue) notify(o action.Outcome) {
	q.mu.Lock()
	observers := q.observers
	q.mu.Unlock()

	for _, obs := range observers {
		q.safeObserve(obs, o)
	}
}

func (q *Queue) safeObserve(obs Observer, o action.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("outcome observer panicked", "request_id", o.RequestID, "panic", r)
		}
	}()
	obs.Observe(o)
}

// release rolls back the reservation req carries. Requests submitted
// without one, such as manual dispatches, leave the safety store alone.
func (q *Queue) release(req action.Request) {
	if q.safety != nil && req.Reservation != "" {
		q.safety.Release(req.Reservation)
	}
}

func (q *Queue) commit(req action.Request) {
	if q.safety != nil && req.Reservation != "" {
		q.safety.Commit(req.Reservation)
	}
}
