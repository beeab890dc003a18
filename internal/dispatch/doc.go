// Package dispatch runs container lifecycle requests against an actuator
// with bounded concurrency.
//
// Every submitter (rule engine, scheduled jobs, manual commands) shares one
// FIFO served by a fixed pool of workers, so at most Config.Workers actuator
// calls are outstanding at any time. For each request a worker:
//
//  1. refuses protected resources (SKIPPED "protected")
//  2. checks the running state when OnlyIfRunning is set (SKIPPED "not running")
//  3. calls Apply under the command timeout, retrying per RetryPolicy
//  4. on failure releases the safety reservation (FAILED)
//
// The outcome is written to the ledger before the Future resolves, then
// handed to observers.
//
// # Usage
//
//	q := dispatch.New(dispatch.Config{Workers: 3}, act, store, ledger)
//	q.SetLogger(log)
//	q.AddObserver(bus)
//	q.Start()
//	defer q.Stop()
//
//	f, err := q.Submit(req)
//	outcome, err := f.Wait(ctx)
package dispatch

// Logger is the logging interface used by the queue.
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
