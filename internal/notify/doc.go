// Package notify delivers dispatch outcomes to everything outside the core
// that wants to hear about them.
//
// The dispatch queue hands each outcome to Bus.Observe after the ledger
// write. Observe never blocks: outcomes go onto a buffered channel and a
// single goroutine fans them out to the configured sinks. When the buffer
// is full the notification is dropped and counted; the ledger still holds
// the outcome.
//
//	dispatch.Queue ──Observe──▶ Bus ──▶ MQTTSink     warden/outcome/{resource}
//	                                 ├─▶ HubSink      websocket "dispatch.outcome"
//	                                 ├─▶ MetricsSink  InfluxDB dispatch_outcome
//	                                 └─▶ ChatSink     Telegram feedback + audit
//
// Sink errors are logged and never reach the dispatch path.
package notify
