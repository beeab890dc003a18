// Package api implements Warden's configuration HTTP API and the websocket
// live feed of dispatch outcomes.
//
// This package provides:
//   - Rule CRUD with validation and dry-run testing (never dispatches)
//   - Global settings, ledger queries and live cooldown state
//   - Manual and scheduled dispatch, and cancellation of delayed requests
//   - An inbound webhook endpoint that feeds the orchestrator
//   - Audit log queries; every change made through the API is audited
//   - Websocket hub broadcasting "dispatch.outcome" events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server runs without MQTT, InfluxDB or Telegram. Only the core
// components (registry, orchestrator, queue, ledger, safety store) are
// required.
package api
