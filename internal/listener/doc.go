// Package listener turns inbound chat and webhook traffic into
// automation.TriggerContext values and hands them to the orchestrator.
//
// Three inbound paths share one payload shape (Event):
//   - MQTT: JSON published on warden/events/{channel}
//   - Telegram: long-polled bot updates (converted by FromUpdate)
//   - HTTP: POST /api/v1/events, decoded by the api package
//
// All platform-specific parsing lives here. Structured embed content is
// flattened into TriggerContext.Text so the matching engine only ever sees
// plain text.
package listener
