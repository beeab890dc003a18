// Package telegram wraps the Telegram Bot API for Warden.
//
// Warden uses a bot in two ways: as an inbound chat listener (long-poll
// updates are turned into trigger contexts by package listener) and as an
// outbound channel for short feedback and audit messages about dispatch
// outcomes.
//
// Chat targets are strings so they can be stored alongside rules: a
// numeric chat id such as "-1001234567890" or a public channel username
// such as "@ops_feed".
package telegram
