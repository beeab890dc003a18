package telegram

import "errors"

// Sentinel errors for Telegram operations.
var (
	// ErrDisabled indicates Telegram integration is disabled in config.
	ErrDisabled = errors.New("telegram: disabled in configuration")

	// ErrConnectionFailed indicates the bot token could not be verified.
	ErrConnectionFailed = errors.New("telegram: connection failed")

	// ErrInvalidTarget is returned for a destination that is neither a
	// numeric chat id nor an @channel username.
	ErrInvalidTarget = errors.New("telegram: invalid chat target")

	// ErrSendFailed is returned when the Bot API rejects a message.
	ErrSendFailed = errors.New("telegram: send failed")
)
