package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nerrad567/warden/internal/infrastructure/config"
)

// maxMessageRunes is the Bot API limit for a text message.
const maxMessageRunes = 4096

const defaultPollTimeout = 30

// Logger is the logging surface the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client wraps the Telegram Bot API for sending feedback and receiving
// chat updates.
//
// Thread Safety:
//   - SendText is safe for concurrent use.
//   - Poll may be called at most once per Client.
type Client struct {
	bot *tgbotapi.BotAPI
	cfg config.TelegramConfig
}

// Connect verifies the bot token with getMe and returns a ready client.
// It returns ErrDisabled when Telegram is turned off in config.
func Connect(cfg config.TelegramConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	bot.Debug = cfg.Debug

	return &Client{bot: bot, cfg: cfg}, nil
}

// SetLogger routes the Bot API library's own log output (long-poll
// errors and retries) to logger.
func SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	_ = tgbotapi.SetLogger(botLogger{logger}) //nolint:errcheck // only fails for a nil logger
}

type botLogger struct{ l Logger }

func (b botLogger) Println(v ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintln(v...)), "component", "telegram")
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "telegram")
}

// Username returns the bot's @username as reported by getMe.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// BotID returns the bot's own user id so callers can ignore its messages.
func (c *Client) BotID() int64 {
	return c.bot.Self.ID
}

// SendText sends a plain text message to target, which is either a numeric
// chat id ("-1001234") or a public channel username ("@ops_feed").
// Text longer than the Bot API limit is truncated.
func (c *Client) SendText(ctx context.Context, target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chatID, channel, err := ParseTarget(target)
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if channel != "" {
		msg = tgbotapi.NewMessageToChannel(channel, truncate(text))
	} else {
		msg = tgbotapi.NewMessage(chatID, truncate(text))
	}
	msg.DisableWebPagePreview = true

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

// Poll long-polls for updates and hands each one to handler until ctx is
// cancelled. Handler runs on the polling goroutine, so it must not block.
func (c *Client) Poll(ctx context.Context, handler func(tgbotapi.Update)) error {
	timeout := c.cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := c.bot.GetUpdatesChan(u)
	defer c.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			handler(update)
		}
	}
}

// ParseTarget splits a destination into a numeric chat id or an @channel
// username. Exactly one of the results is set on success.
func ParseTarget(target string) (chatID int64, channel string, err error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") && len(target) > 1 {
		return 0, target, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil || id == 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return id, "", nil
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageRunes-1]) + "…"
}
