package listener

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nerrad567/warden/internal/automation"
)

// Poller is the Telegram surface the listener needs. *telegram.Client
// satisfies it.
type Poller interface {
	Poll(ctx context.Context, handler func(tgbotapi.Update)) error
	BotID() int64
}

// TelegramListener long-polls bot updates and forwards chat messages.
type TelegramListener struct {
	poller  Poller
	handler EventHandler
	logger  Logger
}

// NewTelegramListener creates a listener.
func NewTelegramListener(poller Poller, handler EventHandler) *TelegramListener {
	return &TelegramListener{poller: poller, handler: handler, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (l *TelegramListener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Run polls until ctx is cancelled.
func (l *TelegramListener) Run(ctx context.Context) error {
	l.logger.Info("telegram listener started")
	return l.poller.Poll(ctx, l.handleUpdate)
}

func (l *TelegramListener) handleUpdate(u tgbotapi.Update) {
	tc, ok := FromUpdate(u, l.poller.BotID())
	if !ok {
		return
	}
	if err := l.handler.HandleEvent(tc); err != nil {
		l.logger.Warn("telegram event rejected",
			"update_id", u.UpdateID,
			"channel", tc.ChannelID,
			"error", err,
		)
	}
}

// FromUpdate converts a bot update into a trigger context. Messages sent by
// the bot itself, updates without a message and messages without text are
// reported as not ok.
//
// The chat id becomes the channel id. The sender is the user id, or the
// sending chat for channel posts and anonymous admins. Bot senders and
// channel posts are flagged as webhooks.
func FromUpdate(u tgbotapi.Update, botID int64) (automation.TriggerContext, bool) {
	msg := u.Message
	channelPost := false
	switch {
	case msg != nil:
	case u.ChannelPost != nil:
		msg, channelPost = u.ChannelPost, true
	case u.EditedMessage != nil:
		msg = u.EditedMessage
	case u.EditedChannelPost != nil:
		msg, channelPost = u.EditedChannelPost, true
	default:
		return automation.TriggerContext{}, false
	}
	if msg.Chat == nil {
		return automation.TriggerContext{}, false
	}
	if msg.From != nil && botID != 0 && msg.From.ID == botID {
		return automation.TriggerContext{}, false
	}

	text := strings.TrimSpace(strings.Join(nonEmpty(msg.Text, msg.Caption), "\n"))
	if text == "" {
		return automation.TriggerContext{}, false
	}

	tc := automation.TriggerContext{
		ChannelID:  strconv.FormatInt(msg.Chat.ID, 10),
		IsWebhook:  channelPost || msg.SenderChat != nil || (msg.From != nil && msg.From.IsBot),
		Text:       text,
		ReceivedAt: msg.Time().UTC(),
	}
	switch {
	case msg.SenderChat != nil:
		tc.SourceID = strconv.FormatInt(msg.SenderChat.ID, 10)
	case msg.From != nil:
		tc.SourceID = strconv.FormatInt(msg.From.ID, 10)
	}
	return tc, true
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
