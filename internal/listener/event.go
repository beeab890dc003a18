package listener

import (
	"errors"
	"strings"
	"time"

	"github.com/nerrad567/warden/internal/automation"
)

// ErrEmptyEvent is returned when an event carries no searchable text.
var ErrEmptyEvent = errors.New("listener: event has no text")

// ErrMissingChannel is returned when an event has no channel id.
var ErrMissingChannel = errors.New("listener: event has no channel id")

// EventHandler receives trigger contexts. *automation.Orchestrator
// satisfies it.
type EventHandler interface {
	HandleEvent(tc automation.TriggerContext) error
}

// Logger is the logging surface listeners use.
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

// Event is the JSON payload accepted on the MQTT event topic and the HTTP
// webhook endpoint.
type Event struct {
	ChannelID string  `json:"channel_id"`
	SourceID  string  `json:"source_id"`
	IsWebhook bool    `json:"is_webhook"`
	Text      string  `json:"text"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Embed is structured rich content attached to a chat message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
}

// EmbedField is one name/value pair inside an embed.
type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SearchText concatenates the message body with every embed's title,
// description, field names and values, and footer, one part per line.
func (e Event) SearchText() string {
	parts := make([]string, 0, 1+len(e.Embeds)*4)
	parts = appendNonEmpty(parts, e.Text)
	for _, em := range e.Embeds {
		parts = appendNonEmpty(parts, em.Title)
		parts = appendNonEmpty(parts, em.Description)
		for _, f := range em.Fields {
			parts = appendNonEmpty(parts, f.Name)
			parts = appendNonEmpty(parts, f.Value)
		}
		parts = appendNonEmpty(parts, em.Footer)
	}
	return strings.Join(parts, "\n")
}

// TriggerContext validates the event and converts it. receivedAt is used as
// the arrival timestamp.
func (e Event) TriggerContext(receivedAt time.Time) (automation.TriggerContext, error) {
	channel := strings.TrimSpace(e.ChannelID)
	if channel == "" {
		return automation.TriggerContext{}, ErrMissingChannel
	}
	text := e.SearchText()
	if text == "" {
		return automation.TriggerContext{}, ErrEmptyEvent
	}
	return automation.TriggerContext{
		ChannelID:  channel,
		SourceID:   strings.TrimSpace(e.SourceID),
		IsWebhook:  e.IsWebhook,
		Text:       text,
		ReceivedAt: receivedAt.UTC(),
	}, nil
}

func appendNonEmpty(parts []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		parts = append(parts, s)
	}
	return parts
}
