package listener

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/warden/internal/infrastructure/mqtt"
)

// Subscriber is the MQTT surface the listener needs. *mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(filter string, handler mqtt.MessageHandler) error
	Unsubscribe(filter string) error
}

// MQTTListener subscribes to warden/events/+ and forwards each decoded
// event to the handler.
type MQTTListener struct {
	sub     Subscriber
	handler EventHandler
	logger  Logger
	now     func() time.Time
}

// NewMQTTListener creates a listener. Start must be called to subscribe.
func NewMQTTListener(sub Subscriber, handler EventHandler) *MQTTListener {
	return &MQTTListener{
		sub:     sub,
		handler: handler,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger.
func (l *MQTTListener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Start subscribes to the event topic. The subscription survives
// reconnects; the mqtt client restores it.
func (l *MQTTListener) Start() error {
	topic := mqtt.Topics{}.AllEvents()
	if err := l.sub.Subscribe(topic, l.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	l.logger.Info("mqtt event listener started", "topic", topic)
	return nil
}

// Stop unsubscribes from the event topic.
func (l *MQTTListener) Stop() error {
	return l.sub.Unsubscribe(mqtt.Topics{}.AllEvents())
}

func (l *MQTTListener) handleMessage(topic string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.logger.Warn("discarding malformed event", "topic", topic, "error", err)
		return nil
	}
	if ev.ChannelID == "" {
		ev.ChannelID = mqtt.ChannelFromEventTopic(topic)
	}

	tc, err := ev.TriggerContext(l.now())
	if errors.Is(err, ErrEmptyEvent) {
		l.logger.Debug("ignoring event without text", "topic", topic)
		return nil
	}
	if err != nil {
		l.logger.Warn("discarding event", "topic", topic, "error", err)
		return nil
	}

	if err := l.handler.HandleEvent(tc); err != nil {
		return fmt.Errorf("handling event from %s: %w", topic, err)
	}
	return nil
}
