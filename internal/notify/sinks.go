package notify

import (
	"context"
	"errors"

	"github.com/nerrad567/warden/internal/infrastructure/influxdb"
	"github.com/nerrad567/warden/internal/infrastructure/mqtt"
)

// ChannelDispatchOutcome is the websocket channel carrying notifications.
const ChannelDispatchOutcome = "dispatch.outcome"

// ─── MQTT ───────────────────────────────────────────────────────────

// Publisher is the MQTT surface used by MQTTSink.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTSink publishes each notification on warden/outcome/{resource}.
type MQTTSink struct {
	pub Publisher
}

// NewMQTTSink returns nil when pub is nil so callers can add it unconditionally.
func NewMQTTSink(pub Publisher) Sink {
	if pub == nil {
		return nil
	}
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(_ context.Context, n Notification) error {
	return s.pub.PublishJSON(mqtt.Topics{}.Outcome(n.Resource), n)
}

// ─── WebSocket hub ──────────────────────────────────────────────────

// Broadcaster is the websocket hub surface used by HubSink.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubSink pushes notifications to websocket clients subscribed to
// ChannelDispatchOutcome.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink returns nil when hub is nil.
func NewHubSink(hub Broadcaster) Sink {
	if hub == nil {
		return nil
	}
	return &HubSink{hub: hub}
}

func (s *HubSink) Name() string { return "websocket" }

func (s *HubSink) Send(_ context.Context, n Notification) error {
	s.hub.Broadcast(ChannelDispatchOutcome, n)
	return nil
}

// ─── Metrics ────────────────────────────────────────────────────────

// MetricsWriter is the InfluxDB surface used by MetricsSink.
type MetricsWriter interface {
	WriteDispatchOutcome(o influxdb.DispatchOutcome)
}

// MetricsSink writes one dispatch_outcome point per notification.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink returns nil when w is nil.
func NewMetricsSink(w MetricsWriter) Sink {
	if w == nil {
		return nil
	}
	return &MetricsSink{w: w}
}

func (s *MetricsSink) Name() string { return "influxdb" }

func (s *MetricsSink) Send(_ context.Context, n Notification) error {
	s.w.WriteDispatchOutcome(influxdb.DispatchOutcome{
		Resource: n.Resource,
		Action:   string(n.Action),
		Status:   string(n.Outcome),
		RuleID:   n.RuleID,
		Delayed:  n.DelaySeconds > 0,
		Silent:   n.Silent,
		At:       n.CompletedAt,
	})
	return nil
}

// ─── Chat ───────────────────────────────────────────────────────────

// TextSender is the chat surface used by ChatSink.
type TextSender interface {
	SendText(ctx context.Context, target, text string) error
}

// ChatSink sends the short feedback line to the request's feedback
// destination (unless silent) and an audit line for every outcome to the
// audit destination, when one is configured.
type ChatSink struct {
	sender      TextSender
	auditTarget func() string
}

// NewChatSink returns nil when sender is nil. auditTarget is read on every
// notification so settings changes apply without a restart; it may be nil.
func NewChatSink(sender TextSender, auditTarget func() string) Sink {
	if sender == nil {
		return nil
	}
	return &ChatSink{sender: sender, auditTarget: auditTarget}
}

func (s *ChatSink) Name() string { return "chat" }

func (s *ChatSink) Send(ctx context.Context, n Notification) error {
	var errs []error

	if !n.Silent && n.FeedbackTarget != "" {
		if err := s.sender.SendText(ctx, n.FeedbackTarget, n.FeedbackText()); err != nil {
			errs = append(errs, err)
		}
	}

	if s.auditTarget != nil {
		if target := s.auditTarget(); target != "" {
			if err := s.sender.SendText(ctx, target, n.AuditText()); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
