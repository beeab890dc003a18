package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/warden/internal/infrastructure/config"
)

// Logger is the logging surface the client needs. *logging.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives messages for a subscription. The topic has
// wildcards expanded. A returned error is logged; it does not affect
// acknowledgement. Handlers run on paho goroutines and must not block.
type MessageHandler func(topic string, payload []byte) error

// Client is Warden's broker connection. It carries the event listener's
// subscription across reconnects, publishes dispatch outcomes and keeps a
// retained online/offline status on warden/system/status.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	qos    byte

	subMu    sync.RWMutex
	handlers map[string]MessageHandler // by subscription filter

	connMu    sync.RWMutex
	connected bool

	logMu  sync.RWMutex
	logger Logger
}

// Connect dials the broker and waits up to ten seconds for the session.
// The Last Will announces an unexpected disconnect; the online status is
// published from the connect handler so it follows every reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", brokerURL(cfg.Broker))
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: no session after %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}

	// The connect handler may not have run yet.
	c.setConnected(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:      cfg,
		qos:      byte(cfg.QoS), //nolint:gosec // config validation limits qos to 0-2
		handlers: make(map[string]MessageHandler),
		logger:   noopLogger{},
	}
}

// SetLogger routes connection events and handler failures to logger.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) log() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// handleConnect restores subscriptions and announces Warden online. Runs on
// the initial connect and on every reconnect.
func (c *Client) handleConnect() {
	c.setConnected(true)

	c.subMu.RLock()
	for filter, h := range c.handlers {
		token := c.client.Subscribe(filter, c.qos, c.wrap(h))
		if token.WaitTimeout(operationTimeout) && token.Error() != nil {
			c.log().Error("restoring MQTT subscription", "topic", filter, "error", token.Error())
		}
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.qos, true,
		statusPayload(c.cfg.Broker.ClientID, StatusOnline, ""))
	c.log().Info("MQTT connected", "broker", brokerURL(c.cfg.Broker), "client_id", c.cfg.Broker.ClientID)
}

func (c *Client) handleConnectionLost(err error) {
	c.setConnected(false)
	c.log().Warn("MQTT connection lost", "broker", brokerURL(c.cfg.Broker), "error", err)
}

// Close replaces the retained status with a graceful offline message, so
// observers can tell a shutdown from a crash, then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), c.qos, true,
			statusPayload(c.cfg.Broker.ClientID, StatusOffline, ReasonGraceful))
		token.WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// wrap adapts h to paho, logging handler errors and recovering panics so a
// bad event payload cannot take down the paho router.
func (c *Client) wrap(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
