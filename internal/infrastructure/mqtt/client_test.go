package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/warden/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "warden-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// ─── Fake paho client ───────────────────────────────────────────────

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	publishErr   error
	subscribeErr error
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) IsConnectionOpen() bool  { return f.IsConnected() }
func (f *fakePaho) Connect() pahomqtt.Token { return &fakeToken{} }
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &fakeToken{err: f.publishErr}
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.published = append(f.published, published{topic, qos, retained, data})
	return &fakeToken{}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return &fakeToken{err: f.subscribeErr}
	}
	f.handlers[topic] = callback
	return &fakeToken{}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver simulates the broker routing a message to a subscription.
func (f *fakePaho) deliver(subscription, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[subscription]
	f.mu.Unlock()
	if h != nil {
		h(f, fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakePaho) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// newTestClient returns a connected Client backed by a fake paho client.
func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.connected = true
	return c, fake
}

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	l.infos = append(l.infos, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func decodeStatus(t *testing.T, payload []byte) Status {
	t.Helper()
	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		t.Fatalf("status payload %s: %v", payload, err)
	}
	return st
}

// ─── Connection ─────────────────────────────────────────────────────

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if !strings.Contains(err.Error(), "tcp://127.0.0.1:1") {
		t.Errorf("error %q should name the broker", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestClose_PublishesGracefulOffline(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	status := fake.publishedTo(Topics{}.SystemStatus())
	if len(status) != 1 || !status[0].retained || status[0].qos != 1 {
		t.Fatalf("status publishes = %+v, want one retained at QoS 1", status)
	}
	st := decodeStatus(t, status[0].payload)
	if st.Status != StatusOffline || st.Reason != ReasonGraceful || st.ClientID != "warden-test" {
		t.Errorf("status = %+v", st)
	}
	if !fake.disconnected || c.IsConnected() {
		t.Error("client should be disconnected after Close")
	}
}

func TestHealthCheck(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}

	fake.Disconnect(0)
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck(disconnected) = %v, want ErrNotConnected", err)
	}
}

// A reconnect on a clean session must bring the event subscription back
// and refresh the retained online status.
func TestHandleConnect_RestoresEventSubscription(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &mockLogger{}
	c.SetLogger(logger)

	var got string
	if err := c.Subscribe(Topics{}.AllEvents(), func(topic string, _ []byte) error {
		got = topic
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	c.handleConnectionLost(errors.New("network down"))
	if c.IsConnected() {
		t.Error("IsConnected() = true after connection lost")
	}
	fake.Unsubscribe(Topics{}.AllEvents())

	c.handleConnect()
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	fake.deliver(Topics{}.AllEvents(), Topics{}.Event("updates"), []byte(`{}`))
	if got != "warden/events/updates" {
		t.Errorf("restored handler got topic %q", got)
	}

	status := fake.publishedTo(Topics{}.SystemStatus())
	if len(status) != 1 || !status[0].retained {
		t.Fatalf("status publishes = %+v, want one retained", status)
	}
	if st := decodeStatus(t, status[0].payload); st.Status != StatusOnline || st.Reason != "" {
		t.Errorf("status = %+v, want online", st)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || len(logger.infos) != 1 {
		t.Errorf("warns=%v infos=%v, want one lost and one connected", logger.warns, logger.infos)
	}
}

func TestHandleConnect_LogsRestoreFailure(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &mockLogger{}
	c.SetLogger(logger)
	if err := c.Subscribe(Topics{}.AllEvents(), func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	fake.subscribeErr = errors.New("not authorised")
	c.handleConnect()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want the failed restore", logger.errors)
	}
}

// ─── Publish ────────────────────────────────────────────────────────

func TestPublishJSON_Outcome(t *testing.T) {
	c, fake := newTestClient(t)
	topic := Topics{}.Outcome("icarus-server")

	if err := c.PublishJSON(topic, map[string]string{"status": "SKIPPED"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	got := fake.publishedTo(topic)
	if len(got) != 1 || string(got[0].payload) != `{"status":"SKIPPED"}` {
		t.Fatalf("published = %+v", got)
	}
	if got[0].retained || got[0].qos != 1 {
		t.Errorf("outcome published retained=%v qos=%d, want unretained at QoS 1", got[0].retained, got[0].qos)
	}

	if err := c.PublishJSON(topic, make(chan int)); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(unencodable) = %v, want ErrPublishFailed", err)
	}
}

func TestPublish_UsesConfiguredQoS(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 0
	c := newClient(cfg)
	fake := newFakePaho()
	c.client, c.connected = fake, true

	if err := c.Publish("warden/outcome/web", []byte("{}"), false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got := fake.publishedTo("warden/outcome/web"); len(got) != 1 || got[0].qos != 0 {
		t.Errorf("published = %+v, want QoS 0", got)
	}
}

func TestPublishValidation(t *testing.T) {
	c, fake := newTestClient(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), ErrInvalidTopic},
		{"outside hierarchy", "homeassistant/switch/web", []byte("x"), ErrForeignTopic},
		{"bare prefix", "warden", []byte("x"), ErrForeignTopic},
		{"wildcard resource", Topics{}.Outcome("web+db"), []byte("x"), ErrInvalidTopic},
		{"multi-level wildcard", Topics{}.Outcome("#"), []byte("x"), ErrInvalidTopic},
		{"empty resource", Topics{}.Outcome(""), []byte("x"), ErrInvalidTopic},
		{"payload too large", Topics{}.Outcome("web"), make([]byte, maxPayloadSize+1), ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, false); !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if n := len(fake.published); n != 0 {
		t.Errorf("%d invalid publishes reached the broker", n)
	}

	fake.publishErr = errors.New("broker rejected")
	if err := c.Publish("warden/outcome/web", nil, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() with broker error = %v, want ErrPublishFailed", err)
	}

	fake.Disconnect(0)
	if err := c.Publish("warden/outcome/web", nil, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() disconnected = %v, want ErrNotConnected", err)
	}
}

// ─── Subscribe ──────────────────────────────────────────────────────

func TestSubscribe_DeliversWithExpandedTopic(t *testing.T) {
	c, fake := newTestClient(t)

	var gotTopic, gotPayload string
	err := c.Subscribe(Topics{}.AllEvents(), func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, ok := c.handlers[Topics{}.AllEvents()]; !ok {
		t.Error("subscription not tracked for reconnect")
	}

	fake.deliver(Topics{}.AllEvents(), Topics{}.Event("updates"), []byte(`{"text":"hi"}`))
	if gotTopic != "warden/events/updates" || gotPayload != `{"text":"hi"}` {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		filter  string
		handler MessageHandler
		wantErr error
	}{
		{"empty filter", "", noop, ErrInvalidTopic},
		{"outside hierarchy", "#", noop, ErrForeignTopic},
		{"empty level", "warden//events", noop, ErrInvalidTopic},
		{"nil handler", "warden/events/+", nil, ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.filter, tt.handler); !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	fake.subscribeErr = errors.New("not authorised")
	if err := c.Subscribe("warden/events/+", noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker error = %v", err)
	}
	if len(c.handlers) != 0 {
		t.Error("failed subscription should not be restored on reconnect")
	}

	fake.Disconnect(0)
	if err := c.Subscribe("warden/events/+", noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected = %v", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe(Topics{}.AllEvents(), noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := c.Unsubscribe(Topics{}.AllEvents()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if len(c.handlers) != 0 || len(fake.unsubscribed) != 1 {
		t.Error("subscription not removed")
	}

	// While disconnected only the local record goes.
	if err := c.Subscribe(Topics{}.AllEvents(), noop); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	fake.Disconnect(0)
	if err := c.Unsubscribe(Topics{}.AllEvents()); err != nil {
		t.Errorf("Unsubscribe() disconnected = %v, want nil", err)
	}
	if len(c.handlers) != 0 || len(fake.unsubscribed) != 1 {
		t.Error("disconnected unsubscribe should only drop the local record")
	}
}

func TestHandlerErrorAndPanicAreLogged(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &mockLogger{}
	c.SetLogger(logger)

	_ = c.Subscribe("warden/events/bad", func(string, []byte) error { return errors.New("bad payload") })
	_ = c.Subscribe("warden/events/panic", func(string, []byte) error { panic("boom") })

	fake.deliver("warden/events/bad", "warden/events/bad", nil)
	fake.deliver("warden/events/panic", "warden/events/panic", nil)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || len(logger.errors) != 1 {
		t.Errorf("warns=%v errors=%v, want one each", logger.warns, logger.errors)
	}
}

// ─── Topics ─────────────────────────────────────────────────────────

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Event", topics.Event("updates"), "warden/events/updates"},
		{"Outcome", topics.Outcome("icarus-server"), "warden/outcome/icarus-server"},
		{"SystemStatus", topics.SystemStatus(), "warden/system/status"},
		{"AllEvents", topics.AllEvents(), "warden/events/+"},
		{"AllOutcomes", topics.AllOutcomes(), "warden/outcome/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestChannelFromEventTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"warden/events/updates", "updates"},
		{"warden/events/", ""},
		{"warden/events/a/b", ""},
		{"warden/outcome/icarus", ""},
		{"other/events/updates", ""},
	}
	for _, tt := range tests {
		if got := ChannelFromEventTopic(tt.topic); got != tt.want {
			t.Errorf("ChannelFromEventTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

// ─── Options ────────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "warden"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "warden-test" || opts.Username != "warden" || opts.Password != "secret" {
		t.Errorf("ClientID=%q Username=%q", opts.ClientID, opts.Username)
	}
	if opts.TLSConfig == nil || !opts.AutoReconnect || !opts.CleanSession {
		t.Error("TLS, auto-reconnect and clean sessions should be configured")
	}
	if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("retry=%v max=%v", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
	}

	if opts.WillTopic != "warden/system/status" || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("Will = %q retained=%v qos=%d", opts.WillTopic, opts.WillRetained, opts.WillQos)
	}
	if st := decodeStatus(t, opts.WillPayload); st.Status != StatusOffline || st.Reason != ReasonUnexpected {
		t.Errorf("will = %+v", st)
	}

	plain := buildClientOptions(testConfig())
	if plain.Servers[0].Scheme != "tcp" || plain.Username != "" {
		t.Errorf("plain options = %v user=%q", plain.Servers, plain.Username)
	}
}
