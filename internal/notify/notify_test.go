package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/infrastructure/influxdb"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type recordingSink struct {
	mu    sync.Mutex
	name  string
	got   []Notification
	err   error
	block chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, n Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type panicSink struct{}

func (panicSink) Name() string                           { return "panic" }
func (panicSink) Send(context.Context, Notification) error { panic("boom") }

type mockLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *mockLogger) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns), len(l.errors)
}

type fakePublisher struct {
	topic string
	v     any
	err   error
}

func (p *fakePublisher) PublishJSON(topic string, v any) error {
	p.topic, p.v = topic, v
	return p.err
}

type fakeHub struct {
	channel string
	payload any
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.channel, h.payload = channel, payload
}

type fakeMetrics struct {
	points []influxdb.DispatchOutcome
}

func (m *fakeMetrics) WriteDispatchOutcome(o influxdb.DispatchOutcome) {
	m.points = append(m.points, o)
}

type sentText struct{ target, text string }

type fakeSender struct {
	sent []sentText
	err  error
}

func (f *fakeSender) SendText(_ context.Context, target, text string) error {
	f.sent = append(f.sent, sentText{target, text})
	return f.err
}

func outcome(status action.Status, detail string) action.Outcome {
	return action.Outcome{
		RequestID:      "req-1",
		Status:         status,
		Resource:       "icarus-server",
		Kind:           action.KindRestart,
		RuleID:         "icarus-update",
		RuleName:       "Icarus update",
		Detail:         detail,
		DelaySeconds:   30,
		FeedbackTarget: "12345",
		CompletedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Notification ───────────────────────────────────────────────────

func TestFromOutcome(t *testing.T) {
	n := FromOutcome(outcome(action.StatusSkipped, action.ReasonResourceCooldown))
	if n.Resource != "icarus-server" || n.Action != action.KindRestart || n.RuleName != "Icarus update" {
		t.Errorf("FromOutcome() = %+v", n)
	}
	if n.Outcome != action.StatusSkipped || n.DelaySeconds != 30 {
		t.Errorf("outcome/delay = %s/%d", n.Outcome, n.DelaySeconds)
	}
	if n.Reason != "cooldown active" {
		t.Errorf("Reason = %q, want %q", n.Reason, "cooldown active")
	}

	if ok := FromOutcome(outcome(action.StatusSuccess, "")); ok.Reason != "" {
		t.Errorf("success Reason = %q, want empty", ok.Reason)
	}
}

func TestFeedbackText(t *testing.T) {
	tests := []struct {
		name   string
		status action.Status
		detail string
		want   []string
	}{
		{"success with delay", action.StatusSuccess, "", []string{"restart icarus-server: done", "after 30s delay", "[rule: Icarus update]"}},
		{"protected", action.StatusSkipped, action.ReasonProtected, []string{"skipped (protected container)"}},
		{"not running", action.StatusSkipped, action.ReasonNotRunning, []string{"skipped (container not running)"}},
		{"missing container", action.StatusFailed, "container icarus-server not found", []string{"failed (container not found)"}},
		{"timeout", action.StatusFailed, "timed out after 10s", []string{"failed (timed out after 10s)"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := FromOutcome(outcome(tt.status, tt.detail)).FeedbackText()
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("FeedbackText() = %q, want it to contain %q", text, w)
				}
			}
		})
	}
}

func TestAuditText(t *testing.T) {
	text := FromOutcome(outcome(action.StatusSuccess, "")).AuditText()
	for _, w := range []string{"[audit]", "icarus-server", "success", "origin=icarus-update", "request=req-1"} {
		if !strings.Contains(text, w) {
			t.Errorf("AuditText() = %q, missing %q", text, w)
		}
	}
}

// ─── Bus ────────────────────────────────────────────────────────────

func TestBus_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	bus := NewBus(8, a)
	bus.AddSink(b)
	bus.AddSink(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()

	bus.Observe(outcome(action.StatusSuccess, ""))
	bus.Observe(outcome(action.StatusFailed, "boom"))

	waitFor(t, func() bool { return a.count() == 2 && b.count() == 2 })
	cancel()
	<-done

	if delivered, dropped := bus.Stats(); delivered != 2 || dropped != 0 {
		t.Errorf("Stats() = %d/%d, want 2/0", delivered, dropped)
	}
}

func TestBus_ObserveNeverBlocks(t *testing.T) {
	logger := &mockLogger{}
	bus := NewBus(1)
	bus.SetLogger(logger)

	// Nothing drains the bus, so the second and third notifications overflow.
	start := time.Now()
	for i := 0; i < 3; i++ {
		bus.Observe(outcome(action.StatusSuccess, ""))
	}
	if time.Since(start) > time.Second {
		t.Fatal("Observe blocked on a full bus")
	}

	if _, dropped := bus.Stats(); dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if warns, _ := logger.counts(); warns != 2 {
		t.Errorf("warnings = %d, want 2", warns)
	}
}

func TestBus_SinkFailuresAreContained(t *testing.T) {
	logger := &mockLogger{}
	failing := &recordingSink{name: "failing", err: errors.New("unreachable")}
	after := &recordingSink{name: "after"}
	bus := NewBus(4, failing, panicSink{}, after)
	bus.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	bus.Observe(outcome(action.StatusSuccess, ""))
	waitFor(t, func() bool { return after.count() == 1 })

	warns, errs := logger.counts()
	if warns != 1 || errs != 1 {
		t.Errorf("warns/errors = %d/%d, want 1/1", warns, errs)
	}
}

func TestBus_DrainsOnShutdown(t *testing.T) {
	release := make(chan struct{})
	sink := &recordingSink{name: "slow", block: release}
	bus := NewBus(8, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		bus.Observe(outcome(action.StatusSuccess, ""))
	}
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sink.count() != 3 {
		t.Errorf("delivered = %d, want 3 (buffer drained on shutdown)", sink.count())
	}

	// After shutdown Observe is a no-op.
	bus.Observe(outcome(action.StatusSuccess, ""))
	if _, dropped := bus.Stats(); dropped != 0 {
		t.Errorf("dropped = %d after shutdown, want 0", dropped)
	}
}

func TestBus_RunTwiceIsNoop(t *testing.T) {
	bus := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	if err := bus.Run(ctx); err != nil {
		t.Errorf("second Run() = %v, want nil", err)
	}
}

// ─── Sinks ──────────────────────────────────────────────────────────

func TestConstructorsRejectNil(t *testing.T) {
	if NewMQTTSink(nil) != nil || NewHubSink(nil) != nil || NewMetricsSink(nil) != nil || NewChatSink(nil, nil) != nil {
		t.Error("constructors should return nil for nil dependencies")
	}
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub)
	n := FromOutcome(outcome(action.StatusSuccess, ""))

	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if pub.topic != "warden/outcome/icarus-server" {
		t.Errorf("topic = %q", pub.topic)
	}
	if got, ok := pub.v.(Notification); !ok || got.RequestID != "req-1" {
		t.Errorf("payload = %#v", pub.v)
	}

	pub.err = errors.New("not connected")
	if err := sink.Send(context.Background(), n); err == nil {
		t.Error("Send() should surface publish errors")
	}
}

func TestHubSink(t *testing.T) {
	hub := &fakeHub{}
	if err := NewHubSink(hub).Send(context.Background(), FromOutcome(outcome(action.StatusSuccess, ""))); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if hub.channel != ChannelDispatchOutcome {
		t.Errorf("channel = %q, want %q", hub.channel, ChannelDispatchOutcome)
	}
}

func TestMetricsSink(t *testing.T) {
	m := &fakeMetrics{}
	o := outcome(action.StatusSkipped, action.ReasonProtected)
	o.Silent = true
	if err := NewMetricsSink(m).Send(context.Background(), FromOutcome(o)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(m.points) != 1 {
		t.Fatalf("points = %d, want 1", len(m.points))
	}
	p := m.points[0]
	if p.Resource != "icarus-server" || p.Action != "restart" || p.Status != "skipped" || !p.Delayed || !p.Silent {
		t.Errorf("point = %+v", p)
	}
}

func TestChatSink(t *testing.T) {
	tests := []struct {
		name        string
		silent      bool
		feedback    string
		auditTarget string
		wantTargets []string
	}{
		{"feedback only", false, "12345", "", []string{"12345"}},
		{"feedback and audit", false, "12345", "@warden_audit", []string{"12345", "@warden_audit"}},
		{"silent still audits", true, "12345", "@warden_audit", []string{"@warden_audit"}},
		{"silent without audit", true, "12345", "", nil},
		{"no feedback target", false, "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			sink := NewChatSink(sender, func() string { return tt.auditTarget })

			o := outcome(action.StatusSkipped, action.ReasonGlobalCooldown)
			o.Silent = tt.silent
			o.FeedbackTarget = tt.feedback
			if err := sink.Send(context.Background(), FromOutcome(o)); err != nil {
				t.Fatalf("Send() error = %v", err)
			}

			if len(sender.sent) != len(tt.wantTargets) {
				t.Fatalf("sent %d messages, want %d: %+v", len(sender.sent), len(tt.wantTargets), sender.sent)
			}
			for i, target := range tt.wantTargets {
				if sender.sent[i].target != target {
					t.Errorf("message %d target = %q, want %q", i, sender.sent[i].target, target)
				}
			}
		})
	}
}

func TestChatSink_JoinsErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("chat not found")}
	sink := NewChatSink(sender, func() string { return "@audit" })

	err := sink.Send(context.Background(), FromOutcome(outcome(action.StatusFailed, "boom")))
	if err == nil {
		t.Fatal("Send() should return the send error")
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent = %d, want 2 (audit attempted after feedback failure)", len(sender.sent))
	}
}
