package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/warden/internal/action"
	"github.com/nerrad567/warden/internal/actuator"
	"github.com/nerrad567/warden/internal/audit"
	"github.com/nerrad567/warden/internal/automation"
	"github.com/nerrad567/warden/internal/dispatch"
	"github.com/nerrad567/warden/internal/infrastructure/config"
	"github.com/nerrad567/warden/internal/infrastructure/database"
	"github.com/nerrad567/warden/internal/infrastructure/logging"
	"github.com/nerrad567/warden/internal/ledger"
	"github.com/nerrad567/warden/internal/notify"
	"github.com/nerrad567/warden/internal/safety"
	_ "github.com/nerrad567/warden/migrations"
)

// ─── Harness ───────────────────────────────────────────────────────

type fakeActuator struct {
	mu      sync.Mutex
	applied []string
}

func (f *fakeActuator) Describe(_ context.Context, name string) (actuator.Info, error) {
	if name == "ghost" {
		return actuator.Info{}, actuator.ErrNotFound
	}
	return actuator.Info{Name: name, Status: "running", Running: true}, nil
}

func (f *fakeActuator) IsRunning(context.Context, string) (bool, error) { return true, nil }

func (f *fakeActuator) Apply(_ context.Context, name string, kind action.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, string(kind)+" "+name)
	return nil
}

type testEnv struct {
	srv    *Server
	router http.Handler
	reg    *automation.Registry
	store  *safety.Store
	ledger *ledger.Ledger
	act    *fakeActuator
	audit  audit.Repository
}

// testServer wires the real core components over an in-memory SQLite
// database migrated with the embedded schema.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	reg := automation.NewRegistry(automation.NewSQLiteRepository(db.DB), automation.GlobalSettings{
		Enabled:   true,
		Protected: []string{"postgres"},
	})
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error: %v", err)
	}

	store := safety.NewStore(safety.Settings{})
	led := ledger.New(ledger.NewSQLiteStore(db.DB), 0)
	act := &fakeActuator{}
	q := dispatch.New(dispatch.Config{Workers: 1, CommandTimeout: time.Second}, act, store, led)
	q.Start()
	t.Cleanup(q.Stop)

	orch := automation.NewOrchestrator(reg, automation.NewMatcher(0), store, q, 4)
	orch.SyncSettings()

	auditRepo := audit.NewSQLiteRepository(db.DB)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:       log,
		Registry:     reg,
		Orchestrator: orch,
		Queue:        q,
		Ledger:       led,
		Safety:       store,
		Actuator:     act,
		DB:           db,
		AuditRepo:    auditRepo,
		Audit:        audit.NewRecorder(auditRepo),
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, log)
	srv.hub.SetSnapshot(srv.ledgerSnapshot)
	go srv.hub.Run(hubCtx)

	return &testEnv{
		srv:    srv,
		router: srv.buildRouter(),
		reg:    reg,
		store:  store,
		ledger: led,
		act:    act,
		audit:  auditRepo,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(actorHeader, "ops")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func sampleRule(id string) map[string]any {
	return map[string]any{
		"id":      id,
		"name":    "Icarus update",
		"enabled": true,
		"trigger": map[string]any{
			"channels":          []string{"updates"},
			"required_keywords": []string{"icarus"},
			"trigger_keywords":  []string{"update", "released"},
		},
		"action": map[string]any{
			"kind":    "restart",
			"targets": []string{"icarus-server"},
		},
		"safety": map[string]any{"cooldown_minutes": 60},
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresCoreDeps(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without registry should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["database"] != "ok" {
		t.Errorf("health = %v", resp)
	}
	if v, _ := resp["schema_version"].(string); v == "" {
		t.Errorf("schema_version missing: %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

// ─── Rules ─────────────────────────────────────────────────────────

func TestRulesCRUD(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/rules", sampleRule("icarus"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	created := decode[automation.Rule](t, w)
	if created.Priority != 50 || created.Trigger.MatchMode != automation.MatchAny {
		t.Errorf("defaults not applied: %+v", created)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/rules", sampleRule("icarus")); w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/rules", nil)
	list := decode[struct {
		Rules []automation.Rule `json:"rules"`
		Count int               `json:"count"`
	}](t, w)
	if list.Count != 1 || list.Rules[0].ID != "icarus" {
		t.Errorf("list = %+v", list)
	}

	w = env.do(t, http.MethodPut, "/api/v1/rules/icarus", map[string]any{"enabled": false, "id": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	updated := decode[automation.Rule](t, w)
	if updated.ID != "icarus" || updated.Enabled || updated.Name != "Icarus update" {
		t.Errorf("updated = %+v, want ID kept, enabled false, name unchanged", updated)
	}

	if w := env.do(t, http.MethodDelete, "/api/v1/rules/icarus", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/rules/icarus", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}

	result, err := env.audit.List(context.Background(), audit.Filter{EntityType: audit.EntityRule})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if result.Total != 3 {
		t.Errorf("audit entries = %d, want 3 (create, update, delete)", result.Total)
	}
	for _, l := range result.Logs {
		if l.Actor != "ops" || l.Source != audit.SourceAPI {
			t.Errorf("audit entry = %+v, want actor ops from api", l)
		}
	}
}

func TestCreateRule_Validation(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		mutate func(r map[string]any)
		body   string
	}{
		{name: "no targets", mutate: func(r map[string]any) {
			r["action"] = map[string]any{"kind": "restart"}
		}},
		{name: "unknown action", mutate: func(r map[string]any) {
			r["action"] = map[string]any{"kind": "explode", "targets": []string{"x"}}
		}},
		{name: "empty trigger", mutate: func(r map[string]any) {
			r["trigger"] = map[string]any{"channels": []string{"updates"}}
		}},
		{name: "nested quantifier regex", mutate: func(r map[string]any) {
			r["trigger"] = map[string]any{"channels": []string{"updates"}, "regex_pattern": "(a+)+$"}
		}},
		{name: "malformed json", body: "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any = tt.body
			if tt.mutate != nil {
				r := sampleRule("bad")
				tt.mutate(r)
				body = r
			}
			w := env.do(t, http.MethodPost, "/api/v1/rules", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			e := decode[Error](t, w)
			if e.Status != http.StatusBadRequest || e.Message == "" {
				t.Errorf("error body = %+v", e)
			}
		})
	}
}

func TestRuleDryRun(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodPost, "/api/v1/rules", sampleRule("icarus")); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	t.Run("unsaved rule matches", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/rules/test", map[string]any{
			"rule": sampleRule("draft"),
			"text": "Icarus update released today",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		if res := decode[automation.MatchResult](t, w); !res.Matched() {
			t.Errorf("result = %+v, want matched", res)
		}
	})

	t.Run("stored rule ignores other games", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/rules/icarus/test", map[string]any{"text": "Valheim update released"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		res := decode[automation.MatchResult](t, w)
		if res.Matched() || res.Stage != automation.StageRequired {
			t.Errorf("result = %+v, want not matched at required stage", res)
		}
	})

	t.Run("missing rule", func(t *testing.T) {
		if w := env.do(t, http.MethodPost, "/api/v1/rules/test", map[string]any{"text": "x"}); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		if w := env.do(t, http.MethodPost, "/api/v1/rules/nope/test", map[string]any{"text": "x"}); w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	if calls := len(env.act.applied); calls != 0 {
		t.Errorf("dry run reached the actuator %d times", calls)
	}
}

// ─── Settings ──────────────────────────────────────────────────────

func TestSettings(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/settings", nil)
	if got := decode[automation.GlobalSettings](t, w); !got.Enabled {
		t.Errorf("initial settings = %+v", got)
	}

	w = env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{
		"global_cooldown_seconds": 120,
		"protected":               []string{" Postgres ", "traefik", "postgres"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[automation.GlobalSettings](t, w)
	if !got.Enabled || got.GlobalCooldownSeconds != 120 || len(got.Protected) != 2 {
		t.Errorf("updated settings = %+v", got)
	}
	if !env.store.IsProtected("TRAEFIK") {
		t.Error("safety store not updated with new protected list")
	}

	if w := env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"global_cooldown_seconds": -1}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid settings status = %d, want 400", w.Code)
	}
}

// ─── Dispatch ──────────────────────────────────────────────────────

func TestDispatch(t *testing.T) {
	env := testServer(t)

	t.Run("manual wait returns outcome", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/dispatch", map[string]any{
			"resource": "icarus-server", "action": "RESTART", "wait": true,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		resp := decode[struct {
			Outcome action.Outcome `json:"outcome"`
		}](t, w)
		if resp.Outcome.Status != action.StatusSuccess || resp.Outcome.RuleID != action.OriginManual {
			t.Errorf("outcome = %+v", resp.Outcome)
		}
	})

	t.Run("protected resource is skipped", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/dispatch", map[string]any{
			"resource": "Postgres", "action": "stop", "origin": "scheduled",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		resp := decode[struct {
			Outcome action.Outcome `json:"outcome"`
		}](t, w)
		if resp.Outcome.Status != action.StatusSkipped || resp.Outcome.Detail != action.ReasonProtected {
			t.Errorf("outcome = %+v", resp.Outcome)
		}
	})

	t.Run("validation", func(t *testing.T) {
		bodies := []map[string]any{
			{"resource": "x", "action": "explode"},
			{"resource": "x", "action": "stop", "origin": "cron"},
			{"resource": "x", "action": "stop", "delay_seconds": -5},
			{"resource": " ", "action": "stop"},
			{"resource": "--host=tcp://attacker:2375", "action": "restart"},
		}
		for _, b := range bodies {
			if w := env.do(t, http.MethodPost, "/api/v1/dispatch", b); w.Code != http.StatusBadRequest {
				t.Errorf("body %v status = %d, want 400", b, w.Code)
			}
		}
	})

	t.Run("delayed request can be cancelled once", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/dispatch", map[string]any{
			"resource": "valheim", "action": "restart", "delay_seconds": 600,
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("status = %d: %s", w.Code, w.Body.String())
		}
		id := decode[struct {
			Request action.Request `json:"request"`
		}](t, w).Request.ID

		w = env.do(t, http.MethodGet, "/api/v1/dispatch", nil)
		if got := decode[struct {
			Count int `json:"count"`
		}](t, w); got.Count != 1 {
			t.Errorf("pending count = %d, want 1", got.Count)
		}

		if w := env.do(t, http.MethodDelete, "/api/v1/dispatch/"+id, nil); w.Code != http.StatusNoContent {
			t.Errorf("cancel status = %d, want 204", w.Code)
		}
		if w := env.do(t, http.MethodDelete, "/api/v1/dispatch/"+id, nil); w.Code != http.StatusNotFound {
			t.Errorf("second cancel status = %d, want 404", w.Code)
		}

		entries := env.ledger.Query("valheim", 0)
		if len(entries) != 1 || entries[0].Detail != action.ReasonCancelled {
			t.Errorf("ledger = %+v, want one cancelled entry", entries)
		}
	})
}

// ─── Ledger & cooldowns ────────────────────────────────────────────

func TestLedgerQuery(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	for _, res := range []string{"a", "b", "a"} {
		o := action.NewOutcome(action.NewRequest(res, action.KindStart, action.OriginManual), action.StatusSuccess, "")
		if _, err := env.ledger.Record(ctx, o); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"", http.StatusOK, 3},
		{"?resource=a", http.StatusOK, 2},
		{"?resource=a&limit=1", http.StatusOK, 1},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/ledger"+tt.query, nil)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			if got := decode[struct {
				Count int `json:"count"`
			}](t, w); got.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", got.Count, tt.wantCount)
			}
		})
	}
}

func TestListCooldowns(t *testing.T) {
	env := testServer(t)
	env.store.Update(safety.Settings{Enabled: true})
	if d := env.store.TryReserve("icarus-server", time.Hour); !d.Reserved {
		t.Fatalf("TryReserve() = %+v", d)
	}

	w := env.do(t, http.MethodGet, "/api/v1/cooldowns", nil)
	resp := decode[struct {
		Enabled   bool           `json:"enabled"`
		Cooldowns []cooldownView `json:"cooldowns"`
	}](t, w)
	if !resp.Enabled || len(resp.Cooldowns) != 1 {
		t.Fatalf("cooldowns = %+v", resp)
	}
	if c := resp.Cooldowns[0]; c.Resource != "icarus-server" || c.RemainingSeconds < 3590 {
		t.Errorf("cooldown = %+v", c)
	}
}

// ─── Events, resources, audit, metrics ─────────────────────────────

func TestEvents(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"channel_id": "updates",
		"is_webhook": true,
		"embeds":     []map[string]any{{"title": "Icarus", "description": "update released"}},
	})
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	if w := env.do(t, http.MethodPost, "/api/v1/events", map[string]any{"text": "no channel"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing channel status = %d, want 400", w.Code)
	}

	// The orchestrator loop is not running, so the buffer of 4 fills up.
	var last int
	for i := 0; i < 5; i++ {
		last = env.do(t, http.MethodPost, "/api/v1/events", map[string]any{"channel_id": "c", "text": "t"}).Code
	}
	if last != http.StatusServiceUnavailable {
		t.Errorf("full buffer status = %d, want 503", last)
	}
}

func TestDescribeResource(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/resources/postgres", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode[map[string]any](t, w); resp["protected"] != true {
		t.Errorf("resp = %v, want protected", resp)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/resources/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown resource status = %d, want 404", w.Code)
	}
}

func TestListAuditLogs(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/rules", sampleRule("icarus"))
	env.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"enabled": false})

	w := env.do(t, http.MethodGet, "/api/v1/audit?entity_type=settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	result := decode[audit.ListResult](t, w)
	if result.Total != 1 || result.Logs[0].Details["was_enabled"] != true {
		t.Errorf("audit = %+v", result)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/rules", sampleRule("icarus"))

	w := env.do(t, http.MethodGet, "/api/v1/metrics", nil)
	m := decode[SystemMetrics](t, w)
	if m.Version != "test" || m.Automation.Rules != 1 || m.Dispatch.Workers != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Database == nil || m.Integrations.MQTT != nil {
		t.Errorf("database/integrations = %+v / %+v", m.Database, m.Integrations)
	}
}

type fakeMetricsBackend struct{ rejected uint64 }

func (fakeMetricsBackend) IsConnected() bool     { return true }
func (f fakeMetricsBackend) WriteErrors() uint64 { return f.rejected }

func TestMetrics_InfluxWriteErrors(t *testing.T) {
	env := testServer(t)
	env.srv.influx = fakeMetricsBackend{rejected: 3}

	m := decode[SystemMetrics](t, env.do(t, http.MethodGet, "/api/v1/metrics", nil))
	if m.Integrations.InfluxDB == nil || !*m.Integrations.InfluxDB {
		t.Fatalf("influxdb = %v, want connected", m.Integrations.InfluxDB)
	}
	if got := m.Integrations.InfluxDBWriteErrors; got == nil || *got != 3 {
		t.Errorf("influxdb_write_errors = %v, want 3", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://dash.example"}
	router := env.srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/rules", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), actorHeader) {
		t.Errorf("allowed headers = %q", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWebSocket_OutcomeFeed(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{notify.ChannelDispatchOutcome}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	read := func(wantType string) WSMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("ReadJSON() waiting for %s: %v", wantType, err)
			}
			if msg.Type == wantType {
				return msg
			}
		}
	}

	if resp := read(WSTypeResponse); resp.ID != "1" {
		t.Errorf("subscribe response = %+v", resp)
	}
	if snap := read(WSTypeSnapshot); snap.EventType != notify.ChannelDispatchOutcome {
		t.Errorf("snapshot = %+v", snap)
	}

	// Outcomes reach subscribers through the notification sink.
	sink := notify.NewHubSink(env.srv.hub)
	n := notify.FromOutcome(action.NewOutcome(
		action.NewRequest("icarus-server", action.KindRestart, "icarus"), action.StatusSuccess, ""))
	if err := sink.Send(context.Background(), n); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	event := read(WSTypeEvent)
	if event.EventType != notify.ChannelDispatchOutcome {
		t.Errorf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["resource"] != "icarus-server" || payload["outcome"] != "success" {
		t.Errorf("payload = %v", payload)
	}
}
