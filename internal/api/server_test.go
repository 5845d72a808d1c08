package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/bridge"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/logging"
	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

const testSerial = "MR123456"

// fakeCloud serves the Micra dashboard fixture.
type fakeCloud struct {
	dashboard *model.Dashboard
}

func (c *fakeCloud) Dashboard(context.Context, string) (*model.Dashboard, error) {
	return c.dashboard, nil
}

func (c *fakeCloud) Settings(context.Context, string) (*model.Settings, error) {
	return &model.Settings{Thing: c.dashboard.Thing}, nil
}

func (c *fakeCloud) Statistics(context.Context, string) (*model.Statistics, error) {
	return &model.Statistics{}, nil
}

func (c *fakeCloud) Firmware(context.Context, string) (map[model.FirmwareType]model.Firmware, error) {
	return nil, nil
}

func (c *fakeCloud) Schedule(context.Context, string) (*model.Scheduling, error) {
	return &model.Scheduling{}, nil
}

func (c *fakeCloud) InstallFirmware(context.Context, string) (*model.UpdateDetails, error) {
	return &model.UpdateDetails{}, nil
}

func (c *fakeCloud) SendCommand(context.Context, string, model.Command) (model.CommandResponse, error) {
	return model.CommandResponse{ID: "cmd-1", Status: model.CommandSuccess}, nil
}

func (c *fakeCloud) OpenDashboardStream(context.Context, string, func(*model.DashboardUpdate)) (device.Stream, error) {
	return nil, lmerr.ErrUnsupported
}

// mockCommander records commands and returns a canned outcome.
type mockCommander struct {
	mu      sync.Mutex
	calls   []string
	payload []byte
	out     bridge.Outcome
	err     error
}

func (c *mockCommander) Execute(_ context.Context, serial, field string, payload []byte) (bridge.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, serial+"/"+field)
	c.payload = payload
	return c.out, c.err
}

type mockHealth struct{ msg bridge.HealthMessage }

func (h mockHealth) Current() bridge.HealthMessage { return h.msg }

// memoryHistory is an in-memory device.History.
type memoryHistory struct {
	entries []device.HistoryEntry
	err     error
}

func (h *memoryHistory) Record(context.Context, string, any, device.Source) error { return nil }

func (h *memoryHistory) Recent(_ context.Context, serial string, limit int) ([]device.HistoryEntry, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []device.HistoryEntry
	for _, e := range h.entries {
		if e.Serial == serial && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// memoryAudit is an in-memory audit.Repository.
type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
	filter  audit.Filter
	err     error
}

func (a *memoryAudit) Create(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return a.err
}

func (a *memoryAudit) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filter = f
	if a.err != nil {
		return nil, a.err
	}
	return &audit.ListResult{Entries: a.entries, Total: len(a.entries), Limit: f.Limit, Offset: f.Offset}, nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testRegistry registers one loaded Micra.
func testRegistry(t *testing.T) (*device.Registry, *device.Machine) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "model", "testdata", "dashboard_micra.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	var d model.Dashboard
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	m, err := device.NewMachine(device.MachineConfig{Serial: testSerial, Cloud: &fakeCloud{dashboard: &d}})
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	reg := device.NewRegistry()
	if err := reg.AddMachine(m); err != nil {
		t.Fatalf("AddMachine() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() }) //nolint:errcheck // Test cleanup
	return reg, m
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	reg, _ := testRegistry(t)
	return Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   testLogger(),
		Registry: reg,
		Commands: &mockCommander{},
		Version:  "test",
	}
}

// testServer creates a Server whose router is exercised without a listener.
func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()
	deps := testDeps(t)
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, srv.logger)
	go srv.hub.Run(ctx)
	return srv
}

func serve(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	deps := testDeps(t)

	noLogger := deps
	noLogger.Logger = nil
	if _, err := New(noLogger); err == nil {
		t.Error("New() without logger succeeded")
	}

	noRegistry := deps
	noRegistry.Registry = nil
	if _, err := New(noRegistry); err == nil {
		t.Error("New() without registry succeeded")
	}

	noCommands := deps
	noCommands.Commands = nil
	if _, err := New(noCommands); err == nil {
		t.Error("New() without commander succeeded")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestHealth_FromReporter(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Health = mockHealth{msg: bridge.HealthMessage{Status: bridge.HealthDegraded, Reason: "MQTT disconnected"}}
	})
	w := serve(srv, http.MethodGet, "/api/v1/health", "")

	var msg bridge.HealthMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != bridge.HealthDegraded || msg.Reason != "MQTT disconnected" {
		t.Errorf("health = %+v", msg)
	}
}

func TestMetrics(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Devices.Machines != 1 || m.Devices.Loaded != 1 {
		t.Errorf("devices = %+v, want one loaded machine", m.Devices)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestPanel(t *testing.T) {
	srv := testServer(t, nil)

	w := serve(srv, http.MethodGet, "/", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/panel/" {
		t.Errorf("GET / = %d %q, want redirect to /panel/", w.Code, w.Header().Get("Location"))
	}

	w = serve(srv, http.MethodGet, "/panel/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Errorf("GET /panel/ = %d", w.Code)
	}
}

// ─── Machine Endpoint Tests ────────────────────────────────────────

func TestListMachines(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/machines", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Machines []device.Snapshot `json:"machines"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || len(resp.Machines) != 1 || resp.Machines[0].Serial != testSerial {
		t.Errorf("machines = %+v", resp)
	}
}

func TestGetMachine(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/machines/"+testSerial, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap device.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !snap.Loaded || snap.Coffee.Target != 94 {
		t.Errorf("snapshot loaded=%v coffee target=%v", snap.Loaded, snap.Coffee.Target)
	}
	if strings.Contains(w.Body.String(), "BLEToken") {
		t.Error("snapshot leaks the BLE token")
	}
}

func TestGetMachine_NotFound(t *testing.T) {
	w := serve(testServer(t, nil), http.MethodGet, "/api/v1/machines/UNKNOWN", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCommand_Accepted(t *testing.T) {
	cmd := &mockCommander{out: bridge.Outcome{Result: device.Result{Transport: device.TransportCloud, ID: "cmd-7", Status: model.CommandSuccess}}}
	srv := testServer(t, func(d *Deps) { d.Commands = cmd })

	w := serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/coffee_target", "93.5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var ack bridge.AckMessage
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ack.Status != bridge.AckAccepted || ack.CommandID != "cmd-7" {
		t.Errorf("ack = %+v", ack)
	}
	if len(cmd.calls) != 1 || cmd.calls[0] != testSerial+"/coffee_target" || string(cmd.payload) != "93.5" {
		t.Errorf("calls = %v payload = %q", cmd.calls, cmd.payload)
	}
}

func TestCommand_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown device", bridge.ErrUnknownDevice, http.StatusNotFound},
		{"unknown field", bridge.ErrUnknownField, http.StatusBadRequest},
		{"invalid value", lmerr.Invalid("coffee_target", "out of range"), http.StatusBadRequest},
		{"unsupported", lmerr.ErrUnsupported, http.StatusUnprocessableEntity},
		{"rejected", &device.CommandError{Command: "x", Response: model.CommandResponse{Status: model.CommandError}}, http.StatusConflict},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unreachable", lmerr.ErrConnection, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Commands = &mockCommander{err: tt.err} })
			w := serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/power", "on")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var ack bridge.AckMessage
			if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ack.Error == nil {
				t.Error("failed ack without error details")
			}
		})
	}
}

func TestCommand_RateLimitedSetsRetryAfter(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Commands = &mockCommander{err: &lmerr.RateLimitedError{RetryAfter: 2 * time.Minute}}
	})
	w := serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/power", "on")

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "120" {
		t.Errorf("Retry-After = %q, want 120", got)
	}
}

func TestCommand_ThroughDispatcher(t *testing.T) {
	srv := testServer(t, nil)
	srv.commands = bridge.NewDispatcher(srv.registry)

	w := serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/steam", `{"value": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	w = serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/coffee_target", "150")
	if w.Code != http.StatusBadRequest {
		t.Errorf("out of range status = %d, want 400", w.Code)
	}
}

// ─── History Endpoint Tests ────────────────────────────────────────

func TestHistory(t *testing.T) {
	now := time.Now().UTC()
	hist := &memoryHistory{entries: []device.HistoryEntry{
		{ID: 2, Serial: testSerial, State: json.RawMessage(`{}`), Source: device.SourceDashboard, CreatedAt: now},
		{ID: 1, Serial: testSerial, State: json.RawMessage(`{}`), Source: device.SourceCommand, CreatedAt: now.Add(-time.Hour)},
		{ID: 9, Serial: "OTHER", State: json.RawMessage(`{}`), CreatedAt: now},
	}}
	srv := testServer(t, func(d *Deps) { d.History = hist })

	w := serve(srv, http.MethodGet, "/api/v1/machines/"+testSerial+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		History []device.HistoryEntry `json:"history"`
		Count   int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}

	since := now.Add(-time.Minute).Format(time.RFC3339)
	w = serve(srv, http.MethodGet, "/api/v1/machines/"+testSerial+"/history?since="+since, "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.History[0].ID != 2 {
		t.Errorf("since filter = %+v", resp)
	}
}

func TestHistory_Errors(t *testing.T) {
	tests := []struct {
		name    string
		history device.History
		path    string
		want    int
	}{
		{"unknown device", &memoryHistory{}, "/api/v1/machines/NOPE/history", http.StatusNotFound},
		{"bad limit", &memoryHistory{}, "/api/v1/machines/" + testSerial + "/history?limit=-1", http.StatusBadRequest},
		{"limit too large", &memoryHistory{}, "/api/v1/machines/" + testSerial + "/history?limit=500", http.StatusBadRequest},
		{"bad since", &memoryHistory{}, "/api/v1/machines/" + testSerial + "/history?since=yesterday", http.StatusBadRequest},
		{"no store", nil, "/api/v1/machines/" + testSerial + "/history", http.StatusServiceUnavailable},
		{"store error", &memoryHistory{err: errors.New("disk")}, "/api/v1/machines/" + testSerial + "/history", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.History = tt.history })
			if w := serve(srv, http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Audit Endpoint Tests ──────────────────────────────────────────

func TestCommand_RecordsAudit(t *testing.T) {
	rec := &memoryAudit{}
	srv := testServer(t, func(d *Deps) {
		d.Audit = rec
		d.Commands = &mockCommander{err: lmerr.Invalid("coffee_target", "out of range")}
	})

	serve(srv, http.MethodPost, "/api/v1/machines/"+testSerial+"/coffee_target", "150")

	if len(rec.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(rec.entries))
	}
	got := rec.entries[0]
	if got.Source != audit.SourceAPI || got.Field != "coffee_target" || got.Payload != "150" {
		t.Errorf("entry = %+v", got)
	}
	if got.Status != string(bridge.AckFailed) || got.ErrorCode != string(bridge.ErrCodeInvalidParameters) {
		t.Errorf("status = %q code = %q", got.Status, got.ErrorCode)
	}
}

func TestListAudit(t *testing.T) {
	rec := &memoryAudit{entries: []audit.Entry{{ID: "cmd-1", Serial: testSerial, Field: "power", Status: "accepted"}}}
	srv := testServer(t, func(d *Deps) { d.Audit = rec })

	w := serve(srv, http.MethodGet, "/api/v1/audit?serial="+testSerial+"&status=accepted&limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var resp audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 || resp.Entries[0].ID != "cmd-1" {
		t.Errorf("response = %+v", resp)
	}
	want := audit.Filter{Serial: testSerial, Status: "accepted", Limit: 10, Offset: 5}
	if rec.filter != want {
		t.Errorf("filter = %+v, want %+v", rec.filter, want)
	}
}

func TestListAudit_Errors(t *testing.T) {
	tests := []struct {
		name  string
		audit audit.Repository
		path  string
		want  int
	}{
		{"no store", nil, "/api/v1/audit", http.StatusServiceUnavailable},
		{"bad limit", &memoryAudit{}, "/api/v1/audit?limit=abc", http.StatusBadRequest},
		{"zero limit", &memoryAudit{}, "/api/v1/audit?limit=0", http.StatusBadRequest},
		{"negative offset", &memoryAudit{}, "/api/v1/audit?offset=-1", http.StatusBadRequest},
		{"store error", &memoryAudit{err: errors.New("disk")}, "/api/v1/audit", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, func(d *Deps) { d.Audit = tt.audit })
			if w := serve(srv, http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Hub Tests ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelStateChanged: {}},
	}
	hub.Register(client)

	hub.Broadcast(ChannelStateChanged, map[string]any{"serial_number": testSerial})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelStateChanged {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelStateChanged)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{DeviceChannel("OTHER"): {}},
	}
	hub.Register(client)

	hub.Broadcast(DeviceChannel(testSerial), map[string]any{"serial_number": testSerial})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: make(map[string]struct{})}

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Listener and WebSocket Tests ──────────────────────────────────

func startServer(t *testing.T) (*Server, *device.Machine) {
	t.Helper()
	deps := testDeps(t)
	m, err := deps.Registry.Machine(testSerial)
	if err != nil {
		t.Fatalf("Machine() error = %v", err)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return srv, m
}

func dialWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "sub-1", Payload: WSSubscribePayload{Channels: channels}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	deps := testDeps(t)
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start returned nil")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWebSocket(t, srv)

	for _, raw := range []string{"not json", `{"type":"unknown_type","id":"x"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}
		ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read error response: %v", err)
		}
		if resp.Type != WSTypeError {
			t.Errorf("response to %q = %s, want error", raw, resp.Type)
		}
	}
}

// snapshotEvent is an event frame carrying a machine snapshot.
type snapshotEvent struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Payload   device.Snapshot `json:"payload"`
}

func readEvent(t *testing.T, ws *websocket.Conn) snapshotEvent {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var ev snapshotEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocket_SnapshotEvents(t *testing.T) {
	srv, m := startServer(t)
	ws := dialWebSocket(t, srv)
	subscribe(t, ws, DeviceChannel(testSerial))

	initial := readEvent(t, ws)
	if initial.Type != WSTypeEvent || initial.Payload.Serial != testSerial {
		t.Fatalf("initial event = %+v", initial)
	}
	if initial.Payload.Coffee.Target != 94 {
		t.Errorf("initial coffee target = %v, want 94", initial.Payload.Coffee.Target)
	}

	if _, err := m.SetPower(context.Background(), true); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}

	ev := readEvent(t, ws)
	if ev.Type != WSTypeEvent || ev.EventType != DeviceChannel(testSerial) {
		t.Errorf("event = %s/%s", ev.Type, ev.EventType)
	}
	if !ev.Payload.TurnedOn {
		t.Error("event snapshot not turned on")
	}
}

func TestWebSocket_StateChangedPrimesAllDevices(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWebSocket(t, srv)
	subscribe(t, ws, ChannelStateChanged)

	ev := readEvent(t, ws)
	if ev.EventType != ChannelStateChanged || ev.Payload.Serial != testSerial {
		t.Errorf("initial event = %+v", ev)
	}
}

func TestWebSocket_SubscribeErrors(t *testing.T) {
	srv, _ := startServer(t)
	ws := dialWebSocket(t, srv)

	for _, msg := range []WSMessage{
		{Type: WSTypeSubscribe, ID: "a", Payload: WSSubscribePayload{Channels: []string{DeviceChannel("NOPE")}}},
		{Type: WSTypeSubscribe, ID: "b", Payload: WSSubscribePayload{Channels: []string{"weather"}}},
		{Type: WSTypeSubscribe, ID: "c"},
	} {
		if err := ws.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.Type != WSTypeError || resp.ID != msg.ID {
			t.Errorf("response to %s = %+v, want error", msg.ID, resp)
		}
	}
}
