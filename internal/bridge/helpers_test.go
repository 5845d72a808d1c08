package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lmbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/lmbridge/internal/model"
)

const (
	testMachine = "MR123456"
	testGrinder = "GR000001"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "model", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return b
}

func decodeFixture(t *testing.T, name string, v any) {
	t.Helper()
	if err := json.Unmarshal(readFixture(t, name), v); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
}

type fakeStream struct{ connected bool }

func (s *fakeStream) Connected() bool { return s.connected }
func (s *fakeStream) Close() error    { s.connected = false; return nil }

// fakeCloud serves fixtures and records commands.
type fakeCloud struct {
	mu         sync.Mutex
	dashboard  *model.Dashboard
	statistics *model.Statistics
	response   model.CommandResponse
	commandErr error
	commands   []model.Command
	refreshes  int
}

func newFakeCloud(t *testing.T) *fakeCloud {
	c := &fakeCloud{response: model.CommandResponse{ID: "cmd-1", Status: model.CommandSuccess}}
	c.dashboard = new(model.Dashboard)
	decodeFixture(t, "dashboard_micra.json", c.dashboard)
	c.statistics = new(model.Statistics)
	decodeFixture(t, "statistics.json", c.statistics)
	return c
}

func (c *fakeCloud) Dashboard(context.Context, string) (*model.Dashboard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return c.dashboard, nil
}

func (c *fakeCloud) Settings(context.Context, string) (*model.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &model.Settings{Thing: c.dashboard.Thing}, nil
}

func (c *fakeCloud) Statistics(context.Context, string) (*model.Statistics, error) {
	return c.statistics, nil
}

func (c *fakeCloud) Firmware(context.Context, string) (map[model.FirmwareType]model.Firmware, error) {
	return nil, nil
}

func (c *fakeCloud) Schedule(context.Context, string) (*model.Scheduling, error) {
	return &model.Scheduling{}, nil
}

func (c *fakeCloud) InstallFirmware(context.Context, string) (*model.UpdateDetails, error) {
	return &model.UpdateDetails{Status: model.UpdateInProgress}, nil
}

func (c *fakeCloud) SendCommand(_ context.Context, _ string, cmd model.Command) (model.CommandResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	if c.commandErr != nil {
		return model.CommandResponse{}, c.commandErr
	}
	return c.response, nil
}

func (c *fakeCloud) OpenDashboardStream(context.Context, string, func(*model.DashboardUpdate)) (device.Stream, error) {
	return &fakeStream{connected: true}, nil
}

func (c *fakeCloud) sent() []model.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Command(nil), c.commands...)
}

// newTestRegistry registers one Micra and one grinder behind cloud.
func newTestRegistry(t *testing.T, cloud *fakeCloud) *device.Registry {
	t.Helper()
	reg := device.NewRegistry()
	m, err := device.NewMachine(device.MachineConfig{Serial: testMachine, Model: model.ModelLineaMicra, Cloud: cloud})
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	g, err := device.NewGrinder(device.GrinderConfig{Serial: testGrinder, Model: model.ModelPicoGrinder, Cloud: cloud})
	if err != nil {
		t.Fatalf("NewGrinder() error = %v", err)
	}
	if err := reg.AddMachine(m); err != nil {
		t.Fatalf("AddMachine() error = %v", err)
	}
	if err := reg.AddGrinder(g); err != nil {
		t.Fatalf("AddGrinder() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() }) //nolint:errcheck // Test cleanup
	return reg
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
	topics    mqtt.Topics
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
		topics:    mqtt.Topics{Prefix: mqtt.DefaultTopicPrefix},
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Topics() mqtt.Topics { return m.topics }

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// deliver calls the handler subscribed to filter as paho would.
func (m *MockMQTTClient) deliver(t *testing.T, filter, topic string, payload []byte) error {
	t.Helper()
	m.mu.Lock()
	h, ok := m.handlers[filter]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed to %s", filter)
	}
	return h(topic, payload)
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// onTopic returns the messages published to topic, oldest first.
func (m *MockMQTTClient) onTopic(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// waitFor polls until fn returns true or the deadline passes.
func waitFor(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// mockStats records time series writes.
type mockStats struct {
	mu          sync.Mutex
	counters    []influxdb.Counters
	boilers     []influxdb.BoilerReading
	extractions []influxdb.Extraction
}

func (s *mockStats) WriteCounters(c influxdb.Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = append(s.counters, c)
}

func (s *mockStats) WriteBoilers(r influxdb.BoilerReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boilers = append(s.boilers, r)
}

func (s *mockStats) WriteExtraction(e influxdb.Extraction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractions = append(s.extractions, e)
}

func (s *mockStats) counts() (counters, boilers, extractions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters), len(s.boilers), len(s.extractions)
}

type mockPruner struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (p *mockPruner) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, olderThan)
	return 3, nil
}

func (p *mockPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type mockAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *mockAuditor) Create(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *mockAuditor) recorded() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}
