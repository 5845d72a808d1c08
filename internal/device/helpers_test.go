package device

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nerrad567/lmbridge/internal/bluetooth"
	"github.com/nerrad567/lmbridge/internal/local"
	"github.com/nerrad567/lmbridge/internal/model"
)

// readFixture loads a payload shared with the model package.
func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "model", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return b
}

func loadDashboard(t *testing.T, name string) *model.Dashboard {
	t.Helper()
	var d model.Dashboard
	if err := json.Unmarshal(readFixture(t, name), &d); err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	return &d
}

func loadLocalConfig(t *testing.T) *model.LocalConfig {
	t.Helper()
	cfg, err := model.ParseLocalConfig(readFixture(t, "local_config.json"))
	if err != nil {
		t.Fatalf("ParseLocalConfig() error = %v", err)
	}
	return cfg
}

type fakeStream struct {
	mu        sync.Mutex
	connected bool
	closes    int
}

func (s *fakeStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closes++
	return nil
}

// fakeCloud records commands and serves canned documents.
type fakeCloud struct {
	mu sync.Mutex

	dashboard  *model.Dashboard
	settings   *model.Settings
	statistics *model.Statistics
	scheduling *model.Scheduling
	firmware   map[model.FirmwareType]model.Firmware

	dashboardErr error
	commandErr   error
	response     model.CommandResponse

	commands []model.Command
	streams  int
	stream   *fakeStream
	handler  func(*model.DashboardUpdate)
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{response: model.CommandResponse{ID: "cmd-1", Status: model.CommandSuccess}}
}

func (c *fakeCloud) Dashboard(context.Context, string) (*model.Dashboard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dashboardErr != nil {
		return nil, c.dashboardErr
	}
	return c.dashboard, nil
}

func (c *fakeCloud) Settings(context.Context, string) (*model.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings == nil {
		return &model.Settings{}, nil
	}
	return c.settings, nil
}

func (c *fakeCloud) Statistics(context.Context, string) (*model.Statistics, error) {
	return c.statistics, nil
}

func (c *fakeCloud) Firmware(context.Context, string) (map[model.FirmwareType]model.Firmware, error) {
	return c.firmware, nil
}

func (c *fakeCloud) Schedule(context.Context, string) (*model.Scheduling, error) {
	return c.scheduling, nil
}

func (c *fakeCloud) InstallFirmware(context.Context, string) (*model.UpdateDetails, error) {
	return &model.UpdateDetails{}, nil
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

func (c *fakeCloud) OpenDashboardStream(_ context.Context, _ string, handler func(*model.DashboardUpdate)) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams++
	c.handler = handler
	c.stream = &fakeStream{connected: true}
	return c.stream, nil
}

func (c *fakeCloud) sent() []model.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Command(nil), c.commands...)
}

// fakeLocal serves a local config and exposes the stream handler.
type fakeLocal struct {
	config     *model.LocalConfig
	grinder    *model.GrinderConfig
	err        error
	grinderErr error
	handler    func(local.Event)
	stream     *fakeStream
}

func (l *fakeLocal) Config(context.Context) (*model.LocalConfig, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.config, nil
}

func (l *fakeLocal) GrinderConfig(context.Context) (*model.GrinderConfig, error) {
	if l.grinderErr != nil {
		return nil, l.grinderErr
	}
	return l.grinder, nil
}

func (l *fakeLocal) OpenStream(_ context.Context, handler func(local.Event)) (Stream, error) {
	l.handler = handler
	l.stream = &fakeStream{connected: true}
	return l.stream, nil
}

// fakeBLE records settings and fails when err is set.
type fakeBLE struct {
	mu       sync.Mutex
	err      error
	tokens   []string
	settings []bluetooth.Setting
}

func (b *fakeBLE) SendSetting(_ context.Context, token string, s bluetooth.Setting) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = append(b.tokens, token)
	b.settings = append(b.settings, s)
	return b.err
}

func (b *fakeBLE) MachineMode(context.Context) (model.MachineMode, error) {
	return model.ModeBrewing, b.err
}

func (b *fakeBLE) Boilers(context.Context) ([]model.BLEBoiler, error) {
	return []model.BLEBoiler{
		{ID: model.BoilerCoffee, IsEnabled: true, Target: 93, Current: 92.5},
		{ID: model.BoilerSteam, IsEnabled: false, Target: 0, Current: 20},
	}, b.err
}

func (b *fakeBLE) TankStatus(context.Context) (bool, error) { return true, b.err }

func (b *fakeBLE) SmartStandby(context.Context) (model.BLESmartStandby, error) {
	return model.BLESmartStandby{Mode: model.SmartStandByPowerOn, Minutes: 30, Enabled: true}, b.err
}

// fakeHistory keeps recorded sources in memory.
type fakeHistory struct {
	mu      sync.Mutex
	sources []Source
}

func (h *fakeHistory) Record(_ context.Context, _ string, _ any, source Source) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources = append(h.sources, source)
	return nil
}

func (h *fakeHistory) Recent(context.Context, string, int) ([]HistoryEntry, error) {
	return nil, nil
}

func newTestMachine(t *testing.T, cfg MachineConfig) *Machine {
	t.Helper()
	if cfg.Serial == "" {
		cfg.Serial = "LM012345"
	}
	m, err := NewMachine(cfg)
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}
