package device

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// GrinderSnapshot is the merged state of one grinder.
type GrinderSnapshot struct {
	Serial         string                        `json:"serial_number"`
	Model          model.ModelName               `json:"model,omitempty"`
	Name           string                        `json:"name,omitempty"`
	Loaded         bool                          `json:"loaded"`
	Connected      bool                          `json:"connected"`
	TurnedOn       bool                          `json:"turned_on"`
	BaristaLight   bool                          `json:"barista_light"`
	HopperOpen     bool                          `json:"hopper_open"`
	StandbyMinutes int                           `json:"standby_minutes"`
	Doses          map[model.PhysicalKey]float64 `json:"doses,omitempty"`
	Unsupported    []model.WidgetCode            `json:"unsupported,omitempty"`
	UpdatedAt      time.Time                     `json:"updated_at"`
}

// Clone returns a deep copy.
func (g GrinderSnapshot) Clone() GrinderSnapshot {
	out := g
	out.Doses = maps.Clone(g.Doses)
	out.Unsupported = append([]model.WidgetCode(nil), g.Unsupported...)
	return out
}

// GrinderConfig wires a grinder façade.
type GrinderConfig struct {
	Serial  string
	Model   model.ModelName
	Name    string
	Cloud   Cloud
	Local   Local
	History History
}

// Grinder is the aggregate for a Pico or Swan grinder. The grinder
// configuration is only readable locally; the cloud dashboard supplies
// identity and connectivity, and carries the commands.
type Grinder struct {
	serial  string
	cloud   Cloud
	local   Local
	history History
	logger  Logger
	now     func() time.Time

	mu    sync.Mutex
	state GrinderSnapshot

	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func(GrinderSnapshot)
	nextSub  int
}

// NewGrinder creates a grinder façade.
func NewGrinder(cfg GrinderConfig) (*Grinder, error) {
	if cfg.Serial == "" {
		return nil, fmt.Errorf("%w: serial number is required", ErrInvalidConfig)
	}
	if cfg.Cloud == nil {
		return nil, fmt.Errorf("%w: cloud transport is required", ErrInvalidConfig)
	}
	return &Grinder{
		serial:  cfg.Serial,
		cloud:   cfg.Cloud,
		local:   cfg.Local,
		history: cfg.History,
		logger:  noopLogger{},
		now:     time.Now,
		state:   GrinderSnapshot{Serial: cfg.Serial, Model: cfg.Model, Name: cfg.Name},
		subs:    make(map[int]func(GrinderSnapshot)),
	}, nil
}

// SetLogger sets the logger for the grinder.
func (g *Grinder) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.logger = logger
}

// Serial returns the serial number.
func (g *Grinder) Serial() string { return g.serial }

// Snapshot returns a deep copy of the current state.
func (g *Grinder) Snapshot() GrinderSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// Subscribe registers fn for every change. The returned func unregisters it.
func (g *Grinder) Subscribe(fn func(GrinderSnapshot)) func() {
	g.subsMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subsMu.Unlock()
	return func() {
		g.subsMu.Lock()
		delete(g.subs, id)
		g.subsMu.Unlock()
	}
}

func (g *Grinder) update(ctx context.Context, src Source, fn func(*GrinderSnapshot)) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	fn(&g.state)
	g.state.UpdatedAt = g.now().UTC()
	snap := g.state.Clone()
	g.mu.Unlock()

	if g.history != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		if err := g.history.Record(hctx, g.serial, snap, src); err != nil {
			g.logger.Warn("recording state history failed", "serial", g.serial, "error", err)
		}
		cancel()
	}

	g.subsMu.Lock()
	subs := make([]func(GrinderSnapshot), 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.subsMu.Unlock()
	for _, s := range subs {
		s(snap.Clone())
	}
}

// Refresh reads the cloud dashboard, then the local config when a local
// transport is configured. An unreachable grinder keeps its last local
// state.
func (g *Grinder) Refresh(ctx context.Context) error {
	d, err := g.cloud.Dashboard(ctx, g.serial)
	if err != nil {
		return err
	}
	thing := d.Thing
	var unsupported []model.WidgetCode
	for _, w := range d.Widgets {
		if _, ok := w.Output.(*model.Unsupported); ok {
			unsupported = append(unsupported, w.Code)
		}
	}
	g.update(ctx, SourceDashboard, func(s *GrinderSnapshot) {
		if thing.Name != "" {
			s.Name = thing.Name
		}
		if m := thing.Model(); m != "" {
			s.Model = m
		}
		s.Connected = thing.Connected
		s.Unsupported = unsupported
	})

	if g.local == nil {
		return nil
	}
	cfg, err := g.local.GrinderConfig(ctx)
	if err != nil {
		if errors.Is(err, lmerr.ErrConnection) {
			g.logger.Warn("grinder unreachable locally", "serial", g.serial, "error", err)
			return nil
		}
		return err
	}
	g.update(ctx, SourceLocal, func(s *GrinderSnapshot) {
		s.TurnedOn = cfg.MachineMode == model.ModeBrewing
		s.BaristaLight = cfg.BaristaLED
		s.HopperOpen = cfg.BellOpened
		s.StandbyMinutes = cfg.StandByTime
		s.Doses = cfg.DoseTargets()
		s.Loaded = true
	})
	return nil
}

func (g *Grinder) send(ctx context.Context, cmd model.Command) (Result, error) {
	resp, err := g.cloud.SendCommand(ctx, g.serial, cmd)
	if err != nil {
		return Result{Transport: TransportCloud}, err
	}
	res := Result{Transport: TransportCloud, ID: resp.ID, Status: resp.Status}
	return res, commandError(cmd, resp)
}

// SetPower switches the grinder on or to standby. The change is applied
// optimistically.
func (g *Grinder) SetPower(ctx context.Context, on bool) (Result, error) {
	res, err := g.send(ctx, model.GrinderPowerCommand(on))
	if err != nil {
		return res, err
	}
	g.update(ctx, SourceCommand, func(s *GrinderSnapshot) { s.TurnedOn = on })
	return res, nil
}

// SetBaristaLight toggles the barista LED.
func (g *Grinder) SetBaristaLight(ctx context.Context, on bool) (Result, error) {
	return g.send(ctx, model.GrinderBaristaLightCommand(on))
}

// SetStandbyTime sets the standby delay in minutes.
func (g *Grinder) SetStandbyTime(ctx context.Context, minutes int) (Result, error) {
	if err := checkRange("grinder_standby", float64(minutes), defaultGrinderStandby); err != nil {
		return Result{}, err
	}
	return g.send(ctx, model.GrinderStandByCommand(minutes))
}

// SetDose sets the grind time of one key in seconds.
func (g *Grinder) SetDose(ctx context.Context, key model.PhysicalKey, seconds float64) (Result, error) {
	g.mu.Lock()
	doses := g.state.Doses
	_, known := doses[key]
	g.mu.Unlock()
	if !key.Valid() || (len(doses) > 0 && !known) {
		return Result{}, lmerr.Invalid("grinder_dose", "unsupported key "+string(key))
	}
	if err := checkRange("grinder_dose", model.Round1(seconds), defaultGrinderDoseRange); err != nil {
		return Result{}, err
	}
	return g.send(ctx, model.GrinderDoseCommand(key, seconds))
}
