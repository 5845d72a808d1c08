package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/bluetooth"
	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/local"
	"github.com/nerrad567/lmbridge/internal/model"
)

const historyTimeout = 5 * time.Second

// MachineConfig wires a machine façade. Cloud is required; Local and
// Bluetooth are optional.
type MachineConfig struct {
	Serial    string
	Model     model.ModelName
	Name      string
	Cloud     Cloud
	Local     Local
	Bluetooth Bluetooth
	// BLEToken authenticates Bluetooth settings. When empty the token
	// reported by the cloud dashboard is used.
	BLEToken string
	History  History
}

// Machine is the aggregate for one espresso machine. It owns the merged
// snapshot and is its only writer: transports return parsed payloads and
// the machine folds them in as patches.
//
// Subscribers are called after every merged change, in order, on the
// goroutine that produced the change. They must not call setters on the
// same machine synchronously.
type Machine struct {
	serial  string
	cloud   Cloud
	local   Local
	ble     Bluetooth
	history History
	logger  Logger
	now     func() time.Time

	mu    sync.Mutex
	state Snapshot

	// notifyMu serialises apply so subscribers see changes in order.
	notifyMu sync.Mutex
	subsMu   sync.Mutex
	subs     map[int]func(Snapshot)
	nextSub  int

	streamMu    sync.Mutex
	dashboard   Stream
	localStream Stream
	closed      bool
}

// NewMachine creates a machine in the uninitialised state.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Serial == "" {
		return nil, fmt.Errorf("%w: serial number is required", ErrInvalidConfig)
	}
	if cfg.Cloud == nil {
		return nil, fmt.Errorf("%w: cloud transport is required", ErrInvalidConfig)
	}
	return &Machine{
		serial:  cfg.Serial,
		cloud:   cfg.Cloud,
		local:   cfg.Local,
		ble:     cfg.Bluetooth,
		history: cfg.History,
		logger:  noopLogger{},
		now:     time.Now,
		state: Snapshot{
			Serial:   cfg.Serial,
			Model:    cfg.Model,
			Name:     cfg.Name,
			BLEToken: cfg.BLEToken,
		},
		subs: make(map[int]func(Snapshot)),
	}, nil
}

// SetLogger sets the logger for the machine.
func (m *Machine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Serial returns the serial number.
func (m *Machine) Serial() string { return m.serial }

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Loaded reports whether a full dashboard or local config has been read.
func (m *Machine) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Loaded
}

// Subscribe registers fn for every change. The returned func unregisters it.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.subsMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subsMu.Unlock()
	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Machine) subscribers() []func(Snapshot) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	out := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}

// Apply folds p into the snapshot, records it and notifies subscribers.
func (m *Machine) Apply(ctx context.Context, p *Patch) {
	if p.Empty() {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	m.state.Apply(p)
	m.state.UpdatedAt = m.now().UTC()
	snap := m.state.Clone()
	m.mu.Unlock()

	if m.history != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		if err := m.history.Record(hctx, m.serial, snap, p.Source); err != nil {
			m.logger.Warn("recording state history failed", "serial", m.serial, "error", err)
		}
		cancel()
	}
	for _, fn := range m.subscribers() {
		fn(snap.Clone())
	}
}

// Refresh reads the dashboard and settings, then the local config when a
// local transport is configured. A local failure is logged, not returned.
func (m *Machine) Refresh(ctx context.Context) error {
	if err := m.RefreshDashboard(ctx); err != nil {
		return err
	}
	if err := m.RefreshSettings(ctx); err != nil {
		return err
	}
	if m.local != nil {
		if err := m.RefreshLocal(ctx); err != nil {
			m.logger.Warn("local refresh failed, using cloud state", "serial", m.serial, "error", err)
		}
	}
	return nil
}

// RefreshDashboard reads the cloud dashboard.
func (m *Machine) RefreshDashboard(ctx context.Context) error {
	d, err := m.cloud.Dashboard(ctx, m.serial)
	if err != nil {
		return err
	}
	m.Apply(ctx, DashboardPatch(d))
	return nil
}

// RefreshSettings reads the cloud settings: plumb-in and firmware.
func (m *Machine) RefreshSettings(ctx context.Context) error {
	st, err := m.cloud.Settings(ctx, m.serial)
	if err != nil {
		return err
	}
	m.Apply(ctx, SettingsPatch(st))
	return nil
}

// RefreshStatistics reads the cloud statistics widgets.
func (m *Machine) RefreshStatistics(ctx context.Context) error {
	st, err := m.cloud.Statistics(ctx, m.serial)
	if err != nil {
		return err
	}
	m.Apply(ctx, StatisticsPatch(st))
	return nil
}

// RefreshSchedule reads smart standby and the wake-up schedules.
func (m *Machine) RefreshSchedule(ctx context.Context) error {
	sc, err := m.cloud.Schedule(ctx, m.serial)
	if err != nil {
		return err
	}
	m.Apply(ctx, SchedulePatch(sc))
	return nil
}

// RefreshFirmware reads firmware versions.
func (m *Machine) RefreshFirmware(ctx context.Context) error {
	fw, err := m.cloud.Firmware(ctx, m.serial)
	if err != nil {
		return err
	}
	m.Apply(ctx, FirmwarePatch(fw))
	return nil
}

// RefreshLocal reads the local config.
func (m *Machine) RefreshLocal(ctx context.Context) error {
	if m.local == nil {
		return fmt.Errorf("%w: no local transport for %s", lmerr.ErrUnsupported, m.serial)
	}
	cfg, err := m.local.Config(ctx)
	if err != nil {
		return err
	}
	m.Apply(ctx, LocalConfigPatch(cfg))
	return nil
}

// RefreshBluetooth reads mode, boilers, tank and smart standby over BLE.
// Each read is folded in as it arrives; the first failure stops the rest.
func (m *Machine) RefreshBluetooth(ctx context.Context) error {
	if m.ble == nil {
		return fmt.Errorf("%w: no bluetooth transport for %s", lmerr.ErrUnsupported, m.serial)
	}
	mode, err := m.ble.MachineMode(ctx)
	if err != nil {
		return err
	}
	m.Apply(ctx, BluetoothModePatch(mode))

	boilers, err := m.ble.Boilers(ctx)
	if err != nil {
		return err
	}
	m.Apply(ctx, BluetoothBoilersPatch(boilers))

	tank, err := m.ble.TankStatus(ctx)
	if err != nil {
		return err
	}
	m.Apply(ctx, BluetoothTankPatch(tank))

	standby, err := m.ble.SmartStandby(ctx)
	if err != nil {
		return err
	}
	m.Apply(ctx, BluetoothStandbyPatch(standby))
	return nil
}

// ConnectDashboard opens the cloud push stream and merges every update.
// Calling it again while a stream is open is a no-op.
func (m *Machine) ConnectDashboard(ctx context.Context) error {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.dashboard != nil {
		return nil
	}
	s, err := m.cloud.OpenDashboardStream(ctx, m.serial, func(u *model.DashboardUpdate) {
		m.Apply(context.Background(), UpdatePatch(u))
	})
	if err != nil {
		return err
	}
	m.dashboard = s
	return nil
}

// ConnectLocal opens the local event stream and merges every event.
// Opening it disconnects the vendor's mobile app from the machine.
func (m *Machine) ConnectLocal(ctx context.Context) error {
	if m.local == nil {
		return fmt.Errorf("%w: no local transport for %s", lmerr.ErrUnsupported, m.serial)
	}
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.localStream != nil {
		return nil
	}
	s, err := m.local.OpenStream(ctx, func(ev local.Event) {
		m.Apply(context.Background(), EventPatch(ev))
	})
	if err != nil {
		return err
	}
	m.localStream = s
	return nil
}

// StreamsConnected reports the state of the open streams.
func (m *Machine) StreamsConnected() (cloudUp, localUp bool) {
	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	if m.dashboard != nil {
		cloudUp = m.dashboard.Connected()
	}
	if m.localStream != nil {
		localUp = m.localStream.Connected()
	}
	return cloudUp, localUp
}

// Close closes every open stream. It is safe to call more than once.
// Streams are closed outside streamMu since their readers may still be
// delivering to subscribers.
func (m *Machine) Close() error {
	m.streamMu.Lock()
	if m.closed {
		m.streamMu.Unlock()
		return nil
	}
	m.closed = true
	streams := []Stream{m.dashboard, m.localStream}
	m.dashboard, m.localStream = nil, nil
	m.streamMu.Unlock()

	var errs []error
	for _, s := range streams {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}

// validate runs fn against the current snapshot.
func (m *Machine) validate(fn func(*Snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.state)
}

// dispatch sends cmd over the first transport routed for op. A Bluetooth
// failure falls back to the cloud; a cloud failure is returned.
func (m *Machine) dispatch(ctx context.Context, op Operation, cmd model.Command, setting *bluetooth.Setting) (Result, error) {
	for _, t := range Route(op) {
		switch t {
		case TransportBluetooth:
			token := m.bleToken()
			if m.ble == nil || setting == nil || token == "" {
				continue
			}
			err := m.ble.SendSetting(ctx, token, *setting)
			if err == nil {
				m.logger.Debug("command sent over bluetooth", "serial", m.serial, "operation", op)
				return Result{Transport: TransportBluetooth, Status: model.CommandSuccess}, nil
			}
			if ctx.Err() != nil {
				return Result{}, err
			}
			m.logger.Warn("bluetooth command failed, falling back to cloud",
				"serial", m.serial, "operation", op, "error", err)
		case TransportCloud:
			return m.sendCloud(ctx, cmd)
		}
	}
	return Result{}, fmt.Errorf("%w: %s", lmerr.ErrUnsupported, op)
}

func (m *Machine) sendCloud(ctx context.Context, cmd model.Command) (Result, error) {
	resp, err := m.cloud.SendCommand(ctx, m.serial, cmd)
	if err != nil {
		return Result{Transport: TransportCloud}, err
	}
	res := Result{Transport: TransportCloud, ID: resp.ID, Status: resp.Status}
	return res, commandError(cmd, resp)
}

func (m *Machine) bleToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.BLEToken
}

// optimistic applies the expected result of a power or steam change
// before any confirming read or push.
func (m *Machine) optimistic(ctx context.Context, build func(*Patch)) {
	p := NewPatch(SourceCommand)
	build(p)
	m.Apply(ctx, p)
}

// SetPower switches the machine on or to standby. Bluetooth is preferred.
func (m *Machine) SetPower(ctx context.Context, on bool) (Result, error) {
	setting := bluetooth.PowerSetting(on)
	res, err := m.dispatch(ctx, OpPower, model.PowerCommand(on), &setting)
	if err != nil {
		return res, err
	}
	mode := model.ModeStandBy
	if on {
		mode = model.ModeBrewing
	}
	m.optimistic(ctx, func(p *Patch) {
		p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = on })
		p.Set(FieldMode, func(s *Snapshot) { s.Mode = mode })
		p.Set(boilerField(model.BoilerCoffee, "enabled"), func(s *Snapshot) { s.Coffee.Enabled = on })
	})
	return res, nil
}

// SetSteam enables or disables the steam boiler. Bluetooth is preferred.
func (m *Machine) SetSteam(ctx context.Context, enabled bool) (Result, error) {
	setting := bluetooth.BoilerEnableSetting(model.BoilerSteam, enabled)
	res, err := m.dispatch(ctx, OpSteam, model.SteamEnableCommand(enabled), &setting)
	if err != nil {
		return res, err
	}
	m.optimistic(ctx, func(p *Patch) {
		p.Set(boilerField(model.BoilerSteam, "enabled"), func(s *Snapshot) { s.Steam.Enabled = enabled })
	})
	return res, nil
}

// SetSteamLevel sets the discrete steam level on level-based machines.
func (m *Machine) SetSteamLevel(ctx context.Context, level model.SteamTargetLevel) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateSteamLevel(s, level) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpSteamLevel, model.SteamLevelCommand(level), nil)
}

// SetCoffeeTarget sets the coffee boiler temperature. Bluetooth is
// preferred.
func (m *Machine) SetCoffeeTarget(ctx context.Context, celsius float64) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateCoffeeTarget(s, celsius) }); err != nil {
		return Result{}, err
	}
	return m.setBoilerTarget(ctx, OpCoffeeTarget, model.BoilerCoffee, model.Round1(celsius), model.CoffeeTargetCommand(celsius))
}

func (m *Machine) setBoilerTarget(ctx context.Context, op Operation, boiler model.BoilerType, celsius float64, cmd model.Command) (Result, error) {
	setting := bluetooth.BoilerTargetSetting(boiler, celsius)
	res, err := m.dispatch(ctx, op, cmd, &setting)
	if err != nil {
		return res, err
	}
	m.optimistic(ctx, func(p *Patch) {
		p.Set(boilerField(boiler, "target"), func(s *Snapshot) { s.Boiler(boiler).Target = celsius })
	})
	return res, nil
}

// SetSteamTarget sets the steam boiler temperature. On a Micra the value
// must be one of the three level temperatures; the cloud fallback then
// sends the matching level.
func (m *Machine) SetSteamTarget(ctx context.Context, celsius float64) (Result, error) {
	var cmd model.Command
	err := m.validate(func(s *Snapshot) error {
		var err error
		cmd, err = steamTargetCommand(s, celsius)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return m.setBoilerTarget(ctx, OpSteamTarget, model.BoilerSteam, model.Round1(celsius), cmd)
}

// StartBackflush starts a backflush cycle.
func (m *Machine) StartBackflush(ctx context.Context) (Result, error) {
	return m.dispatch(ctx, OpBackflush, model.BackflushCommand(), nil)
}

// SetPreExtractionMode selects pre-brewing, pre-infusion or disabled.
func (m *Machine) SetPreExtractionMode(ctx context.Context, mode model.PreExtractionMode) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validatePreExtractionMode(s, mode) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpPreExtractionMode, model.PreExtractionModeCommand(mode), nil)
}

// SetPreExtractionTimes sets the In/Out seconds of the active flavour.
func (m *Machine) SetPreExtractionTimes(ctx context.Context, in, out float64) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validatePreExtractionTimes(s, in, out) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpPreExtractionTimes, model.PreExtractionTimesCommand(in, out), nil)
}

// SetSmartStandby configures automatic standby.
func (m *Machine) SetSmartStandby(ctx context.Context, enabled bool, minutes int, after model.SmartStandByType) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateSmartStandby(s, minutes, after) }); err != nil {
		return Result{}, err
	}
	setting := bluetooth.SmartStandbySetting(enabled, minutes, after)
	res, err := m.dispatch(ctx, OpSmartStandby, model.SmartStandbyCommand(enabled, minutes, after), &setting)
	if err != nil {
		return res, err
	}
	m.optimistic(ctx, func(p *Patch) {
		p.Set(FieldSmartStandby, func(s *Snapshot) {
			s.SmartStandby.Enabled = enabled
			s.SmartStandby.Minutes = minutes
			s.SmartStandby.After = after
		})
	})
	return res, nil
}

// SetWakeUpSchedule creates or replaces a schedule entry.
func (m *Machine) SetWakeUpSchedule(ctx context.Context, sched model.WakeUpSchedule) (Result, error) {
	if err := validateSchedule(sched); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpWakeUpSchedule, model.SetWakeUpScheduleCommand(sched), nil)
}

// DeleteWakeUpSchedule removes a schedule entry.
func (m *Machine) DeleteWakeUpSchedule(ctx context.Context, id string) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateScheduleDelete(s, id) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpDeleteSchedule, model.DeleteWakeUpScheduleCommand(id), nil)
}

// SetPlumbIn toggles the plumbed-in water supply.
func (m *Machine) SetPlumbIn(ctx context.Context, enabled bool) (Result, error) {
	return m.dispatch(ctx, OpPlumbIn, model.PlumbInCommand(enabled), nil)
}

// SetDose sets the pulse target of one key.
func (m *Machine) SetDose(ctx context.Context, key model.PhysicalKey, dose float64) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateDose(s, key, dose) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpDose, model.GroupDoseCommand(key, dose), nil)
}

// SetHotWaterDose sets the tea water dose in seconds.
func (m *Machine) SetHotWaterDose(ctx context.Context, seconds float64) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateHotWaterDose(s, seconds) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpHotWaterDose, model.HotWaterDoseCommand(seconds), nil)
}

// SetBrewByWeightMode selects the active scale recipe.
func (m *Machine) SetBrewByWeightMode(ctx context.Context, mode model.DoseMode) (Result, error) {
	if mode != model.DoseModeDose1 && mode != model.DoseModeDose2 && mode != model.DoseModeContinuous {
		return Result{}, lmerr.Invalid("brew_by_weight_mode", "unknown mode "+string(mode))
	}
	if err := m.validate(validateBrewByWeight); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpBrewByWeightMode, model.BrewByWeightModeCommand(mode), nil)
}

// SetBrewByWeightDoses sets both scale recipe targets in grams.
func (m *Machine) SetBrewByWeightDoses(ctx context.Context, dose1, dose2 float64) (Result, error) {
	if err := m.validate(func(s *Snapshot) error { return validateBrewByWeightDoses(s, dose1, dose2) }); err != nil {
		return Result{}, err
	}
	return m.dispatch(ctx, OpBrewByWeightDoses, model.BrewByWeightDosesCommand(dose1, dose2), nil)
}

// InstallFirmware asks the cloud to install the offered update.
func (m *Machine) InstallFirmware(ctx context.Context) (*model.UpdateDetails, error) {
	return m.cloud.InstallFirmware(ctx, m.serial)
}
