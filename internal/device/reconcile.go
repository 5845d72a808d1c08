package device

import (
	"maps"
	"slices"
	"sort"

	"github.com/nerrad567/lmbridge/internal/local"
	"github.com/nerrad567/lmbridge/internal/model"
)

// thingPatch copies identity and connectivity.
func thingPatch(p *Patch, t *model.Thing) {
	thing := *t
	p.Set(FieldIdentity, func(s *Snapshot) {
		if thing.Name != "" {
			s.Name = thing.Name
		}
		if m := thing.Model(); m != "" {
			s.Model = m
		}
	})
	p.Set(FieldConnected, func(s *Snapshot) { s.Connected = thing.Connected })
	if thing.BLEAuthToken != "" {
		p.Set(FieldBLEToken, func(s *Snapshot) { s.BLEToken = thing.BLEAuthToken })
	}
}

// DashboardPatch builds the patch for a full dashboard read. It completes
// the initial load.
func DashboardPatch(d *model.Dashboard) *Patch {
	p := NewPatch(SourceDashboard)
	thingPatch(p, &d.Thing)
	unsupported := widgetPatch(p, d.Config)
	p.Set(FieldUnsupported, func(s *Snapshot) { s.Unsupported = unsupported })
	p.MarkLoaded()
	return p
}

// UpdatePatch builds the patch for a pushed dashboard update. Unsupported
// codes are added to those already known.
func UpdatePatch(u *model.DashboardUpdate) *Patch {
	p := NewPatch(SourceStream)
	connected := u.Connected
	p.Set(FieldConnected, func(s *Snapshot) { s.Connected = connected })
	unsupported := widgetPatch(p, u.Config)
	if len(unsupported) > 0 {
		p.Set(FieldUnsupported, func(s *Snapshot) {
			for _, code := range unsupported {
				if !slices.Contains(s.Unsupported, code) {
					s.Unsupported = append(s.Unsupported, code)
				}
			}
			slices.Sort(s.Unsupported)
		})
	}
	for _, ref := range u.RemovedWidgets {
		if ref.Code == model.WidgetScale {
			p.Set(FieldScale, func(s *Snapshot) { s.Scale = nil })
		}
	}
	return p
}

// widgetPatch adds one change per decoded widget, in code order, and
// returns the codes it could not use.
func widgetPatch(p *Patch, cfg model.WidgetConfig) []model.WidgetCode {
	codes := make([]model.WidgetCode, 0, len(cfg))
	for code := range cfg {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	var unsupported []model.WidgetCode
	for _, code := range codes {
		switch w := cfg[code].(type) {
		case *model.MachineStatus:
			machineStatusPatch(p, *w)
		case *model.CoffeeBoiler:
			boilerWidgetPatch(p, model.BoilerCoffee, *w)
		case *model.SteamBoilerTemperature:
			boilerWidgetPatch(p, model.BoilerSteam, w.CoffeeBoiler)
		case *model.SteamBoilerLevel:
			steamLevelPatch(p, *w)
		case *model.PreExtraction:
			preExtractionPatch(p, *w)
		case *model.PreBrewing:
			preBrewingPatch(p, *w)
		case *model.BackFlush:
			status := w.Status
			p.Set(FieldBackflush, func(s *Snapshot) { s.Backflush = status })
		case *model.GroupDoses:
			groupDosesPatch(p, *w)
		case *model.HotWaterDose:
			hotWaterPatch(p, *w)
		case *model.BrewByWeightDoses:
			bbw := *w
			p.Set(FieldBrewByWeight, func(s *Snapshot) {
				s.BrewByWeight = &BrewByWeight{
					Mode:           bbw.Mode,
					Dose1:          bbw.Doses.Dose1.Dose,
					Dose2:          bbw.Doses.Dose2.Dose,
					Range:          doseRange(bbw.Doses.Dose1),
					ScaleConnected: bbw.ScaleConnected,
				}
			})
		case *model.Scale:
			scale := *w
			p.Set(FieldScale, func(s *Snapshot) { s.Scale = &scale })
		case *model.NoWater:
			alarm := w.Alarm
			p.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = !alarm })
		case *model.RinseFlush:
			// decoded for callers reading widgets directly; not part of the snapshot
		default:
			unsupported = append(unsupported, code)
		}
	}
	return unsupported
}

func machineStatusPatch(p *Patch, w model.MachineStatus) {
	p.Set(FieldMode, func(s *Snapshot) { s.Mode = w.Mode })
	p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = w.Mode == model.ModeBrewing })
	p.Set(FieldStatus, func(s *Snapshot) { s.Status = w.Status })
	brewing := w.Status == model.StateBrewing
	p.Set(FieldBrew, func(s *Snapshot) { s.Brew.Active = brewing })
}

func boilerWidgetPatch(p *Patch, t model.BoilerType, w model.CoffeeBoiler) {
	p.Set(boilerField(t, "enabled"), func(s *Snapshot) { s.Boiler(t).Enabled = w.Enabled })
	p.Set(boilerField(t, "status"), func(s *Snapshot) { s.Boiler(t).Status = w.Status })
	p.Set(boilerField(t, "target"), func(s *Snapshot) { s.Boiler(t).Target = w.TargetTemperature })
	r := Range{Min: w.TargetTemperatureMin, Max: w.TargetTemperatureMax, Step: w.TargetTemperatureStep}
	if r.Known() {
		p.Set(boilerField(t, "range"), func(s *Snapshot) { s.Boiler(t).Range = r })
	}
}

func steamLevelPatch(p *Patch, w model.SteamBoilerLevel) {
	t := model.BoilerSteam
	p.Set(boilerField(t, "enabled"), func(s *Snapshot) { s.Steam.Enabled = w.Enabled })
	p.Set(boilerField(t, "status"), func(s *Snapshot) { s.Steam.Status = w.Status })
	if w.TargetLevel != "" {
		p.Set(boilerField(t, "level"), func(s *Snapshot) { s.Steam.Level = w.TargetLevel })
		if celsius, ok := SteamLevelTemperature(w.TargetLevel); ok {
			p.Set(boilerField(t, "target"), func(s *Snapshot) { s.Steam.Target = celsius })
		}
	}
}

func modePatch(p *Patch, mode model.PreExtractionMode, available []model.PreExtractionMode) {
	avail := slices.Clone(available)
	p.Set(FieldPreExtraction, func(s *Snapshot) {
		s.PreExtraction.Mode = mode
		if len(avail) > 0 {
			s.PreExtraction.AvailableModes = avail
		}
	})
}

func setPhase(p *Patch, key model.PhysicalKey, phase int, ph Phase) {
	p.Set(prebrewField(key, phase), func(s *Snapshot) {
		if s.PreExtraction.Times == nil {
			s.PreExtraction.Times = make(map[model.PhysicalKey]PreBrew)
		}
		pb := s.PreExtraction.Times[key]
		pb[phase] = ph
		s.PreExtraction.Times[key] = pb
	})
}

func phaseFor(mode model.PreExtractionMode) int {
	if mode == model.PreExtractionPreInfusion {
		return PhasePreInfusion
	}
	return PhasePreBrewing
}

// preExtractionPatch reads the single-group CMPreExtraction widget. Its
// times apply to key A for the active flavour.
func preExtractionPatch(p *Patch, w model.PreExtraction) {
	modePatch(p, w.Mode, w.AvailableModes)
	setPhase(p, model.KeyA, phaseFor(w.Mode), Phase{On: w.Times.In.Seconds, Off: w.Times.Out.Seconds})

	pick := func(t model.PreBrewInfusionTime) float64 {
		if w.Mode == model.PreExtractionPreInfusion {
			return t.PreInfusion
		}
		return t.PreBrewing
	}
	in := Range{Min: pick(w.Times.In.SecondsMin), Max: pick(w.Times.In.SecondsMax), Step: pick(w.Times.In.SecondsStep)}
	out := Range{Min: pick(w.Times.Out.SecondsMin), Max: pick(w.Times.Out.SecondsMax), Step: pick(w.Times.Out.SecondsStep)}
	if in.Known() || out.Known() {
		p.Set(FieldPreExtractionRng, func(s *Snapshot) {
			s.PreExtraction.InRange = in
			s.PreExtraction.OutRange = out
		})
	}
}

func preBrewingPatch(p *Patch, w model.PreBrewing) {
	modePatch(p, w.Mode, w.AvailableModes)
	add := func(entries []model.PreExtractionTimes, phase int) {
		for _, e := range entries {
			key, ok := e.DoseIndex.Key()
			if !ok {
				continue
			}
			setPhase(p, key, phase, Phase{On: e.Seconds.In, Off: e.Seconds.Out})
		}
	}
	add(w.Times.PreBrewing, PhasePreBrewing)
	add(w.Times.PreInfusion, PhasePreInfusion)

	active := w.Times.PreBrewing
	if w.Mode == model.PreExtractionPreInfusion {
		active = w.Times.PreInfusion
	}
	if len(active) > 0 {
		e := active[0]
		in := Range{Min: e.SecondsMin.In, Max: e.SecondsMax.In, Step: e.SecondsStep.In}
		out := Range{Min: e.SecondsMin.Out, Max: e.SecondsMax.Out, Step: e.SecondsStep.Out}
		p.Set(FieldPreExtractionRng, func(s *Snapshot) {
			s.PreExtraction.InRange = in
			s.PreExtraction.OutRange = out
		})
	}
}

func doseRange(d model.BaseDose) Range {
	return Range{Min: d.DoseMin, Max: d.DoseMax, Step: d.DoseStep}
}

func groupDosesPatch(p *Patch, w model.GroupDoses) {
	mode := w.Mode
	p.Set(FieldDoseMode, func(s *Snapshot) { s.Doses.Mode = mode })
	for _, d := range w.Doses.PulsesType {
		key, ok := d.DoseIndex.Key()
		if !ok {
			continue
		}
		setDose(p, key, d.Dose)
	}
	if len(w.Doses.PulsesType) > 0 {
		if r := doseRange(w.Doses.PulsesType[0].BaseDose); r.Known() {
			p.Set(FieldDoseRange, func(s *Snapshot) { s.Doses.Range = r })
		}
	}
}

func setDose(p *Patch, key model.PhysicalKey, v float64) {
	p.Set(doseField(key), func(s *Snapshot) {
		if s.Doses.Targets == nil {
			s.Doses.Targets = make(map[model.PhysicalKey]float64)
		}
		s.Doses.Targets[key] = v
	})
}

func hotWaterPatch(p *Patch, w model.HotWaterDose) {
	hw := HotWater{Enabled: w.Enabled}
	if len(w.Doses) > 0 {
		hw.Dose = w.Doses[0].Dose
		hw.Range = doseRange(w.Doses[0].BaseDose)
	}
	p.Set(FieldHotWater, func(s *Snapshot) { s.HotWater = hw })
}

func setStatistics(p *Patch, stats model.CoffeeStatistics) {
	stats.DrinkStats = maps.Clone(stats.DrinkStats)
	p.Set(FieldStatistics, func(s *Snapshot) {
		s.Statistics.CoffeeStatistics = stats
		s.Statistics.TotalCoffee = stats.TotalCoffee()
	})
}

// LocalConfigPatch builds the patch for a local config read. It completes
// the initial load.
func LocalConfigPatch(cfg *model.LocalConfig) *Patch {
	p := localConfigPatch(SourceLocal, cfg)
	p.MarkLoaded()
	return p
}

func localConfigPatch(src Source, cfg *model.LocalConfig) *Patch {
	p := NewPatch(src)
	mode, on := cfg.MachineMode, cfg.TurnedOn()
	plumbed, tank, backflush := cfg.IsPlumbedIn, cfg.TankStatus, cfg.IsBackFlushEnabled
	p.Set(FieldMode, func(s *Snapshot) { s.Mode = mode })
	p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = on })
	p.Set(FieldPlumbedIn, func(s *Snapshot) { s.PlumbedIn = plumbed })
	p.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = tank })
	p.Set(FieldBackflushEnabled, func(s *Snapshot) { s.BackflushEnabled = backflush })

	for _, b := range cfg.Boilers {
		localBoilerPatch(p, b)
	}
	for _, d := range sortedDoses(cfg.Doses()) {
		setDose(p, d.key, d.dose)
	}
	if len(cfg.TeaDoses) > 0 {
		dose := cfg.HotWaterDose()
		p.Set(FieldHotWater, func(s *Snapshot) { s.HotWater.Dose = dose })
	}
	preinfusionPatch(p, cfg.PreinfusionSettings)
	if ss := cfg.SmartStandBy; ss != nil {
		standby := *ss
		p.Set(FieldSmartStandby, func(s *Snapshot) {
			s.SmartStandby.Enabled = standby.Enabled
			s.SmartStandby.Minutes = standby.Minutes
			s.SmartStandby.After = standby.Mode
		})
	}
	if len(cfg.WakeUpSleepEntries) > 0 {
		schedules := cfg.Schedules()
		p.Set(FieldSchedules, func(s *Snapshot) { s.Schedules = schedules.Clone() })
	}
	if len(cfg.Firmwares) > 0 {
		raw := cfg.Firmwares
		p.Set(FieldFirmware, func(s *Snapshot) {
			fw, err := model.ParseLegacyFirmware(raw, s.Firmware)
			if err != nil {
				return
			}
			if s.Firmware == nil {
				s.Firmware = make(map[model.FirmwareType]model.Firmware)
			}
			for k, v := range fw {
				s.Firmware[k] = v
			}
		})
	}
	return p
}

type keyedDose struct {
	key  model.PhysicalKey
	dose float64
}

// sortedDoses orders a dose map by key so patches are deterministic.
func sortedDoses(m map[model.PhysicalKey]float64) []keyedDose {
	out := make([]keyedDose, 0, len(m))
	for k, v := range m {
		out = append(out, keyedDose{key: k, dose: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func localBoilerPatch(p *Patch, b model.LocalBoiler) {
	t := b.ID
	if t != model.BoilerCoffee && t != model.BoilerSteam {
		return
	}
	p.Set(boilerField(t, "enabled"), func(s *Snapshot) { s.Boiler(t).Enabled = b.IsEnabled })
	p.Set(boilerField(t, "current"), func(s *Snapshot) { s.Boiler(t).Current = b.Current })
	p.Set(boilerField(t, "target"), func(s *Snapshot) { s.Boiler(t).Target = b.Target })
}

func preinfusionPatch(p *Patch, settings model.LocalPreinfusionSettings) {
	mode := model.LegacyPrebrewMode(settings.Mode)
	p.Set(FieldPreExtraction, func(s *Snapshot) { s.PreExtraction.Mode = mode })
	phase := phaseFor(mode)
	for i, pi := range settings.Group1 {
		if i >= len(model.PhysicalKeys) {
			break
		}
		setPhase(p, model.PhysicalKeys[i], phase, Phase{On: pi.PreWetTime, Off: pi.PreWetHoldTime})
	}
}

// EventPatch builds the patch for one local stream event. Events that
// carry nothing for the snapshot produce an empty patch.
func EventPatch(ev local.Event) *Patch {
	p := NewPatch(SourceLocalStream)
	switch e := ev.(type) {
	case local.BoilerTemperature:
		p.Set(boilerField(e.Boiler, "current"), func(s *Snapshot) { s.Boiler(e.Boiler).Current = e.Celsius })
	case local.BoilerSetPoint:
		p.Set(boilerField(e.Boiler, "target"), func(s *Snapshot) { s.Boiler(e.Boiler).Target = e.Celsius })
	case local.BoilerTargets:
		for _, t := range []model.BoilerType{model.BoilerCoffee, model.BoilerSteam} {
			if v, ok := e.Targets[t]; ok {
				p.Set(boilerField(t, "target"), func(s *Snapshot) { s.Boiler(t).Target = v })
			}
		}
	case local.BoilersUpdated:
		for _, b := range e.Boilers {
			localBoilerPatch(p, b)
		}
	case local.PowerChanged:
		p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = e.On })
	case local.SteamEnabled:
		p.Set(boilerField(model.BoilerSteam, "enabled"), func(s *Snapshot) { s.Steam.Enabled = e.Enabled })
	case local.MachineModeChanged:
		p.Set(FieldMode, func(s *Snapshot) { s.Mode = e.Mode })
		p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = e.Mode == model.ModeBrewing })
	case local.StatisticsUpdated:
		setStatistics(p, e.Stats)
	case local.BrewStarted:
		p.Set(FieldBrew, func(s *Snapshot) {
			s.Brew.Active = true
			s.Brew.Seconds = 0
		})
	case local.BrewProgress:
		p.Set(FieldBrew, func(s *Snapshot) {
			s.Brew.Active = true
			s.Brew.Seconds = e.Seconds
		})
	case local.BrewStopped:
		p.Set(FieldBrew, func(s *Snapshot) { s.Brew.Active = false })
		if e.HasDuration {
			p.Set(FieldFlush, func(s *Snapshot) { s.Brew.LastFlushSeconds = e.Seconds })
		}
	case local.PreinfusionUpdated:
		preinfusionPatch(p, e.Settings)
	case local.TankStatus:
		p.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = e.Full })
	case local.DosesUpdated:
		for _, d := range sortedDoses(e.Doses) {
			setDose(p, d.key, d.dose)
		}
	case local.ConfigurationUpdated:
		if e.Config != nil {
			p.Merge(localConfigPatch(SourceLocalStream, e.Config))
		}
	}
	return p
}

// SettingsPatch folds in the settings document.
func SettingsPatch(st *model.Settings) *Patch {
	p := NewPatch(SourceSettings)
	thingPatch(p, &st.Thing)
	plumbed, supported := st.IsPlumbedIn, st.PlumbInSupported
	p.Set(FieldPlumbedIn, func(s *Snapshot) { s.PlumbedIn = plumbed })
	p.Set(FieldPlumbInSupported, func(s *Snapshot) { s.PlumbInSupported = supported })
	if fw := st.Firmwares(); len(fw) > 0 {
		firmwarePatch(p, fw)
	}
	return p
}

// FirmwarePatch folds in per-component versions.
func FirmwarePatch(fw map[model.FirmwareType]model.Firmware) *Patch {
	p := NewPatch(SourceFirmware)
	firmwarePatch(p, fw)
	return p
}

func firmwarePatch(p *Patch, fw map[model.FirmwareType]model.Firmware) {
	for t, v := range fw {
		p.Set(Field("firmware."+string(t)), func(s *Snapshot) {
			if s.Firmware == nil {
				s.Firmware = make(map[model.FirmwareType]model.Firmware)
			}
			s.Firmware[t] = v
		})
	}
}

// StatisticsPatch folds in the statistics widgets.
func StatisticsPatch(st *model.Statistics) *Patch {
	p := NewPatch(SourceStatistics)
	if out, ok := st.Widget(model.WidgetCoffeeAndFlushCounter); ok {
		if c, ok := out.(*model.CoffeeAndFlushCounter); ok {
			total, flushes := c.TotalCoffee, c.TotalFlush
			p.Set(FieldStatistics, func(s *Snapshot) {
				s.Statistics.TotalCoffee = total
				s.Statistics.TotalFlushes = flushes
			})
		}
	}
	if out, ok := st.Widget(model.WidgetLastCoffee); ok {
		if l, ok := out.(*model.LastCoffeeList); ok {
			last := slices.Clone(l.LastCoffees)
			p.Set(FieldLastCoffees, func(s *Snapshot) { s.Statistics.LastCoffees = last })
		}
	}
	return p
}

// SchedulePatch folds in smart standby and the wake-up schedules.
func SchedulePatch(sc *model.Scheduling) *Patch {
	p := NewPatch(SourceSchedule)
	w := sc.SmartWakeUpSleep
	standby := SmartStandby{
		Enabled: w.SmartStandByEnabled,
		Minutes: w.SmartStandByMinutes,
		After:   w.SmartStandByAfter,
		Range: Range{
			Min:  float64(w.SmartStandByMinutesMin),
			Max:  float64(w.SmartStandByMinutesMax),
			Step: float64(w.SmartStandByMinutesStep),
		},
	}
	p.Set(FieldSmartStandby, func(s *Snapshot) { s.SmartStandby = standby })
	schedules := w.Schedules.Clone()
	if schedules == nil {
		schedules = model.NewSchedules()
	}
	p.Set(FieldSchedules, func(s *Snapshot) { s.Schedules = schedules.Clone() })
	return p
}

// BluetoothModePatch folds in a BLE machineMode read.
func BluetoothModePatch(mode model.MachineMode) *Patch {
	p := NewPatch(SourceBluetooth)
	p.Set(FieldMode, func(s *Snapshot) { s.Mode = mode })
	p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = mode == model.ModeBrewing })
	return p
}

// BluetoothBoilersPatch folds in a BLE boilers read.
func BluetoothBoilersPatch(boilers []model.BLEBoiler) *Patch {
	p := NewPatch(SourceBluetooth)
	for _, b := range boilers {
		localBoilerPatch(p, model.LocalBoiler{ID: b.ID, IsEnabled: b.IsEnabled, Current: b.Current, Target: b.Target})
	}
	return p
}

// BluetoothTankPatch folds in a BLE tankStatus read.
func BluetoothTankPatch(full bool) *Patch {
	p := NewPatch(SourceBluetooth)
	p.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = full })
	return p
}

// BluetoothStandbyPatch folds in a BLE smartStandBy read. The range is kept.
func BluetoothStandbyPatch(ss model.BLESmartStandby) *Patch {
	p := NewPatch(SourceBluetooth)
	p.Set(FieldSmartStandby, func(s *Snapshot) {
		s.SmartStandby.Enabled = ss.Enabled
		s.SmartStandby.Minutes = ss.Minutes
		s.SmartStandby.After = ss.Mode
	})
	return p
}
