package device

import (
	"math"
	"slices"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Fallback ranges used until the cloud has reported the vendor's own.
var (
	defaultCoffeeRange      = Range{Min: 85, Max: 104, Step: 0.1}
	defaultSteamRange       = Range{Min: 95, Max: 140, Step: 0.1}
	defaultPreExtractRange  = Range{Min: 0, Max: 10, Step: 0.1}
	defaultDoseRange        = Range{Min: 1, Max: 1000, Step: 1}
	defaultHotWaterRange    = Range{Min: 0, Max: 30, Step: 0.1}
	defaultBrewWeightRange  = Range{Min: 5, Max: 100, Step: 0.1}
	defaultStandbyRange     = Range{Min: 10, Max: 240, Step: 1}
	defaultGrinderDoseRange = Range{Min: 0.1, Max: 60, Step: 0.1}
	defaultGrinderStandby   = Range{Min: 1, Max: 120, Step: 1}
)

// stepTolerance absorbs float error when checking step alignment.
const stepTolerance = 1e-6

// steamLevels maps the Micra's discrete steam levels onto temperatures.
var steamLevels = []struct {
	level   model.SteamTargetLevel
	celsius float64
}{
	{model.SteamLevel1, 126},
	{model.SteamLevel2, 128},
	{model.SteamLevel3, 131},
}

// SteamLevelTemperature returns the boiler temperature of a level.
func SteamLevelTemperature(l model.SteamTargetLevel) (float64, bool) {
	for _, s := range steamLevels {
		if s.level == l {
			return s.celsius, true
		}
	}
	return 0, false
}

// SteamLevelFor returns the level whose temperature is celsius.
func SteamLevelFor(celsius float64) (model.SteamTargetLevel, bool) {
	for _, s := range steamLevels {
		if s.celsius == celsius {
			return s.level, true
		}
	}
	return "", false
}

// checkRange fails when v is outside r or not on one of its steps.
func checkRange(field string, v float64, r Range) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < r.Min-stepTolerance || v > r.Max+stepTolerance {
		return &lmerr.ValidationError{Field: field, Value: v, Min: r.Min, Max: r.Max, Step: r.Step}
	}
	if r.Step > 0 {
		n := (v - r.Min) / r.Step
		if math.Abs(n-math.Round(n)) > stepTolerance*math.Max(1, math.Abs(n)) {
			return &lmerr.ValidationError{Field: field, Value: v, Min: r.Min, Max: r.Max, Step: r.Step}
		}
	}
	return nil
}

func rangeOr(r, fallback Range) Range {
	if r.Known() {
		return r
	}
	return fallback
}

func isLineaMini(m model.ModelName) bool {
	return m == model.ModelLineaMini || m == model.ModelLineaMiniR
}

// usesSteamLevels reports whether the steam boiler is set by level.
func usesSteamLevels(s *Snapshot) bool {
	return s.Model == model.ModelLineaMicra || s.Steam.Level != ""
}

func validateCoffeeTarget(s *Snapshot, celsius float64) error {
	return checkRange("coffee_target", model.Round1(celsius), rangeOr(s.Coffee.Range, defaultCoffeeRange))
}

// steamTargetCommand validates a steam temperature and builds the command
// that applies it: a level change on level-based machines, a temperature
// change otherwise.
func steamTargetCommand(s *Snapshot, celsius float64) (model.Command, error) {
	if isLineaMini(s.Model) {
		return model.Command{}, lmerr.Invalid("steam_target", "not supported on "+string(s.Model))
	}
	if usesSteamLevels(s) {
		level, ok := SteamLevelFor(celsius)
		if !ok {
			return model.Command{}, &lmerr.ValidationError{
				Field:  "steam_target",
				Value:  celsius,
				Reason: "must be one of 126, 128, 131",
			}
		}
		return model.SteamLevelCommand(level), nil
	}
	if err := checkRange("steam_target", model.Round1(celsius), rangeOr(s.Steam.Range, defaultSteamRange)); err != nil {
		return model.Command{}, err
	}
	return model.SteamTargetCommand(celsius), nil
}

func validateSteamLevel(s *Snapshot, level model.SteamTargetLevel) error {
	if !level.Valid() {
		return lmerr.Invalid("steam_level", "unknown level "+string(level))
	}
	if s.Model != "" && !usesSteamLevels(s) {
		return lmerr.Invalid("steam_level", "not supported on "+string(s.Model))
	}
	return nil
}

func validatePreExtractionMode(s *Snapshot, mode model.PreExtractionMode) error {
	switch mode {
	case model.PreExtractionPreBrewing, model.PreExtractionPreInfusion, model.PreExtractionDisabled:
	default:
		return lmerr.Invalid("pre_extraction_mode", "unknown mode "+string(mode))
	}
	if avail := s.PreExtraction.AvailableModes; len(avail) > 0 && !slices.Contains(avail, mode) {
		return lmerr.Invalid("pre_extraction_mode", string(mode)+" not available")
	}
	if mode == model.PreExtractionPreInfusion && !s.PlumbedIn {
		return lmerr.Invalid("pre_extraction_mode", "pre-infusion requires plumb-in")
	}
	return nil
}

func validatePreExtractionTimes(s *Snapshot, in, out float64) error {
	if err := checkRange("pre_extraction_in", model.Round1(in), rangeOr(s.PreExtraction.InRange, defaultPreExtractRange)); err != nil {
		return err
	}
	return checkRange("pre_extraction_out", model.Round1(out), rangeOr(s.PreExtraction.OutRange, defaultPreExtractRange))
}

// supportedKeys are the dose keys a machine has: those it reported, or
// the model default before the first read.
func supportedKeys(s *Snapshot) []model.PhysicalKey {
	if len(s.Doses.Targets) > 0 {
		keys := make([]model.PhysicalKey, 0, len(s.Doses.Targets))
		for k := range s.Doses.Targets {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return keys
	}
	switch s.Model {
	case model.ModelGS3AV, model.ModelGS3:
		return model.PhysicalKeys
	}
	return []model.PhysicalKey{model.KeyA}
}

func validateDose(s *Snapshot, key model.PhysicalKey, dose float64) error {
	if !key.Valid() || !slices.Contains(supportedKeys(s), key) {
		return lmerr.Invalid("dose", "unsupported key "+string(key))
	}
	return checkRange("dose", model.Round1(dose), rangeOr(s.Doses.Range, defaultDoseRange))
}

func validateHotWaterDose(s *Snapshot, seconds float64) error {
	return checkRange("hot_water_dose", model.Round1(seconds), rangeOr(s.HotWater.Range, defaultHotWaterRange))
}

func validateSmartStandby(s *Snapshot, minutes int, after model.SmartStandByType) error {
	if after != model.SmartStandByLastBrew && after != model.SmartStandByPowerOn {
		return lmerr.Invalid("smart_standby", "unknown mode "+string(after))
	}
	return checkRange("smart_standby_minutes", float64(minutes), rangeOr(s.SmartStandby.Range, defaultStandbyRange))
}

func validateSchedule(sched model.WakeUpSchedule) error {
	if err := sched.Validate(); err != nil {
		return lmerr.Invalid("wake_up_schedule", err.Error())
	}
	return nil
}

func validateScheduleDelete(s *Snapshot, id string) error {
	if id == "" {
		return lmerr.Invalid("wake_up_schedule", "id is required")
	}
	if s.Schedules != nil {
		if _, ok := s.Schedules.Get(id); !ok {
			return lmerr.Invalid("wake_up_schedule", "unknown id "+id)
		}
	}
	return nil
}

func validateBrewByWeight(s *Snapshot) error {
	if s.Model != "" && !isLineaMini(s.Model) {
		return lmerr.Invalid("brew_by_weight", "not supported on "+string(s.Model))
	}
	return nil
}

func validateBrewByWeightDoses(s *Snapshot, dose1, dose2 float64) error {
	if err := validateBrewByWeight(s); err != nil {
		return err
	}
	r := defaultBrewWeightRange
	if s.BrewByWeight != nil {
		r = rangeOr(s.BrewByWeight.Range, r)
	}
	if err := checkRange("brew_by_weight_dose1", model.Round1(dose1), r); err != nil {
		return err
	}
	return checkRange("brew_by_weight_dose2", model.Round1(dose2), r)
}
