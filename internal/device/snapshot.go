package device

import (
	"maps"
	"time"

	"github.com/nerrad567/lmbridge/internal/model"
)

// Range is a vendor-declared bound for a settable value. The zero Range
// means no bound was reported.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Known reports whether the range carries real bounds.
func (r Range) Known() bool { return r.Max > r.Min }

// Boiler is the merged state of one boiler.
type Boiler struct {
	Enabled bool                   `json:"enabled"`
	Status  model.BoilerStatus     `json:"status,omitempty"`
	Current float64                `json:"current_temperature"`
	Target  float64                `json:"target_temperature"`
	Range   Range                  `json:"target_range"`
	Level   model.SteamTargetLevel `json:"target_level,omitempty"`
}

// Phase is one timed on/off water pulse, in seconds.
type Phase struct {
	On  float64 `json:"on_time"`
	Off float64 `json:"off_time"`
}

// Positions of the two phases kept per key.
const (
	PhasePreBrewing  = 0
	PhasePreInfusion = 1
)

// PreBrew holds the pre-brewing and pre-infusion phases of one key.
type PreBrew [2]Phase

// PreExtraction is the pre-brew configuration across keys.
type PreExtraction struct {
	Mode           model.PreExtractionMode       `json:"mode,omitempty"`
	AvailableModes []model.PreExtractionMode     `json:"available_modes,omitempty"`
	Times          map[model.PhysicalKey]PreBrew `json:"times,omitempty"`
	InRange        Range                         `json:"in_range"`
	OutRange       Range                         `json:"out_range"`
}

// Doses are the per-key dose targets of group 1.
type Doses struct {
	Mode    model.DoseMode                `json:"mode,omitempty"`
	Targets map[model.PhysicalKey]float64 `json:"targets,omitempty"`
	Range   Range                         `json:"range"`
}

// HotWater is the tea water dose.
type HotWater struct {
	Enabled bool    `json:"enabled"`
	Dose    float64 `json:"dose"`
	Range   Range   `json:"range"`
}

// BrewByWeight is the scale recipe state of a Linea Mini R.
type BrewByWeight struct {
	Mode           model.DoseMode `json:"mode,omitempty"`
	Dose1          float64        `json:"dose1"`
	Dose2          float64        `json:"dose2"`
	Range          Range          `json:"range"`
	ScaleConnected bool           `json:"scale_connected"`
}

// SmartStandby is the automatic standby configuration.
type SmartStandby struct {
	Enabled bool                   `json:"enabled"`
	Minutes int                    `json:"minutes"`
	After   model.SmartStandByType `json:"after,omitempty"`
	Range   Range                  `json:"range"`
}

// Brew is the live brew timer fed by the local stream.
type Brew struct {
	Active           bool    `json:"active"`
	Seconds          float64 `json:"seconds"`
	LastFlushSeconds float64 `json:"last_flush_seconds,omitempty"`
}

// Statistics are the drink counters reported by the machine.
type Statistics struct {
	model.CoffeeStatistics
	TotalCoffee int                `json:"total_coffee"`
	LastCoffees []model.LastCoffee `json:"last_coffees,omitempty"`
}

// Snapshot is the merged state of one machine. It is only ever written
// through Apply; readers get deep copies.
type Snapshot struct {
	Serial    string          `json:"serial_number"`
	Model     model.ModelName `json:"model,omitempty"`
	Name      string          `json:"name,omitempty"`
	Loaded    bool            `json:"loaded"`
	Connected bool            `json:"connected"`

	TurnedOn bool               `json:"turned_on"`
	Mode     model.MachineMode  `json:"mode,omitempty"`
	Status   model.MachineState `json:"status,omitempty"`

	Coffee Boiler `json:"coffee_boiler"`
	Steam  Boiler `json:"steam_boiler"`

	PlumbedIn        bool                  `json:"plumbed_in"`
	PlumbInSupported bool                  `json:"plumb_in_supported"`
	TankFull         bool                  `json:"tank_full"`
	BackflushEnabled bool                  `json:"backflush_enabled"`
	Backflush        model.BackFlushStatus `json:"backflush_status,omitempty"`

	PreExtraction PreExtraction    `json:"pre_extraction"`
	Doses         Doses            `json:"doses"`
	HotWater      HotWater         `json:"hot_water"`
	BrewByWeight  *BrewByWeight    `json:"brew_by_weight,omitempty"`
	Scale         *model.Scale     `json:"scale,omitempty"`
	SmartStandby  SmartStandby     `json:"smart_standby"`
	Schedules     *model.Schedules `json:"schedules,omitempty"`

	Firmware   map[model.FirmwareType]model.Firmware `json:"firmware,omitempty"`
	Statistics Statistics                            `json:"statistics"`
	Brew       Brew                                  `json:"brew"`

	// Unsupported lists widget codes seen but not understood.
	Unsupported []model.WidgetCode `json:"unsupported,omitempty"`

	BLEToken  string    `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.PreExtraction.AvailableModes = append([]model.PreExtractionMode(nil), s.PreExtraction.AvailableModes...)
	out.PreExtraction.Times = maps.Clone(s.PreExtraction.Times)
	out.Doses.Targets = maps.Clone(s.Doses.Targets)
	if s.BrewByWeight != nil {
		bbw := *s.BrewByWeight
		out.BrewByWeight = &bbw
	}
	if s.Scale != nil {
		scale := *s.Scale
		out.Scale = &scale
	}
	out.Schedules = s.Schedules.Clone()
	out.Firmware = maps.Clone(s.Firmware)
	out.Statistics.DrinkStats = maps.Clone(s.Statistics.DrinkStats)
	out.Statistics.LastCoffees = append([]model.LastCoffee(nil), s.Statistics.LastCoffees...)
	out.Unsupported = append([]model.WidgetCode(nil), s.Unsupported...)
	return out
}

// Boiler returns the boiler of the given type.
func (s *Snapshot) Boiler(t model.BoilerType) *Boiler {
	if t == model.BoilerSteam {
		return &s.Steam
	}
	return &s.Coffee
}
