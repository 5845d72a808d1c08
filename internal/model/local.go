package model

import (
	"encoding/json"
	"fmt"
)

// LocalBoiler is a boiler entry of the local config and of BLE reads.
type LocalBoiler struct {
	ID        BoilerType `json:"id"`
	IsEnabled bool       `json:"isEnabled"`
	Current   float64    `json:"current"`
	Target    float64    `json:"target"`
}

// LocalDose is one stopTarget of a group capability.
type LocalDose struct {
	DoseIndex  string  `json:"doseIndex"`
	StopTarget float64 `json:"stopTarget"`
}

// LocalGroupCapability lists the doses of one group.
type LocalGroupCapability struct {
	Doses []LocalDose `json:"doses"`
}

// LocalPreinfusion is one button's pre-wet times in seconds.
type LocalPreinfusion struct {
	PreWetTime     float64 `json:"preWetTime"`
	PreWetHoldTime float64 `json:"preWetHoldTime"`
}

// LocalPreinfusionSettings holds the mode and per-button times of group 1.
type LocalPreinfusionSettings struct {
	Mode   string             `json:"mode"`
	Group1 []LocalPreinfusion `json:"Group1"`
}

// LocalSmartStandby is the legacy smart standby block.
type LocalSmartStandby struct {
	Enabled bool             `json:"enabled"`
	Minutes int              `json:"minutes"`
	Mode    SmartStandByType `json:"mode"`
}

// LocalWakeUpSleepEntry is a legacy schedule entry with HH:MM times.
type LocalWakeUpSleepEntry struct {
	ID      string   `json:"id"`
	Enabled bool     `json:"enabled"`
	Days    []string `json:"days"`
	Steam   bool     `json:"steam"`
	TimeOn  string   `json:"timeOn"`
	TimeOff string   `json:"timeOff"`
}

// Schedule converts the entry to the cloud representation.
func (e LocalWakeUpSleepEntry) Schedule() (WakeUpSchedule, error) {
	on, err := ClockToMinutes(e.TimeOn)
	if err != nil {
		return WakeUpSchedule{}, err
	}
	off, err := ClockToMinutes(e.TimeOff)
	if err != nil {
		return WakeUpSchedule{}, err
	}
	s := WakeUpSchedule{ID: e.ID, Enabled: e.Enabled, OnTimeMinutes: on, OffTimeMinutes: off, SteamBoiler: e.Steam}
	for _, d := range e.Days {
		wd, err := ParseWeekDay(d)
		if err != nil {
			return WakeUpSchedule{}, err
		}
		s.Days = append(s.Days, wd)
	}
	return s, nil
}

// LocalConfig is the machine-local GET /api/v1/config document.
type LocalConfig struct {
	MachineMode         MachineMode              `json:"machineMode"`
	IsPlumbedIn         bool                     `json:"isPlumbedIn"`
	TankStatus          bool                     `json:"tankStatus"`
	IsBackFlushEnabled  bool                     `json:"isBackFlushEnabled"`
	Boilers             []LocalBoiler            `json:"boilers"`
	GroupCapabilities   []LocalGroupCapability   `json:"groupCapabilities"`
	TeaDoses            map[string]LocalDose     `json:"teaDoses,omitempty"`
	PreinfusionSettings LocalPreinfusionSettings `json:"preinfusionSettings"`
	SmartStandBy        *LocalSmartStandby       `json:"smartStandBy,omitempty"`
	WakeUpSleepEntries  []LocalWakeUpSleepEntry  `json:"wakeUpSleepEntries,omitempty"`
	Firmwares           json.RawMessage          `json:"firmwareVersions,omitempty"`
}

// ParseLocalConfig decodes a local config body.
func ParseLocalConfig(b []byte) (*LocalConfig, error) {
	var cfg LocalConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: local config: %w", ErrMalformed, err)
	}
	return &cfg, nil
}

// TurnedOn reports whether the machine is in brewing mode.
func (c *LocalConfig) TurnedOn() bool { return c.MachineMode == ModeBrewing }

// Boiler returns the boiler entry for id.
func (c *LocalConfig) Boiler(id BoilerType) (LocalBoiler, bool) {
	for _, b := range c.Boilers {
		if b.ID == id {
			return b, true
		}
	}
	return LocalBoiler{}, false
}

// Doses maps group 1 dose targets onto keys A-D in list order.
func (c *LocalConfig) Doses() map[PhysicalKey]float64 {
	out := make(map[PhysicalKey]float64)
	if len(c.GroupCapabilities) == 0 {
		return out
	}
	for i, d := range c.GroupCapabilities[0].Doses {
		if key, ok := keyAt(i); ok {
			out[key] = d.StopTarget
		}
	}
	return out
}

// HotWaterDose returns the tea dose stopTarget, zero when absent.
func (c *LocalConfig) HotWaterDose() float64 {
	return c.TeaDoses["DoseA"].StopTarget
}

// Prebrew maps group 1 preinfusion entries onto keys A-D in list order.
func (c *LocalConfig) Prebrew() map[PhysicalKey]LocalPreinfusion {
	out := make(map[PhysicalKey]LocalPreinfusion)
	for i, p := range c.PreinfusionSettings.Group1 {
		if key, ok := keyAt(i); ok {
			out[key] = p
		}
	}
	return out
}

// PrebrewMode translates the legacy mode names.
func (c *LocalConfig) PrebrewMode() PreExtractionMode {
	return LegacyPrebrewMode(c.PreinfusionSettings.Mode)
}

// LegacyPrebrewMode maps "Enabled" to pre-brewing and "TypeB" to pre-infusion.
func LegacyPrebrewMode(s string) PreExtractionMode {
	switch s {
	case "Enabled", string(PreExtractionPreBrewing):
		return PreExtractionPreBrewing
	case "TypeB", string(PreExtractionPreInfusion):
		return PreExtractionPreInfusion
	}
	return PreExtractionDisabled
}

// Schedules converts the legacy entries, skipping malformed ones.
func (c *LocalConfig) Schedules() *Schedules {
	s := NewSchedules()
	for _, e := range c.WakeUpSleepEntries {
		if entry, err := e.Schedule(); err == nil {
			s.Set(entry)
		}
	}
	return s
}

// GrinderConfig is the Pico local/legacy config document.
type GrinderConfig struct {
	MachineMode MachineMode `json:"machineMode"`
	BaristaLED  bool        `json:"baristaLed"`
	BellOpened  bool        `json:"bellOpened"`
	StandByTime int         `json:"standByTime"`
	Doses       []struct {
		DoseIndex string  `json:"doseIndex"`
		Target    float64 `json:"target"`
	} `json:"doses"`
}

// DoseTargets maps grinder doses onto keys by their DoseX suffix.
func (g *GrinderConfig) DoseTargets() map[PhysicalKey]float64 {
	out := make(map[PhysicalKey]float64)
	for _, d := range g.Doses {
		if key, ok := DoseIndex(d.DoseIndex).Key(); ok && DoseIndex(d.DoseIndex) != DoseByGroup {
			out[key] = d.Target
		}
	}
	return out
}
