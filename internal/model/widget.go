package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WidgetCode is the vendor's string tag for a dashboard widget.
type WidgetCode string

const (
	WidgetMachineStatus            WidgetCode = "CMMachineStatus"
	WidgetCoffeeBoiler             WidgetCode = "CMCoffeeBoiler"
	WidgetSteamBoilerLevel         WidgetCode = "CMSteamBoilerLevel"
	WidgetPreExtraction            WidgetCode = "CMPreExtraction"
	WidgetPreBrewing               WidgetCode = "CMPreBrewing"
	WidgetBackFlush                WidgetCode = "CMBackFlush"
	WidgetMachineGroupStatus       WidgetCode = "CMMachineGroupStatus"
	WidgetMachineModuleStatus      WidgetCode = "CMMachineModuleStatus"
	WidgetSteamBoilerTemperature   WidgetCode = "CMSteamBoilerTemperature"
	WidgetGroupDoses               WidgetCode = "CMGroupDoses"
	WidgetPreInfusionEnable        WidgetCode = "CMPreInfusionEnable"
	WidgetPreInfusion              WidgetCode = "CMPreInfusion"
	WidgetBrewByWeightDoses        WidgetCode = "CMBrewByWeightDoses"
	WidgetCupWarmer                WidgetCode = "CMCupWarmer"
	WidgetHotWaterDose             WidgetCode = "CMHotWaterDose"
	WidgetAutoFlush                WidgetCode = "CMAutoFlush"
	WidgetRinseFlush               WidgetCode = "CMRinseFlush"
	WidgetSteamFlush               WidgetCode = "CMSteamFlush"
	WidgetNoWater                  WidgetCode = "CMNoWater"
	WidgetModuleAndTapsTemperature WidgetCode = "CMModuleAndTapsTemperature"

	WidgetGrinderStatus      WidgetCode = "GMachineStatus"
	WidgetGrinderDoses       WidgetCode = "GDoses"
	WidgetGrinderSingleDose  WidgetCode = "GSingleDoseMode"
	WidgetGrinderBaristaLite WidgetCode = "GBaristaLight"
	WidgetGrinderHopper      WidgetCode = "GHopperOpened"
	WidgetGrinderMirrorDoses WidgetCode = "GMirrorDoses"
	WidgetGrinderMoreDose    WidgetCode = "GMoreDose"
	WidgetGrinderGrindWith   WidgetCode = "GGrindWith"
	WidgetGrinderSpeed       WidgetCode = "GSpeed"

	WidgetScale WidgetCode = "ThingScale"

	WidgetCoffeeAndFlushTrend   WidgetCode = "COFFEE_AND_FLUSH_TREND"
	WidgetLastCoffee            WidgetCode = "LAST_COFFEE"
	WidgetCoffeeAndFlushCounter WidgetCode = "COFFEE_AND_FLUSH_COUNTER"
)

// WidgetOutput is the decoded output of one widget.
type WidgetOutput interface {
	WidgetCode() WidgetCode
}

// widgetOutputs is the closed set of decodable outputs. Everything else
// becomes *Unsupported.
var widgetOutputs = map[WidgetCode]func() WidgetOutput{
	WidgetMachineStatus:          func() WidgetOutput { return &MachineStatus{} },
	WidgetCoffeeBoiler:           func() WidgetOutput { return &CoffeeBoiler{} },
	WidgetSteamBoilerLevel:       func() WidgetOutput { return &SteamBoilerLevel{} },
	WidgetSteamBoilerTemperature: func() WidgetOutput { return &SteamBoilerTemperature{} },
	WidgetPreExtraction:          func() WidgetOutput { return &PreExtraction{} },
	WidgetPreBrewing:             func() WidgetOutput { return &PreBrewing{} },
	WidgetBackFlush:              func() WidgetOutput { return &BackFlush{} },
	WidgetRinseFlush:             func() WidgetOutput { return &RinseFlush{} },
	WidgetGroupDoses:             func() WidgetOutput { return &GroupDoses{} },
	WidgetHotWaterDose:           func() WidgetOutput { return &HotWaterDose{} },
	WidgetBrewByWeightDoses:      func() WidgetOutput { return &BrewByWeightDoses{} },
	WidgetScale:                  func() WidgetOutput { return &Scale{} },
	WidgetNoWater:                func() WidgetOutput { return &NoWater{} },
	WidgetCoffeeAndFlushTrend:    func() WidgetOutput { return &CoffeeAndFlushTrend{} },
	WidgetLastCoffee:             func() WidgetOutput { return &LastCoffeeList{} },
	WidgetCoffeeAndFlushCounter:  func() WidgetOutput { return &CoffeeAndFlushCounter{} },
}

// NewWidgetOutput returns an empty output for code, or nil when the code is
// not decodable.
func NewWidgetOutput(code WidgetCode) WidgetOutput {
	if f, ok := widgetOutputs[code]; ok {
		return f()
	}
	return nil
}

// Unsupported keeps a widget this package cannot decode.
type Unsupported struct {
	Code WidgetCode
	Raw  json.RawMessage
	// Err is set when the code is known but its output did not decode.
	Err error
}

func (u *Unsupported) WidgetCode() WidgetCode { return u.Code }

func (u *Unsupported) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

// WidgetRef addresses a widget without its output.
type WidgetRef struct {
	Code  WidgetCode `json:"code"`
	Index int        `json:"index"`
}

// Widget is one {code, index, output} envelope.
type Widget struct {
	Code   WidgetCode
	Index  int
	Output WidgetOutput
}

type rawWidget struct {
	Code   WidgetCode      `json:"code"`
	Index  int             `json:"index"`
	Output json.RawMessage `json:"output"`
}

func (w *Widget) UnmarshalJSON(b []byte) error {
	var raw rawWidget
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: widget: %w", ErrMalformed, err)
	}
	w.Code = raw.Code
	w.Index = raw.Index
	w.Output = decodeOutput(raw.Code, raw.Output)
	return nil
}

func (w Widget) MarshalJSON() ([]byte, error) {
	out := json.RawMessage("null")
	if w.Output != nil {
		b, err := json.Marshal(w.Output)
		if err != nil {
			return nil, err
		}
		out = b
	}
	return json.Marshal(rawWidget{Code: w.Code, Index: w.Index, Output: out})
}

func decodeOutput(code WidgetCode, raw json.RawMessage) WidgetOutput {
	out := NewWidgetOutput(code)
	if out == nil {
		return &Unsupported{Code: code, Raw: raw}
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Unsupported{Code: code, Raw: raw, Err: fmt.Errorf("%w: %s has no output", ErrMalformed, code)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Unsupported{Code: code, Raw: raw, Err: fmt.Errorf("%w: %s: %w", ErrMalformed, code, err)}
	}
	return out
}

// WidgetConfig indexes widgets by code. When a code repeats, the last one wins.
type WidgetConfig map[WidgetCode]WidgetOutput

func indexWidgets(widgets []Widget) WidgetConfig {
	cfg := make(WidgetConfig, len(widgets))
	for _, w := range widgets {
		cfg[w.Code] = w.Output
	}
	return cfg
}

// Dashboard is the GET /things/{sn}/dashboard response.
type Dashboard struct {
	Thing
	Widgets []Widget     `json:"widgets"`
	Config  WidgetConfig `json:"-"`
}

func (d *Dashboard) UnmarshalJSON(b []byte) error {
	type plain Dashboard
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = Dashboard(p)
	d.Config = indexWidgets(d.Widgets)
	return nil
}

// DashboardUpdate is a dashboard snapshot pushed over the cloud stream.
type DashboardUpdate struct {
	Widgets        []Widget          `json:"widgets"`
	Connected      bool              `json:"connected"`
	RemovedWidgets []WidgetRef       `json:"removedWidgets"`
	ConnectionDate Timestamp         `json:"connectionDate"`
	UUID           string            `json:"uuid"`
	Commands       []CommandResponse `json:"commands"`
	Config         WidgetConfig      `json:"-"`
}

func (u *DashboardUpdate) UnmarshalJSON(b []byte) error {
	type plain DashboardUpdate
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*u = DashboardUpdate(p)
	u.Config = indexWidgets(u.Widgets)
	return nil
}
