package local

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nerrad567/lmbridge/internal/model"
)

// Event names pushed by the machine.
const (
	EventKeepAlive                     = "KeepAlive"
	EventSteamBoilerUpdateTemperature  = "SteamBoilerUpdateTemperature"
	EventCoffeeBoilerUpdateTemperature = "CoffeeBoiler1UpdateTemperature"
	EventSleep                         = "Sleep"
	EventWakeUp                        = "WakeUp"
	EventSteamBoilerEnabled            = "SteamBoilerEnabled"
	EventMachineMode                   = "MachineMode"
	EventMachineStatistics             = "MachineStatistics"
	EventBrewingUpdateGroup1Time       = "BrewingUpdateGroup1Time"
	EventBrewingStartedGroup1StopType  = "BrewingStartedGroup1StopType"
	EventBrewingStoppedGroup1StopType  = "BrewingStoppedGroup1StopType"
	EventBrewingSnapshotGroup1         = "BrewingSnapshotGroup1"
	EventFlushSnapshotGroup1           = "FlushSnapshotGroup1"
	EventFlushStoppedGroup1Time        = "FlushStoppedGroup1Time"
	EventSteamBoilerUpdateSetPoint     = "SteamBoilerUpdateSetPoint"
	EventCoffeeBoilerUpdateSetPoint    = "CoffeeBoiler1UpdateSetPoint"
	EventBoilersTargetTemperature      = "BoilersTargetTemperature"
	EventBoilers                       = "Boilers"
	EventPreinfusionSettings           = "PreinfusionSettings"
	EventTankStatus                    = "TankStatus"
	EventGroupCapabilities             = "GroupCapabilities"
	EventMachineConfiguration          = "MachineConfiguration"
	EventSystemInfo                    = "SystemInfo"
)

// Event is one typed message from the local stream.
type Event interface {
	EventName() string
}

// BoilerTemperature is a current-temperature reading.
type BoilerTemperature struct {
	Boiler  model.BoilerType
	Celsius float64
}

func (e BoilerTemperature) EventName() string {
	if e.Boiler == model.BoilerSteam {
		return EventSteamBoilerUpdateTemperature
	}
	return EventCoffeeBoilerUpdateTemperature
}

// BoilerSetPoint is a new target temperature for one boiler.
type BoilerSetPoint struct {
	Boiler  model.BoilerType
	Celsius float64
}

func (e BoilerSetPoint) EventName() string {
	if e.Boiler == model.BoilerSteam {
		return EventSteamBoilerUpdateSetPoint
	}
	return EventCoffeeBoilerUpdateSetPoint
}

// BoilerTargets carries the targets of every boiler at once.
type BoilerTargets struct {
	Targets map[model.BoilerType]float64
}

func (BoilerTargets) EventName() string { return EventBoilersTargetTemperature }

// BoilersUpdated replaces the full boiler list.
type BoilersUpdated struct {
	Boilers []model.LocalBoiler
}

func (BoilersUpdated) EventName() string { return EventBoilers }

// PowerChanged is emitted for Sleep and WakeUp.
type PowerChanged struct {
	On bool
}

func (e PowerChanged) EventName() string {
	if e.On {
		return EventWakeUp
	}
	return EventSleep
}

// SteamEnabled toggles the steam boiler.
type SteamEnabled struct {
	Enabled bool
}

func (SteamEnabled) EventName() string { return EventSteamBoilerEnabled }

// MachineModeChanged reports the new machine mode.
type MachineModeChanged struct {
	Mode model.MachineMode
}

func (MachineModeChanged) EventName() string { return EventMachineMode }

// StatisticsUpdated carries the latest drink counters.
type StatisticsUpdated struct {
	Stats model.CoffeeStatistics
}

func (StatisticsUpdated) EventName() string { return EventMachineStatistics }

// BrewStarted marks the start of a brew on group 1.
type BrewStarted struct{}

func (BrewStarted) EventName() string { return EventBrewingStartedGroup1StopType }

// BrewProgress is the running brew time in seconds.
type BrewProgress struct {
	Seconds float64
}

func (BrewProgress) EventName() string { return EventBrewingUpdateGroup1Time }

// BrewStopped ends a brew. Flush stops carry the flush duration.
type BrewStopped struct {
	Name        string
	Seconds     float64
	HasDuration bool
}

func (e BrewStopped) EventName() string { return e.Name }

// PreinfusionUpdated carries new pre-infusion settings.
type PreinfusionUpdated struct {
	Settings model.LocalPreinfusionSettings
}

func (PreinfusionUpdated) EventName() string { return EventPreinfusionSettings }

// TankStatus reports whether the water tank has water.
type TankStatus struct {
	Full bool
}

func (TankStatus) EventName() string { return EventTankStatus }

// DosesUpdated carries group 1 dose targets by key.
type DosesUpdated struct {
	Doses map[model.PhysicalKey]float64
}

func (DosesUpdated) EventName() string { return EventGroupCapabilities }

// ConfigurationUpdated is a full configuration push.
type ConfigurationUpdated struct {
	Config *model.LocalConfig
}

func (ConfigurationUpdated) EventName() string { return EventMachineConfiguration }

// SystemInfo is passed through undecoded.
type SystemInfo struct {
	Raw json.RawMessage
}

func (SystemInfo) EventName() string { return EventSystemInfo }

// ParseMessage decodes one websocket frame into events. Three frame shapes
// are accepted:
//
//	[{"Name": value}, ...]
//	{"MachineConfiguration": "<json>", "SystemInfo": "<json>"}
//	{"name": "Name", "value": value}
//
// Unknown names are dropped. Events that fail to decode are skipped and
// reported in the returned error; the remaining events are still returned.
func ParseMessage(raw []byte) ([]Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: local message: %w", model.ErrMalformed, err)
		}
		var events []Event
		var errs []error
		for _, item := range items {
			for _, name := range sortedKeys(item) {
				ev, err := parseNamed(name, item[name])
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if ev != nil {
					events = append(events, ev)
				}
			}
		}
		return events, errors.Join(errs...)

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: local message: %w", model.ErrMalformed, err)
		}
		if nameRaw, ok := obj["name"]; ok {
			var name string
			if err := json.Unmarshal(nameRaw, &name); err != nil {
				return nil, fmt.Errorf("%w: event name: %w", model.ErrMalformed, err)
			}
			ev, err := parseNamed(name, obj["value"])
			if err != nil || ev == nil {
				return nil, err
			}
			return []Event{ev}, nil
		}

		var events []Event
		var errs []error
		for _, name := range []string{EventMachineConfiguration, EventSystemInfo} {
			v, ok := obj[name]
			if !ok {
				continue
			}
			ev, err := parseNamed(name, v)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
		return events, errors.Join(errs...)
	}
	return nil, fmt.Errorf("%w: local message starts with %q", model.ErrMalformed, raw[0])
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseNamed decodes a single event. It returns nil for dropped names.
func parseNamed(name string, v json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch name {
	case EventSteamBoilerUpdateTemperature:
		var c float64
		err = json.Unmarshal(v, &c)
		ev = BoilerTemperature{Boiler: model.BoilerSteam, Celsius: c}
	case EventCoffeeBoilerUpdateTemperature:
		var c float64
		err = json.Unmarshal(v, &c)
		ev = BoilerTemperature{Boiler: model.BoilerCoffee, Celsius: c}
	case EventSteamBoilerUpdateSetPoint:
		var c float64
		err = json.Unmarshal(v, &c)
		ev = BoilerSetPoint{Boiler: model.BoilerSteam, Celsius: c}
	case EventCoffeeBoilerUpdateSetPoint:
		var c float64
		err = json.Unmarshal(v, &c)
		ev = BoilerSetPoint{Boiler: model.BoilerCoffee, Celsius: c}
	case EventSleep:
		ev = PowerChanged{On: false}
	case EventWakeUp:
		ev = PowerChanged{On: true}
	case EventSteamBoilerEnabled:
		var b bool
		err = json.Unmarshal(v, &b)
		ev = SteamEnabled{Enabled: b}
	case EventMachineMode:
		var m model.MachineMode
		err = json.Unmarshal(v, &m)
		ev = MachineModeChanged{Mode: m}
	case EventMachineStatistics:
		var s string
		if err = json.Unmarshal(v, &s); err == nil {
			var stats model.CoffeeStatistics
			stats, err = model.ParseMachineStatistics(s)
			ev = StatisticsUpdated{Stats: stats}
		}
	case EventBrewingUpdateGroup1Time:
		var secs float64
		err = json.Unmarshal(v, &secs)
		ev = BrewProgress{Seconds: secs}
	case EventBrewingStartedGroup1StopType:
		ev = BrewStarted{}
	case EventBrewingStoppedGroup1StopType, EventBrewingSnapshotGroup1, EventFlushSnapshotGroup1:
		ev = BrewStopped{Name: name}
	case EventFlushStoppedGroup1Time:
		var secs float64
		err = json.Unmarshal(v, &secs)
		ev = BrewStopped{Name: name, Seconds: secs, HasDuration: true}
	case EventBoilersTargetTemperature:
		var targets map[model.BoilerType]float64
		err = nested(v, &targets)
		ev = BoilerTargets{Targets: targets}
	case EventBoilers:
		var boilers []model.LocalBoiler
		err = nested(v, &boilers)
		ev = BoilersUpdated{Boilers: boilers}
	case EventPreinfusionSettings:
		var s model.LocalPreinfusionSettings
		err = nested(v, &s)
		ev = PreinfusionUpdated{Settings: s}
	case EventTankStatus:
		var s string
		err = json.Unmarshal(v, &s)
		ev = TankStatus{Full: strings.EqualFold(s, "full")}
	case EventGroupCapabilities:
		var caps []model.LocalGroupCapability
		if err = nested(v, &caps); err == nil {
			ev = DosesUpdated{Doses: groupDoses(caps)}
		}
	case EventMachineConfiguration:
		var s string
		if err = json.Unmarshal(v, &s); err == nil {
			var cfg *model.LocalConfig
			cfg, err = model.ParseLocalConfig([]byte(s))
			ev = ConfigurationUpdated{Config: cfg}
		}
	case EventSystemInfo:
		var s string
		if json.Unmarshal(v, &s) == nil {
			ev = SystemInfo{Raw: json.RawMessage(s)}
		} else {
			ev = SystemInfo{Raw: v}
		}
	default:
		// KeepAlive and names this client does not know
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrMalformed, name, err)
	}
	return ev, nil
}

// nested decodes a value that is either a JSON-encoded string or the
// document itself.
func nested(v json.RawMessage, out any) error {
	v = bytes.TrimSpace(v)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		v = []byte(s)
	}
	return json.Unmarshal(v, out)
}

// groupDoses reads doses from the first group, keyed by the last
// character of the dose index ("DoseA" -> A).
func groupDoses(caps []model.LocalGroupCapability) map[model.PhysicalKey]float64 {
	out := make(map[model.PhysicalKey]float64)
	if len(caps) == 0 {
		return out
	}
	for _, d := range caps[0].Doses {
		if d.DoseIndex == "" {
			continue
		}
		key := model.PhysicalKey(d.DoseIndex[len(d.DoseIndex)-1:])
		if key.Valid() {
			out[key] = d.StopTarget
		}
	}
	return out
}
