package device

import "github.com/nerrad567/lmbridge/internal/model"

// Source tags where a patch came from.
type Source string

const (
	SourceDashboard   Source = "dashboard"
	SourceStream      Source = "stream"
	SourceLocal       Source = "local"
	SourceLocalStream Source = "local_stream"
	SourceBluetooth   Source = "bluetooth"
	SourceSettings    Source = "settings"
	SourceStatistics  Source = "statistics"
	SourceSchedule    Source = "schedule"
	SourceFirmware    Source = "firmware"
	SourceCommand     Source = "command"
)

// Field names one independently mergeable part of a Snapshot.
type Field string

const (
	FieldIdentity         Field = "identity"
	FieldConnected        Field = "connected"
	FieldTurnedOn         Field = "turned_on"
	FieldMode             Field = "mode"
	FieldStatus           Field = "status"
	FieldPlumbedIn        Field = "plumbed_in"
	FieldPlumbInSupported Field = "plumb_in_supported"
	FieldTankFull         Field = "tank_full"
	FieldBackflushEnabled Field = "backflush_enabled"
	FieldBackflush        Field = "backflush_status"
	FieldPreExtraction    Field = "pre_extraction.mode"
	FieldPreExtractionRng Field = "pre_extraction.range"
	FieldDoseMode         Field = "doses.mode"
	FieldDoseRange        Field = "doses.range"
	FieldHotWater         Field = "hot_water"
	FieldBrewByWeight     Field = "brew_by_weight"
	FieldScale            Field = "scale"
	FieldSmartStandby     Field = "smart_standby"
	FieldSchedules        Field = "schedules"
	FieldFirmware         Field = "firmware"
	FieldStatistics       Field = "statistics"
	FieldLastCoffees      Field = "statistics.last_coffees"
	FieldBrew             Field = "brew"
	FieldFlush            Field = "brew.last_flush"
	FieldUnsupported      Field = "unsupported"
	FieldBLEToken         Field = "ble_token"
)

// boilerField addresses one attribute of one boiler, e.g. "steam_boiler.enabled".
func boilerField(t model.BoilerType, attr string) Field {
	if t == model.BoilerSteam {
		return Field("steam_boiler." + attr)
	}
	return Field("coffee_boiler." + attr)
}

func doseField(k model.PhysicalKey) Field { return Field("doses." + string(k)) }

func prebrewField(k model.PhysicalKey, phase int) Field {
	if phase == PhasePreInfusion {
		return Field("pre_extraction.times." + string(k) + ".preinfusion")
	}
	return Field("pre_extraction.times." + string(k) + ".prebrewing")
}

type change struct {
	field Field
	apply func(*Snapshot)
}

// Patch is a field-level update. Applying it overwrites only the fields
// it names; everything else in the snapshot is kept. When a field is set
// twice the later setter wins.
type Patch struct {
	Source  Source
	changes []change
	load    bool
}

// NewPatch starts an empty patch from src.
func NewPatch(src Source) *Patch { return &Patch{Source: src} }

// Set registers fn as the writer of field.
func (p *Patch) Set(field Field, fn func(*Snapshot)) {
	p.changes = append(p.changes, change{field: field, apply: fn})
}

// MarkLoaded makes the patch complete the initial load.
func (p *Patch) MarkLoaded() { p.load = true }

// Merge appends the changes of o after those of p.
func (p *Patch) Merge(o *Patch) {
	if o == nil {
		return
	}
	p.changes = append(p.changes, o.changes...)
	p.load = p.load || o.load
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool { return p == nil || (len(p.changes) == 0 && !p.load) }

// Fields lists the fields written, in order, without duplicates.
func (p *Patch) Fields() []Field {
	seen := make(map[Field]bool, len(p.changes))
	out := make([]Field, 0, len(p.changes))
	for _, c := range p.changes {
		if !seen[c.field] {
			seen[c.field] = true
			out = append(out, c.field)
		}
	}
	return out
}

// Apply folds p into s.
func (s *Snapshot) Apply(p *Patch) {
	if p == nil {
		return
	}
	for _, c := range p.changes {
		c.apply(s)
	}
	if p.load {
		s.Loaded = true
	}
}
