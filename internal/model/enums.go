package model

import (
	"fmt"
	"strings"
)

// MachineMode is the operating mode a machine can be switched into.
type MachineMode string

const (
	ModeBrewing MachineMode = "BrewingMode"
	ModeEco     MachineMode = "EcoMode"
	ModeStandBy MachineMode = "StandBy"
)

// MachineState is the reported machine status.
type MachineState string

const (
	StateStandBy   MachineState = "StandBy"
	StatePoweredOn MachineState = "PoweredOn"
	StateBrewing   MachineState = "Brewing"
	StateOff       MachineState = "Off"
)

// PreExtractionMode selects pre-brewing, pre-infusion or neither.
type PreExtractionMode string

const (
	PreExtractionPreInfusion PreExtractionMode = "PreInfusion"
	PreExtractionPreBrewing  PreExtractionMode = "PreBrewing"
	PreExtractionDisabled    PreExtractionMode = "Disabled"
)

// CommandStatus is the lifecycle state of a cloud command.
type CommandStatus string

const (
	CommandSuccess    CommandStatus = "Success"
	CommandError      CommandStatus = "Error"
	CommandTimeout    CommandStatus = "Timeout"
	CommandPending    CommandStatus = "Pending"
	CommandInProgress CommandStatus = "InProgress"
)

// Final reports whether no further status change is expected.
func (s CommandStatus) Final() bool {
	return s == CommandSuccess || s == CommandError || s == CommandTimeout
}

// SteamTargetLevel is the discrete steam setting on level-based models.
type SteamTargetLevel string

const (
	SteamLevel1 SteamTargetLevel = "Level1"
	SteamLevel2 SteamTargetLevel = "Level2"
	SteamLevel3 SteamTargetLevel = "Level3"
)

// Valid reports whether l is one of the three known levels.
func (l SteamTargetLevel) Valid() bool {
	return l == SteamLevel1 || l == SteamLevel2 || l == SteamLevel3
}

// DeviceType distinguishes machines from grinders.
type DeviceType string

const (
	DeviceMachine DeviceType = "CoffeeMachine"
	DeviceGrinder DeviceType = "Grinder"
)

// ModelCode is the vendor's compact model identifier.
type ModelCode string

const (
	ModelCodeLineaMini   ModelCode = "LINEAMINI"
	ModelCodeLineaMicra  ModelCode = "LINEAMICRA"
	ModelCodeLineaMiniR  ModelCode = "LINEAMINIR"
	ModelCodeGS3         ModelCode = "GS3"
	ModelCodeGS3MP       ModelCode = "GS3MP"
	ModelCodeGS3AV       ModelCode = "GS3AV"
	ModelCodePicoGrinder ModelCode = "PICOGRINDER"
	ModelCodeSwanGrinder ModelCode = "SWANGRINDER"
)

// ModelName is the human model name.
type ModelName string

const (
	ModelLineaMini   ModelName = "Linea Mini"
	ModelLineaMicra  ModelName = "Linea Micra"
	ModelLineaMiniR  ModelName = "Linea Mini R"
	ModelGS3         ModelName = "GS3"
	ModelGS3MP       ModelName = "GS3 MP"
	ModelGS3AV       ModelName = "GS3 AV"
	ModelPicoGrinder ModelName = "Pico"
	ModelSwanGrinder ModelName = "Swan"
)

var modelNames = map[string]ModelName{
	"GS3":           ModelGS3,
	"GS3MP":         ModelGS3MP,
	"GS3AV":         ModelGS3AV,
	"LINEAMINI2023": ModelLineaMiniR,
	"LINEAMINIR":    ModelLineaMiniR,
	"LINEAMICRA":    ModelLineaMicra,
	"LINEAMINI":     ModelLineaMini,
	"MICRA":         ModelLineaMicra,
	"PICOGRINDER":   ModelPicoGrinder,
	"PICO":          ModelPicoGrinder,
	"SWANGRINDER":   ModelSwanGrinder,
	"SWAN":          ModelSwanGrinder,
}

// ParseModelName normalises the many spellings the vendor uses for a model,
// e.g. "LINEAMINI2023", "Linea Mini R" and "LINEAMINIR" all map to ModelLineaMiniR.
func ParseModelName(s string) (ModelName, error) {
	key := strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if name, ok := modelNames[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
}

// FirmwareType names a firmware component.
type FirmwareType string

const (
	FirmwareMachine FirmwareType = "Machine"
	FirmwareGateway FirmwareType = "Gateway"
)

// DoseIndexType addresses pre-brew times per group or per dose.
type DoseIndexType string

const (
	DoseIndexByGroup DoseIndexType = "ByGroup"
	DoseIndexByDose  DoseIndexType = "ByDose"
)

// DoseMode is the dosing strategy of a group.
type DoseMode string

const (
	DoseModeContinuous DoseMode = "Continuous"
	DoseModePulsesType DoseMode = "PulsesType"
	DoseModeDose1      DoseMode = "Dose1"
	DoseModeDose2      DoseMode = "Dose2"
)

// DoseIndex identifies a dose slot.
type DoseIndex string

const (
	DoseContinuous DoseIndex = "Continuous"
	DoseByGroup    DoseIndex = "ByGroup"
	DoseA          DoseIndex = "DoseA"
	DoseB          DoseIndex = "DoseB"
	DoseC          DoseIndex = "DoseC"
	DoseD          DoseIndex = "DoseD"
)

// Key maps a dose slot onto its front-panel button. ByGroup settings apply
// to the first button.
func (d DoseIndex) Key() (PhysicalKey, bool) {
	switch d {
	case DoseA, DoseByGroup:
		return KeyA, true
	case DoseB:
		return KeyB, true
	case DoseC:
		return KeyC, true
	case DoseD:
		return KeyD, true
	}
	return "", false
}

// PhysicalKey is one of the front-panel dose buttons.
type PhysicalKey string

const (
	KeyA PhysicalKey = "A"
	KeyB PhysicalKey = "B"
	KeyC PhysicalKey = "C"
	KeyD PhysicalKey = "D"
)

// PhysicalKeys lists every button in panel order.
var PhysicalKeys = []PhysicalKey{KeyA, KeyB, KeyC, KeyD}

// DoseIndex returns the cloud dose slot for the key.
func (k PhysicalKey) DoseIndex() DoseIndex { return DoseIndex("Dose" + string(k)) }

// Valid reports whether k is A-D.
func (k PhysicalKey) Valid() bool {
	return k == KeyA || k == KeyB || k == KeyC || k == KeyD
}

// keyAt returns the key in position i (0-based), used by list-ordered payloads.
func keyAt(i int) (PhysicalKey, bool) {
	if i < 0 || i >= len(PhysicalKeys) {
		return "", false
	}
	return PhysicalKeys[i], true
}

// SmartStandByType decides what restarts the standby countdown.
type SmartStandByType string

const (
	SmartStandByLastBrew SmartStandByType = "LastBrewing"
	SmartStandByPowerOn  SmartStandByType = "PowerOn"
)

// BoilerStatus is the reported state of a boiler.
type BoilerStatus string

const (
	BoilerStandBy BoilerStatus = "StandBy"
	BoilerHeating BoilerStatus = "HeatingUp"
	BoilerReady   BoilerStatus = "Ready"
	BoilerNoWater BoilerStatus = "NoWater"
	BoilerOff     BoilerStatus = "Off"
)

// WeekDay is a schedule day.
type WeekDay string

const (
	Monday    WeekDay = "Monday"
	Tuesday   WeekDay = "Tuesday"
	Wednesday WeekDay = "Wednesday"
	Thursday  WeekDay = "Thursday"
	Friday    WeekDay = "Friday"
	Saturday  WeekDay = "Saturday"
	Sunday    WeekDay = "Sunday"
)

// ParseWeekDay accepts any capitalisation ("monday", "MONDAY").
func ParseWeekDay(s string) (WeekDay, error) {
	for _, d := range []WeekDay{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday} {
		if strings.EqualFold(string(d), s) {
			return d, nil
		}
	}
	return "", fmt.Errorf("model: unknown weekday %q", s)
}

// UpdateStatus is the state of a firmware component.
type UpdateStatus string

const (
	UpdateToUpdate   UpdateStatus = "ToUpdate"
	UpdatePending    UpdateStatus = "Pending"
	UpdateInProgress UpdateStatus = "InProgress"
	UpdateUpdated    UpdateStatus = "Updated"
)

// BoilerType identifies a boiler on local and Bluetooth payloads.
type BoilerType string

const (
	BoilerCoffee BoilerType = "CoffeeBoiler1"
	BoilerSteam  BoilerType = "SteamBoiler"
)

// BackFlushStatus is the backflush cycle state.
type BackFlushStatus string

const (
	BackFlushRequested BackFlushStatus = "Requested"
	BackFlushCleaning  BackFlushStatus = "Cleaning"
	BackFlushOff       BackFlushStatus = "Off"
)
