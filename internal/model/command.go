package model

import (
	"fmt"
	"math"
)

// CommandResponse acknowledges a cloud command. The same shape is pushed
// back over the dashboard stream once the machine has acted on it.
type CommandResponse struct {
	ID        string        `json:"id"`
	Status    CommandStatus `json:"status"`
	ErrorCode string        `json:"errorCode,omitempty"`
}

// Command is a named control mutation with its JSON payload.
type Command struct {
	Name    string
	Payload any
}

func (c Command) String() string { return c.Name }

// Command names accepted by POST /things/{sn}/command/{name}.
const (
	CmdChangeMode              = "CoffeeMachineChangeMode"
	CmdSteamBoilerEnabled      = "CoffeeMachineSettingSteamBoilerEnabled"
	CmdSteamBoilerTargetLevel  = "CoffeeMachineSettingSteamBoilerTargetLevel"
	CmdSteamBoilerTargetTemp   = "CoffeeMachineSettingSteamBoilerTargetTemperature"
	CmdCoffeeBoilerTargetTemp  = "CoffeeMachineSettingCoffeeBoilerTargetTemperature"
	CmdBackFlushStartCleaning  = "CoffeeMachineBackFlushStartCleaning"
	CmdPreBrewingChangeMode    = "CoffeeMachinePreBrewingChangeMode"
	CmdPreBrewingChangeTimes   = "CoffeeMachinePreBrewingChangeTimes"
	CmdSmartStandBy            = "CoffeeMachineSettingSmartStandBy"
	CmdDeleteWakeUpSchedule    = "CoffeeMachineDeleteWakeUpSchedule"
	CmdSetWakeUpSchedule       = "CoffeeMachineSetWakeUpSchedule"
	CmdPlumbIn                 = "CoffeeMachineSettingPlumbIn"
	CmdGroupDose               = "CoffeeMachineSettingGroupDose"
	CmdHotWaterDose            = "CoffeeMachineSettingHotWaterDose"
	CmdBrewByWeightMode        = "CoffeeMachineBrewByWeightChangeMode"
	CmdBrewByWeightDoses       = "CoffeeMachineBrewByWeightSettingDoses"
	CmdGrinderDose             = "GrinderSettingDose"
	CmdGrinderBaristaLight     = "GrinderSettingBaristaLight"
	CmdGrinderStandBy          = "GrinderSettingStandBy"
	CmdGrinderChangeMode       = "GrinderChangeMode"
	defaultBoilerIndex         = 1
	defaultGroupIndex          = 1
)

// Round1 rounds to one decimal, the precision the cloud accepts.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }

// PowerCommand switches between brewing mode and standby.
func PowerCommand(on bool) Command {
	mode := ModeStandBy
	if on {
		mode = ModeBrewing
	}
	return Command{Name: CmdChangeMode, Payload: map[string]any{"mode": mode}}
}

// SteamEnableCommand toggles the steam boiler.
func SteamEnableCommand(enabled bool) Command {
	return Command{Name: CmdSteamBoilerEnabled, Payload: map[string]any{
		"boilerIndex": defaultBoilerIndex,
		"enabled":     enabled,
	}}
}

// SteamLevelCommand sets the discrete steam level.
func SteamLevelCommand(level SteamTargetLevel) Command {
	return Command{Name: CmdSteamBoilerTargetLevel, Payload: map[string]any{
		"boilerIndex": defaultBoilerIndex,
		"targetLevel": level,
	}}
}

// SteamTargetCommand sets the steam boiler temperature on temperature-based models.
func SteamTargetCommand(celsius float64) Command {
	return Command{Name: CmdSteamBoilerTargetTemp, Payload: map[string]any{
		"boilerIndex":       defaultBoilerIndex,
		"targetTemperature": Round1(celsius),
	}}
}

// CoffeeTargetCommand sets the coffee boiler temperature.
func CoffeeTargetCommand(celsius float64) Command {
	return Command{Name: CmdCoffeeBoilerTargetTemp, Payload: map[string]any{
		"boilerIndex":       defaultBoilerIndex,
		"targetTemperature": Round1(celsius),
	}}
}

// BackflushCommand starts a backflush cycle.
func BackflushCommand() Command {
	return Command{Name: CmdBackFlushStartCleaning, Payload: map[string]any{"enabled": true}}
}

// PreExtractionModeCommand selects pre-brewing, pre-infusion or disabled.
func PreExtractionModeCommand(mode PreExtractionMode) Command {
	return Command{Name: CmdPreBrewingChangeMode, Payload: map[string]any{"mode": mode}}
}

// PreExtractionTimesPayload is the body of CmdPreBrewingChangeTimes.
type PreExtractionTimesPayload struct {
	Times      SecondsInOut  `json:"times"`
	GroupIndex int           `json:"groupIndex"`
	DoseIndex  DoseIndexType `json:"doseIndex"`
}

// PreExtractionTimesCommand sets the In/Out seconds for the group.
func PreExtractionTimesCommand(in, out float64) Command {
	return Command{Name: CmdPreBrewingChangeTimes, Payload: PreExtractionTimesPayload{
		Times:      SecondsInOut{In: Round1(in), Out: Round1(out)},
		GroupIndex: defaultGroupIndex,
		DoseIndex:  DoseIndexByGroup,
	}}
}

// SmartStandbyCommand configures automatic standby.
func SmartStandbyCommand(enabled bool, minutes int, after SmartStandByType) Command {
	return Command{Name: CmdSmartStandBy, Payload: map[string]any{
		"enabled": enabled,
		"minutes": minutes,
		"after":   after,
	}}
}

// SetWakeUpScheduleCommand creates or replaces a schedule entry.
func SetWakeUpScheduleCommand(s WakeUpSchedule) Command {
	if s.Days == nil {
		s.Days = []WeekDay{}
	}
	return Command{Name: CmdSetWakeUpSchedule, Payload: s}
}

// DeleteWakeUpScheduleCommand removes a schedule entry.
func DeleteWakeUpScheduleCommand(id string) Command {
	return Command{Name: CmdDeleteWakeUpSchedule, Payload: map[string]any{"id": id}}
}

// PlumbInCommand toggles plumbed-in water supply.
func PlumbInCommand(enabled bool) Command {
	return Command{Name: CmdPlumbIn, Payload: map[string]any{"enabled": enabled}}
}

// GroupDoseCommand sets the pulse target of one key.
func GroupDoseCommand(key PhysicalKey, dose float64) Command {
	return Command{Name: CmdGroupDose, Payload: map[string]any{
		"groupIndex": defaultGroupIndex,
		"doseIndex":  key.DoseIndex(),
		"doseType":   DoseModePulsesType,
		"dose":       Round1(dose),
	}}
}

// HotWaterDoseCommand sets the hot water dose in seconds.
func HotWaterDoseCommand(seconds float64) Command {
	return Command{Name: CmdHotWaterDose, Payload: map[string]any{
		"doseIndex": DoseA,
		"dose":      Round1(seconds),
	}}
}

// BrewByWeightModeCommand selects the active brew-by-weight recipe.
func BrewByWeightModeCommand(mode DoseMode) Command {
	return Command{Name: CmdBrewByWeightMode, Payload: map[string]any{"mode": mode}}
}

// BrewByWeightDosesCommand sets both brew-by-weight targets in grams.
func BrewByWeightDosesCommand(dose1, dose2 float64) Command {
	return Command{Name: CmdBrewByWeightDoses, Payload: map[string]any{
		"doses": map[string]any{
			"Dose1": Round1(dose1),
			"Dose2": Round1(dose2),
		},
	}}
}

// GrinderPowerCommand switches a grinder on or to standby.
func GrinderPowerCommand(on bool) Command {
	mode := ModeStandBy
	if on {
		mode = ModeBrewing
	}
	return Command{Name: CmdGrinderChangeMode, Payload: map[string]any{"mode": mode}}
}

// GrinderDoseCommand sets a grinder dose target in seconds.
func GrinderDoseCommand(key PhysicalKey, seconds float64) Command {
	return Command{Name: CmdGrinderDose, Payload: map[string]any{
		"doseIndex": key.DoseIndex(),
		"dose":      Round1(seconds),
	}}
}

// GrinderBaristaLightCommand toggles the barista LED.
func GrinderBaristaLightCommand(enabled bool) Command {
	return Command{Name: CmdGrinderBaristaLight, Payload: map[string]any{"enabled": enabled}}
}

// GrinderStandByCommand sets the grinder standby delay.
func GrinderStandByCommand(minutes int) Command {
	return Command{Name: CmdGrinderStandBy, Payload: map[string]any{"minutes": minutes}}
}

// Describe renders a command for logs.
func (c Command) Describe(serial string) string {
	return fmt.Sprintf("%s on %s", c.Name, serial)
}
