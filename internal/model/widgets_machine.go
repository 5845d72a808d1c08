package model

// MachineStatus is the CMMachineStatus output.
type MachineStatus struct {
	Status           MachineState  `json:"status"`
	AvailableModes   []MachineMode `json:"availableModes"`
	Mode             MachineMode   `json:"mode"`
	NextStatus       *NextStatus   `json:"nextStatus"`
	BrewingStartTime *Timestamp    `json:"brewingStartTime,omitempty"`
}

// NextStatus is a scheduled status change.
type NextStatus struct {
	Status    MachineState `json:"status"`
	StartTime Timestamp    `json:"startTime"`
}

func (*MachineStatus) WidgetCode() WidgetCode { return WidgetMachineStatus }

// CoffeeBoiler is the CMCoffeeBoiler output.
type CoffeeBoiler struct {
	Status                BoilerStatus `json:"status"`
	Enabled               bool         `json:"enabled"`
	EnabledSupported      bool         `json:"enabledSupported"`
	TargetTemperature     float64      `json:"targetTemperature"`
	TargetTemperatureMin  float64      `json:"targetTemperatureMin"`
	TargetTemperatureMax  float64      `json:"targetTemperatureMax"`
	TargetTemperatureStep float64      `json:"targetTemperatureStep"`
	ReadyStartTime        *Timestamp   `json:"readyStartTime,omitempty"`
}

func (*CoffeeBoiler) WidgetCode() WidgetCode { return WidgetCoffeeBoiler }

// SteamBoilerLevel is the CMSteamBoilerLevel output.
type SteamBoilerLevel struct {
	Status               BoilerStatus     `json:"status"`
	Enabled              bool             `json:"enabled"`
	EnabledSupported     bool             `json:"enabledSupported"`
	TargetLevel          SteamTargetLevel `json:"targetLevel"`
	TargetLevelSupported bool             `json:"targetLevelSupported"`
	ReadyStartTime       *Timestamp       `json:"readyStartTime,omitempty"`
}

func (*SteamBoilerLevel) WidgetCode() WidgetCode { return WidgetSteamBoilerLevel }

// SteamBoilerTemperature is the CMSteamBoilerTemperature output (GS3).
type SteamBoilerTemperature struct {
	CoffeeBoiler
	TargetTemperatureSupported bool `json:"targetTemperatureSupported"`
}

func (*SteamBoilerTemperature) WidgetCode() WidgetCode { return WidgetSteamBoilerTemperature }

// SecondsInOut is an In/Out pair, in seconds.
type SecondsInOut struct {
	In  float64 `json:"In"`
	Out float64 `json:"Out"`
}

// PreBrewInfusionTime holds one value per pre-extraction flavour.
type PreBrewInfusionTime struct {
	PreInfusion float64 `json:"PreInfusion"`
	PreBrewing  float64 `json:"PreBrewing"`
}

// PreExtractionPhase is one side (In or Out) of CMPreExtraction times.
type PreExtractionPhase struct {
	Seconds     float64             `json:"seconds"`
	SecondsMin  PreBrewInfusionTime `json:"secondsMin"`
	SecondsMax  PreBrewInfusionTime `json:"secondsMax"`
	SecondsStep PreBrewInfusionTime `json:"secondsStep"`
}

// PreExtraction is the CMPreExtraction output.
type PreExtraction struct {
	AvailableModes []PreExtractionMode `json:"availableModes"`
	Mode           PreExtractionMode   `json:"mode"`
	Times          struct {
		In  PreExtractionPhase `json:"In"`
		Out PreExtractionPhase `json:"Out"`
	} `json:"times"`
}

func (*PreExtraction) WidgetCode() WidgetCode { return WidgetPreExtraction }

// PreExtractionTimes are the In/Out times of one dose slot with their ranges.
type PreExtractionTimes struct {
	DoseIndex   DoseIndex    `json:"doseIndex"`
	Seconds     SecondsInOut `json:"seconds"`
	SecondsMin  SecondsInOut `json:"secondsMin"`
	SecondsMax  SecondsInOut `json:"secondsMax"`
	SecondsStep SecondsInOut `json:"secondsStep"`
}

// PreBrewTimes groups the per-slot times by mode.
type PreBrewTimes struct {
	PreInfusion []PreExtractionTimes `json:"PreInfusion"`
	PreBrewing  []PreExtractionTimes `json:"PreBrewing"`
}

// PreBrewing is the CMPreBrewing output.
type PreBrewing struct {
	AvailableModes     []PreExtractionMode `json:"availableModes"`
	Mode               PreExtractionMode   `json:"mode"`
	Times              PreBrewTimes        `json:"times"`
	DoseIndexSupported bool                `json:"doseIndexSupported"`
}

func (*PreBrewing) WidgetCode() WidgetCode { return WidgetPreBrewing }

// BackFlush is the CMBackFlush output.
type BackFlush struct {
	Status                BackFlushStatus `json:"status"`
	LastCleaningStartTime *Timestamp      `json:"lastCleaningStartTime,omitempty"`
}

func (*BackFlush) WidgetCode() WidgetCode { return WidgetBackFlush }

// RinseFlush is the CMRinseFlush output.
type RinseFlush struct {
	Enabled          bool    `json:"enabled"`
	EnabledSupported bool    `json:"enabledSupported"`
	TimeSeconds      float64 `json:"timeSeconds"`
	TimeSecondsMin   float64 `json:"timeSecondsMin"`
	TimeSecondsMax   float64 `json:"timeSecondsMax"`
	TimeSecondsStep  float64 `json:"timeSecondsStep"`
}

func (*RinseFlush) WidgetCode() WidgetCode { return WidgetRinseFlush }

// BaseDose is a dose value with its range.
type BaseDose struct {
	Dose     float64 `json:"dose"`
	DoseMin  float64 `json:"doseMin"`
	DoseMax  float64 `json:"doseMax"`
	DoseStep float64 `json:"doseStep"`
}

// DoseSettings is a dose bound to a slot.
type DoseSettings struct {
	DoseIndex DoseIndex `json:"doseIndex"`
	BaseDose
}

// GroupDoses is the CMGroupDoses output.
type GroupDoses struct {
	MirrorWithGroup1Supported    bool       `json:"mirrorWithGroup1Supported"`
	MirrorWithGroup1             *string    `json:"mirrorWithGroup1,omitempty"`
	MirrorWithGroup1NotEffective bool       `json:"mirrorWithGroup1NotEffective"`
	AvailableModes               []DoseMode `json:"availableModes"`
	Mode                         DoseMode   `json:"mode"`
	Profile                      *string    `json:"profile,omitempty"`
	Doses                        struct {
		PulsesType []DoseSettings `json:"PulsesType"`
	} `json:"doses"`
	ContinuousDoseSupported  bool    `json:"continuousDoseSupported"`
	ContinuousDose           *string `json:"continuousDose,omitempty"`
	BrewingPressureSupported bool    `json:"brewingPressureSupported"`
	BrewingPressure          *string `json:"brewingPressure,omitempty"`
}

func (*GroupDoses) WidgetCode() WidgetCode { return WidgetGroupDoses }

// HotWaterDose is the CMHotWaterDose output.
type HotWaterDose struct {
	Enabled          bool           `json:"enabled"`
	EnabledSupported bool           `json:"enabledSupported"`
	Doses            []DoseSettings `json:"doses"`
}

func (*HotWaterDose) WidgetCode() WidgetCode { return WidgetHotWaterDose }

// BrewByWeightDoses is the CMBrewByWeightDoses output (Linea Mini R with scale).
type BrewByWeightDoses struct {
	ScaleConnected bool       `json:"scaleConnected"`
	AvailableModes []DoseMode `json:"availableModes"`
	Mode           DoseMode   `json:"mode"`
	Doses          struct {
		Dose1 BaseDose `json:"Dose1"`
		Dose2 BaseDose `json:"Dose2"`
	} `json:"doses"`
}

func (*BrewByWeightDoses) WidgetCode() WidgetCode { return WidgetBrewByWeightDoses }

// Scale is the ThingScale output: a paired Bluetooth scale accessory.
type Scale struct {
	Name                string  `json:"name"`
	Connected           bool    `json:"connected"`
	BatteryLevel        float64 `json:"batteryLevel"`
	CalibrationRequired bool    `json:"calibrationRequired"`
}

func (*Scale) WidgetCode() WidgetCode { return WidgetScale }

// NoWater is the CMNoWater output. The vendor spells the field "allarm".
type NoWater struct {
	Alarm bool `json:"allarm"`
}

func (*NoWater) WidgetCode() WidgetCode { return WidgetNoWater }
