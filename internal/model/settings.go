package model

import "encoding/json"

// FirmwareVersion describes one build of a firmware component.
type FirmwareVersion struct {
	Type           FirmwareType `json:"type"`
	BuildVersion   string       `json:"buildVersion"`
	ChangeLog      string       `json:"changeLog"`
	ThingModelCode string       `json:"thingModelCode"`
}

// FirmwareSettings is the installed firmware plus any offered update.
type FirmwareSettings struct {
	FirmwareVersion
	Status          UpdateStatus     `json:"status"`
	AvailableUpdate *FirmwareVersion `json:"availableUpdate,omitempty"`
}

// Firmware is the version pair the façade tracks per component.
type Firmware struct {
	Current string `json:"current"`
	Latest  string `json:"latest"`
}

// UpdateAvailable compares versions by string equality only.
func (f Firmware) UpdateAvailable() bool {
	return f.Latest != "" && f.Current != f.Latest
}

// Summary reduces firmware settings to a version pair.
func (f FirmwareSettings) Summary() Firmware {
	fw := Firmware{Current: f.BuildVersion, Latest: f.BuildVersion}
	if f.AvailableUpdate != nil && f.AvailableUpdate.BuildVersion != "" {
		fw.Latest = f.AvailableUpdate.BuildVersion
	}
	return fw
}

// Settings is the GET /things/{sn}/settings response.
type Settings struct {
	Thing
	ActualFirmwares       []FirmwareSettings `json:"actualFirmwares"`
	WifiSSID              string             `json:"wifiSsid,omitempty"`
	WifiRSSI              *int               `json:"wifiRssi,omitempty"`
	PlumbInSupported      bool               `json:"plumbInSupported"`
	IsPlumbedIn           bool               `json:"isPlumbedIn"`
	CropsterSupported     bool               `json:"cropsterSupported"`
	CropsterActive        bool               `json:"cropsterActive"`
	HemroSupported        bool               `json:"hemroSupported"`
	HemroActive           bool               `json:"hemroActive"`
	FactoryResetSupported bool               `json:"factoryResetSupported"`
	AutoUpdateSupported   bool               `json:"autoUpdateSupported"`
	AutoUpdate            bool               `json:"autoUpdate"`
}

// Firmwares indexes the installed firmware by component.
func (s *Settings) Firmwares() map[FirmwareType]Firmware {
	out := make(map[FirmwareType]Firmware, len(s.ActualFirmwares))
	for _, fw := range s.ActualFirmwares {
		out[fw.Type] = fw.Summary()
	}
	return out
}

// UpdateDetails is the GET/POST /things/{sn}/update-fw response.
type UpdateDetails struct {
	Status             UpdateStatus `json:"status"`
	CommandStatus      string       `json:"commandStatus,omitempty"`
	ProgressInfo       string       `json:"progressInfo,omitempty"`
	ProgressPercentage *int         `json:"progressPercentage,omitempty"`
}

// LegacyFirmware is one entry of the gateway firmware list,
// e.g. {"name": "machine_v1", "fw_version": "1.40"}.
type LegacyFirmware struct {
	Name      string `json:"name"`
	FWVersion string `json:"fw_version"`
}

// ParseLegacyFirmware maps legacy entries onto components. The latest
// version is taken from current when known, otherwise it equals the
// installed version.
func ParseLegacyFirmware(raw json.RawMessage, current map[FirmwareType]Firmware) (map[FirmwareType]Firmware, error) {
	var entries []LegacyFirmware
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make(map[FirmwareType]Firmware, len(entries))
	for _, e := range entries {
		var ft FirmwareType
		switch prefix(e.Name, '_') {
		case "machine":
			ft = FirmwareMachine
		case "gateway":
			ft = FirmwareGateway
		default:
			continue
		}
		fw := Firmware{Current: e.FWVersion, Latest: e.FWVersion}
		if prev, ok := current[ft]; ok && prev.Latest != "" {
			fw.Latest = prev.Latest
		}
		out[ft] = fw
	}
	return out, nil
}

func prefix(s string, sep byte) string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i]
		}
	}
	return s
}
