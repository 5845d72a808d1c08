package model

import "encoding/json"

// Thing is the identity and connectivity summary of one device.
type Thing struct {
	SerialNumber            string          `json:"serialNumber"`
	Type                    DeviceType      `json:"type"`
	Name                    string          `json:"name"`
	Location                string          `json:"location,omitempty"`
	ModelCode               ModelCode       `json:"modelCode"`
	ModelName               string          `json:"modelName"`
	Connected               bool            `json:"connected"`
	ConnectionDate          Timestamp       `json:"connectionDate"`
	OfflineMode             bool            `json:"offlineMode"`
	RequireFirmwareUpdate   bool            `json:"requireFirmwareUpdate"`
	AvailableFirmwareUpdate bool            `json:"availableFirmwareUpdate"`
	CoffeeStation           json.RawMessage `json:"coffeeStation,omitempty"`
	ImageURL                string          `json:"imageUrl"`
	BLEAuthToken            string          `json:"bleAuthToken,omitempty"`
}

// Model returns the normalised model name, falling back to the model code
// and finally to the raw string when neither is recognised.
func (t *Thing) Model() ModelName {
	if name, err := ParseModelName(t.ModelName); err == nil {
		return name
	}
	if name, err := ParseModelName(string(t.ModelCode)); err == nil {
		return name
	}
	return ModelName(t.ModelName)
}

// IsGrinder reports whether the thing is a grinder.
func (t *Thing) IsGrinder() bool {
	if t.Type == DeviceGrinder {
		return true
	}
	m := t.Model()
	return m == ModelPicoGrinder || m == ModelSwanGrinder
}
