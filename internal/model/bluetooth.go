package model

// MachineCapabilities is the BLE machineCapabilities read.
type MachineCapabilities struct {
	Family              string        `json:"family"`
	GroupsNumber        int           `json:"groupsNumber"`
	CoffeeBoilersNumber int           `json:"coffeeBoilersNumber"`
	HasCupWarmer        bool          `json:"hasCupWarmer"`
	SteamBoilersNumber  int           `json:"steamBoilersNumber"`
	TeaDosesNumber      int           `json:"teaDosesNumber"`
	MachineModes        []MachineMode `json:"machineModes"`
	SchedulingType      string        `json:"schedulingType"`
}

// Model normalises the family name.
func (c MachineCapabilities) Model() (ModelName, error) { return ParseModelName(c.Family) }

// BLEBoiler is one entry of the BLE boilers read.
type BLEBoiler struct {
	ID        BoilerType `json:"id"`
	IsEnabled bool       `json:"isEnabled"`
	Target    float64    `json:"target"`
	Current   float64    `json:"current"`
}

// BLESmartStandby is the BLE smartStandBy read.
type BLESmartStandby struct {
	Mode    SmartStandByType `json:"mode"`
	Minutes int              `json:"minutes"`
	Enabled bool             `json:"enabled"`
}
