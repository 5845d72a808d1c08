package device

import (
	"context"

	"github.com/nerrad567/lmbridge/internal/bluetooth"
	"github.com/nerrad567/lmbridge/internal/cloud"
	"github.com/nerrad567/lmbridge/internal/local"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Stream is an open push channel. Close stops it.
type Stream interface {
	Connected() bool
	Close() error
}

// Cloud is the vendor cloud as the façades use it.
type Cloud interface {
	Dashboard(ctx context.Context, serial string) (*model.Dashboard, error)
	Settings(ctx context.Context, serial string) (*model.Settings, error)
	Statistics(ctx context.Context, serial string) (*model.Statistics, error)
	Firmware(ctx context.Context, serial string) (map[model.FirmwareType]model.Firmware, error)
	Schedule(ctx context.Context, serial string) (*model.Scheduling, error)
	InstallFirmware(ctx context.Context, serial string) (*model.UpdateDetails, error)
	SendCommand(ctx context.Context, serial string, cmd model.Command) (model.CommandResponse, error)
	OpenDashboardStream(ctx context.Context, serial string, handler func(*model.DashboardUpdate)) (Stream, error)
}

// Local is the machine's own API.
type Local interface {
	Config(ctx context.Context) (*model.LocalConfig, error)
	GrinderConfig(ctx context.Context) (*model.GrinderConfig, error)
	OpenStream(ctx context.Context, handler func(local.Event)) (Stream, error)
}

// Bluetooth is the BLE link to one machine.
type Bluetooth interface {
	SendSetting(ctx context.Context, token string, s bluetooth.Setting) error
	MachineMode(ctx context.Context) (model.MachineMode, error)
	Boilers(ctx context.Context) ([]model.BLEBoiler, error)
	TankStatus(ctx context.Context) (bool, error)
	SmartStandby(ctx context.Context) (model.BLESmartStandby, error)
}

type cloudTransport struct{ *cloud.Client }

// CloudTransport adapts a cloud client to Cloud.
func CloudTransport(c *cloud.Client) Cloud { return cloudTransport{c} }

func (c cloudTransport) OpenDashboardStream(ctx context.Context, serial string, handler func(*model.DashboardUpdate)) (Stream, error) {
	s, err := c.Client.OpenDashboardStream(ctx, serial, handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type localTransport struct{ *local.Client }

// LocalTransport adapts a local client to Local.
func LocalTransport(c *local.Client) Local { return localTransport{c} }

func (c localTransport) OpenStream(ctx context.Context, handler func(local.Event)) (Stream, error) {
	s, err := c.Client.OpenStream(ctx, handler)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Transport names the path a command took.
type Transport string

const (
	TransportCloud     Transport = "cloud"
	TransportLocal     Transport = "local"
	TransportBluetooth Transport = "bluetooth"
)

// Operation is a settable capability of a machine.
type Operation string

const (
	OpPower              Operation = "power"
	OpSteam              Operation = "steam"
	OpSteamLevel         Operation = "steam_level"
	OpCoffeeTarget       Operation = "coffee_target"
	OpSteamTarget        Operation = "steam_target"
	OpBackflush          Operation = "backflush"
	OpPreExtractionMode  Operation = "pre_extraction_mode"
	OpPreExtractionTimes Operation = "pre_extraction_times"
	OpSmartStandby       Operation = "smart_standby"
	OpWakeUpSchedule     Operation = "wake_up_schedule"
	OpDeleteSchedule     Operation = "delete_wake_up_schedule"
	OpPlumbIn            Operation = "plumb_in"
	OpDose               Operation = "dose"
	OpHotWaterDose       Operation = "hot_water_dose"
	OpBrewByWeightMode   Operation = "brew_by_weight_mode"
	OpBrewByWeightDoses  Operation = "brew_by_weight_doses"
	OpFirmware           Operation = "firmware"
)

// routes lists, per operation, the transports able to carry it in
// priority order. Operations not listed are cloud only.
var routes = map[Operation][]Transport{
	OpPower:        {TransportBluetooth, TransportCloud},
	OpSteam:        {TransportBluetooth, TransportCloud},
	OpCoffeeTarget: {TransportBluetooth, TransportCloud},
	OpSteamTarget:  {TransportBluetooth, TransportCloud},
	OpSmartStandby: {TransportBluetooth, TransportCloud},
}

// Route returns the transports for op in priority order.
func Route(op Operation) []Transport {
	if r, ok := routes[op]; ok {
		return r
	}
	return []Transport{TransportCloud}
}

// Result describes how a command was carried out.
type Result struct {
	Transport Transport           `json:"transport"`
	ID        string              `json:"id,omitempty"`
	Status    model.CommandStatus `json:"status,omitempty"`
}
