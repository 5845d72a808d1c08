package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/lmbridge/internal/bluetooth"
	"github.com/nerrad567/lmbridge/internal/bridge"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/logging"
	"github.com/nerrad567/lmbridge/internal/local"
	"github.com/nerrad567/lmbridge/internal/model"
)

// buildRegistry creates one façade per configured device. things, when
// non-nil, supplies names and models for devices the config leaves blank.
func buildRegistry(cfg *config.Config, cloudAPI device.Cloud, history device.History, things []model.Thing, log *logging.Logger) (*device.Registry, error) {
	known := make(map[string]model.Thing, len(things))
	for _, t := range things {
		known[t.SerialNumber] = t
	}

	var radio bluetooth.Scanner
	if cfg.Bluetooth.Enabled {
		radio = bluetooth.NewTinyGoRadio()
	}

	registry := device.NewRegistry()
	registry.SetLogger(log)

	for _, dc := range cfg.Devices {
		name, modelName := dc.Name, model.ModelName("")
		if t, ok := known[dc.Serial]; ok {
			modelName = t.Model()
			if name == "" {
				name = t.Name
			}
		}
		devLog := log.With("serial", dc.Serial)

		var localAPI device.Local
		if dc.Local.Host != "" {
			lc, err := local.New(local.Config{
				Host:  dc.Local.Host,
				Port:  dc.Local.Port,
				Token: dc.Local.Token,
			})
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", dc.Serial, err)
			}
			lc.SetLogger(devLog)
			localAPI = device.LocalTransport(lc)
		}

		if dc.Grinder {
			g, err := device.NewGrinder(device.GrinderConfig{
				Serial:  dc.Serial,
				Model:   modelName,
				Name:    name,
				Cloud:   cloudAPI,
				Local:   localAPI,
				History: history,
			})
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", dc.Serial, err)
			}
			g.SetLogger(devLog)
			if err := registry.AddGrinder(g); err != nil {
				return nil, err
			}
			continue
		}

		var ble device.Bluetooth
		if radio != nil && dc.Bluetooth.Address != "" {
			bc := bluetooth.NewClient(radio, dc.Bluetooth.Address, dc.Bluetooth.Token)
			bc.SetLogger(devLog)
			ble = bc
		}

		m, err := device.NewMachine(device.MachineConfig{
			Serial:    dc.Serial,
			Model:     modelName,
			Name:      name,
			Cloud:     cloudAPI,
			Local:     localAPI,
			Bluetooth: ble,
			BLEToken:  dc.Bluetooth.Token,
			History:   history,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Serial, err)
		}
		m.SetLogger(devLog)
		if err := registry.AddMachine(m); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// bridgeDevices converts the device section into bridge job options.
func bridgeDevices(cfg *config.Config) map[string]bridge.DeviceOptions {
	out := make(map[string]bridge.DeviceOptions, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		out[dc.Serial] = bridge.DeviceOptions{
			PollInterval: dc.GetPollInterval(),
			LocalStream:  dc.Local.Stream,
		}
	}
	return out
}

// loadDevices reads every device once and opens the push streams. It is
// used when no MQTT bridge runs the background jobs.
func loadDevices(ctx context.Context, registry *device.Registry, streams map[string]bridge.DeviceOptions, log *logging.Logger) {
	for _, m := range registry.Machines() {
		if err := m.Refresh(ctx); err != nil {
			log.Warn("initial refresh failed", "serial", m.Serial(), "error", err)
			continue
		}
		if err := m.ConnectDashboard(ctx); err != nil {
			log.Warn("dashboard stream failed", "serial", m.Serial(), "error", err)
		}
		if streams[m.Serial()].LocalStream {
			if err := m.ConnectLocal(ctx); err != nil {
				log.Warn("local stream failed", "serial", m.Serial(), "error", err)
			}
		}
	}
	for _, g := range registry.Grinders() {
		if err := g.Refresh(ctx); err != nil {
			log.Warn("initial refresh failed", "serial", g.Serial(), "error", err)
		}
	}
}
