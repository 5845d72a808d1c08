package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Grinder command fields. Machine fields are the device.Operation names.
const (
	FieldGrinderPower = "power"
	FieldBaristaLight = "barista_light"
	FieldStandbyTime  = "standby_time"
	FieldGrinderDose  = "dose"
)

// Dispatcher turns a (serial, field, payload) triple into a façade call.
// The MQTT bridge and the HTTP API share it.
//
// Scalar fields accept a bare value ("on", "93.5", "Level2"), a JSON string,
// or {"value": ...}. Compound fields take a JSON object:
//
//	pre_extraction_times  {"in": 1.5, "out": 3}
//	smart_standby         {"enabled": true, "minutes": 30, "after": "PowerOn"}
//	wake_up_schedule      {"enabled": true, "onTimeMinutes": 420, ...}
//	dose                  {"key": "A", "value": 36}
//	brew_by_weight_doses  {"dose1": 32, "dose2": 36}
type Dispatcher struct {
	registry *device.Registry
}

// NewDispatcher creates a dispatcher over the registry's devices.
func NewDispatcher(registry *device.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Execute runs field on the device with the given serial number.
func (d *Dispatcher) Execute(ctx context.Context, serial, field string, payload []byte) (Outcome, error) {
	if m, err := d.registry.Machine(serial); err == nil {
		return executeMachine(ctx, m, field, payload)
	}
	if g, err := d.registry.Grinder(serial); err == nil {
		return executeGrinder(ctx, g, field, payload)
	}
	return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
}

type keyValue struct {
	Key   model.PhysicalKey `json:"key"`
	Value float64           `json:"value"`
}

func executeMachine(ctx context.Context, m *device.Machine, field string, payload []byte) (Outcome, error) {
	var (
		res device.Result
		err error
	)

	switch device.Operation(field) {
	case device.OpPower:
		var on bool
		if on, err = parseBool(payload); err == nil {
			res, err = m.SetPower(ctx, on)
		}
	case device.OpSteam:
		var on bool
		if on, err = parseBool(payload); err == nil {
			res, err = m.SetSteam(ctx, on)
		}
	case device.OpPlumbIn:
		var on bool
		if on, err = parseBool(payload); err == nil {
			res, err = m.SetPlumbIn(ctx, on)
		}
	case device.OpSteamLevel:
		var s string
		if s, err = scalar(payload); err == nil {
			res, err = m.SetSteamLevel(ctx, model.SteamTargetLevel(s))
		}
	case device.OpCoffeeTarget:
		var v float64
		if v, err = parseFloat(payload); err == nil {
			res, err = m.SetCoffeeTarget(ctx, v)
		}
	case device.OpSteamTarget:
		var v float64
		if v, err = parseFloat(payload); err == nil {
			res, err = m.SetSteamTarget(ctx, v)
		}
	case device.OpHotWaterDose:
		var v float64
		if v, err = parseFloat(payload); err == nil {
			res, err = m.SetHotWaterDose(ctx, v)
		}
	case device.OpBackflush:
		res, err = m.StartBackflush(ctx)
	case device.OpPreExtractionMode:
		var s string
		if s, err = scalar(payload); err == nil {
			res, err = m.SetPreExtractionMode(ctx, model.PreExtractionMode(s))
		}
	case device.OpPreExtractionTimes:
		var t struct {
			In  float64 `json:"in"`
			Out float64 `json:"out"`
		}
		if err = decodeObject(payload, &t); err == nil {
			res, err = m.SetPreExtractionTimes(ctx, t.In, t.Out)
		}
	case device.OpSmartStandby:
		var s struct {
			Enabled bool                   `json:"enabled"`
			Minutes int                    `json:"minutes"`
			After   model.SmartStandByType `json:"after"`
		}
		if err = decodeObject(payload, &s); err == nil {
			res, err = m.SetSmartStandby(ctx, s.Enabled, s.Minutes, s.After)
		}
	case device.OpWakeUpSchedule:
		var sched model.WakeUpSchedule
		if err = decodeObject(payload, &sched); err == nil {
			res, err = m.SetWakeUpSchedule(ctx, sched)
		}
	case device.OpDeleteSchedule:
		var id string
		if id, err = scalar(payload); err == nil {
			res, err = m.DeleteWakeUpSchedule(ctx, id)
		}
	case device.OpDose:
		var kv keyValue
		if err = decodeObject(payload, &kv); err == nil {
			res, err = m.SetDose(ctx, kv.Key, kv.Value)
		}
	case device.OpBrewByWeightMode:
		var s string
		if s, err = scalar(payload); err == nil {
			res, err = m.SetBrewByWeightMode(ctx, model.DoseMode(s))
		}
	case device.OpBrewByWeightDoses:
		var doses struct {
			Dose1 float64 `json:"dose1"`
			Dose2 float64 `json:"dose2"`
		}
		if err = decodeObject(payload, &doses); err == nil {
			res, err = m.SetBrewByWeightDoses(ctx, doses.Dose1, doses.Dose2)
		}
	case device.OpFirmware:
		details, ferr := m.InstallFirmware(ctx)
		if ferr != nil {
			return Outcome{}, ferr
		}
		return Outcome{Result: device.Result{Transport: device.TransportCloud}, Firmware: details}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: res}, nil
}

func executeGrinder(ctx context.Context, g *device.Grinder, field string, payload []byte) (Outcome, error) {
	var (
		res device.Result
		err error
	)

	switch field {
	case FieldGrinderPower:
		var on bool
		if on, err = parseBool(payload); err == nil {
			res, err = g.SetPower(ctx, on)
		}
	case FieldBaristaLight:
		var on bool
		if on, err = parseBool(payload); err == nil {
			res, err = g.SetBaristaLight(ctx, on)
		}
	case FieldStandbyTime:
		var minutes int
		if minutes, err = parseInt(payload); err == nil {
			res, err = g.SetStandbyTime(ctx, minutes)
		}
	case FieldGrinderDose:
		var kv keyValue
		if err = decodeObject(payload, &kv); err == nil {
			res, err = g.SetDose(ctx, kv.Key, kv.Value)
		}
	default:
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: res}, nil
}

// scalar extracts the single value of a scalar payload.
func scalar(payload []byte) (string, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if p[0] == '{' {
		var wrapped struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(p, &wrapped); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		p = bytes.TrimSpace(wrapped.Value)
		if len(p) == 0 {
			return "", fmt.Errorf("%w: missing value", ErrInvalidPayload)
		}
	}
	if p[0] == '"' {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		p = []byte(strings.TrimSpace(s))
	}
	if len(p) == 0 {
		return "", fmt.Errorf("%w: empty value", ErrInvalidPayload)
	}
	return string(p), nil
}

func parseBool(payload []byte) (bool, error) {
	s, err := scalar(payload)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidPayload, s)
}

func parseFloat(payload []byte) (float64, error) {
	s, err := scalar(payload)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPayload, s)
	}
	return v, nil
}

func parseInt(payload []byte) (int, error) {
	s, err := scalar(payload)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidPayload, s)
	}
	return v, nil
}

// decodeObject strictly decodes a JSON object payload.
func decodeObject(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidPayload)
	}
	return nil
}

// IsClientError reports whether err was caused by the request rather than
// the machine or the network.
func IsClientError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeNotConfigured, ErrCodeInvalidCommand, ErrCodeInvalidParameters, ErrCodeUnsupported:
		return true
	}
	return errors.Is(err, ErrInvalidTopic)
}
