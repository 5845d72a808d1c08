package bluetooth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

const defaultExchangeTimeout = 15 * time.Second

// Values readable through the read characteristic.
const (
	ValueMachineCapabilities = "machineCapabilities"
	ValueMachineMode         = "machineMode"
	ValueTankStatus          = "tankStatus"
	ValueBoilers             = "boilers"
	ValueSmartStandBy        = "smartStandBy"
)

// Setting is a JSON command written to the write characteristic.
type Setting struct {
	Name      string `json:"name"`
	Parameter any    `json:"parameter"`
}

// PowerSetting switches between brewing mode and standby.
func PowerSetting(on bool) Setting {
	mode := model.ModeStandBy
	if on {
		mode = model.ModeBrewing
	}
	return Setting{Name: "MachineChangeMode", Parameter: map[string]any{"mode": mode}}
}

// BoilerEnableSetting turns a boiler on or off.
func BoilerEnableSetting(boiler model.BoilerType, enabled bool) Setting {
	return Setting{Name: "SettingBoilerEnable", Parameter: map[string]any{
		"identifier": boiler,
		"state":      enabled,
	}}
}

// BoilerTargetSetting sets a boiler target temperature in Celsius.
func BoilerTargetSetting(boiler model.BoilerType, celsius float64) Setting {
	return Setting{Name: "SettingBoilerTarget", Parameter: map[string]any{
		"identifier": boiler,
		"value":      celsius,
	}}
}

// SmartStandbySetting configures automatic standby.
func SmartStandbySetting(enabled bool, minutes int, mode model.SmartStandByType) Setting {
	return Setting{Name: "SettingSmartStandby", Parameter: map[string]any{
		"minutes": minutes,
		"mode":    mode,
		"enabled": enabled,
	}}
}

// Client talks to one machine.
type Client struct {
	scanner Scanner
	address string
	token   string
	timeout time.Duration

	loggerMu sync.RWMutex
	logger   Logger
}

// NewClient creates a client for the machine at address. The token may
// be empty until ReadToken has been called in pairing mode.
func NewClient(scanner Scanner, address, token string) *Client {
	return &Client{
		scanner: scanner,
		address: address,
		token:   token,
		timeout: defaultExchangeTimeout,
		logger:  discard,
	}
}

// SetLogger sets the logger. A nil logger disables logging.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = discard
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Address returns the machine address.
func (c *Client) Address() string { return c.address }

// ReadToken reads the pairing token. Outside pairing mode the machine
// returns nothing and this fails with lmerr.ErrPairingModeRequired.
func (c *Client) ReadToken(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	link, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	defer link.Close()

	raw, err := link.Read(ctx, CharToken)
	if err != nil {
		return "", linkError(err)
	}
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return "", lmerr.ErrPairingModeRequired
	}
	return string(raw), nil
}

// SendSetting authenticates with token and writes s. An empty token
// falls back to the client's own.
func (c *Client) SendSetting(ctx context.Context, token string, s Setting) error {
	if token == "" {
		token = c.token
	}
	msg, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding setting: %w", err)
	}
	c.log().Debug("sending bluetooth setting", "address", c.address, "setting", s.Name)

	return c.exchange(ctx, token, func(ctx context.Context, link Link) error {
		if err := link.Write(ctx, CharWrite, nulTerminated(msg)); err != nil {
			return fmt.Errorf("%w: %s rejected: %w", lmerr.ErrAuth, s.Name, err)
		}
		return nil
	})
}

// MachineMode reads the current machine mode.
func (c *Client) MachineMode(ctx context.Context) (model.MachineMode, error) {
	var m model.MachineMode
	err := c.readValue(ctx, ValueMachineMode, &m)
	return m, err
}

// Capabilities reads the machine family and feature counts.
func (c *Client) Capabilities(ctx context.Context) (model.MachineCapabilities, error) {
	var caps []model.MachineCapabilities
	if err := c.readValue(ctx, ValueMachineCapabilities, &caps); err != nil {
		return model.MachineCapabilities{}, err
	}
	if len(caps) == 0 {
		return model.MachineCapabilities{}, fmt.Errorf("%w: empty capabilities", model.ErrMalformed)
	}
	return caps[0], nil
}

// TankStatus reports whether the water tank has water.
func (c *Client) TankStatus(ctx context.Context) (bool, error) {
	var ok bool
	err := c.readValue(ctx, ValueTankStatus, &ok)
	return ok, err
}

// Boilers reads boiler states.
func (c *Client) Boilers(ctx context.Context) ([]model.BLEBoiler, error) {
	var b []model.BLEBoiler
	err := c.readValue(ctx, ValueBoilers, &b)
	return b, err
}

// SmartStandby reads the smart standby settings.
func (c *Client) SmartStandby(ctx context.Context) (model.BLESmartStandby, error) {
	var s model.BLESmartStandby
	err := c.readValue(ctx, ValueSmartStandBy, &s)
	return s, err
}

// readValue asks for name on the read characteristic and decodes the reply.
func (c *Client) readValue(ctx context.Context, name string, out any) error {
	return c.exchange(ctx, c.token, func(ctx context.Context, link Link) error {
		if err := link.Write(ctx, CharRead, nulTerminated([]byte(name))); err != nil {
			return fmt.Errorf("%w: read of %s rejected: %w", lmerr.ErrAuth, name, err)
		}
		raw, err := link.Read(ctx, CharRead)
		if err != nil {
			return linkError(err)
		}
		raw = bytes.TrimRight(raw, "\x00")

		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%w: %s: %s", lmerr.ErrAuth, name, failure.Error)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s: %w", model.ErrMalformed, name, err)
		}
		return nil
	})
}

// exchange connects, authenticates with token and runs fn.
func (c *Client) exchange(ctx context.Context, token string, fn func(context.Context, Link) error) error {
	if token == "" {
		return ErrNoToken
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	link, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.Write(ctx, CharAuth, []byte(token)); err != nil {
		return linkError(err)
	}
	return fn(ctx, link)
}

func (c *Client) connect(ctx context.Context) (Link, error) {
	link, err := c.scanner.Connect(ctx, c.address)
	if err != nil {
		return nil, linkError(err)
	}
	return link, nil
}

func nulTerminated(b []byte) []byte {
	out := make([]byte, len(b)+1)
	copy(out, b)
	return out
}

// linkError maps radio failures to ErrConnection. A missing
// characteristic keeps its own sentinel as well.
func linkError(err error) error {
	return fmt.Errorf("%w: %w", lmerr.ErrConnection, err)
}
