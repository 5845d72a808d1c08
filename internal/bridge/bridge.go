package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/infrastructure/config"
	"github.com/nerrad567/lmbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/lmbridge/internal/infrastructure/mqtt"
)

const (
	// commandTimeout bounds one dispatched command, including the wait for
	// the machine to confirm it.
	commandTimeout = 30 * time.Second

	// refreshTimeout bounds one refresh of a device.
	refreshTimeout = 20 * time.Second

	// qosState is used for every publish and subscription.
	qosState byte = 1
)

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Topics() mqtt.Topics
}

// StatisticsWriter receives drink counters and boiler samples.
// *influxdb.Client satisfies it.
type StatisticsWriter interface {
	WriteCounters(influxdb.Counters)
	WriteBoilers(influxdb.BoilerReading)
	WriteExtraction(influxdb.Extraction)
}

// HistoryPruner trims the state history table.
// *device.SQLiteHistory satisfies it.
type HistoryPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Auditor records executed commands.
// *audit.SQLiteRepository satisfies it.
type Auditor interface {
	Create(ctx context.Context, entry *audit.Entry) error
}

// DeviceOptions tunes the background work for one device.
type DeviceOptions struct {
	// PollInterval is how often the device is re-read while its push
	// stream is down. Grinders are always polled.
	PollInterval time.Duration

	// LocalStream opens the machine's local event stream.
	LocalStream bool
}

// Options holds everything needed to create a bridge.
type Options struct {
	Registry *device.Registry
	MQTT     MQTTClient

	// Statistics is optional. Without it no time series are written.
	Statistics StatisticsWriter

	// History is optional. Without it the history table is never pruned.
	History HistoryPruner

	// Audit is optional. Without it commands are only logged.
	Audit Auditor

	Config  config.BridgeConfig
	Devices map[string]DeviceOptions
	Version string
	Logger  Logger
}

// Bridge publishes device snapshots to MQTT and executes commands
// received on the set topics. It also owns the background jobs of the
// daemon: fallback polling, statistics and history pruning.
//
// All methods are safe for concurrent use.
type Bridge struct {
	registry   *device.Registry
	dispatcher *Dispatcher
	mqtt       MQTTClient
	topics     mqtt.Topics
	stats      StatisticsWriter
	history    HistoryPruner
	audit      Auditor
	cfg        config.BridgeConfig
	devices    map[string]DeviceOptions
	health     *HealthReporter
	logger     Logger

	// Last availability published per serial.
	availability   map[string]string
	availabilityMu sync.Mutex

	// Newest extraction written per serial.
	lastShot   map[string]time.Time
	lastShotMu sync.Mutex

	unsubs []func()

	// stopped guards wg.Add against a concurrent Stop.
	stopped bool
	stopMu  sync.Mutex

	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		registry:     opts.Registry,
		dispatcher:   NewDispatcher(opts.Registry),
		mqtt:         opts.MQTT,
		topics:       opts.MQTT.Topics(),
		stats:        opts.Statistics,
		history:      opts.History,
		audit:        opts.Audit,
		cfg:          opts.Config,
		devices:      opts.Devices,
		logger:       logger,
		availability: make(map[string]string),
		lastShot:     make(map[string]time.Time),
		ctx:          ctx,
		ctxCancel:    cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTT,
		Topic:     b.topics.SystemHealth(),
		Devices:   b.deviceHealth,
	})
	b.health.SetLogger(logger)
	return b, nil
}

// Dispatcher returns the command dispatcher shared with the HTTP API.
func (b *Bridge) Dispatcher() *Dispatcher { return b.dispatcher }

// Health returns the health reporter.
func (b *Bridge) Health() *HealthReporter { return b.health }

// Start subscribes to the command topics, publishes the current state of
// every device and starts the background jobs. Cancelling ctx has the same
// effect on the jobs as Stop, minus the final offline publishes.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	setTopic := b.topics.AllDeviceSets()
	if err := b.mqtt.Subscribe(setTopic, qosState, b.handleSet); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", setTopic)

	for _, m := range b.registry.Machines() {
		b.unsubs = append(b.unsubs, m.Subscribe(b.publishMachine))
		if m.Loaded() {
			b.publishMachine(m.Snapshot())
		}
	}
	for _, g := range b.registry.Grinders() {
		b.unsubs = append(b.unsubs, g.Subscribe(b.publishGrinder))
		if snap := g.Snapshot(); snap.Loaded {
			b.publishGrinder(snap)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.ctxCancel()
		case <-b.ctx.Done():
		}
	}()

	b.startJobs()
	b.health.Start(b.ctx)

	b.logger.Info("bridge started",
		"machines", len(b.registry.Machines()),
		"grinders", len(b.registry.Grinders()))
	return nil
}

// Stop cancels in-flight commands, waits for the background jobs and
// marks every device offline. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		b.ctxCancel()
		for _, unsub := range b.unsubs {
			unsub()
		}
		if err := b.mqtt.Unsubscribe(b.topics.AllDeviceSets()); err != nil {
			b.logger.Debug("unsubscribe from commands failed", "error", err)
		}

		b.health.Stop()
		b.wg.Wait()

		b.availabilityMu.Lock()
		serials := make([]string, 0, len(b.availability))
		for serial := range b.availability {
			serials = append(serials, serial)
		}
		b.availabilityMu.Unlock()
		for _, serial := range serials {
			b.setAvailability(serial, false)
		}

		b.logger.Info("bridge stopped")
	})
}

// track runs fn on a goroutine tracked by the bridge wait group.
// It returns false once the bridge is stopping.
func (b *Bridge) track(fn func()) bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stopped {
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
	return true
}

// handleSet runs on a paho goroutine. Commands are executed asynchronously
// so a slow machine does not block the message router.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	serial, field, ok := b.topics.ParseDeviceSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	body := append([]byte(nil), payload...)
	b.track(func() { b.runCommand(serial, field, body) })
	return nil
}

func (b *Bridge) runCommand(serial, field string, payload []byte) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.logger.Info("received command", "serial", serial, "field", field)
	out, err := b.dispatcher.Execute(ctx, serial, field, payload)
	ack := NewAckMessage(serial, field, out, err)
	if err != nil {
		b.logger.Warn("command failed",
			"serial", serial,
			"field", field,
			"code", ack.Error.Code,
			"error", err)
	} else {
		b.logger.Info("command accepted",
			"serial", serial,
			"field", field,
			"transport", out.Transport,
			"command_id", out.ID)
	}
	b.publishJSON(b.topics.DeviceAck(serial), ack, false)

	if b.audit != nil {
		if err := b.audit.Create(ctx, AuditEntry(ack, audit.SourceMQTT, payload)); err != nil {
			b.logger.Warn("recording command audit failed", "serial", serial, "error", err)
		}
	}
}

func (b *Bridge) publishMachine(s device.Snapshot) {
	b.publishJSON(b.topics.DeviceState(s.Serial), s, true)
	b.setAvailability(s.Serial, s.Connected)
}

func (b *Bridge) publishGrinder(s device.GrinderSnapshot) {
	b.publishJSON(b.topics.DeviceState(s.Serial), s, true)
	b.setAvailability(s.Serial, s.Connected)
}

// setAvailability publishes the availability topic when it changes.
func (b *Bridge) setAvailability(serial string, online bool) {
	status := AvailabilityOffline
	if online {
		status = AvailabilityOnline
	}

	b.availabilityMu.Lock()
	prev, seen := b.availability[serial]
	if seen && prev == status {
		b.availabilityMu.Unlock()
		return
	}
	b.availability[serial] = status
	b.availabilityMu.Unlock()

	if err := b.mqtt.Publish(b.topics.DeviceAvailability(serial), []byte(status), qosState, true); err != nil {
		b.logger.Debug("availability publish failed", "serial", serial, "error", err)
		// Publish again on the next snapshot.
		b.availabilityMu.Lock()
		if b.availability[serial] == status {
			delete(b.availability, serial)
		}
		b.availabilityMu.Unlock()
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("encoding MQTT payload failed", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosState, retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			b.logger.Debug("MQTT disconnected, dropping publish", "topic", topic)
			return
		}
		b.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
	}
}

// deviceHealth summarises every registered device.
func (b *Bridge) deviceHealth() []DeviceHealth {
	machines := b.registry.Machines()
	grinders := b.registry.Grinders()
	out := make([]DeviceHealth, 0, len(machines)+len(grinders))
	for _, m := range machines {
		s := m.Snapshot()
		cloudUp, localUp := m.StreamsConnected()
		out = append(out, DeviceHealth{
			Serial:      s.Serial,
			Kind:        KindMachine,
			Model:       s.Model,
			Loaded:      s.Loaded,
			Connected:   s.Connected,
			CloudStream: cloudUp,
			LocalStream: localUp,
		})
	}
	for _, g := range grinders {
		s := g.Snapshot()
		out = append(out, DeviceHealth{
			Serial:    s.Serial,
			Kind:      KindGrinder,
			Model:     s.Model,
			Loaded:    s.Loaded,
			Connected: s.Connected,
		})
	}
	return out
}
