package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// defaultHealthInterval is used when the configured interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter periodically publishes the bridge health document.
// The HTTP API serves the same document through Current.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	topic     string
	devices   func() []DeviceHealth

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Publisher may be nil, in which case nothing is published.
	Publisher HealthPublisher
	Topic     string

	// Devices lists the per-device health. Optional.
	Devices func() []DeviceHealth
}

// NewHealthReporter creates a new health reporter.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	devices := cfg.Devices
	if devices == nil {
		devices = func() []DeviceHealth { return nil }
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
		devices:   devices,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		if err := h.publish(h.build(HealthStopping, "bridge stopping")); err != nil {
			h.getLogger().Debug("failed to publish stopping status", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.build(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current evaluates the bridge health.
func (h *HealthReporter) Current() HealthMessage {
	status, reason, devices := h.determineStatus()
	msg := h.build(status, reason)
	msg.Devices = devices
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.getLogger().Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.getLogger().Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus is degraded when the broker is unreachable or any
// device is unloaded or offline.
func (h *HealthReporter) determineStatus() (HealthStatus, string, []DeviceHealth) {
	devices := h.devices()

	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected", devices
	}

	var unloaded, offline int
	for _, d := range devices {
		switch {
		case !d.Loaded:
			unloaded++
		case !d.Connected:
			offline++
		}
	}
	switch {
	case unloaded > 0:
		return HealthDegraded, fmt.Sprintf("%d device(s) not loaded", unloaded), devices
	case offline > 0:
		return HealthDegraded, fmt.Sprintf("%d device(s) offline", offline), devices
	}
	return HealthHealthy, "", devices
}

func (h *HealthReporter) build(status HealthStatus, reason string) HealthMessage {
	return HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MQTTConnected: h.publisher != nil && h.publisher.IsConnected(),
		Devices:       []DeviceHealth{},
		Timestamp:     time.Now().UTC(),
	}
}

// publish sends msg retained with QoS 1.
func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil || h.topic == "" {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(h.topic, payload, qosState, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
