package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the façades and the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry indexes the façades of one process by serial number.
// There is no shared state between devices; the registry only owns the index.
//
// All public methods are thread-safe.
type Registry struct {
	machines map[string]*Machine
	grinders map[string]*Grinder
	mu       sync.RWMutex // Protects both maps
	logger   Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		grinders: make(map[string]*Grinder),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *Registry) taken(serial string) bool {
	_, m := r.machines[serial]
	_, g := r.grinders[serial]
	return m || g
}

// AddMachine registers a machine. Returns ErrDeviceExists for a known serial.
func (r *Registry) AddMachine(m *Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(m.Serial()) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, m.Serial())
	}
	r.machines[m.Serial()] = m
	r.logger.Info("machine registered", "serial", m.Serial())
	return nil
}

// AddGrinder registers a grinder. Returns ErrDeviceExists for a known serial.
func (r *Registry) AddGrinder(g *Grinder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(g.Serial()) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, g.Serial())
	}
	r.grinders[g.Serial()] = g
	r.logger.Info("grinder registered", "serial", g.Serial())
	return nil
}

// Machine returns the machine with serial.
// Returns ErrDeviceNotFound if it is not registered.
func (r *Registry) Machine(serial string) (*Machine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}
	return m, nil
}

// Grinder returns the grinder with serial.
// Returns ErrDeviceNotFound if it is not registered.
func (r *Registry) Grinder(serial string) (*Grinder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grinders[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}
	return g, nil
}

// Machines returns every machine ordered by serial.
func (r *Registry) Machines() []*Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial() < out[j].Serial() })
	return out
}

// Grinders returns every grinder ordered by serial.
func (r *Registry) Grinders() []*Grinder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Grinder, 0, len(r.grinders))
	for _, g := range r.grinders {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial() < out[j].Serial() })
	return out
}

// Snapshots returns a deep copy of every machine's state.
func (r *Registry) Snapshots() []Snapshot {
	machines := r.Machines()
	out := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Snapshot())
	}
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines) + len(r.grinders)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	Machines  int `json:"machines"`
	Grinders  int `json:"grinders"`
	Loaded    int `json:"loaded"`
	Connected int `json:"connected"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	machines := r.Machines()
	grinders := r.Grinders()
	stats := Stats{Machines: len(machines), Grinders: len(grinders)}
	for _, m := range machines {
		s := m.Snapshot()
		if s.Loaded {
			stats.Loaded++
		}
		if s.Connected {
			stats.Connected++
		}
	}
	for _, g := range grinders {
		s := g.Snapshot()
		if s.Loaded {
			stats.Loaded++
		}
		if s.Connected {
			stats.Connected++
		}
	}
	return stats
}

// Close closes every machine's streams.
func (r *Registry) Close() error {
	var errs []error
	for _, m := range r.Machines() {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", m.Serial(), err))
		}
	}
	return errors.Join(errs...)
}
