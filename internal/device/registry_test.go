package device

import (
	"errors"
	"testing"
)

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry()
	m, err := NewMachine(MachineConfig{Serial: "LM2", Cloud: newFakeCloud()})
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}
	m1, _ := NewMachine(MachineConfig{Serial: "LM1", Cloud: newFakeCloud()})
	g, _ := NewGrinder(GrinderConfig{Serial: "G1", Cloud: newFakeCloud()})

	for _, add := range []func() error{
		func() error { return r.AddMachine(m) },
		func() error { return r.AddMachine(m1) },
		func() error { return r.AddGrinder(g) },
	} {
		if err := add(); err != nil {
			t.Fatalf("add error = %v", err)
		}
	}

	if r.Count() != 3 {
		t.Errorf("Count() = %d, want 3", r.Count())
	}
	got, err := r.Machine("LM2")
	if err != nil || got != m {
		t.Errorf("Machine(LM2) = %v, %v", got, err)
	}
	if _, err := r.Grinder("G1"); err != nil {
		t.Errorf("Grinder(G1) error = %v", err)
	}

	machines := r.Machines()
	if len(machines) != 2 || machines[0].Serial() != "LM1" || machines[1].Serial() != "LM2" {
		t.Errorf("Machines() not sorted by serial")
	}
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry()
	m, _ := NewMachine(MachineConfig{Serial: "LM1", Cloud: newFakeCloud()})
	if err := r.AddMachine(m); err != nil {
		t.Fatalf("AddMachine() error = %v", err)
	}

	dup, _ := NewGrinder(GrinderConfig{Serial: "LM1", Cloud: newFakeCloud()})
	if err := r.AddGrinder(dup); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("AddGrinder(duplicate) error = %v, want ErrDeviceExists", err)
	}
	if _, err := r.Machine("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Machine(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := r.Grinder("LM1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Grinder(LM1) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistryStatsAndClose(t *testing.T) {
	r := NewRegistry()
	cloud := newFakeCloud()
	cloud.dashboard = loadDashboard(t, "dashboard_mini.json")
	m, _ := NewMachine(MachineConfig{Serial: "LM012345", Cloud: cloud})
	if err := r.AddMachine(m); err != nil {
		t.Fatalf("AddMachine() error = %v", err)
	}
	if err := m.RefreshDashboard(t.Context()); err != nil {
		t.Fatalf("RefreshDashboard() error = %v", err)
	}
	if err := m.ConnectDashboard(t.Context()); err != nil {
		t.Fatalf("ConnectDashboard() error = %v", err)
	}

	stats := r.GetStats()
	if stats.Machines != 1 || stats.Loaded != 1 || stats.Connected != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
	if snaps := r.Snapshots(); len(snaps) != 1 || snaps[0].Serial != "LM012345" {
		t.Errorf("Snapshots() = %v", snaps)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if cloud.stream.closes != 1 {
		t.Errorf("stream closes = %d, want 1", cloud.stream.closes)
	}
}
