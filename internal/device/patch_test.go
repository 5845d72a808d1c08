package device

import (
	"reflect"
	"testing"

	"github.com/nerrad567/lmbridge/internal/model"
)

func TestPatchDisjointFieldsCommute(t *testing.T) {
	a := NewPatch(SourceStream)
	a.Set(boilerField(model.BoilerCoffee, "target"), func(s *Snapshot) { s.Coffee.Target = 93 })
	a.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = true })

	b := NewPatch(SourceLocalStream)
	b.Set(boilerField(model.BoilerSteam, "enabled"), func(s *Snapshot) { s.Steam.Enabled = true })
	b.Set(doseField(model.KeyA), func(s *Snapshot) {
		s.Doses.Targets = map[model.PhysicalKey]float64{model.KeyA: 120}
	})

	var ab, ba Snapshot
	ab.Apply(a)
	ab.Apply(b)
	ba.Apply(b)
	ba.Apply(a)

	if !reflect.DeepEqual(ab, ba) {
		t.Errorf("apply order changed result:\n a then b = %+v\n b then a = %+v", ab, ba)
	}
}

func TestPatchLastWriterWins(t *testing.T) {
	var s Snapshot
	first := NewPatch(SourceDashboard)
	first.Set(boilerField(model.BoilerCoffee, "target"), func(s *Snapshot) { s.Coffee.Target = 90 })
	second := NewPatch(SourceLocalStream)
	second.Set(boilerField(model.BoilerCoffee, "target"), func(s *Snapshot) { s.Coffee.Target = 94.5 })

	s.Apply(first)
	s.Apply(second)

	if s.Coffee.Target != 94.5 {
		t.Errorf("Coffee.Target = %v, want 94.5", s.Coffee.Target)
	}
}

func TestPatchKeepsUnnamedFields(t *testing.T) {
	s := Snapshot{Name: "Kitchen", PlumbedIn: true}
	s.Coffee.Target = 93

	p := NewPatch(SourceStream)
	p.Set(FieldTurnedOn, func(s *Snapshot) { s.TurnedOn = true })
	s.Apply(p)

	if !s.TurnedOn {
		t.Error("TurnedOn = false, want true")
	}
	if s.Name != "Kitchen" || !s.PlumbedIn || s.Coffee.Target != 93 {
		t.Errorf("unrelated fields changed: %+v", s)
	}
}

func TestPatchFields(t *testing.T) {
	p := NewPatch(SourceCommand)
	p.Set(FieldTurnedOn, func(*Snapshot) {})
	p.Set(FieldMode, func(*Snapshot) {})
	p.Set(FieldTurnedOn, func(*Snapshot) {})

	got := p.Fields()
	want := []Field{FieldTurnedOn, FieldMode}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
}

func TestPatchMarkLoaded(t *testing.T) {
	var s Snapshot
	p := NewPatch(SourceStream)
	p.Set(FieldConnected, func(s *Snapshot) { s.Connected = true })
	s.Apply(p)
	if s.Loaded {
		t.Fatal("Loaded = true after a partial patch")
	}

	full := NewPatch(SourceDashboard)
	if full.Empty() != true {
		t.Fatal("Empty() = false for a new patch")
	}
	full.MarkLoaded()
	if full.Empty() {
		t.Fatal("Empty() = true for a loading patch")
	}
	s.Apply(full)
	if !s.Loaded {
		t.Error("Loaded = false after MarkLoaded patch")
	}
}

func TestPatchMerge(t *testing.T) {
	p := NewPatch(SourceLocalStream)
	p.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = false })
	o := NewPatch(SourceLocal)
	o.Set(FieldTankFull, func(s *Snapshot) { s.TankFull = true })
	o.MarkLoaded()
	p.Merge(o)
	p.Merge(nil)

	var s Snapshot
	s.Apply(p)
	if !s.TankFull || !s.Loaded {
		t.Errorf("merged patch: TankFull = %v, Loaded = %v, want true, true", s.TankFull, s.Loaded)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	s := Snapshot{
		Doses:    Doses{Targets: map[model.PhysicalKey]float64{model.KeyA: 100}},
		Firmware: map[model.FirmwareType]model.Firmware{},
	}
	c := s.Clone()
	c.Doses.Targets[model.KeyA] = 1

	if s.Doses.Targets[model.KeyA] != 100 {
		t.Errorf("original dose changed to %v", s.Doses.Targets[model.KeyA])
	}
}
