package travel

import (
	"math"
	"testing"
)

func TestLinearModelT(t *testing.T) {
	m := NewLinearModel()
	m.SetOrigin(0, 0, 10)
	sec, ok := m.T("P", 1.0)
	if !ok {
		t.Fatal("expected P travel time at 1 degree")
	}
	if sec <= 0 {
		t.Fatalf("expected positive travel time, got %f", sec)
	}
}

func TestLinearModelUnknownPhase(t *testing.T) {
	m := NewLinearModel()
	if _, ok := m.T("PKPdf", 100); ok {
		t.Fatal("expected unknown phase to report not-ok")
	}
}

func TestLinearModelOutOfRange(t *testing.T) {
	m := NewLinearModel()
	if _, ok := m.T("P", 500); ok {
		t.Fatal("expected out-of-range delta to report not-ok")
	}
}

func TestBestTPrefersP(t *testing.T) {
	m := NewLinearModel()
	phase, sec, ok := m.BestT(5.0)
	if !ok || phase != "P" {
		t.Fatalf("expected best phase P, got %s ok=%v", phase, ok)
	}
	if sec <= 0 {
		t.Fatalf("expected positive travel time, got %f", sec)
	}
}

func TestTaperShape(t *testing.T) {
	r := Range{R0: 0, F0: 10, F1: 20, R3: 30}
	if r.Taper(-1) != 0 {
		t.Fatal("expected zero weight below R0")
	}
	if r.Taper(35) != 0 {
		t.Fatal("expected zero weight above R3")
	}
	if r.Taper(15) != 1 {
		t.Fatal("expected full weight inside F0..F1")
	}
	if w := r.Taper(5); w <= 0 || w >= 1 {
		t.Fatalf("expected partial weight in linear taper, got %f", w)
	}
	if w := r.Taper(25); w <= 0 || w >= 1 {
		t.Fatalf("expected partial weight in linear taper, got %f", w)
	}
}

func TestCloneIndependentState(t *testing.T) {
	m := NewLinearModel()
	m.SetOrigin(0, 0, 50)
	clone := m.Clone().(*LinearModel)
	clone.SetOrigin(0, 0, 0)

	secDeep, _ := m.T("P", 10)
	secShallow, _ := clone.T("P", 10)
	if math.Abs(secDeep-secShallow) < 1e-9 {
		t.Fatal("expected clone's independent depth to produce a different travel time")
	}
}
