// Package travel defines the travel-time provider interface the
// association engine's core consumes and a simple constant-velocity
// implementation good enough to drive the engine end to end. A production
// deployment would swap in a real earth-model table, reached only through
// this interface.
package travel

import "math"

// Range is a phase's significance taper: zero weight outside
// [R0, R3], full weight inside [F0, F1], linear taper between.
type Range struct {
	R0, F0, F1, R3 float64 // degrees
}

// Taper returns the significance weight (0..1) for a delta in degrees.
func (r Range) Taper(deltaDeg float64) float64 {
	switch {
	case deltaDeg < r.R0 || deltaDeg > r.R3:
		return 0
	case deltaDeg >= r.F0 && deltaDeg <= r.F1:
		return 1
	case deltaDeg < r.F0:
		return (deltaDeg - r.R0) / (r.F0 - r.R0)
	default: // deltaDeg > r.F1
		return (r.R3 - deltaDeg) / (r.R3 - r.F1)
	}
}

// Provider is the travel-time collaborator the engine's core depends on.
// Implementations are not required to be safe for concurrent use; each
// worker owns a Clone seeded from a shared master.
type Provider interface {
	// SetOrigin seeds the provider's internal scratch state for a query
	// origin, letting repeated T/BestT calls at varying deltas amortize
	// any origin-dependent setup (ray tracing, depth phase corrections).
	SetOrigin(lat, lon, depthKM float64)

	// T returns the predicted travel time in seconds for the named phase
	// at angular distance deltaDeg, or ok=false if the phase has no
	// defined travel time at that distance.
	T(phase string, deltaDeg float64) (seconds float64, ok bool)

	// BestT returns the phase with the lowest-variance pick expected at
	// deltaDeg (ordinarily the first arrival), and its travel time.
	BestT(deltaDeg float64) (phase string, seconds float64, ok bool)

	// PhaseRange returns the significance taper for the named phase.
	PhaseRange(phase string) (Range, bool)

	// Clone returns a worker-private copy of the provider, sharing any
	// read-only tables but with independent scratch state.
	Clone() Provider
}

// LinearModel is a constant-velocity travel-time provider: travel time is
// straight-line distance (accounting for depth via the law of cosines on
// the sphere) divided by a per-phase velocity. Its only origin-dependent
// state is the source depth, so SetOrigin and Clone are trivial, but it
// fully implements the
// Provider contract so the engine can be exercised without a real earth
// model.
type LinearModel struct {
	phases  map[string]phaseModel
	depthKM float64 // set by SetOrigin; lat/lon are irrelevant to a delta-based lookup
}

type phaseModel struct {
	velocityKMPerSec float64
	rng              Range
	isBest           bool
}

// NewLinearModel returns a LinearModel with a default P/S two-phase setup:
// P at 8 km/s (typical upper-mantle P velocity), S at 4.5 km/s, both valid
// from 0 to 110 degrees, at full weight up to 100 degrees and tapering to
// zero between 100 and 110 degrees.
func NewLinearModel() *LinearModel {
	return &LinearModel{
		phases: map[string]phaseModel{
			"P": {velocityKMPerSec: 8.0, rng: Range{R0: 0, F0: 0, F1: 100, R3: 110}, isBest: true},
			"S": {velocityKMPerSec: 4.5, rng: Range{R0: 0, F0: 0, F1: 100, R3: 110}, isBest: false},
		},
	}
}

// WithPhase registers or overrides a phase's velocity/taper/best-phase flag.
func (m *LinearModel) WithPhase(name string, velocityKMPerSec float64, rng Range, isBest bool) *LinearModel {
	m.phases[name] = phaseModel{velocityKMPerSec: velocityKMPerSec, rng: rng, isBest: isBest}
	return m
}

func (m *LinearModel) SetOrigin(_, _, depthKM float64) {
	m.depthKM = depthKM
}

func straightLineKM(deltaDeg, depthKM, radiusKM float64) float64 {
	deltaRad := deltaDeg * math.Pi / 180.0
	r := radiusKM
	h := radiusKM - depthKM
	// Law of cosines between the source (radius h = r - depth) and the
	// station (radius r), separated by angle deltaRad.
	d2 := r*r + h*h - 2*r*h*math.Cos(deltaRad)
	if d2 < 0 {
		d2 = 0
	}
	return math.Sqrt(d2)
}

// T uses the depth last set by SetOrigin.
func (m *LinearModel) T(phase string, deltaDeg float64) (float64, bool) {
	return m.TAtDepth(phase, deltaDeg, m.depthKM)
}

// TAtDepth is like T but lets callers supply depth explicitly without a
// SetOrigin round trip.
func (m *LinearModel) TAtDepth(phase string, deltaDeg, depthKM float64) (float64, bool) {
	p, ok := m.phases[phase]
	if !ok {
		return 0, false
	}
	if deltaDeg < p.rng.R0 || deltaDeg > p.rng.R3 {
		return 0, false
	}
	dist := straightLineKM(deltaDeg, depthKM, 6371.0)
	return dist / p.velocityKMPerSec, true
}

func (m *LinearModel) BestT(deltaDeg float64) (string, float64, bool) {
	for name, p := range m.phases {
		if p.isBest {
			if t, ok := m.T(name, deltaDeg); ok {
				return name, t, true
			}
		}
	}
	return "", 0, false
}

func (m *LinearModel) PhaseRange(phase string) (Range, bool) {
	p, ok := m.phases[phase]
	return p.rng, ok
}

func (m *LinearModel) Clone() Provider {
	cp := make(map[string]phaseModel, len(m.phases))
	for k, v := range m.phases {
		cp[k] = v
	}
	return &LinearModel{phases: cp, depthKM: m.depthKM}
}
