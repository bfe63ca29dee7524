package hypo

import (
	"math/rand"
	"testing"

	"glass3/internal/glass/correlation"
	"glass3/internal/glass/pick"
	"glass3/internal/glass/sink"
	"glass3/internal/glass/travel"
)

type recordingSink struct {
	messages []map[string]any
}

func (s *recordingSink) Send(msg map[string]any) bool {
	s.messages = append(s.messages, msg)
	return true
}

func staticSites() SiteLookup {
	sites := map[string][2]float64{
		"A": {40.5, -120.0},
		"B": {40.0, -119.5},
		"C": {39.5, -120.0},
		"D": {40.0, -120.5},
	}
	return func(siteID string) (float64, float64, bool) {
		s, ok := sites[siteID]
		return s[0], s[1], ok
	}
}

func defaultEvolveParams() EvolveParams {
	return EvolveParams{
		AssociationSDCutoff:       3.0,
		PruningSDCutoff:           3.0,
		PickAffinityExpFactor:     2.5,
		DistanceCutoffFactor:      4.0,
		DistanceCutoffRatio:       0.4,
		DistanceCutoffMinimum:     300.0,
		HypoProcessCountLimit:     25,
		NucleationDataCountThresh: 1,
		ReportingStackThreshold:   0.1,
		ReportingDataThreshold:    1,
		EventFragmentAzimuthDeg:   270,
		EventFragmentDepthKM:      550,
		HypoMergingTimeWindowSec:  30,
		HypoMergingDistanceDeg:    3,
		RelocationIterations:      200,
		AssociationSigmaSeconds:   1.0,
		MaximumDepthKM:            800,
		UseL1ResidualLocator:      false,
	}
}

func seedPicks() []*pick.Pick {
	return []*pick.Pick{
		pick.New("e1", "A", 1005, nil, nil),
		pick.New("e2", "B", 1005.2, nil, nil),
	}
}

func TestEvolvePromotesAboveThreshold(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	s := &recordingSink{}
	list := NewList(-1, s)
	list.Add(h)

	tt := travel.NewLinearModel()
	rng := rand.New(rand.NewSource(3))

	outcome := list.Evolve(h, staticSites(), tt.Clone(), defaultEvolveParams(), rng)
	if outcome != EvolvePromoted && outcome != EvolveContinue {
		t.Fatalf("expected EvolvePromoted or EvolveContinue, got %v", outcome)
	}
	if h.State() == Canceled {
		t.Fatal("did not expect hypo to be canceled")
	}
}

func TestEvolveCancelsBelowPickCountThreshold(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	list := NewList(-1, sink.Discard{})

	params := defaultEvolveParams()
	params.NucleationDataCountThresh = 10 // seed only has 2 picks

	tt := travel.NewLinearModel()
	outcome := list.Evolve(h, staticSites(), tt.Clone(), params, rand.New(rand.NewSource(1)))
	if outcome != EvolveCanceled {
		t.Fatalf("expected EvolveCanceled, got %v", outcome)
	}
}

func TestCanceledHypoReleasesPicks(t *testing.T) {
	picks := seedPicks()
	h := New(40.0, -120.0, 10, 1000, 0.1, picks)
	list := NewList(-1, sink.Discard{})

	params := defaultEvolveParams()
	params.NucleationDataCountThresh = 10

	tt := travel.NewLinearModel()
	list.Evolve(h, staticSites(), tt.Clone(), params, rand.New(rand.NewSource(1)))

	for _, p := range picks {
		if p.State() != pick.Unassoc {
			t.Fatalf("expected pick %d released to Unassoc, got %v", p.ID, p.State())
		}
		if p.HypoID() != "" {
			t.Fatalf("expected pick %d hypo link cleared", p.ID)
		}
	}
}

func TestEvolveAssociatesNearbyUnassignedPick(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	list := NewList(-1, sink.Discard{})
	list.Add(h)

	newPick := pick.New("e3", "C", 1005.3, nil, nil)

	params := defaultEvolveParams()
	list.AssociateAll([]*Hypo{h}, []*pick.Pick{newPick}, staticSites(), params)

	tt := travel.NewLinearModel()
	list.Evolve(h, staticSites(), tt.Clone(), params, rand.New(rand.NewSource(2)))

	if newPick.HypoID() != h.ID {
		t.Fatalf("expected nearby pick associated to hypo, got hypoID=%q", newPick.HypoID())
	}
}

func TestEvolveIgnoresAlreadyAssociatedPick(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	other := New(40.0, -120.0, 10, 1000, 0.1, nil)
	list := NewList(-1, sink.Discard{})
	list.Add(other)

	claimedPick := pick.New("e3", "C", 1005.3, nil, nil)
	claimedPick.Associate(other.ID, pick.Assoc)

	params := defaultEvolveParams()
	list.AssociateAll([]*Hypo{h, other}, []*pick.Pick{claimedPick}, staticSites(), params)

	tt := travel.NewLinearModel()
	list.Evolve(h, staticSites(), tt.Clone(), params, rand.New(rand.NewSource(2)))

	if claimedPick.HypoID() != other.ID {
		t.Fatal("expected already-associated pick to remain with its original hypo")
	}
}

// TestAssociateAllPrefersHigherAffinityHypo is the coordinating-pass
// counterpart of the former per-hypo associate: given two hypos both within
// distance cutoff of a single candidate pick, the pick must go to the one
// with higher affinity (closer, all else equal) rather than whichever hypo
// happens to run its pass first.
func TestAssociateAllPrefersHigherAffinityHypo(t *testing.T) {
	list := NewList(-1, sink.Discard{})
	near := New(40.0, -120.0, 10, 1000, 0.1, nil)  // site A is ~0.5 deg away
	far := New(42.0, -120.0, 10, 1000, 0.1, nil)   // site A is ~1.5 deg away
	list.Add(near)
	list.Add(far)

	candidate := pick.New("e1", "A", 1000.5, nil, nil)

	params := defaultEvolveParams()
	params.DistanceCutoffMinimum = 1000 // keep both hypos within cutoff
	list.AssociateAll([]*Hypo{near, far}, []*pick.Pick{candidate}, staticSites(), params)

	if candidate.HypoID() != near.ID {
		t.Fatalf("expected pick to associate with the nearer, higher-affinity hypo, got %q", candidate.HypoID())
	}
}

// TestAssociateAllHonorsAffinityExponent runs PickAffinityExpFactor at both
// extremes: at 0 the distance term is 1 for both hypos and the pick is still
// associated to one of them; at 50 the distance penalty dominates and the
// nearer hypo must win.
func TestAssociateAllHonorsAffinityExponent(t *testing.T) {
	near := New(40.0, -120.0, 10, 1000, 0.1, nil)
	far := New(41.2, -120.0, 10, 1000, 0.1, nil)
	candidate := pick.New("e1", "A", 1000.5, nil, nil)

	flat := defaultEvolveParams()
	flat.DistanceCutoffMinimum = 1000
	flat.PickAffinityExpFactor = 0 // distance term degenerates to 1: pure time-residual tie

	sharp := flat
	sharp.PickAffinityExpFactor = 50 // distance term dominates heavily

	listFlat := NewList(-1, sink.Discard{})
	pFlat := pick.New("e1", "A", 1000.5, nil, nil)
	listFlat.AssociateAll([]*Hypo{near, far}, []*pick.Pick{pFlat}, staticSites(), flat)
	if pFlat.HypoID() == "" {
		t.Fatal("expected candidate pick associated under flat affinity")
	}

	listSharp := NewList(-1, sink.Discard{})
	listSharp.AssociateAll([]*Hypo{near, far}, []*pick.Pick{candidate}, staticSites(), sharp)
	if candidate.HypoID() != near.ID {
		t.Fatalf("expected sharp exponent to strongly prefer nearer hypo, got %q", candidate.HypoID())
	}
}

func TestEvolveAssociatesMatchingCorrelation(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	list := NewList(-1, sink.Discard{})
	corrs := correlation.NewList(-1, 2.5, 0.5, 900)
	list.SetCorrelationSource(corrs)

	c := correlation.New("A", 1000.2, 40.01, -120.01, 10, 0)
	corrs.Add(c)

	tt := travel.NewLinearModel()
	list.Evolve(h, staticSites(), tt.Clone(), defaultEvolveParams(), rand.New(rand.NewSource(4)))

	if c.HypoID() != h.ID {
		t.Fatalf("expected matching correlation associated to hypo, got hypoID=%q", c.HypoID())
	}
}

func TestEvolveLeavesNonMatchingCorrelationUnassociated(t *testing.T) {
	h := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	list := NewList(-1, sink.Discard{})
	corrs := correlation.NewList(-1, 2.5, 0.5, 900)
	list.SetCorrelationSource(corrs)

	c := correlation.New("A", 1000.2, 55.0, -120.01, 10, 0) // far outside the distance window
	corrs.Add(c)

	tt := travel.NewLinearModel()
	list.Evolve(h, staticSites(), tt.Clone(), defaultEvolveParams(), rand.New(rand.NewSource(4)))

	if c.HypoID() != "" {
		t.Fatal("expected non-matching correlation to remain unassociated")
	}
}

func TestTryMergeAbsorbsLowerStackHypo(t *testing.T) {
	list := NewList(-1, sink.Discard{})
	strong := New(40.0, -120.0, 10, 1000, 0.1, seedPicks())
	strong.stack = 5.0

	weakPicks := []*pick.Pick{pick.New("e4", "D", 1005.4, nil, nil)}
	weak := New(40.01, -120.01, 10, 1000.5, 0.1, weakPicks)
	weak.stack = 1.0

	list.Add(strong)
	list.Add(weak)

	params := defaultEvolveParams()
	merged := list.tryMerge(strong, weak, params)
	if merged {
		t.Fatal("expected strong hypo to survive, not be reported as merged away")
	}
	if weak.State() != Canceled {
		t.Fatal("expected weaker hypo canceled")
	}
	if weakPicks[0].HypoID() != strong.ID {
		t.Fatal("expected weak hypo's picks reassigned to survivor")
	}
	if _, ok := list.Get(weak.ID); ok {
		t.Fatal("expected weak hypo removed from list")
	}
}

func TestHypoListBoundedEviction(t *testing.T) {
	var evicted []*Hypo
	list := NewList(2, sink.Discard{})
	list.OnEvict = func(h *Hypo) { evicted = append(evicted, h) }

	for i := 0; i < 4; i++ {
		list.Add(New(40.0, -120.0, 10, float64(i), 0.1, nil))
	}
	if list.Len() != 2 {
		t.Fatalf("expected bounded at 2, got %d", list.Len())
	}
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evicted, got %d", len(evicted))
	}
}
