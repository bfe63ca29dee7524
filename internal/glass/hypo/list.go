package hypo

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"glass3/internal/glass/anneal"
	"glass3/internal/glass/correlation"
	"glass3/internal/glass/geo"
	"glass3/internal/glass/messages"
	"glass3/internal/glass/pick"
	"glass3/internal/glass/sink"
	"glass3/internal/glass/travel"
)

// SiteLookup resolves a site's position by the key stored on a Pick,
// injected so List has no direct dependency on the site package's locking
// (mirrors node.PicksBySiteWindow's injection for the same reason).
type SiteLookup func(siteID string) (lat, lon float64, ok bool)

// EvolveParams bundles the tunables the evolve pass needs.
type EvolveParams struct {
	AssociationSDCutoff       float64
	PruningSDCutoff           float64
	PickAffinityExpFactor     float64
	DistanceCutoffFactor      float64
	DistanceCutoffRatio       float64
	DistanceCutoffMinimum     float64
	HypoProcessCountLimit     int
	NucleationDataCountThresh int
	ReportingStackThreshold   float64
	ReportingDataThreshold    int
	EventFragmentAzimuthDeg   float64
	EventFragmentDepthKM      float64
	HypoMergingTimeWindowSec  float64
	HypoMergingDistanceDeg    float64
	RelocationIterations      int
	AssociationSigmaSeconds   float64
	MaximumDepthKM            float64
	UseL1ResidualLocator      bool

	// AnnealOnStep, when non-nil, receives every AnnealStepInterval-th
	// relocation candidate, the graphics-dump sampling hook, passed
	// straight through to anneal.Params.
	AnnealOnStep       func(anneal.StepSample)
	AnnealStepInterval int
}

// List is the bounded store and evolve engine driving every Hypo.
// Bounded by MaxNumHypos, eviction oldest-first by creation time;
// mirrors pick.List's bounded, OnEvict-notified shape.
type List struct {
	mu      sync.RWMutex
	byID    map[string]*Hypo
	order   []*Hypo
	maxSize int

	OnEvict func(*Hypo)

	sink sink.Sink

	// associateMu serializes every pick/correlation claim decision across
	// concurrently-evolving hypos, so AssociateAll's single coordinating
	// pass (and associateCorrelations' per-hypo pass) never race each
	// other onto the same candidate.
	associateMu sync.Mutex
	corrs       *correlation.List
}

// NewList constructs an empty HypoList. s may be sink.Discard{} in tests.
func NewList(maxSize int, s sink.Sink) *List {
	if s == nil {
		s = sink.Discard{}
	}
	return &List{
		byID:    make(map[string]*Hypo),
		maxSize: maxSize,
		sink:    s,
	}
}

// Add registers a new Hypo, evicting the oldest by creation time if the
// list is at capacity; for hypos, creation time is the eviction ordering
// key.
func (l *List) Add(h *Hypo) {
	l.mu.Lock()
	l.byID[h.ID] = h
	l.order = append(l.order, h)
	sort.Slice(l.order, func(i, j int) bool { return l.order[i].createdAt.Before(l.order[j].createdAt) })

	var evicted []*Hypo
	if l.maxSize > 0 {
		for len(l.order) > l.maxSize {
			oldest := l.order[0]
			l.order = l.order[1:]
			delete(l.byID, oldest.ID)
			evicted = append(evicted, oldest)
		}
	}
	l.mu.Unlock()

	for _, e := range evicted {
		e.releaseAllPicks()
		if l.OnEvict != nil {
			l.OnEvict(e)
		}
	}
}

// Remove deletes a Hypo from the list without releasing its picks; used
// by Evolve after a cancel/merge has already released them.
func (l *List) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
	for i, h := range l.order {
		if h.ID == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// SetCorrelationSource wires the correlation store Evolve consults as
// association evidence alongside picks.
// A List without a correlation source just skips that step.
func (l *List) SetCorrelationSource(c *correlation.List) {
	l.corrs = c
}

// Get resolves a Hypo by id.
func (l *List) Get(id string) (*Hypo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.byID[id]
	return h, ok
}

// Len reports how many hypos are currently stored.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// All returns a snapshot of every stored Hypo.
func (l *List) All() []*Hypo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Hypo, len(l.order))
	copy(out, l.order)
	return out
}

// releaseAllPicks clears every pick and correlation this Hypo holds back to
// their unassociated pools, used on cancel and on capacity eviction.
func (h *Hypo) releaseAllPicks() {
	h.mu.Lock()
	picks := make([]*pick.Pick, 0, len(h.picks))
	for _, p := range h.picks {
		picks = append(picks, p)
	}
	corrs := make([]*correlation.Correlation, 0, len(h.corrs))
	for _, c := range h.corrs {
		corrs = append(corrs, c)
	}
	h.picks = make(map[int64]*pick.Pick)
	h.corrs = make(map[int64]*correlation.Correlation)
	h.mu.Unlock()
	for _, p := range picks {
		p.Clear()
	}
	for _, c := range corrs {
		c.Clear()
	}
}

// Outcome reports what Evolve did to h, for the caller's bookkeeping
// (whether to keep re-queueing it for another pass).
type Outcome int

const (
	EvolveContinue Outcome = iota
	EvolvePromoted
	EvolveCanceled
	EvolveMerged
)

// Evolve runs one steady-state pass against h: correlation
// association, relocate, prune, cancel-check, promote-check, merge-check.
// Pick association against the shared unassociated pool does not happen
// here; the caller must run a single AssociateAll pass across every live
// hypo before scheduling each hypo's Evolve, so two hypos evolving
// concurrently never race to claim the same pick.
func (l *List) Evolve(h *Hypo, lookupSite SiteLookup, tt travel.Provider, p EvolveParams, rng *rand.Rand) Outcome {
	h.mu.Lock()
	if h.state == Canceled {
		h.mu.Unlock()
		return EvolveCanceled
	}
	if h.state != Reporting {
		h.state = Processing
	}
	hadNewPicks := h.newPicksSinceCycle.Swap(false)
	if hadNewPicks {
		h.cycleCount = 0
	}
	h.cycleCount++
	h.mu.Unlock()

	l.associateCorrelations(h)

	h.mu.Lock()
	fixed := h.fixed
	h.mu.Unlock()
	if !fixed {
		l.relocate(h, lookupSite, tt, p, rng)
	}

	l.prune(h, lookupSite, tt, p)

	if outcome := l.checkCancel(h, lookupSite, p, hadNewPicks); outcome == Canceled {
		return EvolveCanceled
	}

	l.checkPromote(h, p)

	for _, other := range l.All() {
		if other.ID == h.ID {
			continue
		}
		if l.tryMerge(h, other, p) {
			return EvolveMerged
		}
	}

	h.mu.Lock()
	if h.state == Processing {
		h.state = Pending
	}
	state := h.state
	h.mu.Unlock()
	if state == Reporting {
		return EvolvePromoted
	}
	return EvolveContinue
}

// hypoGeometry is a candidate hypo's distance-cutoff snapshot for one
// AssociateAll pass, computed once per hypo rather than once per candidate
// pick.
type hypoGeometry struct {
	h      *Hypo
	cutoff float64
}

// AssociateAll runs the association scan once across every live
// hypo: for each unassigned pick, it scores every candidate hypo within
// distance cutoff by affinity and assigns the pick to the single highest
// scorer. This is the coordinating pass that must run once per scheduling
// round, before the caller submits each hypo's Evolve to the worker pool;
// running it independently inside each hypo's own Evolve call is exactly
// the race that lets two concurrently-evolving hypos both read a pick as
// Unassoc before either claims it.
func (l *List) AssociateAll(hypos []*Hypo, unassociated []*pick.Pick, lookupSite SiteLookup, p EvolveParams) {
	l.associateMu.Lock()
	defer l.associateMu.Unlock()

	geoms := make([]hypoGeometry, 0, len(hypos))
	for _, h := range hypos {
		h.mu.Lock()
		lat, lon, state := h.lat, h.lon, h.state
		existing := make([]float64, 0, len(h.picks))
		for _, ep := range h.picks {
			if slat, slon, ok := lookupSite(ep.SiteID); ok {
				existing = append(existing, geo.DeltaKM(lat, lon, slat, slon))
			}
		}
		h.mu.Unlock()
		if state == Canceled {
			continue
		}

		median := medianOf(existing)
		cutoff := math.Max(p.DistanceCutoffMinimum, p.DistanceCutoffFactor*median) * p.DistanceCutoffRatio
		if cutoff <= 0 {
			cutoff = p.DistanceCutoffMinimum
		}
		geoms = append(geoms, hypoGeometry{h: h, cutoff: cutoff})
	}

	sigma := p.AssociationSigmaSeconds
	if sigma <= 0 {
		sigma = 1
	}

	for _, candidatePick := range unassociated {
		if candidatePick.State() != pick.Unassoc {
			continue
		}
		slat, slon, ok := lookupSite(candidatePick.SiteID)
		if !ok {
			continue
		}

		var best *Hypo
		bestScore := 0.0
		for _, cand := range geoms {
			cand.h.mu.Lock()
			lat, lon, origin := cand.h.lat, cand.h.lon, cand.h.originTime
			cand.h.mu.Unlock()

			distKM := geo.DeltaKM(lat, lon, slat, slon)
			if distKM > cand.cutoff {
				continue
			}
			residual := candidatePick.ArrivalTime - origin
			if math.Abs(residual)/sigma >= p.AssociationSDCutoff {
				continue
			}
			score := affinity(residual, sigma, distKM, cand.cutoff, p.PickAffinityExpFactor)
			if best == nil || score > bestScore {
				best, bestScore = cand.h, score
			}
		}
		if best == nil {
			continue
		}

		best.mu.Lock()
		best.picks[candidatePick.ID] = candidatePick
		best.mu.Unlock()
		candidatePick.Associate(best.ID, pick.Assoc)
		best.MarkNewPicks()
	}
}

// affinity scores a candidate pick against a hypo:
// a time-residual term discounted by how far out
// toward the distance cutoff the pick sits, raised to PickAffinityExpFactor
// so that tunable sharpens or flattens the distance penalty's influence.
func affinity(residual, sigma, distKM, cutoffKM, expFactor float64) float64 {
	timeTerm := math.Exp(-math.Abs(residual) / sigma)
	ratio := 0.0
	if cutoffKM > 0 {
		ratio = distKM / cutoffKM
	}
	distTerm := math.Pow(math.Exp(-ratio), expFactor)
	return timeTerm * distTerm
}

// associateCorrelations scans the wired correlation source for entries
// matching h's current solution, claiming every unassociated match.
// Guarded by the same associateMu AssociateAll uses, so a correlation is
// never claimed by two hypos evolving concurrently.
func (l *List) associateCorrelations(h *Hypo) {
	if l.corrs == nil {
		return
	}
	l.associateMu.Lock()
	defer l.associateMu.Unlock()

	h.mu.Lock()
	lat, lon, origin, state := h.lat, h.lon, h.originTime, h.state
	h.mu.Unlock()
	if state == Canceled {
		return
	}

	for _, c := range l.corrs.All() {
		if c.HypoID() != "" {
			continue
		}
		if !l.corrs.Matches(c.Time, c.Latitude, c.Longitude, origin, lat, lon) {
			continue
		}
		c.Associate(h.ID)
		h.mu.Lock()
		h.corrs[c.ID] = c
		h.mu.Unlock()
		h.MarkNewPicks()
	}
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// relocate re-derives the hypocenter via annealing using
// p.RelocationIterations iterations. A newly nucleated hypo is located by
// this same pass on its first Evolve; there is no separate nucleation run.
func (l *List) relocate(h *Hypo, lookupSite SiteLookup, tt travel.Provider, p EvolveParams, rng *rand.Rand) {
	h.mu.Lock()
	obs := make([]anneal.Observation, 0, len(h.picks))
	for _, pk := range h.picks {
		if slat, slon, ok := lookupSite(pk.SiteID); ok {
			obs = append(obs, anneal.Observation{PickID: pk.ID, SiteLat: slat, SiteLon: slon, ArrivalTime: pk.ArrivalTime})
		}
	}
	lat, lon, depth, origin := h.lat, h.lon, h.depth, h.originTime
	resolution := math.Max(p.DistanceCutoffMinimum, 10)
	h.mu.Unlock()

	if len(obs) == 0 {
		return
	}

	sol := anneal.Locate(lat, lon, depth, origin, obs, tt, anneal.Params{
		Iterations:     p.RelocationIterations,
		StartRadiusKM:  resolution / 4,
		EndRadiusKM:    math.Max(resolution/40, 0.1),
		StartDeltaTSec: resolution / 10,
		MinAcceptance:  0.1,
		SigmaSeconds:   p.AssociationSigmaSeconds,
		MaximumDepthKM: p.MaximumDepthKM,
		UseL1Residual:  p.UseL1ResidualLocator,
		Rand:           rng,
		OnStep:         p.AnnealOnStep,
		StepInterval:   p.AnnealStepInterval,
	})

	h.mu.Lock()
	h.applyLocationLocked(sol)
	h.mu.Unlock()
}

// prune detaches picks whose standardized residual exceeds PruningSDCutoff,
// clearing their back-reference so they return to the
// unassociated pool.
func (l *List) prune(h *Hypo, lookupSite SiteLookup, tt travel.Provider, p EvolveParams) {
	h.mu.Lock()
	obs := make([]anneal.Observation, 0, len(h.picks))
	for _, pk := range h.picks {
		if slat, slon, ok := lookupSite(pk.SiteID); ok {
			obs = append(obs, anneal.Observation{PickID: pk.ID, SiteLat: slat, SiteLon: slon, ArrivalTime: pk.ArrivalTime})
		}
	}
	lat, lon, depth, origin := h.lat, h.lon, h.depth, h.originTime
	h.mu.Unlock()

	tt.SetOrigin(lat, lon, depth)
	var toDrop []*pick.Pick
	h.mu.Lock()
	for _, pk := range h.picks {
		slat, slon, ok := lookupSite(pk.SiteID)
		if !ok {
			continue
		}
		delta := geo.DeltaDeg(lat, lon, slat, slon)
		_, t, ok := tt.BestT(delta)
		if !ok {
			continue
		}
		residual := pk.ArrivalTime - (origin + t)
		sigma := p.AssociationSigmaSeconds
		if sigma <= 0 {
			sigma = 1
		}
		if math.Abs(residual)/sigma > p.PruningSDCutoff {
			toDrop = append(toDrop, pk)
		}
	}
	for _, pk := range toDrop {
		delete(h.picks, pk.ID)
	}
	h.mu.Unlock()

	for _, pk := range toDrop {
		pk.Clear()
	}
}

// checkCancel applies the cancel conditions.
func (l *List) checkCancel(h *Hypo, lookupSite SiteLookup, p EvolveParams, hadNewPicks bool) State {
	h.mu.Lock()
	count := len(h.picks) + len(h.corrs)
	stack := h.stack
	threshold := h.threshold
	cycle := h.cycleCount
	lat, lon, depth := h.lat, h.lon, h.depth
	azimuths := make([]float64, 0, len(h.picks))
	for _, pk := range h.picks {
		if slat, slon, ok := lookupSite(pk.SiteID); ok {
			azimuths = append(azimuths, geo.Azimuth(lat, lon, slat, slon))
		}
	}
	h.mu.Unlock()

	cancel := false
	reason := ""
	switch {
	case count < p.NucleationDataCountThresh:
		cancel, reason = true, "pick count below threshold"
	case stack < threshold:
		cancel, reason = true, "stack below threshold"
	case cycle >= p.HypoProcessCountLimit && !hadNewPicks:
		cancel, reason = true, "process count limit reached without new data"
	case len(azimuths) > 0 && geo.AzimuthalGap(azimuths) > p.EventFragmentAzimuthDeg && depth > p.EventFragmentDepthKM:
		cancel, reason = true, "event fragment: azimuthal gap and depth exceed thresholds"
	}

	if !cancel {
		return Pending
	}

	h.mu.Lock()
	h.state = Canceled
	h.mu.Unlock()
	h.releaseAllPicks()
	l.Remove(h.ID)
	l.sink.Send(messages.CancelReport{ID: h.ID, Reason: reason}.ToMap())
	return Canceled
}

// checkPromote applies the promotion rule, emitting a message
// through the list's sink on first promotion.
func (l *List) checkPromote(h *Hypo, p EvolveParams) {
	h.mu.Lock()
	alreadyReporting := h.state == Reporting
	stack := h.stack
	count := len(h.picks) + len(h.corrs)
	h.mu.Unlock()

	if alreadyReporting || stack < p.ReportingStackThreshold || count < p.ReportingDataThreshold {
		return
	}

	h.mu.Lock()
	h.state = Reporting
	h.mu.Unlock()

	l.sink.Send(snapshotToReport(h.Snapshot()).ToMap())
}

func snapshotToReport(s Snapshot) messages.HypoReport {
	return messages.HypoReport{
		ID:                     s.ID,
		OriginTime:             s.OriginTime,
		Latitude:               s.Latitude,
		Longitude:              s.Longitude,
		Depth:                  s.Depth,
		Bayes:                  s.Stack,
		NumberOfAssociatedData: len(s.PickIDs),
		PickIDs:                s.PickIDs,
	}
}

// tryMerge absorbs the lower-stack of (h, other) into the higher-stack
// survivor if they lie within the merge windows. Returns
// true if h was the one merged away (Evolve then reports Merged).
func (l *List) tryMerge(h, other *Hypo, p EvolveParams) bool {
	h.mu.Lock()
	hLat, hLon, hOrigin, hStack := h.lat, h.lon, h.originTime, h.stack
	h.mu.Unlock()

	other.mu.Lock()
	oLat, oLon, oOrigin, oStack, oState := other.lat, other.lon, other.originTime, other.stack, other.state
	other.mu.Unlock()

	if oState == Canceled {
		return false
	}
	if math.Abs(hOrigin-oOrigin) > p.HypoMergingTimeWindowSec {
		return false
	}
	if geo.DeltaDeg(hLat, hLon, oLat, oLon) > p.HypoMergingDistanceDeg {
		return false
	}

	survivor, loser := h, other
	if oStack > hStack {
		survivor, loser = other, h
	}

	loser.mu.Lock()
	loser.state = Canceled
	losing := make([]*pick.Pick, 0, len(loser.picks))
	for _, pk := range loser.picks {
		losing = append(losing, pk)
	}
	losingCorrs := make([]*correlation.Correlation, 0, len(loser.corrs))
	for _, c := range loser.corrs {
		losingCorrs = append(losingCorrs, c)
	}
	loser.picks = make(map[int64]*pick.Pick)
	loser.corrs = make(map[int64]*correlation.Correlation)
	loser.mu.Unlock()

	survivor.mu.Lock()
	for _, pk := range losing {
		survivor.picks[pk.ID] = pk
	}
	for _, c := range losingCorrs {
		survivor.corrs[c.ID] = c
	}
	survivor.mu.Unlock()
	for _, pk := range losing {
		pk.Associate(survivor.ID, pick.Assoc)
	}
	for _, c := range losingCorrs {
		c.Associate(survivor.ID)
	}

	l.Remove(loser.ID)
	l.sink.Send(messages.CancelReport{ID: loser.ID, Reason: "merged into " + survivor.ID}.ToMap())
	return loser.ID == h.ID
}
