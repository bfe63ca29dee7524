// Package hypo implements the Hypo entity and HypoList evolve loop:
// the mutable hypocenter solution that associates picks, relocates
// via simulated annealing, prunes outliers, and either cancels, reports,
// or merges with a nearby solution each pass.
package hypo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"glass3/internal/glass/anneal"
	"glass3/internal/glass/correlation"
	"glass3/internal/glass/pick"
)

// State is a Hypo's lifecycle state.
type State int32

const (
	Pending State = iota
	Processing
	Reporting
	Canceled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Reporting:
		return "reporting"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// NewID returns a fresh hypo id.
func NewID() string { return uuid.NewString() }

// Hypo is one candidate hypocenter, mutable under its own mutex. Its pick
// collection is authoritative: a pick associated with this Hypo always
// appears in picks, and Clear is called on a pick the moment it is pruned
// or the Hypo is canceled.
type Hypo struct {
	ID string

	mu         sync.Mutex
	lat        float64
	lon        float64
	depth      float64
	originTime float64
	stack      float64
	threshold  float64
	fixed      bool
	state      State
	cycleCount int
	createdAt  time.Time
	picks      map[int64]*pick.Pick
	corrs      map[int64]*correlation.Correlation

	newPicksSinceCycle atomic.Bool
}

// New constructs a Hypo seeded from a nucleation Trigger.
func New(lat, lon, depth, originTime, threshold float64, seedPicks []*pick.Pick) *Hypo {
	h := &Hypo{
		ID:         NewID(),
		lat:        lat,
		lon:        lon,
		depth:      depth,
		originTime: originTime,
		threshold:  threshold,
		state:      Pending,
		createdAt:  time.Now(),
		picks:      make(map[int64]*pick.Pick, len(seedPicks)),
		corrs:      make(map[int64]*correlation.Correlation),
	}
	for _, p := range seedPicks {
		h.picks[p.ID] = p
		p.Associate(h.ID, pick.Nucleating)
	}
	return h
}

// Snapshot is a read-only copy of a Hypo's solution, safe to pass across
// goroutines without holding the Hypo's lock.
type Snapshot struct {
	ID         string
	Latitude   float64
	Longitude  float64
	Depth      float64
	OriginTime float64
	Stack      float64
	State      State
	CycleCount int
	PickIDs    []int64
	CreatedAt  time.Time
}

// Snapshot copies the Hypo's current solution.
func (h *Hypo) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int64, 0, len(h.picks))
	for id := range h.picks {
		ids = append(ids, id)
	}
	return Snapshot{
		ID:         h.ID,
		Latitude:   h.lat,
		Longitude:  h.lon,
		Depth:      h.depth,
		OriginTime: h.originTime,
		Stack:      h.stack,
		State:      h.state,
		CycleCount: h.cycleCount,
		PickIDs:    ids,
		CreatedAt:  h.createdAt,
	}
}

// State returns the Hypo's current lifecycle state.
func (h *Hypo) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// PickCount returns the number of picks currently associated.
func (h *Hypo) PickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.picks)
}

// DetachPick removes a single pick from this Hypo's collection without
// touching the pick itself. Called when PickList evicts a pick out from
// under an associated Hypo (a pick's back-reference must never point to
// a Hypo that no longer holds it).
func (h *Hypo) DetachPick(id int64) {
	h.mu.Lock()
	delete(h.picks, id)
	h.mu.Unlock()
}

// DetachCorrelation removes a single correlation from this Hypo's
// collection without touching the correlation itself, the same-shaped
// counterpart to DetachPick for CorrelationList capacity eviction.
func (h *Hypo) DetachCorrelation(id int64) {
	h.mu.Lock()
	delete(h.corrs, id)
	h.mu.Unlock()
}

// Stack returns the Hypo's current Bayesian stack value.
func (h *Hypo) Stack() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stack
}

// SetFixed marks a Hypo as externally pinned (e.g. a Detection import),
// exempting it from relocation during evolve; Detection hypocenters are
// trusted and never relocated.
func (h *Hypo) SetFixed(v bool) {
	h.mu.Lock()
	h.fixed = v
	h.mu.Unlock()
}

// MarkNewPicks flags that a pick arrived since the last evolve cycle,
// which resets the Hypo's idle cycle count toward HypoProcessCountLimit.
func (h *Hypo) MarkNewPicks() { h.newPicksSinceCycle.Store(true) }

// Threshold returns the Bayesian stack threshold this Hypo inherited from
// its nucleating web at construction, used by the evolve loop's
// cancel check instead of a single engine-wide constant.
func (h *Hypo) Threshold() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threshold
}

// applyLocationLocked updates the Hypo's solution in place after an annealing
// pass. Called with h.mu held.
func (h *Hypo) applyLocationLocked(sol anneal.Solution) {
	h.lat = sol.Latitude
	h.lon = sol.Longitude
	h.depth = sol.Depth
	h.originTime = sol.OriginTime
	h.stack = sol.StackScore
}
