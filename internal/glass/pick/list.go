package pick

import (
	"math"
	"sync"
)

// AddResult reports what Add did with an inbound pick.
type AddResult int

const (
	Inserted AddResult = iota
	Updated
	Rejected
)

// List is the bounded, time-ordered, deduplicating pick store.
// Picks are stored by reference and the same pointers are handed out to
// callers; hypos keep them after the List's lock is released.
type List struct {
	mu sync.RWMutex

	byID  map[int64]*Pick
	order []*Pick // sorted by arrival time, secondary id; see byArrival

	maxSize         int // <= 0 means unbounded
	duplicateWindow float64
	allowUpdates    bool

	// OnEvict is invoked (outside the list's lock) for every pick dropped
	// by a capacity eviction, so HypoList can clear its own references.
	// Eviction runs synchronously inside Add and never fails the call.
	OnEvict func(*Pick)

	// dispatch is the nucleation pool's inbound job channel; every
	// admitted pick is offered here.
	dispatch chan<- *Pick
}

// NewList constructs an empty pick list. dispatch may be nil in tests that
// don't exercise nucleation.
func NewList(maxSize int, duplicateWindow float64, allowUpdates bool, dispatch chan<- *Pick) *List {
	return &List{
		byID:            make(map[int64]*Pick),
		maxSize:         maxSize,
		duplicateWindow: duplicateWindow,
		allowUpdates:    allowUpdates,
		dispatch:        dispatch,
	}
}

// Add inserts a new pick, handling the duplicate-suppression and
// update-in-place rules and the bounded-size eviction.
// It never blocks on nucleation dispatch: the job
// channel is written to with a non-blocking send, matching the
// fire-and-forget fan-out shape the rest of the engine uses for jobs.
func (l *List) Add(p *Pick) (*Pick, AddResult) {
	l.mu.Lock()

	if existing := l.findDuplicateLocked(p.SiteID, p.ArrivalTime); existing != nil {
		if !l.allowUpdates {
			l.mu.Unlock()
			return existing, Rejected
		}
		existing.Replace(p.ArrivalTime, p.BackAzimuth, p.Slowness)
		l.resortLocked()
		l.mu.Unlock()
		return existing, Updated
	}

	l.byID[p.ID] = p
	l.order = append(l.order, p)
	byArrival(l.order)

	var evicted []*Pick
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
		if l.OnEvict != nil {
			l.OnEvict(e)
		}
	}

	if l.dispatch != nil {
		select {
		case l.dispatch <- p:
		default:
		}
	}

	return p, Inserted
}

// findDuplicateLocked returns an existing pick at the same site within the
// duplicate window, or nil. Caller holds l.mu.
func (l *List) findDuplicateLocked(siteID string, arrival float64) *Pick {
	for _, p := range l.byID {
		if p.SiteID != siteID {
			continue
		}
		if math.Abs(p.ArrivalTime-arrival) < l.duplicateWindow {
			return p
		}
	}
	return nil
}

func (l *List) resortLocked() { byArrival(l.order) }

// Get resolves a pick by ID.
func (l *List) Get(id int64) (*Pick, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byID[id]
	return p, ok
}

// Remove deletes a pick from the list. A hypo releasing a pick back to
// the unassociated pool does not remove it from PickList; only capacity
// eviction and explicit cancellation do.
func (l *List) Remove(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.byID[id]
	if !ok {
		return false
	}
	delete(l.byID, id)
	for i, q := range l.order {
		if q == p {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// FindWithin returns every pick with arrival time in [t0, t1], ordered.
func (l *List) FindWithin(t0, t1 float64) []*Pick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Pick
	for _, p := range l.order {
		if p.ArrivalTime >= t0 && p.ArrivalTime <= t1 {
			out = append(out, p)
		}
	}
	return out
}

// FindBySiteWithin returns every pick from one site with arrival time in
// [t0, t1], ordered. This is the per-link lookup node stacking uses: each
// StationLink only ever contributes picks observed at its own station.
func (l *List) FindBySiteWithin(siteID string, t0, t1 float64) []*Pick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Pick
	for _, p := range l.order {
		if p.SiteID == siteID && p.ArrivalTime >= t0 && p.ArrivalTime <= t1 {
			out = append(out, p)
		}
	}
	return out
}

// Unassociated returns every pick currently in the Unassoc state, the pool
// the associate pass scans.
func (l *List) Unassociated() []*Pick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Pick
	for _, p := range l.order {
		if p.State() == Unassoc {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of picks currently stored.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// All returns a snapshot copy of every stored pick in arrival order.
func (l *List) All() []*Pick {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Pick, len(l.order))
	copy(out, l.order)
	return out
}
