// Package correlation implements the Correlation entity and its bounded
// store: a pick-like observation carrying a prior hypocentral
// estimate, which decays with age and is aged out by a dedicated scan
// thread rather than site-ring eviction.
package correlation

import (
	"math"
	"sync"
	"sync/atomic"

	"glass3/internal/glass/geo"
)

var idSeq atomic.Int64

// NextID returns a process-wide monotonically increasing correlation id.
func NextID() int64 { return idSeq.Add(1) }

// Correlation is a prior hypocentral estimate (teleseismic detection or
// cross-correlation match) offered as association evidence.
type Correlation struct {
	ID          int64
	SiteID      string
	Time        float64 // seconds since epoch, analogous to Pick.ArrivalTime
	Latitude    float64
	Longitude   float64
	Depth       float64
	CreatedTime float64 // wall-clock seconds when this correlation entered glass

	mu     sync.Mutex
	hypoID string
}

// New constructs a Correlation.
func New(siteID string, time, lat, lon, depth, createdTime float64) *Correlation {
	return &Correlation{
		ID:          NextID(),
		SiteID:      siteID,
		Time:        time,
		Latitude:    lat,
		Longitude:   lon,
		Depth:       depth,
		CreatedTime: createdTime,
	}
}

func (c *Correlation) HypoID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hypoID
}

func (c *Correlation) Associate(hypoID string) {
	c.mu.Lock()
	c.hypoID = hypoID
	c.mu.Unlock()
}

func (c *Correlation) Clear() {
	c.mu.Lock()
	c.hypoID = ""
	c.mu.Unlock()
}

// List is the bounded, time-ordered correlation store.
type List struct {
	mu sync.RWMutex

	byID  map[int64]*Correlation
	order []*Correlation

	maxSize    int
	timeWindow float64
	distWindow float64
	cancelAge  float64

	OnEvict func(*Correlation)
}

// NewList constructs an empty correlation list.
func NewList(maxSize int, timeWindow, distWindow, cancelAge float64) *List {
	return &List{
		byID:       make(map[int64]*Correlation),
		maxSize:    maxSize,
		timeWindow: timeWindow,
		distWindow: distWindow,
		cancelAge:  cancelAge,
	}
}

func byTime(cs []*Correlation) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && less(cs[j], cs[j-1]); j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

func less(a, b *Correlation) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.ID < b.ID
}

// Add inserts a correlation, evicting the oldest beyond capacity.
func (l *List) Add(c *Correlation) {
	l.mu.Lock()
	l.byID[c.ID] = c
	l.order = append(l.order, c)
	byTime(l.order)

	var evicted []*Correlation
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
}

// Remove deletes a correlation by ID.
func (l *List) Remove(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byID[id]
	if !ok {
		return false
	}
	delete(l.byID, id)
	for i, q := range l.order {
		if q == c {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// ExpireOlderThan removes, and returns, every unassociated correlation
// older than CorrelationCancelAge, the work of the stale-scan thread.
func (l *List) ExpireOlderThan(nowWallClock float64) []*Correlation {
	l.mu.Lock()
	var expired []*Correlation
	kept := l.order[:0:0]
	for _, c := range l.order {
		age := nowWallClock - c.CreatedTime
		if age > l.cancelAge && c.HypoID() == "" {
			expired = append(expired, c)
			delete(l.byID, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	l.order = kept
	l.mu.Unlock()
	return expired
}

// Len returns the number of correlations currently stored.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}

// All returns a snapshot copy of every stored correlation, in time order,
// what HypoList.associateCorrelations scans for evidence matching a hypo's
// current solution.
func (l *List) All() []*Correlation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Correlation, len(l.order))
	copy(out, l.order)
	return out
}

// Matches reports whether a correlation at (lat, lon) within timeWindow
// seconds and distWindow degrees of (t, lat0, lon0) would be considered a
// duplicate/match per CorrelationTimeWindow/CorrelationDistanceWindow.
func (l *List) Matches(t, lat, lon, t0, lat0, lon0 float64) bool {
	if math.Abs(t-t0) > l.timeWindow {
		return false
	}
	return geo.DeltaDeg(lat, lon, lat0, lon0) <= l.distWindow
}
