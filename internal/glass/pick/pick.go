// Package pick implements the Pick entity and its bounded, time-ordered
// store. Picks are stored in PickList; a Hypo holds pointers to its picks,
// while a Site's ring holds pick IDs and a Pick refers back to its Hypo
// only by hypo id, so neither back-link is a pointer.
package pick

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a Pick's assignment lifecycle state.
type State int32

const (
	Unassoc State = iota
	Nucleating
	Assoc
)

func (s State) String() string {
	switch s {
	case Unassoc:
		return "unassoc"
	case Nucleating:
		return "nucleating"
	case Assoc:
		return "assoc"
	default:
		return "unknown"
	}
}

var idSeq atomic.Int64

// NextID returns a process-wide monotonically increasing pick id.
func NextID() int64 { return idSeq.Add(1) }

// Pick is an immutable observation (once constructed) plus a mutable,
// weakly-held association to at most one owning Hypo.
type Pick struct {
	ID          int64
	ExternalID  string
	SiteID      string // network/station/channel/location key, see site.Key
	ArrivalTime float64
	BackAzimuth *float64
	Slowness    *float64

	mu     sync.Mutex
	hypoID string // weak back-reference; "" means unassociated
	state  State
}

// New constructs an immutable Pick observation in the Unassoc state. A
// message arriving without an external id gets a generated one so every
// pick stays addressable in emitted reports.
func New(externalID, siteID string, arrivalTime float64, backAzimuth, slowness *float64) *Pick {
	if externalID == "" {
		externalID = uuid.NewString()
	}
	return &Pick{
		ID:          NextID(),
		ExternalID:  externalID,
		SiteID:      siteID,
		ArrivalTime: arrivalTime,
		BackAzimuth: backAzimuth,
		Slowness:    slowness,
		state:       Unassoc,
	}
}

// HypoID returns the current weak back-reference, or "" if unassociated.
func (p *Pick) HypoID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hypoID
}

// State returns the pick's current assignment state.
func (p *Pick) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Associate sets the pick's hypo back-reference and state atomically with
// respect to other Associate/Clear calls.
func (p *Pick) Associate(hypoID string, state State) {
	p.mu.Lock()
	p.hypoID = hypoID
	p.state = state
	p.mu.Unlock()
}

// Clear removes the hypo back-reference, returning the pick to Unassoc.
// Called when a hypo prunes the pick and when a hypo releases all of its
// picks on cancellation.
func (p *Pick) Clear() {
	p.mu.Lock()
	p.hypoID = ""
	p.state = Unassoc
	p.mu.Unlock()
}

// Replace overwrites this pick's observation fields in place, preserving
// its hypo link; the AllowPickUpdates duplicate-replacement path.
func (p *Pick) Replace(arrivalTime float64, backAzimuth, slowness *float64) {
	p.mu.Lock()
	p.ArrivalTime = arrivalTime
	p.BackAzimuth = backAzimuth
	p.Slowness = slowness
	p.mu.Unlock()
}

// byArrival sorts picks by arrival time then id, the list's canonical
// ordering.
func byArrival(ps []*Pick) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].ArrivalTime != ps[j].ArrivalTime {
			return ps[i].ArrivalTime < ps[j].ArrivalTime
		}
		return ps[i].ID < ps[j].ID
	})
}
