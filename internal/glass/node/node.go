// Package node implements the detection-web Node: one candidate source
// location wired to its N closest stations, used to stack per-station pick
// contributions into nucleation triggers.
package node

import (
	"math"
	"sort"

	"glass3/internal/check"
	"glass3/internal/glass/geo"
	"glass3/internal/glass/pick"
	"glass3/internal/glass/travel"
)

// StationLink pairs a Node with one of its wired stations: the nominal
// travel time from this node's location to that station for the given
// phase, computed once at web-build time.
type StationLink struct {
	SiteID      string
	Phase       string
	TravelTime  float64 // seconds
	DistanceDeg float64
}

// Node is one grid point in a detection Web.
type Node struct {
	ID        string
	WebID     string
	Latitude  float64
	Longitude float64
	Depth     float64

	// Resolution is the node's grid spacing in km. It is copied onto each
	// Trigger, where the web uses it as the distance within which
	// triggers are clustered.
	Resolution float64

	// Links is sorted by TravelTime ascending; EvaluateStack scans every
	// link and takes Links[0] as the nearest station for its distance
	// taper.
	Links []StationLink
}

// CandidateSite is the minimal shape Build needs from a site to rank it by
// distance; kept decoupled from the site package so node has no import
// cycle with the station registry.
type CandidateSite struct {
	ID        string
	Latitude  float64
	Longitude float64
}

// Build picks the numStations closest enabled sites to (lat, lon, depth)
// and computes each one's nominal best-phase travel time, producing the
// Node's Links sorted by travel time.
func Build(id, webID string, lat, lon, depth, resolutionKM float64, sites []CandidateSite, numStations int, tt travel.Provider) *Node {
	check.Assert(tt != nil, "node: nil travel-time provider")
	type ranked struct {
		site  CandidateSite
		delta float64
	}
	candidates := make([]ranked, 0, len(sites))
	for _, s := range sites {
		candidates = append(candidates, ranked{site: s, delta: geo.DeltaDeg(lat, lon, s.Latitude, s.Longitude)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].delta < candidates[j].delta })

	if numStations > len(candidates) {
		numStations = len(candidates)
	}

	n := &Node{
		ID:         id,
		WebID:      webID,
		Latitude:   lat,
		Longitude:  lon,
		Depth:      depth,
		Resolution: resolutionKM,
	}

	tt.SetOrigin(lat, lon, depth)
	for i := 0; i < numStations; i++ {
		r := candidates[i]
		phase, t, ok := tt.BestT(r.delta)
		if !ok {
			continue
		}
		n.Links = append(n.Links, StationLink{
			SiteID:      r.site.ID,
			Phase:       phase,
			TravelTime:  t,
			DistanceDeg: r.delta,
		})
	}
	sort.Slice(n.Links, func(i, j int) bool { return n.Links[i].TravelTime < n.Links[j].TravelTime })
	return n
}

// HasSite reports whether siteID is wired to this node, and its link.
func (n *Node) HasSite(siteID string) (StationLink, bool) {
	for _, l := range n.Links {
		if l.SiteID == siteID {
			return l, true
		}
	}
	return StationLink{}, false
}

// PicksBySiteWindow resolves candidate picks for one station link within a
// time window; implemented by the caller (pick.List.FindBySiteWithin),
// injected so Node stays free of a direct dependency on the global pick
// arena's locking.
type PicksBySiteWindow func(siteID string, tmin, tmax float64) []*pick.Pick

// StackResult is the outcome of evaluating this node's stack for a
// candidate origin time derived from one triggering pick.
type StackResult struct {
	Stack        float64
	Count        int
	OriginTime   float64
	Contributing map[int64]struct{}
}

// distanceTaper down-weights contributions from far-out stations in the
// wired set, relative to the closest one.
func distanceTaper(distDeg, nearestDeg float64) float64 {
	if nearestDeg <= 0 {
		nearestDeg = 0.01
	}
	ratio := nearestDeg / (distDeg + 0.01)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// EvaluateStack computes the Gaussian stack for the candidate origin
// time implied by a pick arriving at incomingSiteID at time tp. sigma is
// NucleationSecondsPerSigma; windowSigmas bounds the contribution window to
// +/- windowSigmas*sigma seconds around each linked station's predicted
// arrival.
func (n *Node) EvaluateStack(incomingSiteID string, tp float64, lookup PicksBySiteWindow, sigma, windowSigmas float64) (StackResult, bool) {
	incoming, ok := n.HasSite(incomingSiteID)
	if !ok {
		return StackResult{}, false
	}
	originTime := tp - incoming.TravelTime

	result := StackResult{OriginTime: originTime, Contributing: make(map[int64]struct{})}
	nearest := 0.0
	if len(n.Links) > 0 {
		nearest = n.Links[0].DistanceDeg
	}

	for _, link := range n.Links {
		predicted := originTime + link.TravelTime
		window := sigma * windowSigmas
		picks := lookup(link.SiteID, predicted-window, predicted+window)
		for _, p := range picks {
			residual := p.ArrivalTime - predicted
			gauss := math.Exp(-0.5 * (residual / sigma) * (residual / sigma))
			weight := distanceTaper(link.DistanceDeg, nearest)
			result.Stack += gauss * weight
			result.Contributing[p.ID] = struct{}{}
			result.Count++
		}
	}
	return result, true
}
