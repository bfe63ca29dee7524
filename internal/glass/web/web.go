// Package web implements the Web, WebList, and Trigger entities: a
// grid of nodes sharing one nucleation configuration, the per-web scan
// that stacks pick contributions into triggers, and tie-breaking between
// simultaneously-firing nodes in the same cluster.
package web

import (
	"math"
	"sort"
	"sync"

	"glass3/internal/glass/geo"
	"glass3/internal/glass/node"
	"glass3/internal/glass/pick"
)

// Web owns a dense vector of Nodes sharing one nucleation threshold.
type Web struct {
	ID                           string
	NucleationStackThreshold     float64
	NucleationDataCountThreshold int
	Nodes                        []*node.Node
	nodesBySite                  map[string][]*node.Node

	mu               sync.Mutex
	recentTriggerSec map[string]int64 // nodeID -> last-fired origin-time second, for per-web dedup
}

// New constructs an empty Web.
func New(id string, stackThreshold float64, dataCountThreshold int) *Web {
	return &Web{
		ID:                           id,
		NucleationStackThreshold:     stackThreshold,
		NucleationDataCountThreshold: dataCountThreshold,
		nodesBySite:                  make(map[string][]*node.Node),
		recentTriggerSec:             make(map[string]int64),
	}
}

// AddNode wires a node into the web's scan index.
func (w *Web) AddNode(n *node.Node) {
	w.Nodes = append(w.Nodes, n)
	for _, l := range n.Links {
		w.nodesBySite[l.SiteID] = append(w.nodesBySite[l.SiteID], n)
	}
}

// RemoveSite unwires a site from every node it was linked to, the
// incremental re-wiring needed when a site becomes unusable.
func (w *Web) RemoveSite(siteID string) {
	delete(w.nodesBySite, siteID)
	for _, n := range w.Nodes {
		kept := n.Links[:0:0]
		for _, l := range n.Links {
			if l.SiteID != siteID {
				kept = append(kept, l)
			}
		}
		n.Links = kept
	}
}

func dedupeKey(originTime float64) int64 {
	return int64(math.Floor(originTime))
}

// OnPick scans every node wired to the pick's site, returning triggers for
// nodes whose stack exceeds threshold. Tie-breaking between multiple firing
// nodes in the same cluster keeps the node with the highest stack, then the
// smallest id. Nodes are considered clustered when their centers are within
// one node resolution of each other.
func (w *Web) OnPick(p *pick.Pick, lookup node.PicksBySiteWindow, sigma, windowSigmas float64) []*Trigger {
	nodes := w.nodesBySite[p.SiteID]
	if len(nodes) == 0 {
		return nil
	}

	var candidates []*Trigger
	for _, n := range nodes {
		res, ok := n.EvaluateStack(p.SiteID, p.ArrivalTime, lookup, sigma, windowSigmas)
		if !ok {
			continue
		}
		if res.Stack < w.NucleationStackThreshold || res.Count < w.NucleationDataCountThreshold {
			continue
		}
		if w.isDuplicate(n.ID, res.OriginTime) {
			continue
		}
		ids := make([]int64, 0, len(res.Contributing))
		for id := range res.Contributing {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		candidates = append(candidates, &Trigger{
			NodeID:     n.ID,
			WebID:      w.ID,
			Latitude:   n.Latitude,
			Longitude:  n.Longitude,
			Depth:      n.Depth,
			Resolution: n.Resolution,
			OriginTime: res.OriginTime,
			Stack:      res.Stack,
			PickIDs:    ids,
		})
	}

	return w.reduceCluster(candidates)
}

// reduceCluster applies the tie-break across triggers whose nodes lie
// within one resolution of one another, keeping only the best per cluster.
func (w *Web) reduceCluster(candidates []*Trigger) []*Trigger {
	if len(candidates) <= 1 {
		w.markFired(candidates)
		return candidates
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Stack != candidates[j].Stack {
			return candidates[i].Stack > candidates[j].Stack
		}
		return candidates[i].NodeID < candidates[j].NodeID
	})

	var kept []*Trigger
	for _, c := range candidates {
		clustered := false
		for _, k := range kept {
			resolutionDeg := k.Resolution / geo.EarthRadiusKM * 180.0 / math.Pi
			if geo.DeltaDeg(k.Latitude, k.Longitude, c.Latitude, c.Longitude) <= resolutionDeg {
				clustered = true
				break
			}
		}
		if !clustered {
			kept = append(kept, c)
		}
	}
	w.markFired(kept)
	return kept
}

func (w *Web) isDuplicate(nodeID string, originTime float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	sec := dedupeKey(originTime)
	if last, ok := w.recentTriggerSec[nodeID]; ok && last == sec {
		return true
	}
	return false
}

func (w *Web) markFired(triggers []*Trigger) {
	if len(triggers) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range triggers {
		w.recentTriggerSec[t.NodeID] = dedupeKey(t.OriginTime)
	}
}
