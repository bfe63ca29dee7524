// Package glass implements the orchestrator: the component that owns
// every list and pool, routes inbound messages to the right handler, and
// answers health checks.
package glass

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"glass3/internal/check"
	"glass3/internal/config"
	"glass3/internal/debugstore"
	"glass3/internal/glass/anneal"
	"glass3/internal/glass/correlation"
	"glass3/internal/glass/detection"
	"glass3/internal/glass/geo"
	"glass3/internal/glass/glasspool"
	"glass3/internal/glass/hypo"
	"glass3/internal/glass/messages"
	"glass3/internal/glass/node"
	"glass3/internal/glass/pick"
	"glass3/internal/glass/site"
	"glass3/internal/glass/sink"
	"glass3/internal/glass/travel"
	"glass3/internal/glass/web"
)

var tracer trace.Tracer = otel.Tracer("glass3/internal/glass/glass")

// Glass is the engine orchestrator: the process-wide set of lists, webs,
// and worker pools, wired together at construction and driven by Dispatch.
type Glass struct {
	Tunables *config.Live
	Sites    *site.List
	Picks    *pick.List
	Webs     *web.List
	Hypos    *hypo.List
	Corrs    *correlation.List
	Sink     sink.Sink

	travelMaster travel.Provider
	graphics     *debugstore.Store

	nucleationPool *glasspool.Pool
	evolvePool     *glasspool.Pool
	webPool        *glasspool.Pool
	scanPool       *glasspool.Pool

	pickJobs chan *pick.Pick
}

// New wires a Glass instance. travelMaster is not assumed thread-safe;
// it is cloned for every evolve, nucleation and web-build job.
func New(t *config.Live, s sink.Sink, travelMaster travel.Provider) *Glass {
	check.Assert(travelMaster != nil, "glass: nil travel-time provider")
	tun := t.Get()
	if s == nil {
		s = sink.Discard{}
	}

	g := &Glass{
		Tunables:     t,
		Sites:        site.NewList(),
		Webs:         web.NewList(),
		Hypos:        hypo.NewList(tun.MaximumNumberOfHypos, s),
		Corrs:        correlation.NewList(tun.MaximumNumberOfCorrelations, tun.CorrelationTimeWindow, tun.CorrelationDistanceWindow, tun.CorrelationCancelAge),
		Sink:         s,
		travelMaster: travelMaster,
		pickJobs:     make(chan *pick.Pick, 4096),
	}
	g.Picks = pick.NewList(tun.MaximumNumberOfPicks, tun.PickDuplicateWindow, tun.AllowPickUpdates, g.pickJobs)
	g.Picks.OnEvict = func(p *pick.Pick) {
		if hid := p.HypoID(); hid != "" {
			if h, ok := g.Hypos.Get(hid); ok {
				h.DetachPick(p.ID)
			}
		}
	}
	g.Corrs.OnEvict = func(c *correlation.Correlation) {
		if hid := c.HypoID(); hid != "" {
			if h, ok := g.Hypos.Get(hid); ok {
				h.DetachCorrelation(c.ID)
			}
		}
	}
	g.Hypos.SetCorrelationSource(g.Corrs)

	workers := func(n int) int {
		if n < 1 {
			return 1
		}
		return n
	}
	g.nucleationPool = glasspool.New("nucleation", workers(tun.NumberOfNucleationThreads), 4096)
	g.evolvePool = glasspool.New("hypo-evolve", workers(tun.NumberOfHypoThreads), 1024)
	g.webPool = glasspool.New("web-build", workers(tun.NumberOfWebThreads), 256)
	g.scanPool = glasspool.New("stale-scan", 1, 16)

	return g
}

// Start runs every pool and the background pick-consumption and
// periodic-evolve loops until ctx is canceled.
func (g *Glass) Start(ctx context.Context) {
	go g.nucleationPool.Run(ctx)
	go g.evolvePool.Run(ctx)
	go g.webPool.Run(ctx)
	go g.scanPool.Run(ctx)

	go g.consumePicks(ctx)
	go g.runEvolveTicker(ctx)
	go g.runHealthSweep(ctx)
	go g.runCorrelationSweep(ctx)

	<-ctx.Done()
}

func (g *Glass) consumePicks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-g.pickJobs:
			pk := p
			g.nucleationPool.Submit(func() { g.nucleate(pk) })
		}
	}
}

func (g *Glass) runEvolveTicker(ctx context.Context) {
	tun := g.Tunables.Get()
	interval := time.Duration(tun.SiteLookupInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.scheduleEvolvePass()
		}
	}
}

func (g *Glass) scheduleEvolvePass() {
	tun := g.Tunables.Get()
	params := evolveParamsFrom(tun)
	hypos := g.Hypos.All()
	unassoc := g.Picks.Unassociated()
	g.Hypos.AssociateAll(hypos, unassoc, g.lookupSite, params)

	for _, h := range hypos {
		hh := h
		g.evolvePool.Submit(func() { g.evolveOne(hh) })
	}
}

func (g *Glass) evolveOne(h *hypo.Hypo) {
	_, span := tracer.Start(context.Background(), "glass.evolve",
		trace.WithAttributes(attribute.String("hypo.id", h.ID)))
	defer span.End()

	tt := g.travelMaster.Clone()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	tun := g.Tunables.Get()
	params := evolveParamsFrom(tun)
	g.wireGraphics(h, tun, &params)
	g.Hypos.Evolve(h, g.lookupSite, tt, params, rng)
	g.recordSnapshot(h, tun)
}

// SetGraphics attaches the optional annealing/hypo graphics dump store.
// Nil (the default) disables recording entirely.
func (g *Glass) SetGraphics(store *debugstore.Store) { g.graphics = store }

// wireGraphics points the evolve pass's annealing step hook at the
// graphics store, sampled every GraphicsSteps-th iteration.
func (g *Glass) wireGraphics(h *hypo.Hypo, tun config.Tunables, params *hypo.EvolveParams) {
	if g.graphics == nil || !tun.GraphicsOut {
		return
	}
	params.AnnealStepInterval = tun.GraphicsSteps
	params.AnnealOnStep = func(s anneal.StepSample) {
		err := g.graphics.RecordAnnealStep(debugstore.AnnealStep{
			HypoID:     h.ID,
			Iteration:  s.Iteration,
			Latitude:   s.Latitude,
			Longitude:  s.Longitude,
			DepthKM:    s.Depth,
			OriginTime: s.OriginTime,
			Objective:  s.Objective,
			Accepted:   s.Accepted,
		})
		if err != nil {
			slog.Warn("glass: graphics anneal-step write failed", "err", err)
		}
	}
}

func (g *Glass) recordSnapshot(h *hypo.Hypo, tun config.Tunables) {
	if g.graphics == nil || !tun.GraphicsOut {
		return
	}
	snap := h.Snapshot()
	err := g.graphics.RecordHypoSnapshot(debugstore.HypoSnapshot{
		HypoID:     snap.ID,
		State:      snap.State.String(),
		Latitude:   snap.Latitude,
		Longitude:  snap.Longitude,
		DepthKM:    snap.Depth,
		OriginTime: snap.OriginTime,
		Stack:      snap.Stack,
		PickIDs:    snap.PickIDs,
	})
	if err != nil {
		slog.Warn("glass: graphics hypo-snapshot write failed", "err", err)
	}
}

// runCorrelationSweep ages out stale
// correlations independently of new arrivals, submitting its work to
// scanPool instead of running it inline on ingest so a correlation that
// arrives and is then followed by silence still expires.
func (g *Glass) runCorrelationSweep(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := float64(time.Now().Unix())
			g.scanPool.Submit(func() { g.Corrs.ExpireOlderThan(now) })
		}
	}
}

func (g *Glass) runHealthSweep(ctx context.Context) {
	tun := g.Tunables.Get()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sites.SweepHealth(float64(time.Now().Unix()), tun.SiteHoursWithoutPicking)
		}
	}
}

func (g *Glass) lookupSite(siteID string) (float64, float64, bool) {
	s, ok := g.Sites.Get(siteID)
	if !ok {
		return 0, 0, false
	}
	return s.Latitude, s.Longitude, true
}

// HealthCheck reports whether every pool is making progress.
func (g *Glass) HealthCheck(maxAge time.Duration) bool {
	return g.nucleationPool.Healthy(maxAge) &&
		g.evolvePool.Healthy(maxAge) &&
		g.webPool.Healthy(maxAge) &&
		g.scanPool.Healthy(maxAge)
}

// Dispatch decodes a raw inbound message and routes it to the matching
// handler. Errors are returned rather than panicked so the CLI's read
// loop can log and continue to the next message.
func (g *Glass) Dispatch(raw map[string]any) error {
	_, span := tracer.Start(context.Background(), "glass.Dispatch")
	defer span.End()

	kind, decoded, err := messages.Decode(raw)
	if err != nil && kind != messages.KindSiteList {
		return err
	}
	span.SetAttributes(attribute.Int("message.kind", int(kind)))
	switch kind {
	case messages.KindInitialize:
		return g.handleInitialize(raw)
	case messages.KindSiteList:
		// Malformed entries never fail the whole load: log the batch and
		// register every well-formed site.
		if err != nil {
			slog.Warn("glass: dropping malformed site-list entries", "err", err)
		}
		g.handleSiteList(decoded.(messages.SiteListMessage))
	case messages.KindSite:
		g.handleSite(decoded.(messages.SiteMessage))
	case messages.KindPick:
		g.handlePick(decoded.(messages.PickMessage))
	case messages.KindCorrelation:
		g.handleCorrelation(decoded.(messages.CorrelationMessage))
	case messages.KindDetection:
		g.handleDetection(decoded.(messages.DetectionMessage))
	case messages.KindReqHypo:
		g.handleReqHypo(decoded.(messages.ReqHypoMessage))
	default:
		slog.Warn("glass: dropping message of unknown kind", "raw", raw)
	}
	return nil
}

func (g *Glass) handleInitialize(raw map[string]any) error {
	var t config.Tunables
	if err := decodeTunables(raw, &t); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	g.Tunables.Set(t)
	return nil
}

func (g *Glass) handleSiteList(msg messages.SiteListMessage) {
	tun := g.Tunables.Get()
	for _, sm := range msg.Sites {
		s := site.New(sm.Site.Network, sm.Site.Station, sm.Site.Channel, sm.Site.Location,
			sm.Latitude, sm.Longitude, sm.ElevationKM, tun.MaxPicksPerSite, tun.SiteMaximumPicksPerHour)
		s.SetEnabled(sm.Enable)
		g.Sites.Add(s)
	}
}

func (g *Glass) handleSite(sm messages.SiteMessage) {
	tun := g.Tunables.Get()
	s := g.Sites.GetOrCreate(sm.Site.Network, sm.Site.Station, sm.Site.Channel, sm.Site.Location,
		sm.Latitude, sm.Longitude, sm.ElevationKM, tun.MaxPicksPerSite, tun.SiteMaximumPicksPerHour)
	s.SetEnabled(sm.Enable)
	if !sm.Enable {
		g.Webs.RemoveSite(s.Key())
	}
}

func (g *Glass) handlePick(pm messages.PickMessage) {
	tun := g.Tunables.Get()
	s := g.Sites.GetOrCreate(pm.Site.Network, pm.Site.Station, pm.Site.Channel, pm.Site.Location,
		0, 0, 0, tun.MaxPicksPerSite, tun.SiteMaximumPicksPerHour)
	if !s.AllowPick(time.Now()) {
		return
	}

	var backAz, slowness *float64
	if pm.Beam != nil {
		backAz, slowness = pm.Beam.BackAzimuth, pm.Beam.Slowness
	}
	p := pick.New(pm.ExternalID, s.Key(), pm.ArrivalTime, backAz, slowness)
	s.RecordPick(p.ID, p.ArrivalTime)
	stored, result := g.Picks.Add(p)
	if result == pick.Updated {
		if hid := stored.HypoID(); hid != "" {
			if h, ok := g.Hypos.Get(hid); ok {
				h.MarkNewPicks()
			}
		}
	}
}

func (g *Glass) handleCorrelation(cm messages.CorrelationMessage) {
	now := float64(time.Now().Unix())
	siteID := site.Key(cm.Site.Network, cm.Site.Station, cm.Site.Channel, cm.Site.Location)
	c := correlation.New(siteID, cm.ArrivalTime, cm.Latitude, cm.Longitude, cm.Depth, now)
	g.Corrs.Add(c)
}

func (g *Glass) handleDetection(dm messages.DetectionMessage) {
	resolved := make([]*pick.Pick, 0, len(dm.Picks))
	for _, pm := range dm.Picks {
		var backAz, slowness *float64
		if pm.Beam != nil {
			backAz, slowness = pm.Beam.BackAzimuth, pm.Beam.Slowness
		}
		siteKey := site.Key(pm.Site.Network, pm.Site.Station, pm.Site.Channel, pm.Site.Location)
		p := pick.New(pm.ExternalID, siteKey, pm.ArrivalTime, backAz, slowness)
		g.Picks.Add(p)
		resolved = append(resolved, p)
	}
	h := detection.Import(dm, resolved)
	g.Hypos.Add(h)
}

func (g *Glass) handleReqHypo(rm messages.ReqHypoMessage) {
	h, ok := g.Hypos.Get(rm.HypoID)
	if !ok {
		g.Sink.Send(messages.CancelReport{ID: rm.HypoID, Reason: "no such hypo"}.ToMap())
		return
	}
	snap := h.Snapshot()
	g.Sink.Send(messages.HypoReport{
		ID:                     snap.ID,
		OriginTime:             snap.OriginTime,
		Latitude:               snap.Latitude,
		Longitude:              snap.Longitude,
		Depth:                  snap.Depth,
		Bayes:                  snap.Stack,
		NumberOfAssociatedData: len(snap.PickIDs),
		PickIDs:                snap.PickIDs,
	}.ToMap())
}

// nucleate runs the nucleation pass for every web a pick's site is
// wired into.
func (g *Glass) nucleate(p *pick.Pick) {
	_, span := tracer.Start(context.Background(), "glass.nucleate",
		trace.WithAttributes(attribute.Int64("pick.id", p.ID), attribute.String("pick.site", p.SiteID)))
	defer span.End()

	if _, ok := g.Sites.Get(p.SiteID); !ok {
		return
	}
	tun := g.Tunables.Get()
	for _, w := range g.Webs.All() {
		triggers := w.OnPick(p, g.picksBySiteWindow, tun.NucleationSecondsPerSigma, 5)
		for _, t := range triggers {
			g.handleTrigger(t, tun)
		}
	}
}

func (g *Glass) picksBySiteWindow(siteID string, tmin, tmax float64) []*pick.Pick {
	return g.Picks.FindBySiteWithin(siteID, tmin, tmax)
}

func (g *Glass) handleTrigger(t *web.Trigger, tun config.Tunables) {
	if g.isDecisivelyFound(t, tun) {
		return
	}

	seed := make([]*pick.Pick, 0, len(t.PickIDs))
	for _, id := range t.PickIDs {
		if p, ok := g.Picks.Get(id); ok {
			seed = append(seed, p)
		}
	}

	threshold := tun.NucleationStackThreshold
	if w, ok := g.Webs.Get(t.WebID); ok {
		threshold = w.NucleationStackThreshold
	}
	h := hypo.New(t.Latitude, t.Longitude, t.Depth, t.OriginTime, threshold, seed)

	tt := g.travelMaster.Clone()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	params := evolveParamsFrom(tun)
	g.wireGraphics(h, tun, &params)
	unassoc := g.Picks.Unassociated()
	g.Hypos.AssociateAll(append(g.Hypos.All(), h), unassoc, g.lookupSite, params)

	outcome := g.Hypos.Evolve(h, g.lookupSite, tt, params, rng)
	if outcome == hypo.EvolveCanceled {
		return
	}
	if h.PickCount() < tun.NucleationDataCountThreshold || h.Stack() < tun.NucleationStackThreshold {
		return
	}
	g.Hypos.Add(h)
	g.recordSnapshot(h, tun)
}

// isDecisivelyFound reports whether a trigger is redundant: an existing
// hypo's stack/threshold ratio already exceeds NucleationStackSuppressionFactor
// and the trigger lies within that hypo's merge window.
func (g *Glass) isDecisivelyFound(t *web.Trigger, tun config.Tunables) bool {
	for _, h := range g.Hypos.All() {
		snap := h.Snapshot()
		if snap.State == hypo.Canceled {
			continue
		}
		threshold := h.Threshold()
		if threshold <= 0 || snap.Stack/threshold < tun.NucleationStackSuppressionFactor {
			continue
		}
		if absFloat(snap.OriginTime-t.OriginTime) > tun.HypocenterTimeWindow {
			continue
		}
		if geo.DeltaDeg(snap.Latitude, snap.Longitude, t.Latitude, t.Longitude) > tun.HypocenterDistanceWindow {
			continue
		}
		return true
	}
	return false
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// BuildWeb constructs and registers a Web from a set of candidate sites
// and a grid of node centers, run on the web-build pool so a large
// station/grid reload doesn't block message dispatch.
func (g *Glass) BuildWeb(id string, nodeSpecs []NodeSpec, stackThreshold float64, dataCountThreshold, numStations int, done chan<- *web.Web) {
	g.webPool.Submit(func() {
		sites := make([]node.CandidateSite, 0, g.Sites.Len())
		for _, s := range g.Sites.All() {
			if s.Enabled() {
				sites = append(sites, node.CandidateSite{ID: s.Key(), Latitude: s.Latitude, Longitude: s.Longitude})
			}
		}

		w := web.New(id, stackThreshold, dataCountThreshold)
		tt := g.travelMaster.Clone()
		for _, spec := range nodeSpecs {
			n := node.Build(spec.ID, id, spec.Latitude, spec.Longitude, spec.Depth, spec.ResolutionKM, sites, numStations, tt)
			w.AddNode(n)
		}
		g.Webs.Add(w)
		if done != nil {
			done <- w
		}
	})
}

// NodeSpec is one grid point to build into a Web.
type NodeSpec struct {
	ID           string
	Latitude     float64
	Longitude    float64
	Depth        float64
	ResolutionKM float64
}

func evolveParamsFrom(t config.Tunables) hypo.EvolveParams {
	return hypo.EvolveParams{
		AssociationSDCutoff:       t.AssociationStandardDeviationCutoff,
		PruningSDCutoff:           t.PruningStandardDeviationCutoff,
		PickAffinityExpFactor:     t.PickAffinityExponentialFactor,
		DistanceCutoffFactor:      t.DistanceCutoffFactor,
		DistanceCutoffRatio:       t.DistanceCutoffRatio,
		DistanceCutoffMinimum:     t.DistanceCutoffMinimum,
		HypoProcessCountLimit:     t.HypoProcessCountLimit,
		NucleationDataCountThresh: t.NucleationDataCountThreshold,
		ReportingStackThreshold:   t.ReportingStackThreshold,
		ReportingDataThreshold:    t.ReportingDataThreshold,
		EventFragmentAzimuthDeg:   t.EventFragmentAzimuthThreshold,
		EventFragmentDepthKM:      t.EventFragmentDepthThreshold,
		HypoMergingTimeWindowSec:  t.HypocenterTimeWindow,
		HypoMergingDistanceDeg:    t.HypocenterDistanceWindow,
		RelocationIterations:      t.AnnealingIterations / 5,
		AssociationSigmaSeconds:   t.AssociationSecondsPerSigma,
		MaximumDepthKM:            t.MaximumDepth,
		UseL1ResidualLocator:      t.UseL1ResidualLocator,
	}
}

// decodeTunables layers an inbound Initialize message's fields over the
// defaults. The message arrives as a generic map (messages.Decode leaves
// Cmd:"Initialize" payloads undecoded, see messages.Decode), so the
// simplest faithful way to apply it to the typed Tunables struct is the
// same json.Marshal/Unmarshal round trip config.LoadInitialize uses for
// the on-disk file of the same shape.
func decodeTunables(raw map[string]any, t *config.Tunables) error {
	*t = config.Default()
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, t)
}
