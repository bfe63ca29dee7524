// Package anneal implements the simulated-annealing hypocenter locator:
// perturb (lat, lon, depth, origin time) with a geometrically
// cooling radius, accept improving moves always and worsening moves with
// falling probability, and return the best solution found along with
// per-pick residuals for the caller's pruning step.
package anneal

import (
	"math"
	"math/rand"

	"glass3/internal/glass/geo"
	"glass3/internal/glass/travel"
)

// Observation is one pick's contribution to the objective: the station it
// was recorded at and its observed arrival time. Node/Hypo callers resolve
// these from the pick/site arenas before calling Locate.
type Observation struct {
	PickID      int64
	SiteLat     float64
	SiteLon     float64
	ArrivalTime float64
	Phase       string // "" lets Locate pick the provider's BestT phase
}

// Params bundles the tunables the locator needs, independent of the
// caller's full Tunables struct so the package has no config dependency.
type Params struct {
	Iterations     int
	StartRadiusKM  float64
	EndRadiusKM    float64
	StartDeltaTSec float64
	MinAcceptance  float64 // pmin
	SigmaSeconds   float64 // AssociationSecondsPerSigma or NucleationSecondsPerSigma
	MaximumDepthKM float64
	UseL1Residual  bool
	Rand           *rand.Rand

	// OnStep, when non-nil, receives every StepInterval-th candidate the
	// search evaluates, the graphics-dump sampling hook. Locate itself
	// knows nothing about where the samples go.
	OnStep       func(StepSample)
	StepInterval int // <= 1 samples every iteration
}

// StepSample is one annealing candidate offered to Params.OnStep.
type StepSample struct {
	Iteration  int
	Latitude   float64
	Longitude  float64
	Depth      float64
	OriginTime float64
	Objective  float64
	Accepted   bool
}

// Solution is the best hypocenter Locate found.
type Solution struct {
	Latitude   float64
	Longitude  float64
	Depth      float64
	OriginTime float64
	Objective  float64 // log-domain annealing score driving move acceptance
	StackScore float64 // positive Gaussian-sum stack at the solution, comparable to NucleationStackThreshold
	Residuals  map[int64]float64 // pickID -> standardized residual
}

// Locate runs the annealing search starting from (lat0, lon0, depth0, t0)
// against the given observations, using tt to predict travel times. tt
// must be a worker-private clone; providers are not thread-safe.
func Locate(lat0, lon0, depth0, t0 float64, obs []Observation, tt travel.Provider, p Params) Solution {
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	cur := candidate{lat: lat0, lon: lon0, depth: depth0, originTime: t0}
	cur.objective = objective(cur, obs, tt, p)
	best := cur

	iterations := p.Iterations
	if iterations < 1 {
		iterations = 1
	}
	coolRate := math.Log(p.EndRadiusKM/p.StartRadiusKM) / float64(iterations)
	if p.StartRadiusKM <= 0 {
		coolRate = 0
	}

	for i := 0; i < iterations; i++ {
		frac := float64(i) / float64(iterations)
		radius := p.StartRadiusKM * math.Exp(coolRate*float64(i))
		deltaT := p.StartDeltaTSec * (radius / maxFloat(p.StartRadiusKM, 1e-9))

		next := perturb(cur, radius, deltaT, p.MaximumDepthKM, rng)
		next.objective = objective(next, obs, tt, p)

		accepted := accept(cur.objective, next.objective, frac, p.MinAcceptance, rng)
		if accepted {
			cur = next
			if cur.objective > best.objective {
				best = cur
			}
		}
		if p.OnStep != nil && (p.StepInterval <= 1 || i%p.StepInterval == 0) {
			p.OnStep(StepSample{
				Iteration:  i,
				Latitude:   next.lat,
				Longitude:  next.lon,
				Depth:      next.depth,
				OriginTime: next.originTime,
				Objective:  next.objective,
				Accepted:   accepted,
			})
		}
	}

	residuals := residualsFor(best, obs, tt, p)
	return Solution{
		Latitude:   best.lat,
		Longitude:  best.lon,
		Depth:      best.depth,
		OriginTime: best.originTime,
		Objective:  best.objective,
		StackScore: stackScoreFor(best, obs, tt, p),
		Residuals:  residuals,
	}
}

type candidate struct {
	lat, lon, depth, originTime float64
	objective                   float64
}

func perturb(c candidate, radiusKM, deltaTSec, maxDepth float64, rng *rand.Rand) candidate {
	bearing := rng.Float64() * 360.0
	dist := math.Abs(rng.NormFloat64()) * radiusKM
	lat, lon := geo.Destination(c.lat, c.lon, dist, bearing)

	depth := c.depth + rng.NormFloat64()*radiusKM/2
	if depth < 0 {
		depth = 0
	}
	if depth > maxDepth {
		depth = maxDepth
	}

	originTime := c.originTime + rng.NormFloat64()*deltaTSec
	return candidate{lat: lat, lon: lon, depth: depth, originTime: originTime}
}

// objective is the Bayesian score: higher is better. For the
// L1-residual alternative, the objective is the negated sum of absolute
// standardized residuals so "higher is better" still holds.
func objective(c candidate, obs []Observation, tt travel.Provider, p Params) float64 {
	tt.SetOrigin(c.lat, c.lon, c.depth)
	sum := 0.0
	for _, o := range obs {
		residual, taper, ok := predict(c, o, tt)
		if !ok || taper <= 0 {
			continue
		}
		if p.UseL1Residual {
			sum -= math.Abs(residual)
			continue
		}
		sigma := p.SigmaSeconds
		sum += -0.5*(residual/sigma)*(residual/sigma) + math.Log(taper)
	}
	return sum
}

func predict(c candidate, o Observation, tt travel.Provider) (residual, taper float64, ok bool) {
	delta := geo.DeltaDeg(c.lat, c.lon, o.SiteLat, o.SiteLon)
	phase := o.Phase
	var predictedTT float64
	if phase == "" {
		p, t, found := tt.BestT(delta)
		if !found {
			return 0, 0, false
		}
		phase, predictedTT = p, t
	} else {
		t, found := tt.T(phase, delta)
		if !found {
			return 0, 0, false
		}
		predictedTT = t
	}
	rng, hasRange := tt.PhaseRange(phase)
	taper = 1.0
	if hasRange {
		taper = rng.Taper(delta)
	}
	predictedArrival := c.originTime + predictedTT
	residual = o.ArrivalTime - predictedArrival
	return residual, taper, true
}

// stackScoreFor recomputes the summed weighted Gaussian support at a
// candidate solution: the same positive, threshold-comparable quantity
// node.EvaluateStack produces at nucleation, kept distinct from the
// log-domain objective() that only drives the annealing move-acceptance
// decision. The objective can never exceed 0, so Hypo.stack must come from
// here, not from Objective, to stay comparable to NucleationStackThreshold.
func stackScoreFor(c candidate, obs []Observation, tt travel.Provider, p Params) float64 {
	tt.SetOrigin(c.lat, c.lon, c.depth)
	sum := 0.0
	for _, o := range obs {
		residual, taper, ok := predict(c, o, tt)
		if !ok || taper <= 0 {
			continue
		}
		sigma := p.SigmaSeconds
		sum += math.Exp(-0.5*(residual/sigma)*(residual/sigma)) * taper
	}
	return sum
}

func residualsFor(c candidate, obs []Observation, tt travel.Provider, p Params) map[int64]float64 {
	tt.SetOrigin(c.lat, c.lon, c.depth)
	out := make(map[int64]float64, len(obs))
	for _, o := range obs {
		residual, taper, ok := predict(c, o, tt)
		if !ok || taper <= 0 {
			out[o.PickID] = math.Inf(1)
			continue
		}
		out[o.PickID] = math.Abs(residual) / p.SigmaSeconds
	}
	return out
}

// accept implements the cooling schedule: always accept improving
// moves, accept worsening moves with probability exp((new-old)/T_i) where
// the temperature T_i falls linearly from 1 to pmin by the final iteration.
func accept(oldObj, newObj, frac, pmin float64, rng *rand.Rand) bool {
	if newObj >= oldObj {
		return true
	}
	temperature := 1.0 - frac*(1.0-pmin)
	if temperature <= 0 {
		return false
	}
	prob := math.Exp((newObj - oldObj) / temperature)
	return rng.Float64() < prob
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
