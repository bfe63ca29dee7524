package anneal

import (
	"math"
	"math/rand"
	"testing"

	"glass3/internal/glass/travel"
)

func testParams() Params {
	return Params{
		Iterations:     500,
		StartRadiusKM:  25,
		EndRadiusKM:    2.5,
		StartDeltaTSec: 2.0,
		MinAcceptance:  0.1,
		SigmaSeconds:   1.0,
		MaximumDepthKM: 800,
		Rand:           rand.New(rand.NewSource(42)),
	}
}

func syntheticObs(trueLat, trueLon, trueDepth, trueOrigin float64, stations []Observation, tt travel.Provider) []Observation {
	tt.SetOrigin(trueLat, trueLon, trueDepth)
	out := make([]Observation, 0, len(stations))
	for _, s := range stations {
		phase, t, ok := tt.BestT(deltaBetween(trueLat, trueLon, s.SiteLat, s.SiteLon))
		if !ok {
			continue
		}
		out = append(out, Observation{
			PickID:      s.PickID,
			SiteLat:     s.SiteLat,
			SiteLon:     s.SiteLon,
			ArrivalTime: trueOrigin + t,
			Phase:       phase,
		})
	}
	return out
}

func deltaBetween(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return c * 180 / math.Pi
}

func stationRing() []Observation {
	return []Observation{
		{PickID: 1, SiteLat: 40.5, SiteLon: -120.0},
		{PickID: 2, SiteLat: 40.0, SiteLon: -119.5},
		{PickID: 3, SiteLat: 39.5, SiteLon: -120.0},
		{PickID: 4, SiteLat: 40.0, SiteLon: -120.5},
		{PickID: 5, SiteLat: 40.3, SiteLon: -120.3},
	}
}

func TestLocateConvergesNearTruth(t *testing.T) {
	tt := travel.NewLinearModel()
	obs := syntheticObs(40.1, -120.05, 10, 1000, stationRing(), tt)
	if len(obs) != 5 {
		t.Fatalf("expected 5 synthetic observations, got %d", len(obs))
	}

	sol := Locate(40.0, -120.0, 20, 995, obs, tt.Clone(), testParams())

	if math.Abs(sol.Latitude-40.1) > 0.5 {
		t.Errorf("latitude drifted too far: got %f", sol.Latitude)
	}
	if math.Abs(sol.Longitude+120.05) > 0.5 {
		t.Errorf("longitude drifted too far: got %f", sol.Longitude)
	}
	if len(sol.Residuals) != 5 {
		t.Fatalf("expected a residual per observation, got %d", len(sol.Residuals))
	}
}

func TestLocateObjectiveMonotoneInBudget(t *testing.T) {
	tt := travel.NewLinearModel()
	obs := syntheticObs(40.1, -120.05, 10, 1000, stationRing(), tt)

	shortParams := testParams()
	shortParams.Iterations = 20
	shortParams.Rand = rand.New(rand.NewSource(7))
	shortSol := Locate(35.0, -115.0, 50, 990, obs, tt.Clone(), shortParams)

	longParams := testParams()
	longParams.Iterations = 2000
	longParams.Rand = rand.New(rand.NewSource(7))
	longSol := Locate(35.0, -115.0, 50, 990, obs, tt.Clone(), longParams)

	if longSol.Objective < shortSol.Objective {
		t.Fatalf("expected a larger iteration budget to find an objective at least as good: short=%f long=%f",
			shortSol.Objective, longSol.Objective)
	}
}

func TestLocateL1ResidualMode(t *testing.T) {
	tt := travel.NewLinearModel()
	obs := syntheticObs(40.1, -120.05, 10, 1000, stationRing(), tt)

	p := testParams()
	p.UseL1Residual = true
	sol := Locate(40.0, -120.0, 20, 995, obs, tt.Clone(), p)

	if math.Abs(sol.Latitude-40.1) > 0.5 {
		t.Errorf("L1 locator latitude drifted too far: got %f", sol.Latitude)
	}
}

func TestAcceptAlwaysTakesImprovingMove(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if !accept(-10, -5, 0.5, 0.1, rng) {
		t.Fatal("expected improving move to always be accepted")
	}
}

func TestAcceptProbabilityFallsWithCooling(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	acceptedEarly := 0
	for i := 0; i < 1000; i++ {
		if accept(0, -1, 0.0, 0.1, rng) {
			acceptedEarly++
		}
	}
	acceptedLate := 0
	for i := 0; i < 1000; i++ {
		if accept(0, -1, 0.999, 0.1, rng) {
			acceptedLate++
		}
	}
	if acceptedLate >= acceptedEarly {
		t.Fatalf("expected fewer worsening moves accepted late in cooling: early=%d late=%d", acceptedEarly, acceptedLate)
	}
}
