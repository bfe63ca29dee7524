// Package config holds the association-engine tunables and the bootstrap
// config pointing glassd at its other config files,
// following the load/validate/default shape of a kubeconfig-style loader:
// read once from disk, then allow a live Initialize message to refresh the
// same struct under a mutex.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

// Tunables holds every association parameter the engine reads.
// Field names match the JSON keys a Cmd:"Initialize" message carries.
type Tunables struct {
	NucleationStackThreshold           float64 `json:"NucleationStackThreshold"`
	NucleationDataCountThreshold       int     `json:"NucleationDataCountThreshold"`
	AssociationStandardDeviationCutoff float64 `json:"AssociationStandardDeviationCutoff"`
	PruningStandardDeviationCutoff     float64 `json:"PruningStandardDeviationCutoff"`
	PickAffinityExponentialFactor      float64 `json:"PickAffinityExponentialFactor"`
	DistanceCutoffFactor               float64 `json:"DistanceCutoffFactor"`
	DistanceCutoffRatio                float64 `json:"DistanceCutoffRatio"`
	DistanceCutoffMinimum              float64 `json:"DistanceCutoffMinimum"`
	HypoProcessCountLimit              int     `json:"HypoProcessCountLimit"`
	PickDuplicateWindow                float64 `json:"PickDuplicateWindow"`
	CorrelationTimeWindow              float64 `json:"CorrelationTimeWindow"`
	CorrelationDistanceWindow          float64 `json:"CorrelationDistanceWindow"`
	CorrelationCancelAge               float64 `json:"CorrelationCancelAge"`
	BeamMatchingAzimuthWindow          float64 `json:"BeamMatchingAzimuthWindow"`
	HypocenterTimeWindow               float64 `json:"HypocenterTimeWindow"`
	HypocenterDistanceWindow           float64 `json:"HypocenterDistanceWindow"`
	ReportingStackThreshold            float64 `json:"ReportingStackThreshold"`
	ReportingDataThreshold             int     `json:"ReportingDataThreshold"`
	MaximumNumberOfPicks               int     `json:"MaximumNumberOfPicks"`
	MaximumNumberOfHypos               int     `json:"MaximumNumberOfHypos"`
	MaximumNumberOfCorrelations        int     `json:"MaximumNumberOfCorrelations"`
	EventFragmentDepthThreshold        float64 `json:"EventFragmentDepthThreshold"`
	EventFragmentAzimuthThreshold      float64 `json:"EventFragmentAzimuthThreshold"`
	AllowPickUpdates                   bool    `json:"AllowPickUpdates"`
	UseL1ResidualLocator               bool    `json:"UseL1ResidualLocator"`
	NumberOfNucleationThreads          int     `json:"NumberOfNucleationThreads"`
	NumberOfHypoThreads                int     `json:"NumberOfHypoThreads"`
	NumberOfWebThreads                 int     `json:"NumberOfWebThreads"`
	SiteHoursWithoutPicking            float64 `json:"SiteHoursWithoutPicking"`
	SiteLookupInterval                 float64 `json:"SiteLookupInterval"`
	SiteMaximumPicksPerHour            int     `json:"SiteMaximumPicksPerHour"`
	MaxPicksPerSite                    int     `json:"MaxPicksPerSite"`
	NumStationsPerNode                 int     `json:"NumStationsPerNode"`
	NucleationSecondsPerSigma          float64 `json:"NucleationSecondsPerSigma"`
	AssociationSecondsPerSigma         float64 `json:"AssociationSecondsPerSigma"`
	MaximumDepth                       float64 `json:"MaximumDepth"`
	AnnealingIterations                int     `json:"AnnealingIterations"`
	AnnealingMinAcceptance             float64 `json:"AnnealingMinAcceptance"`
	NucleationStackSuppressionFactor   float64 `json:"NucleationStackSuppressionFactor"`
	GraphicsOut                        bool    `json:"GraphicsOut"`
	GraphicsOutFolder                  string  `json:"GraphicsOutFolder"`
	GraphicsStepKM                     float64 `json:"GraphicsStepKM"`
	GraphicsSteps                      int     `json:"GraphicsSteps"`
}

// Default returns the tunables at their stock default values.
func Default() Tunables {
	return Tunables{
		NucleationStackThreshold:           2.5,
		NucleationDataCountThreshold:       7,
		AssociationStandardDeviationCutoff: 3.0,
		PruningStandardDeviationCutoff:     3.0,
		PickAffinityExponentialFactor:      2.5,
		DistanceCutoffFactor:               4.0,
		DistanceCutoffRatio:                0.4,
		DistanceCutoffMinimum:              30.0,
		HypoProcessCountLimit:              25,
		PickDuplicateWindow:                2.5,
		CorrelationTimeWindow:              2.5,
		CorrelationDistanceWindow:          0.5,
		CorrelationCancelAge:               900,
		BeamMatchingAzimuthWindow:          22.5,
		HypocenterTimeWindow:               30,
		HypocenterDistanceWindow:           3,
		ReportingStackThreshold:            2.5, // same default as NucleationStackThreshold
		ReportingDataThreshold:             0,
		MaximumNumberOfPicks:               -1,
		MaximumNumberOfHypos:               -1,
		MaximumNumberOfCorrelations:        -1,
		EventFragmentDepthThreshold:        550,
		EventFragmentAzimuthThreshold:      270,
		AllowPickUpdates:                   false,
		UseL1ResidualLocator:               false,
		NumberOfNucleationThreads:          5,
		NumberOfHypoThreads:                3,
		NumberOfWebThreads:                 0,
		SiteHoursWithoutPicking:            24,
		SiteLookupInterval:                 0,
		SiteMaximumPicksPerHour:            0, // 0 = unbounded
		MaxPicksPerSite:                    200,
		NumStationsPerNode:                 20,
		NucleationSecondsPerSigma:          0.4,
		AssociationSecondsPerSigma:         1.0,
		MaximumDepth:                       800,
		AnnealingIterations:                15000,
		AnnealingMinAcceptance:             0.1,
		NucleationStackSuppressionFactor:   2.0,
		GraphicsOut:                        false,
		GraphicsOutFolder:                  "./graphics",
		GraphicsStepKM:                     1,
		GraphicsSteps:                      100,
	}
}

// Validate checks tunables for internally-consistent values, collecting
// every problem found (rather than stopping at the first) so a bad config
// file reports all its mistakes at once.
func (t Tunables) Validate() error {
	var result *multierror.Error
	if t.NucleationDataCountThreshold < 1 {
		result = multierror.Append(result, fmt.Errorf("NucleationDataCountThreshold must be >= 1, got %d", t.NucleationDataCountThreshold))
	}
	if t.NucleationStackThreshold <= 0 {
		result = multierror.Append(result, fmt.Errorf("NucleationStackThreshold must be > 0, got %f", t.NucleationStackThreshold))
	}
	if t.NumStationsPerNode < 1 {
		result = multierror.Append(result, fmt.Errorf("NumStationsPerNode must be >= 1, got %d", t.NumStationsPerNode))
	}
	if t.MaximumDepth <= 0 {
		result = multierror.Append(result, fmt.Errorf("MaximumDepth must be > 0, got %f", t.MaximumDepth))
	}
	if t.AnnealingIterations < 1 {
		result = multierror.Append(result, fmt.Errorf("AnnealingIterations must be >= 1, got %d", t.AnnealingIterations))
	}
	if t.NumberOfNucleationThreads < 0 || t.NumberOfHypoThreads < 0 || t.NumberOfWebThreads < 0 {
		result = multierror.Append(result, fmt.Errorf("thread pool sizes must be >= 0"))
	}
	return result.ErrorOrNil()
}

// Bootstrap is the top-level config file given on the glassd command line:
// `{Cmd:"Glass", ConfigDirectory, InitializeFile, StationList, GridFiles,
// InputConfig, OutputConfig, LogLevel}`.
type Bootstrap struct {
	Cmd             string   `json:"Cmd"`
	ConfigDirectory string   `json:"ConfigDirectory"`
	InitializeFile  string   `json:"InitializeFile"`
	StationList     string   `json:"StationList"`
	GridFiles       []string `json:"GridFiles"`
	InputConfig     string   `json:"InputConfig"`
	OutputConfig    string   `json:"OutputConfig"`
	LogLevel        string   `json:"LogLevel"`
}

// LoadBootstrap reads and validates the top-level glassd config file.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var b Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if b.Cmd != "Glass" {
		return nil, fmt.Errorf("invalid configuration: expected Cmd=\"Glass\", got %q", b.Cmd)
	}
	if b.ConfigDirectory == "" {
		b.ConfigDirectory = "./"
	}
	if b.InitializeFile == "" {
		return nil, fmt.Errorf("invalid configuration: missing InitializeFile")
	}
	if b.StationList == "" {
		return nil, fmt.Errorf("invalid configuration: missing StationList")
	}
	if len(b.GridFiles) == 0 {
		return nil, fmt.Errorf("invalid configuration: no GridFiles specified")
	}
	return &b, nil
}

// LoadInitialize reads an Initialize tunables file from disk, layering it
// over the defaults, then validates the result.
func LoadInitialize(path string) (Tunables, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read initialize file: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse initialize file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Live is a mutex-guarded handle to the current tunables: components are
// given the *Live at construction and read a coherent copy per operation,
// and a re-sent Initialize replaces the value wholesale under the mutex.
type Live struct {
	mu sync.RWMutex
	t  Tunables
}

// NewLive wraps an initial Tunables value.
func NewLive(t Tunables) *Live {
	return &Live{t: t}
}

// Get returns a copy of the current tunables.
func (l *Live) Get() Tunables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.t
}

// Set replaces the tunables wholesale, e.g. in response to a re-sent
// Initialize message. Re-applying identical tunables is a no-op
// observable only through Get.
func (l *Live) Set(t Tunables) {
	l.mu.Lock()
	l.t = t
	l.mu.Unlock()
}
