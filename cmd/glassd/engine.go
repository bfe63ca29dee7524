package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	multierror "github.com/hashicorp/go-multierror"

	"glass3/internal/config"
	"glass3/internal/debugstore"
	"glass3/internal/glass/glass"
	"glass3/internal/glass/travel"
)

// buildEngine reads the bootstrap config and every file it references,
// constructing a ready-to-run Glass orchestrator. Any failure here is
// fatal: surfaced to the process entry point, which exits non-zero.
func buildEngine(configPath string) (*glass.Glass, *debugstore.Store, error) {
	boot, err := config.LoadBootstrap(configPath)
	if err != nil {
		return nil, nil, err
	}

	initPath := filepath.Join(boot.ConfigDirectory, boot.InitializeFile)
	tunables, err := config.LoadInitialize(initPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load initialize file: %w", err)
	}

	var store *debugstore.Store
	if tunables.GraphicsOut {
		store, err = openGraphicsStore(tunables.GraphicsOutFolder)
		if err != nil {
			return nil, nil, fmt.Errorf("open graphics store: %w", err)
		}
	}

	eng := glass.New(config.NewLive(tunables), newStdoutSink(), travel.NewLinearModel())
	if store != nil {
		eng.SetGraphics(store)
	}

	stationPath := filepath.Join(boot.ConfigDirectory, boot.StationList)
	if err := loadStationList(eng, stationPath); err != nil {
		return nil, nil, fmt.Errorf("load station list: %w", err)
	}

	for _, gridFile := range boot.GridFiles {
		path := filepath.Join(boot.ConfigDirectory, gridFile)
		if err := loadGridFile(eng, path); err != nil {
			return nil, nil, fmt.Errorf("load grid file %q: %w", gridFile, err)
		}
	}

	return eng, store, nil
}

// loadStationList replays a StationList file through Dispatch, reusing the
// same Cmd:"SiteList" decoding path a live message would take.
func loadStationList(eng *glass.Glass, path string) error {
	var raw map[string]any
	if err := config.DecodeFlexible(path, &raw); err != nil {
		return err
	}
	if _, ok := raw["Cmd"]; !ok {
		raw["Cmd"] = "SiteList"
	}
	if err := eng.Dispatch(raw); err != nil {
		return err
	}
	if eng.Sites.Len() == 0 {
		return fmt.Errorf("station list %s: no usable sites", path)
	}
	return nil
}

// gridFile is one on-disk web definition: a node grid sharing one
// nucleation configuration.
type gridFile struct {
	ID                 string         `json:"ID" yaml:"ID"`
	StackThreshold     float64        `json:"StackThreshold" yaml:"StackThreshold"`
	DataCountThreshold int            `json:"DataCountThreshold" yaml:"DataCountThreshold"`
	NumStations        int            `json:"NumStations" yaml:"NumStations"`
	Nodes              []gridFileNode `json:"Nodes" yaml:"Nodes"`
}

type gridFileNode struct {
	ID           string  `json:"ID" yaml:"ID"`
	Latitude     float64 `json:"Latitude" yaml:"Latitude"`
	Longitude    float64 `json:"Longitude" yaml:"Longitude"`
	Depth        float64 `json:"Depth" yaml:"Depth"`
	ResolutionKM float64 `json:"ResolutionKM" yaml:"ResolutionKM"`
}

// loadGridFile validates every node entry, batching the malformed ones
// into one logged warning; a grid only fails the load outright when it has
// no usable nodes at all.
func loadGridFile(eng *glass.Glass, path string) error {
	var gf gridFile
	if err := config.DecodeFlexible(path, &gf); err != nil {
		return err
	}
	if gf.ID == "" {
		return fmt.Errorf("grid file %s: missing ID", path)
	}

	var malformed *multierror.Error
	specs := make([]glass.NodeSpec, 0, len(gf.Nodes))
	for i, n := range gf.Nodes {
		if err := validateGridNode(n); err != nil {
			malformed = multierror.Append(malformed, fmt.Errorf("node %d: %w", i, err))
			continue
		}
		specs = append(specs, glass.NodeSpec{
			ID: n.ID, Latitude: n.Latitude, Longitude: n.Longitude, Depth: n.Depth, ResolutionKM: n.ResolutionKM,
		})
	}
	if err := malformed.ErrorOrNil(); err != nil {
		if len(specs) == 0 {
			return fmt.Errorf("grid file %s: no usable nodes: %w", path, err)
		}
		slog.Warn("glassd: dropping malformed grid nodes", "file", path, "err", err)
	}

	numStations := gf.NumStations
	if numStations <= 0 {
		numStations = eng.Tunables.Get().NumStationsPerNode
	}

	eng.BuildWeb(gf.ID, specs, gf.StackThreshold, gf.DataCountThreshold, numStations, nil)
	return nil
}

func validateGridNode(n gridFileNode) error {
	switch {
	case n.ID == "":
		return fmt.Errorf("missing ID")
	case n.Latitude < -90 || n.Latitude > 90:
		return fmt.Errorf("latitude %f out of range", n.Latitude)
	case n.Longitude < -180 || n.Longitude > 180:
		return fmt.Errorf("longitude %f out of range", n.Longitude)
	case n.ResolutionKM <= 0:
		return fmt.Errorf("resolution %f must be positive", n.ResolutionKM)
	}
	return nil
}
