// Package debugstore is the optional annealing/trigger graphics dump side
// channel behind the GraphicsOut/GraphicsOutFolder tunables: a local
// sqlite file that annealing step samples and hypo snapshots (one after
// each evolve pass and one when a hypo is nucleated) are appended to for
// offline plotting. It is write-only:
// glassd never reads it back at startup, so enabling it cannot become a
// persistence layer for engine state across restarts.
package debugstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store appends graphics samples to a sqlite file under one folder.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite file named glass3_graphics.db under
// dir, in WAL mode with a busy timeout for a local single-writer store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graphics dir: %w", err)
	}
	db, err := openDB(filepath.Join(dir, "glass3_graphics.db"))
	if err != nil {
		return nil, fmt.Errorf("open graphics db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS anneal_steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hypo_id TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	depth_km REAL NOT NULL,
	origin_time REAL NOT NULL,
	objective REAL NOT NULL,
	accepted INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize anneal_steps schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS hypo_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hypo_id TEXT NOT NULL,
	state TEXT NOT NULL,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	depth_km REAL NOT NULL,
	origin_time REAL NOT NULL,
	stack REAL NOT NULL,
	pick_ids_json TEXT NOT NULL,
	recorded_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize hypo_snapshots schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

// AnnealStep is one recorded simulated-annealing candidate, sampled every
// GraphicsSteps-th iteration by the caller (anneal.Locate does not know
// about debugstore; the sampling decision belongs to whoever drives it).
type AnnealStep struct {
	HypoID     string
	Iteration  int
	Latitude   float64
	Longitude  float64
	DepthKM    float64
	OriginTime float64
	Objective  float64
	Accepted   bool
}

// RecordAnnealStep appends one annealing sample. Failures are returned, not
// panicked; a graphics-dump write failure must never abort association.
func (s *Store) RecordAnnealStep(step AnnealStep) error {
	_, err := s.db.Exec(
		`INSERT INTO anneal_steps (hypo_id, iteration, latitude, longitude, depth_km, origin_time, objective, accepted, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.HypoID, step.Iteration, step.Latitude, step.Longitude, step.DepthKM, step.OriginTime, step.Objective,
		boolToInt(step.Accepted), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record anneal step: %w", err)
	}
	return nil
}

// HypoSnapshot is one recorded hypo state, taken after an evolve pass or
// when a newly nucleated hypo is added.
type HypoSnapshot struct {
	HypoID     string
	State      string
	Latitude   float64
	Longitude  float64
	DepthKM    float64
	OriginTime float64
	Stack      float64
	PickIDs    []int64
}

// RecordHypoSnapshot appends one hypo lifecycle snapshot.
func (s *Store) RecordHypoSnapshot(snap HypoSnapshot) error {
	picksJSON, err := json.Marshal(snap.PickIDs)
	if err != nil {
		return fmt.Errorf("marshal pick ids: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO hypo_snapshots (hypo_id, state, latitude, longitude, depth_km, origin_time, stack, pick_ids_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.HypoID, snap.State, snap.Latitude, snap.Longitude, snap.DepthKM, snap.OriginTime, snap.Stack, string(picksJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record hypo snapshot: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
