// Package site implements the Site and SiteList entities: station
// metadata, a local sliding pick ring, and per-site pick-rate limiting.
package site

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Key is the (network, station, channel, location) lookup key used
// throughout the engine wherever a Pick or Node needs to reference a Site
// without holding a pointer to it (see pick.Pick.SiteID).
func Key(network, station, channel, location string) string {
	return fmt.Sprintf("%s.%s.%s.%s", network, station, channel, location)
}

// Site is a station's metadata plus a bounded ring of its most recent pick
// IDs (non-owning; the picks themselves live in pick.List).
type Site struct {
	Network   string
	Station   string
	Channel   string
	Location  string
	Latitude  float64
	Longitude float64
	ElevationKM float64

	mu            sync.Mutex
	enabled       bool
	lastPickTime  float64
	pickIDRing    []int64
	maxRingSize   int
	limiter       *rate.Limiter // nil means unbounded (SiteMaximumPicksPerHour == 0)
}

// New constructs a Site. maxPicksPerHour <= 0 disables rate limiting.
func New(network, station, channel, location string, lat, lon, elevKM float64, maxRingSize, maxPicksPerHour int) *Site {
	s := &Site{
		Network:     network,
		Station:     station,
		Channel:     channel,
		Location:    location,
		Latitude:    lat,
		Longitude:   lon,
		ElevationKM: elevKM,
		enabled:     true,
		maxRingSize: maxRingSize,
	}
	if maxPicksPerHour > 0 {
		// token bucket refilling at picks/hour, burst sized to one hour
		// of allowance so a quiet site doesn't instantly trip the limit
		// on its first burst of real activity.
		perSecond := rate.Limit(float64(maxPicksPerHour) / 3600.0)
		s.limiter = rate.NewLimiter(perSecond, maxPicksPerHour)
	}
	return s
}

// Key returns this site's lookup key.
func (s *Site) Key() string {
	return Key(s.Network, s.Station, s.Channel, s.Location)
}

// Enabled reports whether this site currently accepts picks.
func (s *Site) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled toggles the site's usability, e.g. from a station-health sweep.
func (s *Site) SetEnabled(v bool) {
	s.mu.Lock()
	s.enabled = v
	s.mu.Unlock()
}

// AllowPick reports whether a new pick from this site should be admitted,
// honoring the SiteMaximumPicksPerHour rate limit. Always true when no
// limiter is configured.
func (s *Site) AllowPick(now time.Time) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.AllowN(now, 1)
}

// RecordPick appends a pick id to this site's ring, evicting the oldest
// once MaxPicksPerSite is exceeded.
func (s *Site) RecordPick(id int64, arrivalTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pickIDRing = append(s.pickIDRing, id)
	if s.maxRingSize > 0 && len(s.pickIDRing) > s.maxRingSize {
		s.pickIDRing = s.pickIDRing[len(s.pickIDRing)-s.maxRingSize:]
	}
	if arrivalTime > s.lastPickTime {
		s.lastPickTime = arrivalTime
	}
}

// RecentPickIDs returns a snapshot of this site's pick ring.
func (s *Site) RecentPickIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.pickIDRing))
	copy(out, s.pickIDRing)
	return out
}

// LastPickTime returns the arrival time of the most recent pick recorded.
func (s *Site) LastPickTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPickTime
}

// HoursSinceLastPick reports how long it has been since this site last
// reported a pick, given the current epoch time; used by the health sweep
// that disables sites idle longer than SiteHoursWithoutPicking. A site that
// has never recorded a pick reports 0.
func (s *Site) HoursSinceLastPick(nowEpoch float64) float64 {
	s.mu.Lock()
	last := s.lastPickTime
	picked := len(s.pickIDRing) > 0
	s.mu.Unlock()
	if !picked {
		return 0
	}
	return (nowEpoch - last) / 3600.0
}
