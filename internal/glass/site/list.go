package site

import "sync"

// List is the process-wide set of known stations, looked up by Key.
type List struct {
	mu    sync.RWMutex
	sites map[string]*Site
}

// NewList constructs an empty SiteList.
func NewList() *List {
	return &List{sites: make(map[string]*Site)}
}

// Get resolves a site by key, creating nothing; sites are created on
// first reference or by station-list load and destroyed only at shutdown.
func (l *List) Get(key string) (*Site, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.sites[key]
	return s, ok
}

// GetOrCreate resolves a site by key, creating it on first reference with
// the given defaults if it doesn't exist yet.
func (l *List) GetOrCreate(network, station, channel, location string, lat, lon, elevKM float64, maxRingSize, maxPicksPerHour int) *Site {
	key := Key(network, station, channel, location)

	l.mu.RLock()
	s, ok := l.sites[key]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sites[key]; ok {
		return s
	}
	s = New(network, station, channel, location, lat, lon, elevKM, maxRingSize, maxPicksPerHour)
	l.sites[key] = s
	return s
}

// Add inserts or replaces a site wholesale: the bulk station-list load
// path. A single-site Cmd:"Site" message goes through GetOrCreate instead,
// which leaves an existing site's metadata unchanged.
func (l *List) Add(s *Site) {
	l.mu.Lock()
	l.sites[s.Key()] = s
	l.mu.Unlock()
}

// All returns a snapshot of every known site.
func (l *List) All() []*Site {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Site, 0, len(l.sites))
	for _, s := range l.sites {
		out = append(out, s)
	}
	return out
}

// Len reports how many sites are known.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sites)
}

// SweepHealth disables sites that have gone silent for longer than
// maxHoursWithoutPicking, reflecting the SiteHoursWithoutPicking tunable.
// It never re-enables a site; a disabled site that starts picking again
// stays disabled.
func (l *List) SweepHealth(nowEpoch, maxHoursWithoutPicking float64) {
	if maxHoursWithoutPicking <= 0 {
		return
	}
	l.mu.RLock()
	sites := make([]*Site, 0, len(l.sites))
	for _, s := range l.sites {
		sites = append(sites, s)
	}
	l.mu.RUnlock()

	for _, s := range sites {
		idle := s.HoursSinceLastPick(nowEpoch)
		if idle > maxHoursWithoutPicking {
			s.SetEnabled(false)
		}
	}
}
