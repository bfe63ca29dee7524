package site

import (
	"testing"
	"time"
)

func TestKeyFormat(t *testing.T) {
	if k := Key("US", "HLID", "BHZ", "00"); k != "US.HLID.BHZ.00" {
		t.Fatalf("unexpected key: %s", k)
	}
}

func TestRecordPickEvictsOldest(t *testing.T) {
	s := New("US", "HLID", "BHZ", "00", 43.5, -114.4, 1.5, 3, 0)
	for i := int64(1); i <= 5; i++ {
		s.RecordPick(i, float64(i))
	}
	ring := s.RecentPickIDs()
	if len(ring) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(ring))
	}
	if ring[0] != 3 || ring[2] != 5 {
		t.Fatalf("expected ring [3 4 5], got %v", ring)
	}
}

func TestAllowPickRateLimit(t *testing.T) {
	s := New("US", "HLID", "BHZ", "00", 0, 0, 0, 10, 2) // 2 picks/hour, burst 2
	now := time.Now()
	if !s.AllowPick(now) {
		t.Fatal("expected first pick to be allowed")
	}
	if !s.AllowPick(now) {
		t.Fatal("expected second pick (within burst) to be allowed")
	}
	if s.AllowPick(now) {
		t.Fatal("expected third immediate pick to be rejected by rate limit")
	}
}

func TestAllowPickUnbounded(t *testing.T) {
	s := New("US", "HLID", "BHZ", "00", 0, 0, 0, 10, 0)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !s.AllowPick(now) {
			t.Fatal("expected unbounded site to always allow")
		}
	}
}

func TestSiteListGetOrCreate(t *testing.T) {
	l := NewList()
	s1 := l.GetOrCreate("US", "HLID", "BHZ", "00", 43.5, -114.4, 1.5, 10, 0)
	s2 := l.GetOrCreate("US", "HLID", "BHZ", "00", 0, 0, 0, 10, 0)
	if s1 != s2 {
		t.Fatal("expected GetOrCreate to return the same site on repeat calls")
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 site, got %d", l.Len())
	}
}

func TestSweepHealthDisablesIdleSite(t *testing.T) {
	l := NewList()
	s := l.GetOrCreate("US", "HLID", "BHZ", "00", 0, 0, 0, 10, 0)
	s.RecordPick(1, 0)
	l.SweepHealth(100*3600, 24) // 100 hours later, 24h threshold
	if s.Enabled() {
		t.Fatal("expected idle site to be disabled")
	}
}
