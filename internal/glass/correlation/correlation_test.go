package correlation

import "testing"

func TestAddOrdersByTime(t *testing.T) {
	l := NewList(-1, 2.5, 0.5, 900)
	l.Add(New("s1", 10, 1, 1, 5, 0))
	l.Add(New("s1", 5, 1, 1, 5, 0))
	l.Add(New("s1", 7, 1, 1, 5, 0))

	if l.Len() != 3 {
		t.Fatalf("expected 3 correlations, got %d", l.Len())
	}
	if l.order[0].Time != 5 || l.order[1].Time != 7 || l.order[2].Time != 10 {
		t.Fatalf("expected time-ordered list, got %v %v %v", l.order[0].Time, l.order[1].Time, l.order[2].Time)
	}
}

func TestEvictionBound(t *testing.T) {
	var evicted []*Correlation
	l := NewList(2, 2.5, 0.5, 900)
	l.OnEvict = func(c *Correlation) { evicted = append(evicted, c) }

	for i := 0; i < 4; i++ {
		l.Add(New("s1", float64(i)*10, 1, 1, 5, 0))
	}
	if l.Len() != 2 {
		t.Fatalf("expected bounded at 2, got %d", l.Len())
	}
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evicted, got %d", len(evicted))
	}
}

func TestExpireOlderThanSkipsAssociated(t *testing.T) {
	l := NewList(-1, 2.5, 0.5, 900)
	stale := New("s1", 0, 1, 1, 5, 0)
	fresh := New("s1", 0, 1, 1, 5, 800)
	associatedStale := New("s1", 0, 1, 1, 5, 0)
	associatedStale.Associate("hypoA")

	l.Add(stale)
	l.Add(fresh)
	l.Add(associatedStale)

	expired := l.ExpireOlderThan(1000)
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expected only the unassociated stale correlation expired, got %v", expired)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 correlations remaining, got %d", l.Len())
	}
}

func TestMatches(t *testing.T) {
	l := NewList(-1, 2.5, 0.5, 900)
	if !l.Matches(100, 40.1, -120.1, 101, 40.05, -120.05) {
		t.Fatal("expected match within time/distance window")
	}
	if l.Matches(100, 40.1, -120.1, 150, 40.05, -120.05) {
		t.Fatal("expected no match: time window exceeded")
	}
	if l.Matches(100, 41.5, -120.1, 101, 40.05, -120.05) {
		t.Fatal("expected no match: distance window exceeded")
	}
}

func TestRemove(t *testing.T) {
	l := NewList(-1, 2.5, 0.5, 900)
	c := New("s1", 0, 1, 1, 5, 0)
	l.Add(c)
	if !l.Remove(c.ID) {
		t.Fatal("expected removal to succeed")
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty list, got %d", l.Len())
	}
	if l.Remove(c.ID) {
		t.Fatal("expected second removal to fail")
	}
}

func TestAssociateAndClear(t *testing.T) {
	c := New("s1", 0, 1, 1, 5, 0)
	if c.HypoID() != "" {
		t.Fatal("expected new correlation unassociated")
	}
	c.Associate("hypoA")
	if c.HypoID() != "hypoA" {
		t.Fatal("expected hypo link set")
	}
	c.Clear()
	if c.HypoID() != "" {
		t.Fatal("expected hypo link cleared")
	}
}
