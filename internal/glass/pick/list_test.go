package pick

import "testing"

func TestAddInserted(t *testing.T) {
	l := NewList(-1, 2.5, false, nil)
	p := New("p1", "US.HLID.BHZ.00", 100.0, nil, nil)
	_, res := l.Add(p)
	if res != Inserted {
		t.Fatalf("expected Inserted, got %v", res)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 pick, got %d", l.Len())
	}
}

func TestDuplicateRejectedWithoutUpdates(t *testing.T) {
	l := NewList(-1, 2.5, false, nil)
	p1 := New("p1", "US.HLID.BHZ.00", 100.0, nil, nil)
	l.Add(p1)

	p2 := New("p2", "US.HLID.BHZ.00", 101.0, nil, nil) // within 2.5s window
	_, res := l.Add(p2)
	if res != Rejected {
		t.Fatalf("expected Rejected, got %v", res)
	}
	if l.Len() != 1 {
		t.Fatalf("expected duplicate to be dropped, len=%d", l.Len())
	}
}

func TestDuplicateUpdatesInPlace(t *testing.T) {
	l := NewList(-1, 2.5, true, nil)
	p1 := New("p1", "US.HLID.BHZ.00", 100.0, nil, nil)
	l.Add(p1)
	p1.Associate("hypoA", Assoc)

	p2 := New("p1", "US.HLID.BHZ.00", 99.7, nil, nil)
	existing, res := l.Add(p2)
	if res != Updated {
		t.Fatalf("expected Updated, got %v", res)
	}
	if existing.ArrivalTime != 99.7 {
		t.Fatalf("expected arrival time updated to 99.7, got %f", existing.ArrivalTime)
	}
	if existing.HypoID() != "hypoA" {
		t.Fatal("expected hypo link preserved across update")
	}
	if l.Len() != 1 {
		t.Fatalf("expected still 1 pick stored, got %d", l.Len())
	}
}

func TestEvictionBound(t *testing.T) {
	var evicted []*Pick
	l := NewList(3, 0.001, false, nil)
	l.OnEvict = func(p *Pick) { evicted = append(evicted, p) }

	for i := 0; i < 5; i++ {
		l.Add(New("p", "site", float64(i)*10, nil, nil))
	}
	if l.Len() != 3 {
		t.Fatalf("expected bounded at 3, got %d", l.Len())
	}
	if len(evicted) != 2 {
		t.Fatalf("expected 2 evicted, got %d", len(evicted))
	}
}

func TestFindWithin(t *testing.T) {
	l := NewList(-1, 0.001, false, nil)
	for i := 0; i < 10; i++ {
		l.Add(New("p", "site", float64(i), nil, nil))
	}
	found := l.FindWithin(3, 6)
	if len(found) != 4 {
		t.Fatalf("expected 4 picks in [3,6], got %d", len(found))
	}
}

func TestFindBySiteWithin(t *testing.T) {
	l := NewList(-1, 0.001, false, nil)
	for i := 0; i < 10; i++ {
		siteID := "siteA"
		if i%2 == 1 {
			siteID = "siteB"
		}
		l.Add(New("p", siteID, float64(i), nil, nil))
	}
	found := l.FindBySiteWithin("siteA", 3, 6)
	if len(found) != 2 {
		t.Fatalf("expected 2 siteA picks in [3,6], got %d", len(found))
	}
	for _, p := range found {
		if p.SiteID != "siteA" {
			t.Fatalf("expected only siteA picks, got %s", p.SiteID)
		}
	}
}

func TestUnassociatedFilter(t *testing.T) {
	l := NewList(-1, 0.001, false, nil)
	p1 := New("p1", "site", 1, nil, nil)
	p2 := New("p2", "site", 2, nil, nil)
	l.Add(p1)
	l.Add(p2)
	p1.Associate("h1", Assoc)

	unassoc := l.Unassociated()
	if len(unassoc) != 1 || unassoc[0].ID != p2.ID {
		t.Fatalf("expected only p2 unassociated, got %v", unassoc)
	}
}

func TestDispatchToNucleationPool(t *testing.T) {
	ch := make(chan *Pick, 1)
	l := NewList(-1, 0.001, false, ch)
	p := New("p1", "site", 1, nil, nil)
	l.Add(p)

	select {
	case got := <-ch:
		if got.ID != p.ID {
			t.Fatal("dispatched wrong pick")
		}
	default:
		t.Fatal("expected pick dispatched to nucleation channel")
	}
}
