package detection

import (
	"testing"

	"glass3/internal/glass/messages"
	"glass3/internal/glass/pick"
)

func TestImportProducesFixedHypo(t *testing.T) {
	msg := messages.DetectionMessage{
		ExternalID: "d1",
		Latitude:   40.0,
		Longitude:  -120.0,
		Depth:      12,
		OriginTime: 1000,
	}
	picks := []*pick.Pick{pick.New("p1", "US.HLID.BHZ.00", 1005, nil, nil)}

	h := Import(msg, picks)
	if h.PickCount() != 1 {
		t.Fatalf("expected 1 associated pick, got %d", h.PickCount())
	}
	snap := h.Snapshot()
	if snap.Latitude != 40.0 || snap.Longitude != -120.0 || snap.Depth != 12 {
		t.Fatalf("unexpected hypo center: %+v", snap)
	}
	if picks[0].HypoID() != h.ID {
		t.Fatal("expected imported pick associated to the detection hypo")
	}
}
