// Package detection handles externally supplied hypocenters
// (`{Type:"Detection", Hypocenter:{...}, PickData:[...]}`). A Detection is
// trusted outright: it enters HypoList as a fixed Hypo that the evolve
// loop still associates and prunes picks against, but never relocates.
package detection

import (
	"glass3/internal/glass/hypo"
	"glass3/internal/glass/messages"
	"glass3/internal/glass/pick"
)

// Import constructs a fixed Hypo from a decoded DetectionMessage and its
// resolved picks, ready for HypoList.Add. The caller is responsible for
// resolving/creating each PickMessage into the pick arena first (the same
// admission path an ordinary Pick message goes through) and passing the
// resulting *pick.Pick values here.
func Import(msg messages.DetectionMessage, resolvedPicks []*pick.Pick) *hypo.Hypo {
	h := hypo.New(msg.Latitude, msg.Longitude, msg.Depth, msg.OriginTime, 0, resolvedPicks)
	h.SetFixed(true)
	return h
}
