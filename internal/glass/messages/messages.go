// Package messages shapes the engine's external interfaces: decoding
// inbound Cmd/Type-discriminated maps into typed requests and encoding
// outbound Hypo/Cancel reports into the wire map a sink.Sink consumes.
// Decoding here means map[string]any -> typed struct only; turning raw
// bytes into that map is the CLI boundary's job (encoding/json in
// cmd/glassd), kept out of this package so it stays free of I/O.
package messages

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"
)

// Kind discriminates a decoded inbound message.
type Kind int

const (
	KindUnknown Kind = iota
	KindInitialize
	KindSiteList
	KindSite
	KindPick
	KindCorrelation
	KindDetection
	KindReqHypo
)

// Beam carries the optional backazimuth/slowness payload a Pick message
// may include.
type Beam struct {
	BackAzimuth *float64
	Slowness    *float64
}

// SiteRef identifies a station the way inbound Pick/Correlation/Site
// messages do.
type SiteRef struct {
	Network  string
	Station  string
	Channel  string
	Location string
}

// PickMessage is a decoded `{Type:"Pick", ...}` message.
type PickMessage struct {
	ExternalID string
	Site       SiteRef
	ArrivalTime float64 // seconds since epoch
	Beam       *Beam
}

// CorrelationMessage is a decoded `{Type:"Correlation", ...}` message.
type CorrelationMessage struct {
	ExternalID   string
	Site         SiteRef
	ArrivalTime  float64
	Latitude     float64
	Longitude    float64
	Depth        float64
}

// DetectionMessage is a decoded `{Type:"Detection", Hypocenter:{...},
// PickData:[...]}` message, an externally supplied, trusted hypocenter.
type DetectionMessage struct {
	ExternalID string
	Latitude   float64
	Longitude  float64
	Depth      float64
	OriginTime float64
	Picks      []PickMessage
}

// SiteMessage is a decoded single-station `{Cmd:"Site", ...}` update.
type SiteMessage struct {
	Site            SiteRef
	Latitude        float64
	Longitude       float64
	ElevationKM     float64
	Enable          bool
}

// SiteListMessage is a decoded bulk `{Cmd:"SiteList", SiteList:[...]}` load.
type SiteListMessage struct {
	Sites []SiteMessage
}

// ReqHypoMessage is a decoded `{Type:"ReqHypo", Pid:<str>}` synchronous
// request, answered through the sink rather than a return value.
type ReqHypoMessage struct {
	HypoID string
}

// Decode inspects a raw inbound map for its Cmd or Type discriminator and
// dispatches to the matching typed decoder, returning Kind and the decoded
// value as `any` (one of the *Message types above, except for
// KindInitialize, whose raw map is returned undecoded). For KindSiteList the
// decoded message carries every well-formed entry even when err is
// non-nil; err then batches the malformed entries the caller should log
// before proceeding with the rest.
func Decode(raw map[string]any) (Kind, any, error) {
	if cmd, ok := stringField(raw, "Cmd"); ok {
		switch cmd {
		case "Initialize":
			return KindInitialize, raw, nil
		case "SiteList":
			m, err := decodeSiteList(raw)
			return KindSiteList, m, err
		case "Site":
			m, err := decodeSite(raw)
			return KindSite, m, err
		}
	}
	if typ, ok := stringField(raw, "Type"); ok {
		switch typ {
		case "Pick":
			m, err := decodePick(raw)
			return KindPick, m, err
		case "Correlation":
			m, err := decodeCorrelation(raw)
			return KindCorrelation, m, err
		case "Detection":
			m, err := decodeDetection(raw)
			return KindDetection, m, err
		case "ReqHypo":
			m, err := decodeReqHypo(raw)
			return KindReqHypo, m, err
		}
	}
	return KindUnknown, nil, fmt.Errorf("messages: unrecognized Cmd/Type in %v", raw)
}

func stringField(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func floatField(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func boolField(raw map[string]any, key string) bool {
	v, ok := raw[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func siteRefFrom(raw map[string]any) SiteRef {
	sub, _ := raw["Site"].(map[string]any)
	if sub == nil {
		sub = raw
	}
	net, _ := stringField(sub, "Network")
	sta, _ := stringField(sub, "Station")
	channel, _ := stringField(sub, "Channel")
	loc, _ := stringField(sub, "Location")
	return SiteRef{Network: net, Station: sta, Channel: channel, Location: loc}
}

// parseTime accepts either an ISO8601 string (`Time`/`T`) or a bare epoch
// seconds number.
func parseTime(raw map[string]any) (float64, error) {
	if t, ok := floatField(raw, "Time"); ok {
		return t, nil
	}
	if t, ok := floatField(raw, "T"); ok {
		return t, nil
	}
	if s, ok := stringField(raw, "Time"); ok {
		return parseISO8601(s)
	}
	if s, ok := stringField(raw, "T"); ok {
		return parseISO8601(s)
	}
	return 0, fmt.Errorf("messages: missing Time/T field")
}

func parseISO8601(s string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("messages: parse time %q: %w", s, err)
	}
	return float64(t.UnixNano()) / 1e9, nil
}

func idField(raw map[string]any) string {
	if s, ok := stringField(raw, "ID"); ok {
		return s
	}
	if s, ok := stringField(raw, "Pid"); ok {
		return s
	}
	return ""
}

func decodePick(raw map[string]any) (PickMessage, error) {
	arrival, err := parseTime(raw)
	if err != nil {
		return PickMessage{}, err
	}
	m := PickMessage{
		ExternalID:  idField(raw),
		Site:        siteRefFrom(raw),
		ArrivalTime: arrival,
	}
	if beamRaw, ok := raw["Beam"].(map[string]any); ok {
		b := &Beam{}
		if v, ok := floatField(beamRaw, "BackAzimuth"); ok {
			b.BackAzimuth = &v
		}
		if v, ok := floatField(beamRaw, "Slowness"); ok {
			b.Slowness = &v
		}
		m.Beam = b
	}
	return m, nil
}

func decodeCorrelation(raw map[string]any) (CorrelationMessage, error) {
	arrival, err := parseTime(raw)
	if err != nil {
		return CorrelationMessage{}, err
	}
	lat, _ := floatField(raw, "Latitude")
	lon, _ := floatField(raw, "Longitude")
	depth, _ := floatField(raw, "Depth")
	return CorrelationMessage{
		ExternalID:  idField(raw),
		Site:        siteRefFrom(raw),
		ArrivalTime: arrival,
		Latitude:    lat,
		Longitude:   lon,
		Depth:       depth,
	}, nil
}

func decodeDetection(raw map[string]any) (DetectionMessage, error) {
	hyp, _ := raw["Hypocenter"].(map[string]any)
	if hyp == nil {
		return DetectionMessage{}, fmt.Errorf("messages: Detection missing Hypocenter")
	}
	lat, _ := floatField(hyp, "Latitude")
	lon, _ := floatField(hyp, "Longitude")
	depth, _ := floatField(hyp, "Depth")
	origin, err := parseTime(hyp)
	if err != nil {
		return DetectionMessage{}, err
	}

	var picks []PickMessage
	if rawPicks, ok := raw["PickData"].([]any); ok {
		for _, rp := range rawPicks {
			pm, ok := rp.(map[string]any)
			if !ok {
				continue
			}
			p, err := decodePick(pm)
			if err != nil {
				continue
			}
			picks = append(picks, p)
		}
	}

	return DetectionMessage{
		ExternalID: idField(raw),
		Latitude:   lat,
		Longitude:  lon,
		Depth:      depth,
		OriginTime: origin,
		Picks:      picks,
	}, nil
}

func decodeSite(raw map[string]any) (SiteMessage, error) {
	ref := siteRefFrom(raw)
	if ref.Station == "" {
		return SiteMessage{}, fmt.Errorf("messages: Site missing Station")
	}
	if ref.Network == "" {
		return SiteMessage{}, fmt.Errorf("messages: Site missing Network")
	}
	lat, _ := floatField(raw, "Latitude")
	lon, _ := floatField(raw, "Longitude")
	if lat < -90 || lat > 90 {
		return SiteMessage{}, fmt.Errorf("messages: Site latitude %f out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return SiteMessage{}, fmt.Errorf("messages: Site longitude %f out of range", lon)
	}
	elev, _ := floatField(raw, "Elevation")
	return SiteMessage{
		Site:        ref,
		Latitude:    lat,
		Longitude:   lon,
		ElevationKM: elev,
		Enable:      !boolHas(raw, "Enable") || boolField(raw, "Enable"),
	}, nil
}

func boolHas(raw map[string]any, key string) bool {
	_, ok := raw[key]
	return ok
}

// decodeSiteList decodes every well-formed entry and batches the malformed
// ones into one returned error, so the caller can log them all at once and
// still load the rest of the list.
func decodeSiteList(raw map[string]any) (SiteListMessage, error) {
	rawList, ok := raw["SiteList"].([]any)
	if !ok {
		return SiteListMessage{}, fmt.Errorf("messages: SiteList missing SiteList array")
	}
	var malformed *multierror.Error
	out := SiteListMessage{Sites: make([]SiteMessage, 0, len(rawList))}
	for i, rs := range rawList {
		sm, ok := rs.(map[string]any)
		if !ok {
			malformed = multierror.Append(malformed, fmt.Errorf("messages: SiteList entry %d is not an object", i))
			continue
		}
		s, err := decodeSite(sm)
		if err != nil {
			malformed = multierror.Append(malformed, fmt.Errorf("messages: SiteList entry %d: %w", i, err))
			continue
		}
		out.Sites = append(out.Sites, s)
	}
	return out, malformed.ErrorOrNil()
}

func decodeReqHypo(raw map[string]any) (ReqHypoMessage, error) {
	id := idField(raw)
	if id == "" {
		return ReqHypoMessage{}, fmt.Errorf("messages: ReqHypo missing Pid")
	}
	return ReqHypoMessage{HypoID: id}, nil
}

// HypoReport is the outbound shape for a promoted Hypo.
type HypoReport struct {
	ID                     string
	OriginTime             float64
	Latitude               float64
	Longitude              float64
	Depth                  float64
	Bayes                  float64
	NumberOfAssociatedData int
	PickIDs                []int64
}

// ToMap encodes a HypoReport into the `{Cmd:"Hypo", ...}` wire shape.
func (r HypoReport) ToMap() map[string]any {
	return map[string]any{
		"Cmd":                    "Hypo",
		"Pid":                    r.ID,
		"Time":                   formatISO8601(r.OriginTime),
		"Latitude":               r.Latitude,
		"Longitude":              r.Longitude,
		"Depth":                  r.Depth,
		"Bayes":                  r.Bayes,
		"NumberOfAssociatedData": r.NumberOfAssociatedData,
		"Data":                   r.PickIDs,
	}
}

// CancelReport is the outbound shape for a canceled Hypo.
type CancelReport struct {
	ID     string
	Reason string
}

// ToMap encodes a CancelReport into the `{Cmd:"Cancel", ...}` wire shape.
func (r CancelReport) ToMap() map[string]any {
	return map[string]any{
		"Cmd":    "Cancel",
		"Pid":    r.ID,
		"Reason": r.Reason,
	}
}

func formatISO8601(epochSeconds float64) string {
	sec := int64(epochSeconds)
	nsec := int64((epochSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339Nano)
}
