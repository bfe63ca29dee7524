// Package sink defines the message-emission collaborator the engine's
// core depends on, kept as its own
// tiny package so both hypo and the orchestrator can depend on the
// interface without depending on each other.
package sink

// Sink accepts an outbound message (already shaped into the wire map by
// the messages package) and reports whether it was delivered. A false
// return is not retried by the caller; output delivery failures are
// logged and dropped, never block the evolve loop.
type Sink interface {
	Send(msg map[string]any) bool
}

// Discard is a Sink that drops every message, useful as a default when no
// real transport is configured (tests, dry runs).
type Discard struct{}

func (Discard) Send(map[string]any) bool { return true }
