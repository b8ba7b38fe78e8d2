// Package envelope implements the newline-delimited envelope wire format used
// between the agent and the ingest server.
//
// An encoded envelope is a header line followed by one (header, payload) pair
// per item:
//
//	{"event_id":"9ec79c33ec9942ab8353589fcb2e04dc"}
//	{"type":"event","length":41}
//	{"event_id":"9ec79c33...","message":"boom"}
//	{"type":"attachment","length":12,"filename":"dump.txt"}
//	<12 raw bytes>
//
// An envelope without an id renders its header as {}. Every item header
// carries the exact payload length, so binary payloads with embedded newlines
// frame unambiguously. Decode also accepts items without a length, in which
// case the payload runs to the next newline.
//
// Building an envelope never fails because of item content: values that
// cannot be JSON-encoded are replaced with a %#v rendering and counted in
// Envelope.Degraded so the envelope still ships. Only an envelope with zero
// items is rejected (ErrNoItems).
package envelope
