// Package ws streams ingest stats to WebSocket subscribers.
//
// A Hub pushes a frame on connect, every interval (default 5s) and after
// Notify, which the receiver calls once per stored envelope. Notify calls
// made while a push is pending collapse into one.
//
// Frame format:
//
//	{
//	  "event":   "stats",
//	  "trigger": "connect" | "tick" | "ingest",
//	  "data":    { /* same schema as GET /api/v1/stats */ }
//	}
//
// Each subscriber has a bounded queue. A subscriber whose queue is full is
// disconnected rather than slowing the others. Collectors exposes subscriber
// and frame counters on the server's /metrics endpoint.
//
// The upgrader accepts all origins; apply CORS at the reverse proxy. The
// server mounts the hub at /ws/stream.
package ws
