// Package client is the producer-facing entry point of the delivery core.
//
// New wires the pieces together:
//
//	Submit* ──► dedupe (errors) ──► buffer.Set ──► scheduler ──► transport ──► HTTP
//	                  │                 │               │             │
//	                  └─────────────────┴───── clientreport.Recorder ◄┘
//
// Submit methods never block beyond a buffer's critical section and never
// return delivery errors: every loss is recorded as a discard and shipped in
// the next client report. SubmitErrorSync is the exception, for callers that
// must know whether one error reached the server before continuing.
//
// Start launches the scheduler and the dedupe and rate-limit janitors. Close
// flushes with a bounded timeout and stops them.
package client
