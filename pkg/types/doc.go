// Package types defines the telemetry items shared by the agent and the ingest
// server. These are the canonical in-memory representations; the envelope
// package owns the wire format.
//
// Item is a closed sum type. The variants are *Error, *CheckIn, *Transaction,
// *LogEvent and the drain-time *LogBatch; no other package can add one, so a
// type switch over the five variants is exhaustive.
//
// Items are immutable once submitted. The New* constructors assign ids and
// timestamps; callers fill the remaining fields before handing the item to the
// client and must not modify it afterwards.
package types
