// Package receiver implements the envelope ingest endpoint,
// POST /api/{project}/envelope/.
//
// The receiver gunzips the body when Content-Encoding is gzip, decodes it
// with package envelope (400 on malformed input, 413 above the size cap),
// and stores every event item in the store. Attachments are recorded on the
// event they follow and client reports are folded into the discard stats.
// The response is {"id": "<event id>"}.
//
// Configured rate-limit rules are advertised in X-Sentry-Rate-Limits on every
// response; a reject rule matching one of the envelope's event categories
// turns the answer into 429 and nothing is stored. Authentication is
// enforced upstream by package auth.
package receiver
