// Package dedupe suppresses repeated error reports.
//
// Each error is reduced to a fingerprint of its stable attributes: message,
// exception chain with stack frames, user, tags, extra and any custom
// fingerprint. The attributes are encoded with CBOR Core Deterministic
// Encoding (sorted map keys) and hashed with BLAKE3, so identical attribute
// sets always collide and any difference in context does not.
//
// An entry moves absent -> present on Insert, becomes stale purely by age,
// and is removed by Sweep once its own age reaches the TTL. Later sightings
// do not refresh an entry.
package dedupe
