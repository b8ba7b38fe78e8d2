// Package ratelimit tracks server-issued backoff directives per telemetry
// category.
//
// The server attaches a directive header to any response:
//
//	X-Sentry-Rate-Limits: 60:error;transaction:key, 2700::organization
//
// Each comma-separated group is retry_after:categories:scope[:reason]. The
// categories field is a ;-separated list; an empty list disables every
// category. A category stays limited while now < disabled_until. Updates
// never shorten an existing longer ban.
//
// IsLimited is a pure read, so expired entries are harmless; Cleanup (and Run)
// only bound the map's size.
package ratelimit
