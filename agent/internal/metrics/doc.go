// Package metrics exposes the delivery core's counters as Prometheus metrics.
//
// Collector reads a Snapshot from its Source on every scrape and emits
// constant metrics, so the hot path never touches Prometheus types:
//
//	beacon_buffered_items{category}                  gauge
//	beacon_buffer_capacity{category}                 gauge
//	beacon_envelopes_sent_total{category}            counter
//	beacon_envelopes_failed_total{category}          counter
//	beacon_items_filtered_total{category}            counter
//	beacon_discarded_events_total{reason,category}   counter
//	beacon_rate_limited{category}                    gauge (0/1)
//	beacon_http_requests_total                       counter
//	beacon_http_retries_total                        counter
//	beacon_degraded_payloads_total                   counter
//	beacon_dedupe_fingerprints                       gauge
//
// WriteText renders any Gatherer in the text exposition format and ParseText
// reads it back, which the agent uses to dump final counters on shutdown.
package metrics
