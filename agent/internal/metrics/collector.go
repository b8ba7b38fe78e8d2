package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/beacon/pkg/types"
)

const namespace = "beacon"

var (
	descBuffered = prometheus.NewDesc(namespace+"_buffered_items",
		"Items waiting in the category buffer.", []string{"category"}, nil)
	descCapacity = prometheus.NewDesc(namespace+"_buffer_capacity",
		"Configured capacity of the category buffer.", []string{"category"}, nil)
	descSent = prometheus.NewDesc(namespace+"_envelopes_sent_total",
		"Envelopes accepted by the server.", []string{"category"}, nil)
	descFailed = prometheus.NewDesc(namespace+"_envelopes_failed_total",
		"Envelopes that failed terminally.", []string{"category"}, nil)
	descFiltered = prometheus.NewDesc(namespace+"_items_filtered_total",
		"Items dropped by the before-send hook.", []string{"category"}, nil)
	descDiscarded = prometheus.NewDesc(namespace+"_discarded_events_total",
		"Events that never reached the server.", []string{"reason", "category"}, nil)
	descRateLimited = prometheus.NewDesc(namespace+"_rate_limited",
		"1 while the server has disabled the category.", []string{"category"}, nil)
	descRequests = prometheus.NewDesc(namespace+"_http_requests_total",
		"HTTP requests issued by the transport.", nil, nil)
	descRetries = prometheus.NewDesc(namespace+"_http_retries_total",
		"Retries after 5xx or network failures.", nil, nil)
	descDegraded = prometheus.NewDesc(namespace+"_degraded_payloads_total",
		"Payloads sent with a fallback encoding.", nil, nil)
	descFingerprints = prometheus.NewDesc(namespace+"_dedupe_fingerprints",
		"Error fingerprints held by the deduplicator.", nil, nil)
)

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src Source
}

// NewCollector returns a Collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descBuffered, descCapacity, descSent, descFailed, descFiltered,
		descDiscarded, descRateLimited, descRequests, descRetries,
		descDegraded, descFingerprints,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	for _, cat := range keys(s.Buffered) {
		ch <- prometheus.MustNewConstMetric(descBuffered, prometheus.GaugeValue, float64(s.Buffered[cat]), string(cat))
	}
	for _, cat := range keys(s.Capacity) {
		ch <- prometheus.MustNewConstMetric(descCapacity, prometheus.GaugeValue, float64(s.Capacity[cat]), string(cat))
	}
	for _, cat := range keys(s.Sent) {
		ch <- prometheus.MustNewConstMetric(descSent, prometheus.CounterValue, float64(s.Sent[cat]), string(cat))
	}
	for _, cat := range keys(s.Failed) {
		ch <- prometheus.MustNewConstMetric(descFailed, prometheus.CounterValue, float64(s.Failed[cat]), string(cat))
	}
	for _, cat := range keys(s.Filtered) {
		ch <- prometheus.MustNewConstMetric(descFiltered, prometheus.CounterValue, float64(s.Filtered[cat]), string(cat))
	}
	for _, d := range s.Discarded {
		ch <- prometheus.MustNewConstMetric(descDiscarded, prometheus.CounterValue, float64(d.Quantity),
			string(d.Reason), string(d.Category))
	}
	for _, cat := range keys(s.RateLimited) {
		v := 0.0
		if s.RateLimited[cat] {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(descRateLimited, prometheus.GaugeValue, v, string(cat))
	}
	ch <- prometheus.MustNewConstMetric(descRequests, prometheus.CounterValue, float64(s.Requests))
	ch <- prometheus.MustNewConstMetric(descRetries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(descDegraded, prometheus.CounterValue, float64(s.Degraded))
	ch <- prometheus.MustNewConstMetric(descFingerprints, prometheus.GaugeValue, float64(s.Fingerprints))
}

func keys[V any](m map[types.Category]V) []types.Category {
	out := make([]types.Category, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
