// Package clientreport counts telemetry the agent discarded and turns the
// counts into periodic ClientReport items.
//
// Every component that drops an item records it here with a reason and
// category. Take returns the pending counts as a report and resets them;
// Totals keeps cumulative counts for metrics.
package clientreport
