package types

import (
	"fmt"
	"time"
)

// Category classifies a telemetry item. It selects the buffer, the scheduler
// weight and the rate-limit bucket.
type Category string

const (
	CategoryError       Category = "error"
	CategoryCheckIn     Category = "check_in"
	CategoryTransaction Category = "transaction"
	CategoryLog         Category = "log"

	// Wire-only categories. They never have a buffer.
	CategoryClientReport Category = "client_report"
	CategoryAttachment   Category = "attachment"
)

// Categories returns the buffered categories in scheduling priority order.
func Categories() []Category {
	return []Category{CategoryError, CategoryCheckIn, CategoryTransaction, CategoryLog}
}

// ParseCategory maps a category name, including the aliases used in server
// rate-limit directives, to a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "error", "default":
		return CategoryError, nil
	case "check_in", "monitor":
		return CategoryCheckIn, nil
	case "transaction":
		return CategoryTransaction, nil
	case "log", "log_item":
		return CategoryLog, nil
	case "client_report":
		return CategoryClientReport, nil
	case "attachment":
		return CategoryAttachment, nil
	}
	return "", fmt.Errorf("types: unknown category %q", s)
}

// DiscardReason records why an item never reached the server.
type DiscardReason string

const (
	ReasonBufferOverflow    DiscardReason = "buffer_overflow"
	ReasonDuplicate         DiscardReason = "duplicate"
	ReasonRateLimited       DiscardReason = "rate_limited"
	ReasonFiltered          DiscardReason = "filtered"
	ReasonServerError       DiscardReason = "server_error"
	ReasonRequestFailure    DiscardReason = "request_failure"
	ReasonTooManyRetries    DiscardReason = "too_many_retries"
	ReasonMalformedResponse DiscardReason = "malformed_response"
)

// ClientReport is the periodic summary of discarded items sent to the server
// as its own envelope item.
type ClientReport struct {
	Timestamp       time.Time        `json:"timestamp"`
	DiscardedEvents []DiscardedEvent `json:"discarded_events"`
}

// DiscardedEvent is one (reason, category) counter in a ClientReport.
type DiscardedEvent struct {
	Reason   DiscardReason `json:"reason"`
	Category Category      `json:"category"`
	Quantity int64         `json:"quantity"`
}
