package api

import (
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
	"github.com/obsidianstack/beacon/server/internal/store"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Events        int    `json:"events"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// EventSummary is one element of GET /api/v1/events. The payload is only
// returned by GET /api/v1/events/{id}.
type EventSummary struct {
	ID          string         `json:"id"`
	Project     string         `json:"project"`
	Type        string         `json:"type"`
	Category    types.Category `json:"category"`
	Quantity    int            `json:"quantity"`
	Attachments int            `json:"attachments"`
	ReceivedAt  string         `json:"received_at"` // RFC3339
}

// StatsResponse is the payload for GET /api/v1/stats and the data of every
// WebSocket "stats" message.
type StatsResponse struct {
	store.Stats
	GeneratedAt string `json:"generated_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}

func toSummary(e *store.Event) EventSummary {
	return EventSummary{
		ID:          e.ID,
		Project:     e.Project,
		Type:        e.Type,
		Category:    e.Category,
		Quantity:    e.Quantity,
		Attachments: len(e.Attachments),
		ReceivedAt:  e.ReceivedAt.UTC().Format(time.RFC3339),
	}
}

// BuildStats renders the current ingest counters.
func BuildStats(st *store.Store) StatsResponse {
	return StatsResponse{
		Stats:       st.Stats(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
