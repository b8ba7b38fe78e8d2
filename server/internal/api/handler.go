package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/beacon/pkg/types"
	"github.com/obsidianstack/beacon/server/internal/store"
)

// Default and maximum page size of GET /api/v1/events.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads received events from the store and returns JSON responses.
type Handler struct {
	store   *store.Store
	mux     *http.ServeMux
	started time.Time
}

// New creates a Handler wired to the given event store and registers all routes.
func New(st *store.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux(), started: time.Now()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/events", h.listEvents)
	h.mux.HandleFunc("/api/v1/events/", h.getEvent) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/stats", h.stats)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Events:        h.store.Count(),
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
	})
}

// listEvents returns GET /api/v1/events: live events, newest first.
// Query parameters: category, project, limit.
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	f := store.Filter{Project: q.Get("project"), Limit: DefaultLimit}
	if c := q.Get("category"); c != "" {
		cat, err := types.ParseCategory(c)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "unknown category "+strconv.Quote(c))
			return
		}
		f.Category = cat
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, MaxLimit)
	}

	events := h.store.List(f)
	out := make([]EventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, toSummary(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getEvent returns GET /api/v1/events/{id}: a single event with its payload.
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	if id == "" {
		h.listEvents(w, r)
		return
	}

	e, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "event not found")
		return
	}
	// Stale events are treated as not found.
	if time.Since(e.ReceivedAt) > h.store.TTL() {
		jsonErr(w, http.StatusNotFound, "event not found")
		return
	}

	jsonResp(w, http.StatusOK, e)
}

// stats returns GET /api/v1/stats: ingest counters and client-report discards.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildStats(h.store))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
