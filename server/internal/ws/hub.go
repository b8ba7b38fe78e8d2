package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/beacon/server/internal/api"
	"github.com/obsidianstack/beacon/server/internal/store"
)

// Triggers recorded on every Message.
const (
	TriggerConnect = "connect"
	TriggerTick    = "tick"
	TriggerIngest  = "ingest"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy in front of the dev server.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON frame pushed to subscribers.
type Message struct {
	Event   string            `json:"event"`
	Trigger string            `json:"trigger"`
	Data    api.StatsResponse `json:"data"`
}

// Hub pushes ingest stats to WebSocket subscribers every interval and after
// Notify.
type Hub struct {
	store    *store.Store
	interval time.Duration
	notify   chan struct{}

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Hub that reads from st and pushes every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		notify:   make(chan struct{}, 1),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Notify requests an early push. Requests made while one is pending are
// coalesced; it never blocks.
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Run pushes stats until ctx is cancelled, then disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-t.C:
			h.publish(TriggerTick)
		case <-h.notify:
			h.publish(TriggerIngest)
		}
	}
}

// ServeHTTP upgrades the request, sends the current stats and then streams
// pushes until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("ws: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := newSubscriber(conn)
	h.add(s)
	defer h.remove(s)

	if frame, err := h.frame(TriggerConnect); err == nil {
		s.offer(frame)
	}

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Pushed returns how many frames were queued to subscribers.
func (h *Hub) Pushed() uint64 { return h.pushed.Load() }

// Dropped returns how many subscribers were cut off for falling behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Collectors exposes the hub counters for a Prometheus registry.
func (h *Hub) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "beacon_server_ws_subscribers",
			Help: "Connected WebSocket stats subscribers.",
		}, func() float64 { return float64(h.Count()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "beacon_server_ws_frames_pushed_total",
			Help: "Stats frames queued to WebSocket subscribers.",
		}, func() float64 { return float64(h.Pushed()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "beacon_server_ws_subscribers_dropped_total",
			Help: "Subscribers disconnected because their queue was full.",
		}, func() float64 { return float64(h.Dropped()) }),
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

// remove detaches s and closes its queue. Later calls are no-ops.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.close()
	}
}

func (h *Hub) publish(trigger string) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	frame, err := h.frame(trigger)
	if err != nil {
		slog.Error("ws: encode stats", "err", err)
		return
	}
	for _, s := range subs {
		if s.offer(frame) {
			h.pushed.Add(1)
			continue
		}
		slog.Warn("ws: dropping slow subscriber", "remote", s.remote)
		h.dropped.Add(1)
		h.remove(s)
	}
}

func (h *Hub) frame(trigger string) ([]byte, error) {
	return json.Marshal(Message{
		Event:   "stats",
		Trigger: trigger,
		Data:    api.BuildStats(h.store),
	})
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
}
