package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/obsidianstack/beacon/pkg/envelope"
	"github.com/obsidianstack/beacon/pkg/types"
	"github.com/obsidianstack/beacon/server/internal/config"
	"github.com/obsidianstack/beacon/server/internal/store"
)

// HeaderRateLimits carries the rate-limit directives in ingest responses.
const HeaderRateLimits = "X-Sentry-Rate-Limits"

var errTooLarge = errors.New("request body too large")

// Receiver accepts envelopes on /api/{project}/envelope/.
type Receiver struct {
	store   *store.Store
	rules   []config.RateLimitRule
	maxBody int64
	notify  func()
}

// New wires the receiver to the given event store. rules are advertised on
// every response; maxBody caps the decompressed request size. notify, when
// non-nil, is called after every stored envelope.
func New(st *store.Store, rules []config.RateLimitRule, maxBody int64, notify func()) *Receiver {
	return &Receiver{store: st, rules: rules, maxBody: maxBody, notify: notify}
}

// ServeHTTP implements http.Handler.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project, ok := projectFromPath(r.URL.Path)
	if !ok {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := rc.readBody(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		slog.Warn("receiver: unreadable request", "project", project, "err", err)
		jsonErr(w, status, err.Error())
		return
	}

	env, err := envelope.Decode(body)
	if err != nil {
		slog.Warn("receiver: malformed envelope", "project", project, "err", err)
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(rc.rules) > 0 {
		directives := make([]string, 0, len(rc.rules))
		for _, rule := range rc.rules {
			directives = append(directives, rule.Directive())
		}
		w.Header().Set(HeaderRateLimits, strings.Join(directives, ","))
	}
	if rc.rejects(env) {
		rc.store.RecordEnvelope(true)
		slog.Debug("receiver: envelope rejected by rate limit", "project", project, "category", env.Category())
		jsonErr(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	events := rc.ingest(project, env)
	for _, e := range events {
		rc.store.Put(e)
	}
	rc.store.RecordEnvelope(false)
	if rc.notify != nil {
		rc.notify()
	}

	id := env.ID
	if id == "" && len(events) > 0 {
		id = events[0].ID
	}
	if id == "" {
		id = newID()
	}
	slog.Debug("receiver: envelope stored", "project", project, "id", id, "items", len(env.Items))
	jsonResp(w, map[string]string{"id": id})
}

func (rc *Receiver) readBody(r *http.Request) ([]byte, error) {
	var src io.Reader = r.Body
	if strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}
	data, err := io.ReadAll(io.LimitReader(src, rc.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > rc.maxBody {
		return nil, errTooLarge
	}
	return data, nil
}

// rejects reports whether a reject rule covers any event category in env.
// Client reports are never rejected.
func (rc *Receiver) rejects(env *envelope.Envelope) bool {
	for c := range env.Quantities() {
		for _, rule := range rc.rules {
			if rule.Reject && rule.Matches(c) {
				return true
			}
		}
	}
	return false
}

// ingest turns envelope items into store events. Client reports are folded
// into the stats and attachments are attached to the preceding event.
func (rc *Receiver) ingest(project string, env *envelope.Envelope) []*store.Event {
	var events []*store.Event
	for i, it := range env.Items {
		switch it.Header.Type {
		case envelope.TypeClientReport:
			var report types.ClientReport
			if err := json.Unmarshal(it.Payload, &report); err != nil {
				slog.Warn("receiver: bad client report", "project", project, "err", err)
				continue
			}
			rc.store.RecordReport(&report)
		case envelope.TypeAttachment:
			if len(events) == 0 {
				continue
			}
			last := events[len(events)-1]
			last.Attachments = append(last.Attachments, store.Attachment{
				Filename:    it.Header.Filename,
				ContentType: it.Header.ContentType,
				Size:        len(it.Payload),
			})
		default:
			e := &store.Event{
				ID:       eventID(it, env, i),
				Project:  project,
				Type:     it.Header.Type,
				Category: it.Category(),
				Quantity: 1,
				Payload:  rawPayload(it.Payload),
			}
			if it.Header.ItemCount > 0 {
				e.Quantity = it.Header.ItemCount
			}
			events = append(events, e)
		}
	}
	return events
}

// eventID prefers the payload's own event_id, then the envelope id for the
// primary item, then a fresh id.
func eventID(it envelope.Item, env *envelope.Envelope, index int) string {
	if id := gjson.GetBytes(it.Payload, "event_id"); id.Type == gjson.String && id.Str != "" {
		return id.Str
	}
	if index == 0 && env.ID != "" {
		return env.ID
	}
	return newID()
}

func rawPayload(p []byte) json.RawMessage {
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	b, _ := json.Marshal(string(p))
	return b
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// projectFromPath extracts {project} from /api/{project}/envelope/.
func projectFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return "", false
	}
	project, tail, ok := strings.Cut(rest, "/")
	if !ok || project == "" {
		return "", false
	}
	if tail != "envelope/" && tail != "envelope" {
		return "", false
	}
	return project, true
}

func jsonResp(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("receiver: encode response", "err", err)
	}
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
