package receiver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/obsidianstack/beacon/pkg/envelope"
	"github.com/obsidianstack/beacon/pkg/types"
	"github.com/obsidianstack/beacon/server/internal/config"
	"github.com/obsidianstack/beacon/server/internal/receiver"
	"github.com/obsidianstack/beacon/server/internal/store"
)

func newReceiver(t *testing.T, rules ...config.RateLimitRule) (*receiver.Receiver, *store.Store) {
	t.Helper()
	st := store.New(5*time.Minute, 100)
	return receiver.New(st, rules, 1<<20, nil), st
}

func post(t *testing.T, h http.Handler, path string, body []byte, gzipped bool) *httptest.ResponseRecorder {
	t.Helper()
	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			t.Fatalf("gzip: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		body = buf.Bytes()
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-sentry-envelope")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func encode(t *testing.T, it types.Item) (*envelope.Envelope, []byte) {
	t.Helper()
	env, err := envelope.FromItem(it)
	if err != nil {
		t.Fatalf("FromItem: %v", err)
	}
	return env, env.Encode()
}

func responseID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body.ID
}

func TestServeHTTP_StoresError(t *testing.T) {
	rc, st := newReceiver(t)
	e := types.NewError("boom")
	e.Attachments = []types.Attachment{{Filename: "dump.txt", Data: []byte("abc\n")}}
	env, body := encode(t, e)

	for _, gz := range []bool{false, true} {
		rec := post(t, rc, "/api/42/envelope/", body, gz)
		if rec.Code != http.StatusOK {
			t.Fatalf("gzip=%v status: got %d, body %s", gz, rec.Code, rec.Body)
		}
		if id := responseID(t, rec); id != env.ID {
			t.Errorf("gzip=%v id: got %q, want %q", gz, id, env.ID)
		}
	}

	ev, ok := st.Get(e.EventID)
	if !ok {
		t.Fatalf("event %s not stored", e.EventID)
	}
	if ev.Project != "42" || ev.Category != types.CategoryError || ev.Type != envelope.TypeEvent {
		t.Errorf("event: got %+v", ev)
	}
	if len(ev.Attachments) != 1 || ev.Attachments[0].Filename != "dump.txt" || ev.Attachments[0].Size != 4 {
		t.Errorf("attachments: got %+v", ev.Attachments)
	}
	if s := st.Stats(); s.Envelopes != 2 || s.Accepted[types.CategoryError] != 2 {
		t.Errorf("stats: got %+v", s)
	}
}

func TestServeHTTP_LogBatchQuantity(t *testing.T) {
	rc, st := newReceiver(t)
	_, body := encode(t, &types.LogBatch{Items: []*types.LogEvent{
		types.NewLogEvent(types.LevelInfo, "a"),
		types.NewLogEvent(types.LevelInfo, "b"),
		types.NewLogEvent(types.LevelError, "c"),
	}})

	rec := post(t, rc, "/api/1/envelope/", body, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	// Log envelopes carry no id; the server assigns one.
	id := responseID(t, rec)
	if id == "" {
		t.Fatal("empty id")
	}
	ev, ok := st.Get(id)
	if !ok {
		t.Fatalf("event %s not stored", id)
	}
	if ev.Quantity != 3 || ev.Category != types.CategoryLog {
		t.Errorf("event: got quantity %d category %s", ev.Quantity, ev.Category)
	}
}

func TestServeHTTP_ClientReport(t *testing.T) {
	rc, st := newReceiver(t)
	env, err := envelope.FromClientReport(&types.ClientReport{
		Timestamp: time.Now().UTC(),
		DiscardedEvents: []types.DiscardedEvent{
			{Reason: types.ReasonBufferOverflow, Category: types.CategoryLog, Quantity: 9},
		},
	})
	if err != nil {
		t.Fatalf("FromClientReport: %v", err)
	}

	rec := post(t, rc, "/api/1/envelope/", env.Encode(), false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if st.Count() != 0 {
		t.Errorf("client reports must not be stored as events, Count=%d", st.Count())
	}
	s := st.Stats()
	if len(s.Discarded) != 1 || s.Discarded[0].Quantity != 9 {
		t.Errorf("Discarded: got %+v", s.Discarded)
	}
}

func TestServeHTTP_RateLimitRules(t *testing.T) {
	rc, st := newReceiver(t,
		config.RateLimitRule{Categories: []string{"error"}, RetryAfter: 30 * time.Second, Reject: true},
		config.RateLimitRule{Categories: []string{"log_item"}, RetryAfter: 5 * time.Second},
	)
	const wantHeader = "30:error:organization,5:log_item:organization"

	_, errBody := encode(t, types.NewError("limited"))
	rec := post(t, rc, "/api/1/envelope/", errBody, false)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("error envelope: got %d, want 429", rec.Code)
	}
	if h := rec.Header().Get(receiver.HeaderRateLimits); h != wantHeader {
		t.Errorf("header: got %q, want %q", h, wantHeader)
	}

	_, logBody := encode(t, types.NewLogEvent(types.LevelInfo, "advisory only"))
	rec = post(t, rc, "/api/1/envelope/", logBody, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("log envelope: got %d, want 200", rec.Code)
	}
	if h := rec.Header().Get(receiver.HeaderRateLimits); h != wantHeader {
		t.Errorf("header: got %q, want %q", h, wantHeader)
	}

	s := st.Stats()
	if s.Envelopes != 2 || s.Rejected != 1 || st.Count() != 1 {
		t.Errorf("stats: got %+v, Count=%d", s, st.Count())
	}
}

func TestServeHTTP_Errors(t *testing.T) {
	rc, _ := newReceiver(t)
	big := bytes.Repeat([]byte("x"), 2<<20)

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		want   int
	}{
		{"wrong path", http.MethodPost, "/api/1/store/", []byte("{}\n"), http.StatusNotFound},
		{"no project", http.MethodPost, "/api//envelope/", []byte("{}\n"), http.StatusNotFound},
		{"get", http.MethodGet, "/api/1/envelope/", nil, http.StatusMethodNotAllowed},
		{"malformed", http.MethodPost, "/api/1/envelope/", []byte("not json\n"), http.StatusBadRequest},
		{"no items", http.MethodPost, "/api/1/envelope/", []byte("{}\n"), http.StatusBadRequest},
		{"too large", http.MethodPost, "/api/1/envelope/", big, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader(tc.body))
			rec := httptest.NewRecorder()
			rc.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status: got %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), "detail") {
				t.Errorf("body: got %s, want a detail field", rec.Body)
			}
		})
	}
}

func TestServeHTTP_BadGzip(t *testing.T) {
	rc, _ := newReceiver(t)
	req := httptest.NewRequest(http.MethodPost, "/api/1/envelope/", strings.NewReader("plain"))
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	rc.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestServeHTTP_Notify(t *testing.T) {
	st := store.New(5*time.Minute, 100)
	calls := 0
	rc := receiver.New(st, nil, 1<<20, func() { calls++ })

	_, body := encode(t, types.NewCheckIn("nightly", types.CheckInOK))
	post(t, rc, "/api/1/envelope/", body, false)
	post(t, rc, "/api/1/envelope/", []byte("garbage\n"), false)

	if calls != 1 {
		t.Errorf("notify calls: got %d, want 1", calls)
	}
}
