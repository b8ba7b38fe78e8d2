package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/beacon/agent/internal/buffer"
	"github.com/obsidianstack/beacon/agent/internal/config"
	"github.com/obsidianstack/beacon/pkg/types"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	items []types.Item
}

func (f *fakeSubmitter) Submit(it types.Item) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, it)
	return true
}

func TestFeed_SubmitsValidLines(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"error","message":"boom"}`,
		``,
		`not json`,
		`{"kind":"check_in","monitor_slug":"nightly","status":"ok"}`,
		`{"kind":"log","level":"info","body":"hello"}`,
		`{"kind":"profile"}`,
	}, "\n")

	s := &fakeSubmitter{}
	n, err := feed(context.Background(), strings.NewReader(input), s)
	if err != nil {
		t.Fatalf("feed() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("feed() accepted %d, want 3", n)
	}
	want := []types.Category{types.CategoryError, types.CategoryCheckIn, types.CategoryLog}
	for i, it := range s.items {
		if it.Category() != want[i] {
			t.Errorf("item %d: category %s, want %s", i, it.Category(), want[i])
		}
	}
}

func TestFeed_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeSubmitter{}
	n, err := feed(ctx, strings.NewReader(`{"kind":"error","message":"x"}`+"\n"), s)
	if err != nil || n != 0 {
		t.Fatalf("feed() = %d, %v; want 0, nil", n, err)
	}
}

func TestFeed_ReturnsOnCancelWhileReadBlocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSubmitter{}
	done := make(chan int, 1)
	go func() {
		n, _ := feed(ctx, pr, s)
		done <- n
	}()

	if _, err := io.WriteString(pw, `{"kind":"error","message":"x"}`+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		got := len(s.items)
		s.mu.Unlock()
		if got == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("line was not submitted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Nothing more arrives on the pipe; cancellation alone must unblock feed.
	cancel()
	select {
	case n := <-done:
		if n != 1 {
			t.Errorf("feed() accepted %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("feed still blocked after cancel")
	}
}

func TestFeed_ReportsReadError(t *testing.T) {
	pr, pw := io.Pipe()
	_ = pw.CloseWithError(errors.New("disk gone"))
	_, err := feed(context.Background(), pr, &fakeSubmitter{})
	if err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Fatalf("feed() error = %v, want read error", err)
	}
}

func TestClientOptions_MapsConfig(t *testing.T) {
	a := config.AgentConfig{
		DSN:         "https://k@example.com/3",
		Environment: "staging",
		Workers:     2,
		RetryDelays: []time.Duration{time.Second},
		TLS:         config.TLSConfig{CAFile: "/etc/ca.pem"},
		Buffers: map[string]config.BufferConfig{
			"error": {Capacity: 10, BatchSize: 1, Overflow: "drop_oldest", Weight: 7},
			"log":   {Capacity: 20, BatchSize: 5, Overflow: "drop_newest", Weight: 1},
		},
	}
	opts, err := clientOptions(a, nil)
	if err != nil {
		t.Fatalf("clientOptions() error = %v", err)
	}
	if opts.DSN != a.DSN || opts.Environment != "staging" || opts.Workers != 2 {
		t.Errorf("scalar fields not mapped: %+v", opts)
	}
	if got := opts.Buffers[types.CategoryError]; got.Overflow != buffer.DropOldest || got.Capacity != 10 {
		t.Errorf("error buffer: got %+v", got)
	}
	if opts.Weights[types.CategoryError] != 7 || opts.Weights[types.CategoryLog] != 1 {
		t.Errorf("weights: got %v", opts.Weights)
	}
	if opts.TLS == nil || opts.TLS.CAFile != "/etc/ca.pem" {
		t.Errorf("tls: got %+v", opts.TLS)
	}
}

func TestClientOptions_UnknownCategory(t *testing.T) {
	a := config.AgentConfig{Buffers: map[string]config.BufferConfig{"profile": {Capacity: 1}}}
	if _, err := clientOptions(a, nil); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestChangedBesidesLevel(t *testing.T) {
	a := config.AgentConfig{DSN: "x", LogLevel: "info", Workers: 4}
	b := a
	b.LogLevel = "debug"
	if changedBesidesLevel(a, b) {
		t.Error("level-only change reported as other change")
	}
	b.Workers = 8
	if !changedBesidesLevel(a, b) {
		t.Error("workers change not detected")
	}
}

func TestMux_Healthz(t *testing.T) {
	srv := httptest.NewServer(newMux(prometheus.NewRegistry()))
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d", path, resp.StatusCode)
		}
	}
}
