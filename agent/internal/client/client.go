package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/beacon/agent/internal/buffer"
	"github.com/obsidianstack/beacon/agent/internal/clientreport"
	"github.com/obsidianstack/beacon/agent/internal/clock"
	"github.com/obsidianstack/beacon/agent/internal/dedupe"
	"github.com/obsidianstack/beacon/agent/internal/metrics"
	"github.com/obsidianstack/beacon/agent/internal/ratelimit"
	"github.com/obsidianstack/beacon/agent/internal/scheduler"
	"github.com/obsidianstack/beacon/agent/internal/transport"
	"github.com/obsidianstack/beacon/pkg/envelope"
	"github.com/obsidianstack/beacon/pkg/types"
)

var (
	// ErrClosed is returned by SubmitErrorSync after Close.
	ErrClosed = errors.New("client: closed")

	// ErrDuplicate is returned by SubmitErrorSync for an error already seen
	// within the dedupe TTL.
	ErrDuplicate = errors.New("client: duplicate error")

	// ErrFiltered is returned by SubmitErrorSync when BeforeSend drops the
	// error.
	ErrFiltered = errors.New("client: filtered by before-send hook")
)

// DefaultBuffers returns the per-category buffer configuration used when
// Options.Buffers is nil.
func DefaultBuffers() map[types.Category]buffer.Config {
	return map[types.Category]buffer.Config{
		types.CategoryError:       {Capacity: 100, Overflow: buffer.DropNewest},
		types.CategoryCheckIn:     {Capacity: 100, Overflow: buffer.DropNewest},
		types.CategoryTransaction: {Capacity: 1000, Overflow: buffer.DropNewest},
		types.CategoryLog:         {Capacity: 1000, BatchSize: 100, Overflow: buffer.DropNewest},
	}
}

// Options configures a Client.
type Options struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string

	Buffers map[types.Category]buffer.Config

	Weights        map[types.Category]int
	Workers        int
	TickInterval   time.Duration
	ReportInterval time.Duration
	BeforeSend     func(types.Item) (types.Item, bool)
	OnResult       func(env *envelope.Envelope, id string, err error)

	RetryDelays       []time.Duration
	HTTPClient        *http.Client
	HTTPTimeout       time.Duration
	TLS               *transport.TLSConfig
	CompressThreshold int

	DedupeTTL        time.Duration
	RateLimitDefault time.Duration
	RateLimitCleanup time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client accepts telemetry from producers and delivers it in the background.
type Client struct {
	opts Options
	log  *slog.Logger

	buffers   *buffer.Set
	dedupe    *dedupe.Deduplicator
	limiter   *ratelimit.Limiter
	recorder  *clientreport.Recorder
	transport *transport.HTTPTransport
	scheduler *scheduler.Scheduler

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Client. Nothing is sent until Start is called, except through
// SubmitErrorSync.
func New(opts Options) (*Client, error) {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Buffers == nil {
		opts.Buffers = DefaultBuffers()
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = dedupe.DefaultTTL
	}
	if opts.RateLimitCleanup <= 0 {
		opts.RateLimitCleanup = time.Minute
	}

	c := &Client{
		opts:     opts,
		log:      opts.Logger,
		recorder: clientreport.New(),
		limiter:  ratelimit.New(opts.Clock, opts.RateLimitDefault),
		dedupe:   dedupe.New(opts.DedupeTTL, opts.Clock),
	}

	var err error
	c.buffers, err = buffer.NewSet(opts.Buffers, c.recorder)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c.transport, err = transport.New(transport.Options{
		DSN:               opts.DSN,
		Client:            opts.HTTPClient,
		Timeout:           opts.HTTPTimeout,
		TLS:               opts.TLS,
		RetryDelays:       opts.RetryDelays,
		CompressThreshold: opts.CompressThreshold,
		Limiter:           c.limiter,
		Recorder:          c.recorder,
		Clock:             opts.Clock,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	c.scheduler, err = scheduler.New(c.buffers, c.transport, scheduler.Options{
		Weights:        opts.Weights,
		Workers:        opts.Workers,
		TickInterval:   opts.TickInterval,
		ReportInterval: opts.ReportInterval,
		BeforeSend:     opts.BeforeSend,
		OnResult:       opts.OnResult,
		Recorder:       c.recorder,
		Clock:          opts.Clock,
		Logger:         opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return c, nil
}

// Start launches the background goroutines. They stop when ctx is cancelled
// or Close is called.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	run := func(f func(context.Context)) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			f(ctx)
		}()
	}
	run(c.scheduler.Run)
	run(c.dedupe.Run)
	run(func(ctx context.Context) { c.limiter.Run(ctx, c.opts.RateLimitCleanup) })

	c.log.Info("client: started",
		"dsn", c.transport.DSN().String(),
		"environment", c.opts.Environment,
		"release", c.opts.Release)
}

// SubmitError queues e and returns its event id, or "" when it was not
// accepted (duplicate, full buffer or closed client).
func (c *Client) SubmitError(e *types.Error) string {
	ev, ok := c.prepareError(e)
	if !ok || !c.push(ev) {
		return ""
	}
	return ev.EventID
}

// SubmitErrorSync sends e immediately, bypassing the buffers and the
// scheduler, and returns the server-assigned id.
func (c *Client) SubmitErrorSync(ctx context.Context, e *types.Error) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	ev, ok := c.prepareError(e)
	if !ok {
		return "", ErrDuplicate
	}

	it, keep := scheduler.ApplyBeforeSend(c.opts.BeforeSend, ev, c.log)
	if !keep {
		c.recorder.Record(types.ReasonFiltered, types.CategoryError, 1)
		return "", ErrFiltered
	}

	env, err := envelope.FromItem(it)
	if err != nil {
		return "", fmt.Errorf("client: build envelope: %w", err)
	}
	id, err := c.transport.Send(ctx, env)
	if c.opts.OnResult != nil {
		c.opts.OnResult(env, id, err)
	}
	return id, err
}

// SubmitCheckIn queues ci and returns its check-in id, or "" when it was not
// accepted.
func (c *Client) SubmitCheckIn(ci *types.CheckIn) string {
	if ci == nil {
		return ""
	}
	cp := *ci
	if cp.CheckInID == "" {
		cp.CheckInID = types.NewEventID()
	}
	if cp.Environment == "" {
		cp.Environment = c.opts.Environment
	}
	if cp.Release == "" {
		cp.Release = c.opts.Release
	}
	if !c.push(&cp) {
		return ""
	}
	return cp.CheckInID
}

// SubmitTransaction queues tx and returns its event id, or "" when it was not
// accepted.
func (c *Client) SubmitTransaction(tx *types.Transaction) string {
	if tx == nil {
		return ""
	}
	cp := *tx
	if cp.EventID == "" {
		cp.EventID = types.NewEventID()
	}
	if cp.Environment == "" {
		cp.Environment = c.opts.Environment
	}
	if cp.Release == "" {
		cp.Release = c.opts.Release
	}
	if !c.push(&cp) {
		return ""
	}
	return cp.EventID
}

// SubmitLog queues ev and reports whether it was accepted.
func (c *Client) SubmitLog(ev *types.LogEvent) bool {
	if ev == nil {
		return false
	}
	cp := *ev
	if cp.Timestamp.IsZero() {
		cp.Timestamp = c.opts.Clock.Now()
	}
	return c.push(&cp)
}

// Submit routes any item to its Submit method and reports whether it was
// accepted. A LogBatch counts as accepted if any of its events was.
func (c *Client) Submit(it types.Item) bool {
	switch v := it.(type) {
	case *types.Error:
		return c.SubmitError(v) != ""
	case *types.CheckIn:
		return c.SubmitCheckIn(v) != ""
	case *types.Transaction:
		return c.SubmitTransaction(v) != ""
	case *types.LogEvent:
		return c.SubmitLog(v)
	case *types.LogBatch:
		accepted := false
		for _, ev := range v.Items {
			accepted = c.SubmitLog(ev) || accepted
		}
		return accepted
	}
	return false
}

// prepareError copies e, fills client defaults and runs deduplication.
func (c *Client) prepareError(e *types.Error) (*types.Error, bool) {
	if e == nil {
		return nil, false
	}
	ev := *e
	if ev.EventID == "" {
		ev.EventID = types.NewEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.opts.Clock.Now()
	}
	if ev.Environment == "" {
		ev.Environment = c.opts.Environment
	}
	if ev.Release == "" {
		ev.Release = c.opts.Release
	}
	if ev.ServerName == "" {
		ev.ServerName = c.opts.ServerName
	}

	if c.dedupe.Insert(&ev) == dedupe.ResultExisting {
		c.recorder.Record(types.ReasonDuplicate, types.CategoryError, 1)
		c.log.Debug("client: duplicate error suppressed", "event_id", ev.EventID)
		return nil, false
	}
	return &ev, true
}

func (c *Client) push(it types.Item) bool {
	if c.closed.Load() {
		return false
	}
	out, err := c.buffers.Push(it)
	if err != nil {
		c.log.Error("client: rejected item", "err", err)
		return false
	}
	return out == buffer.Accepted
}

// Flush drains every buffer and waits up to timeout for in-flight sends.
func (c *Client) Flush(timeout time.Duration) bool {
	return c.scheduler.Flush(timeout)
}

// Close stops accepting items, flushes for up to timeout and stops the
// background goroutines. It reports whether the flush completed.
func (c *Client) Close(timeout time.Duration) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return true
	}
	ok := c.scheduler.Flush(timeout)
	if c.cancel != nil {
		c.cancel()
	}
	c.scheduler.Stop()
	c.wg.Wait()
	if !ok {
		c.log.Warn("client: closed before all telemetry was delivered", "pending", c.buffers.Len())
	}
	return ok
}

// Snapshot implements metrics.Source.
func (c *Client) Snapshot() metrics.Snapshot {
	snap := metrics.Snapshot{
		Buffered:      c.buffers.Len(),
		Capacity:      make(map[types.Category]int),
		Sent:          make(map[types.Category]uint64),
		Failed:        make(map[types.Category]uint64),
		Filtered:      make(map[types.Category]uint64),
		Discarded:     c.recorder.Totals(),
		RateLimited:   make(map[types.Category]bool),
		Fingerprints:  c.dedupe.Len(),
		RateLimitKeys: c.limiter.Len(),
	}
	for cat, cfg := range c.opts.Buffers {
		snap.Capacity[cat] = cfg.Capacity
	}
	for cat, st := range c.scheduler.Stats() {
		snap.Sent[cat] = st.Sent
		snap.Failed[cat] = st.Failed
		snap.Filtered[cat] = st.Filtered
	}
	for _, cat := range append(types.Categories(), types.CategoryClientReport) {
		snap.RateLimited[cat] = c.limiter.IsLimited(cat)
	}
	ts := c.transport.Stats()
	snap.Requests, snap.Retries, snap.Degraded = ts.Requests, ts.Retries, ts.Degraded
	return snap
}
