package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/obsidianstack/beacon/agent/internal/buffer"
	"github.com/obsidianstack/beacon/agent/internal/clock"
	"github.com/obsidianstack/beacon/pkg/envelope"
	"github.com/obsidianstack/beacon/pkg/types"
)

const (
	DefaultWorkers        = 4
	DefaultTickInterval   = 5 * time.Second
	DefaultReportInterval = 30 * time.Second
)

// DefaultWeights returns the slot budget per category for one cycle.
func DefaultWeights() map[types.Category]int {
	return map[types.Category]int{
		types.CategoryError:       5,
		types.CategoryCheckIn:     4,
		types.CategoryTransaction: 3,
		types.CategoryLog:         2,
	}
}

// Sender delivers one envelope. *transport.HTTPTransport implements it.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) (string, error)
}

// Recorder is the client report accumulator the scheduler reports from.
type Recorder interface {
	Record(reason types.DiscardReason, c types.Category, quantity int)
	Take(now time.Time) *types.ClientReport
	Restore(rep *types.ClientReport)
}

// Options configures a Scheduler. Zero values select the defaults.
type Options struct {
	Weights        map[types.Category]int
	Workers        int
	TickInterval   time.Duration
	ReportInterval time.Duration

	// BeforeSend sees every drained unit before it is packaged. Returning
	// false drops it with a filtered discard.
	BeforeSend func(types.Item) (types.Item, bool)

	// OnResult is called after every send attempt completes.
	OnResult func(env *envelope.Envelope, id string, err error)

	Recorder Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
}

// CategoryStats are cumulative per-category dispatch counters.
type CategoryStats struct {
	Dispatched uint64
	Sent       uint64
	Failed     uint64
	Filtered   uint64
}

type counters struct {
	dispatched, sent, failed, filtered atomic.Uint64
}

// Scheduler drains a buffer.Set into a Sender.
type Scheduler struct {
	buffers *buffer.Set
	sender  Sender
	order   []types.Category
	weights map[types.Category]int
	opts    Options
	clock   clock.Clock
	log     *slog.Logger

	workers int64
	pool    *semaphore.Weighted
	drainMu *semaphore.Weighted

	// sendCtx outlives individual drains; Stop cancels in-flight sends.
	sendCtx context.Context
	stop    context.CancelFunc

	stats map[types.Category]*counters
}

// New validates opts and returns a Scheduler.
func New(buffers *buffer.Set, sender Sender, opts Options) (*Scheduler, error) {
	if buffers == nil || sender == nil {
		return nil, errors.New("scheduler: buffers and sender are required")
	}
	weights := opts.Weights
	if weights == nil {
		weights = DefaultWeights()
	}
	for _, c := range types.Categories() {
		if weights[c] <= 0 {
			return nil, fmt.Errorf("scheduler: weight for %s must be positive, got %d", c, weights[c])
		}
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = DefaultReportInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Scheduler{
		buffers: buffers,
		sender:  sender,
		order:   types.Categories(),
		weights: weights,
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger,
		workers: int64(opts.Workers),
		pool:    semaphore.NewWeighted(int64(opts.Workers)),
		drainMu: semaphore.NewWeighted(1),
		stats:   make(map[types.Category]*counters),
	}
	s.sendCtx, s.stop = context.WithCancel(context.Background())
	for _, c := range append(types.Categories(), types.CategoryClientReport) {
		s.stats[c] = &counters{}
	}
	return s, nil
}

// Run drains whenever the buffers signal new data or the fallback tick fires,
// and ships client reports every ReportInterval. It blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	tick := s.clock.NewTicker(s.opts.TickInterval)
	defer tick.Stop()
	report := s.clock.NewTicker(s.opts.ReportInterval)
	defer report.Stop()

	s.log.Debug("scheduler: started", "workers", s.workers, "tick", s.opts.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.buffers.Notify():
			s.drain(ctx)
		case <-tick.C:
			s.drain(ctx)
		case <-report.C:
			s.sendReport(ctx)
		}
	}
}

// drain runs cycles until the buffers are empty or ctx is done.
func (s *Scheduler) drain(ctx context.Context) {
	if err := s.drainMu.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.drainMu.Release(1)

	for ctx.Err() == nil && !s.buffers.Empty() {
		total := 0
		for _, n := range s.Cycle(ctx) {
			total += n
		}
		if total == 0 {
			return
		}
	}
}

// Cycle runs exactly one weighted cycle and returns the number of units
// dispatched per category. It blocks while the sender pool is saturated.
func (s *Scheduler) Cycle(ctx context.Context) map[types.Category]int {
	counts := make(map[types.Category]int, len(s.order))
	for _, c := range s.order {
		b := s.buffers.Get(c)
		for slot := 0; slot < s.weights[c]; slot++ {
			if b.Len() == 0 {
				break
			}
			if err := s.pool.Acquire(ctx, 1); err != nil {
				return counts
			}
			units := b.Drain(1)
			if len(units) == 0 {
				s.pool.Release(1)
				break
			}
			counts[c]++
			s.stats[c].dispatched.Add(1)
			s.dispatch(c, units[0])
		}
	}
	return counts
}

// dispatch packages one unit and hands it to a worker. The caller holds one
// pool slot, which dispatch releases on every path.
func (s *Scheduler) dispatch(c types.Category, it types.Item) {
	it, keep := s.beforeSend(it)
	if !keep {
		s.stats[c].filtered.Add(1)
		s.record(types.ReasonFiltered, c, types.Quantity(it))
		s.pool.Release(1)
		return
	}

	env, err := envelope.FromItem(it)
	if err != nil {
		s.log.Error("scheduler: could not build envelope", "category", c, "err", err)
		s.pool.Release(1)
		return
	}
	go s.send(c, env)
}

func (s *Scheduler) beforeSend(it types.Item) (types.Item, bool) {
	return ApplyBeforeSend(s.opts.BeforeSend, it, s.log)
}

// ApplyBeforeSend runs hook on it. A false return or nil item drops it. A
// panicking hook is logged and the item is kept unmodified.
func ApplyBeforeSend(hook func(types.Item) (types.Item, bool), it types.Item, log *slog.Logger) (out types.Item, keep bool) {
	if hook == nil {
		return it, true
	}
	defer func() {
		if r := recover(); r != nil {
			if log == nil {
				log = slog.Default()
			}
			log.Error("scheduler: before-send hook panicked, sending unmodified item",
				"category", it.Category(), "panic", r)
			out, keep = it, true
		}
	}()
	out, keep = hook(it)
	if !keep || out == nil {
		return it, false
	}
	return out, true
}

func (s *Scheduler) send(c types.Category, env *envelope.Envelope) {
	defer s.pool.Release(1)

	id, err := s.sender.Send(s.sendCtx, env)
	if err != nil {
		s.stats[c].failed.Add(1)
	} else {
		s.stats[c].sent.Add(1)
	}
	if s.opts.OnResult != nil {
		s.opts.OnResult(env, id, err)
	}
}

// sendReport ships the pending client report, if any, through the pool.
func (s *Scheduler) sendReport(ctx context.Context) bool {
	if s.opts.Recorder == nil {
		return true
	}
	rep := s.opts.Recorder.Take(s.clock.Now())
	if rep == nil {
		return true
	}
	env, err := envelope.FromClientReport(rep)
	if err != nil {
		return true
	}
	if err := s.pool.Acquire(ctx, 1); err != nil {
		s.opts.Recorder.Restore(rep)
		return false
	}

	go func() {
		defer s.pool.Release(1)
		_, err := s.sender.Send(s.sendCtx, env)
		st := s.stats[types.CategoryClientReport]
		if err == nil {
			st.sent.Add(1)
			return
		}
		st.failed.Add(1)
		if retryable(err) {
			s.opts.Recorder.Restore(rep)
		}
		s.log.Warn("scheduler: client report not delivered", "err", err)
	}()
	return true
}

// Flush drains every buffer, ships the pending client report and waits for
// all in-flight sends. It reports false if timeout elapsed first; anything
// left over stays with normal scheduling.
func (s *Scheduler) Flush(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.drain(ctx)
	if !s.sendReport(ctx) {
		return false
	}
	return s.Wait(ctx) == nil
}

// Wait blocks until no send is in flight or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	if err := s.pool.Acquire(ctx, s.workers); err != nil {
		return err
	}
	s.pool.Release(s.workers)
	return nil
}

// Stop cancels in-flight sends. The scheduler must not be used afterwards.
func (s *Scheduler) Stop() { s.stop() }

// Stats returns cumulative counters per category, including client_report.
func (s *Scheduler) Stats() map[types.Category]CategoryStats {
	out := make(map[types.Category]CategoryStats, len(s.stats))
	for c, st := range s.stats {
		out[c] = CategoryStats{
			Dispatched: st.dispatched.Load(),
			Sent:       st.sent.Load(),
			Failed:     st.failed.Load(),
			Filtered:   st.filtered.Load(),
		}
	}
	return out
}

func (s *Scheduler) record(reason types.DiscardReason, c types.Category, n int) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(reason, c, n)
	}
}
