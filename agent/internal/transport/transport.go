package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"

	"github.com/obsidianstack/beacon/agent/internal/clock"
	"github.com/obsidianstack/beacon/agent/internal/ratelimit"
	"github.com/obsidianstack/beacon/pkg/envelope"
	"github.com/obsidianstack/beacon/pkg/types"
)

const (
	protocolVersion = 7

	// ContentType is the media type of an encoded envelope.
	ContentType = "application/x-sentry-envelope"

	// HeaderAuth carries the DSN credentials.
	HeaderAuth = "X-Sentry-Auth"

	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// ClientName identifies this agent in the auth header and User-Agent.
var ClientName = "beacon/0.1.0"

// DefaultRetryDelays is the wait before each retry of a 5xx or network
// failure.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Recorder receives discard counts for failed envelopes.
type Recorder interface {
	Record(reason types.DiscardReason, c types.Category, quantity int)
}

// Options configures an HTTPTransport.
type Options struct {
	DSN string

	// Client overrides the HTTP client. When nil one is built from Timeout
	// and TLS.
	Client  *http.Client
	Timeout time.Duration
	TLS     *TLSConfig

	// RetryDelays lists the wait before each retry. Empty disables retries.
	RetryDelays []time.Duration

	// CompressThreshold gzips bodies of at least this many bytes. Zero
	// disables compression.
	CompressThreshold int

	Limiter  *ratelimit.Limiter
	Recorder Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Stats are cumulative transport counters.
type Stats struct {
	Requests uint64
	Retries  uint64
	Degraded uint64
}

// HTTPTransport sends envelopes with retry and rate-limit awareness. It is
// safe for concurrent use.
type HTTPTransport struct {
	dsn       *DSN
	url       string
	client    *http.Client
	delays    []time.Duration
	threshold int
	limiter   *ratelimit.Limiter
	recorder  Recorder
	clock     clock.Clock
	log       *slog.Logger

	requests atomic.Uint64
	retries  atomic.Uint64
	degraded atomic.Uint64
}

// New validates opts and returns a transport.
func New(opts Options) (*HTTPTransport, error) {
	dsn, err := ParseDSN(opts.DSN)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if opts.TLS != nil {
			cfg, err := buildTLSConfig(opts.TLS)
			if err != nil {
				return nil, fmt.Errorf("transport: build tls config: %w", err)
			}
			tr.TLSClientConfig = cfg
		}
		client = &http.Client{Timeout: timeout, Transport: tr}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(clk, 0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		dsn:       dsn,
		url:       dsn.EnvelopeURL(),
		client:    client,
		delays:    append([]time.Duration(nil), opts.RetryDelays...),
		threshold: opts.CompressThreshold,
		limiter:   limiter,
		recorder:  opts.Recorder,
		clock:     clk,
		log:       logger,
	}, nil
}

// DSN returns the parsed DSN.
func (t *HTTPTransport) DSN() *DSN { return t.dsn }

// Limiter returns the rate limiter consulted before each attempt.
func (t *HTTPTransport) Limiter() *ratelimit.Limiter { return t.limiter }

// Stats returns a snapshot of the transport counters.
func (t *HTTPTransport) Stats() Stats {
	return Stats{
		Requests: t.requests.Load(),
		Retries:  t.retries.Load(),
		Degraded: t.degraded.Load(),
	}
}

// Send delivers env and returns the id the server assigned to it.
func (t *HTTPTransport) Send(ctx context.Context, env *envelope.Envelope) (string, error) {
	cat := env.Category()
	quantities := env.Quantities()
	categories := sortedCategories(quantities)
	if len(categories) == 0 {
		categories = []types.Category{cat}
	}

	if env.Degraded > 0 {
		t.degraded.Add(uint64(env.Degraded))
		t.log.Warn("transport: envelope carries degraded payloads",
			"category", cat, "event_id", env.ID, "degraded", env.Degraded)
	}

	body, gzipped, err := t.encode(env)
	if err != nil {
		return "", t.fail(env, quantities, &SendError{Reason: types.ReasonRequestFailure, Err: err})
	}

	attempts := 0
	for {
		if t.limiter.IsLimited(cat) {
			return "", t.fail(env, quantities, &SendError{
				Reason:   types.ReasonRateLimited,
				Attempts: attempts,
				Err:      fmt.Errorf("%s disabled until %s", cat, t.limiter.DisabledUntil(cat).Format(time.RFC3339)),
			})
		}

		attempts++
		t.requests.Add(1)
		id, status, retry, err := t.attempt(ctx, body, gzipped, categories)
		if err == nil {
			t.log.Debug("transport: envelope delivered", "category", cat, "id", id, "attempts", attempts)
			return id, nil
		}
		if !retry {
			err.Attempts = attempts
			return "", t.fail(env, quantities, err)
		}

		if attempts > len(t.delays) {
			reason := types.ReasonTooManyRetries
			if len(t.delays) == 0 {
				reason = types.ReasonRequestFailure
			}
			return "", t.fail(env, quantities, &SendError{
				Reason: reason, StatusCode: status, Attempts: attempts, Err: err.Err,
			})
		}

		wait := t.delays[attempts-1]
		t.log.Warn("transport: send failed, will retry",
			"category", cat, "status", status, "err", err.Err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return "", t.fail(env, quantities, &SendError{
				Reason: types.ReasonRequestFailure, StatusCode: status, Attempts: attempts, Err: ctx.Err(),
			})
		case <-t.clock.After(wait):
		}
		t.retries.Add(1)
	}
}

// attempt issues one request. A nil error means success; retry reports
// whether the failure may be retried.
func (t *HTTPTransport) attempt(ctx context.Context, body []byte, gzipped bool, categories []types.Category) (id string, status int, retry bool, serr *SendError) {
	defer func() {
		if r := recover(); r != nil {
			id, retry = "", false
			serr = &SendError{Reason: types.ReasonRequestFailure, StatusCode: status, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, false, &SendError{Reason: types.ReasonRequestFailure, Err: err}
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("User-Agent", ClientName)
	req.Header.Set(HeaderAuth, t.dsn.AuthHeader(ClientName, t.clock.Now().Unix()))
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, false, &SendError{Reason: types.ReasonRequestFailure, Err: err}
		}
		return "", 0, true, &SendError{Reason: types.ReasonRequestFailure, Err: err}
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	t.limiter.UpdateFromResponse(status, resp.Header, categories...)

	switch {
	case status >= 200 && status < 300:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return "", status, false, &SendError{Reason: types.ReasonMalformedResponse, StatusCode: status, Err: err}
		}
		if !gjson.ValidBytes(data) {
			return "", status, false, &SendError{
				Reason: types.ReasonMalformedResponse, StatusCode: status, Err: fmt.Errorf("response is not json"),
			}
		}
		v := gjson.GetBytes(data, "id")
		if v.Type != gjson.String || v.Str == "" {
			return "", status, false, &SendError{
				Reason: types.ReasonMalformedResponse, StatusCode: status, Err: fmt.Errorf("response has no id"),
			}
		}
		return v.Str, status, false, nil

	case status == http.StatusTooManyRequests:
		drain(resp.Body)
		return "", status, false, &SendError{Reason: types.ReasonRateLimited, StatusCode: status}

	case status >= 400 && status < 500:
		drain(resp.Body)
		return "", status, false, &SendError{Reason: types.ReasonServerError, StatusCode: status}

	default:
		drain(resp.Body)
		return "", status, true, &SendError{
			Reason: types.ReasonRequestFailure, StatusCode: status, Err: fmt.Errorf("server returned %d", status),
		}
	}
}

func (t *HTTPTransport) encode(env *envelope.Envelope) ([]byte, bool, error) {
	raw := env.Encode()
	if t.threshold <= 0 || len(raw) < t.threshold {
		return raw, false, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, false, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("gzip body: %w", err)
	}
	return buf.Bytes(), true, nil
}

// fail records err against the envelope's quantities and returns it.
func (t *HTTPTransport) fail(env *envelope.Envelope, quantities map[types.Category]int, err *SendError) error {
	if t.recorder != nil && env.Category() != types.CategoryClientReport {
		for c, n := range quantities {
			t.recorder.Record(err.Reason, c, n)
		}
	}
	level := slog.LevelError
	if err.Reason == types.ReasonRateLimited {
		level = slog.LevelDebug
	}
	t.log.Log(context.Background(), level, "transport: envelope discarded",
		"category", env.Category(),
		"event_id", env.ID,
		"reason", err.Reason,
		"status", err.StatusCode,
		"err", err.Err)
	return err
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxResponseBytes))
}

func sortedCategories(q map[types.Category]int) []types.Category {
	out := make([]types.Category, 0, len(q))
	for c := range q {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
