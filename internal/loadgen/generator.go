// Package loadgen drives warmup and steady-state HTTP traffic against a set
// of routed hosts and records one outcome per request.
package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/httpclient"
	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/metrics"
	"github.com/torosent/loadgate/internal/retry"
	"github.com/torosent/loadgate/internal/runner"
	"github.com/torosent/loadgate/internal/stats"
	"github.com/torosent/loadgate/internal/tracing"
)

const (
	DefaultRequests       = 200
	DefaultTimeout        = 10 * time.Second
	DefaultWarmupAttempts = 20
)

// Options configure a Generator. Zero values take the defaults above,
// except WarmupDelay where zero retries immediately.
type Options struct {
	Targets        []Target
	Requests       int
	Concurrency    int
	RatePerSecond  int
	Timeout        time.Duration
	WarmupAttempts int
	WarmupDelay    time.Duration
	Headers        map[string]string
	// Seed fixes target selection for reproducible runs; 0 seeds from the clock.
	Seed int64
	// Propagate injects W3C trace context into every request.
	Propagate bool

	Client *http.Client
	// Collector, when set, must be created with the target hosts in order.
	Collector *metrics.Collector
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// Generator runs the two-stage load protocol.
type Generator struct {
	opts     Options
	targets  []Target
	builders []*httpclient.RequestBuilder
	client   *http.Client
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Result is the steady-state output: outcomes partitioned by target plus
// the wall-clock duration of the stage.
type Result struct {
	Targets  []string                   `json:"targets"`
	Outcomes map[string][]stats.Outcome `json:"-"`
	Duration time.Duration              `json:"duration"`
}

// Metrics aggregates the result per target (in target order) and combined.
func (r *Result) Metrics() ([]stats.HostMetrics, stats.CombinedMetrics) {
	hosts := make([]stats.HostMetrics, 0, len(r.Targets))
	for _, name := range r.Targets {
		hosts = append(hosts, stats.Aggregate(name, r.Outcomes[name], r.Duration))
	}
	return hosts, stats.Combine(r.Outcomes, r.Targets, r.Duration)
}

func New(opts Options) (*Generator, error) {
	targets, err := NormalizeTargets(opts.Targets)
	if err != nil {
		return nil, err
	}
	if opts.Requests < 0 {
		return nil, fmt.Errorf("requests must be positive, got %d", opts.Requests)
	}
	if opts.Requests == 0 {
		opts.Requests = DefaultRequests
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WarmupAttempts <= 0 {
		opts.WarmupAttempts = DefaultWarmupAttempts
	}
	if opts.WarmupDelay < 0 {
		opts.WarmupDelay = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	builders := make([]*httpclient.RequestBuilder, len(targets))
	for i, t := range targets {
		host := ""
		if t.URL != "" {
			host = t.Host
		}
		b, err := httpclient.NewRequestBuilder(http.MethodGet, t.Address(), host, opts.Headers)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Host, err)
		}
		builders[i] = b
	}

	client := opts.Client
	if client == nil {
		client = httpclient.NewClient(opts.Timeout)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{
		opts:     opts,
		targets:  targets,
		builders: builders,
		client:   client,
		logger:   logging.OrNop(opts.Logger).Named("loadgen"),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Warmup probes each target in order until it answers HTTP 200. The first
// target that exhausts its attempts fails the warmup with a *WarmupError.
func (g *Generator) Warmup(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts:    g.opts.WarmupAttempts,
		Interval:       g.opts.WarmupDelay,
		AttemptTimeout: g.opts.Timeout,
	}

	for i, t := range g.targets {
		ctx, span := tracing.StartPhase(ctx, g.opts.Tracer, tracing.KindWarmup, t.Host)
		p := policy
		p.OnRetry = func(attempt int, err error, next time.Duration) {
			g.logger.Debug("target not ready",
				zap.String("target", t.Host),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err))
		}

		attempts, err := p.Do(ctx, func(ctx context.Context) error {
			status, _, err := g.send(ctx, i)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return &StatusError{StatusCode: status}
			}
			return nil
		})
		tracing.EndSpan(span, err, attribute.Int("loadgate.attempts", attempts))
		if err != nil {
			return &WarmupError{Target: t.Host, Attempts: attempts, Err: err}
		}
		g.logger.Info("target ready", zap.String("target", t.Host), zap.Int("attempts", attempts))
	}
	return nil
}

// Run performs the warmup and then issues exactly Requests steady-state
// requests. Request failures are recorded as outcomes; only a failed warmup
// or a cancelled ctx returns an error, the latter with the partial result.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	if err := g.Warmup(ctx); err != nil {
		return nil, err
	}
	return g.SteadyState(ctx)
}

// SteadyState issues the request budget without a warmup.
func (g *Generator) SteadyState(ctx context.Context) (*Result, error) {
	names := make([]string, len(g.targets))
	for i, t := range g.targets {
		names[i] = t.Host
	}
	collector := g.opts.Collector
	if collector == nil {
		collector = metrics.NewCollector(names...)
	}

	var req runner.Requester = &requester{gen: g, collector: collector}
	req = runner.WithTimeout(req, g.opts.Timeout)
	req = runner.WithLogging(req, runner.FailureLoggerFunc(func(err error) {
		g.logger.Debug("request failed", zap.Error(err))
	}))

	g.logger.Info("steady state started",
		zap.Int("requests", g.opts.Requests),
		zap.Int("concurrency", g.opts.Concurrency),
		zap.Int("targets", len(g.targets)))

	collector.Start()
	res := runner.New(runner.Options{
		Concurrency:   g.opts.Concurrency,
		TotalRequests: g.opts.Requests,
		RatePerSecond: g.opts.RatePerSecond,
		Requester:     req,
	}).Run(ctx)
	wall := res.Elapsed

	out := &Result{
		Targets:  collector.Targets(),
		Outcomes: collector.Outcomes(),
		Duration: wall,
	}

	g.logger.Info("steady state finished",
		zap.Int64("requests", res.Issued),
		zap.Int64("failures", res.Failed),
		zap.Duration("duration", wall))

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("steady state interrupted after %d requests: %w", res.Issued, err)
	}
	return out, nil
}

// pick chooses a target index uniformly at random.
func (g *Generator) pick() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(len(g.targets))
}

// send issues one GET to target i and returns status and a bounded body prefix.
func (g *Generator) send(ctx context.Context, i int) (int, []byte, error) {
	req, err := g.builders[i].Build(ctx)
	if err != nil {
		return 0, nil, err
	}
	if g.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	body, err := httpclient.ReadBody(resp.Body, httpclient.DefaultBodyLimit)
	return resp.StatusCode, body, err
}

type requester struct {
	gen       *Generator
	collector *metrics.Collector
}

func (r *requester) Do(ctx context.Context) error {
	g := r.gen
	i := g.pick()
	target := g.targets[i]

	sent := time.Now()
	status, body, err := g.send(ctx, i)
	latency := time.Since(sent)

	outcome := stats.Outcome{Target: target.Host, SentAt: sent, Latency: latency}
	switch {
	case err != nil:
		outcome.Reason = metrics.ClassifyFailure(err)
		err = fmt.Errorf("%s: %w", target.Host, err)
	case status != http.StatusOK:
		outcome.Reason = metrics.HTTPStatusReason(status)
		err = fmt.Errorf("%s: %w", target.Host, &StatusError{StatusCode: status})
	case !bytes.Contains(body, []byte(target.Expect)):
		outcome.Reason = metrics.ReasonUnexpectedBody
		err = &BodyMismatchError{Target: target.Host, Expect: target.Expect}
	default:
		outcome.Success = true
	}
	r.collector.Record(outcome)
	return err
}

