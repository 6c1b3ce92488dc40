// Package monitor samples namespace resource usage from Prometheus for a
// fixed window.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/prom"
	"github.com/torosent/loadgate/internal/stats"
	"github.com/torosent/loadgate/internal/tunnel"
)

const (
	DefaultDuration  = 60 * time.Second
	DefaultInterval  = 10 * time.Second
	DefaultNamespace = "echo"
)

// ErrBackendUnreachable is returned when the backend cannot be reached
// directly or through a tunnel.
var ErrBackendUnreachable = errors.New("metrics backend unreachable")

// TunnelFunc opens a tunnel to the backend and confirms it with probe.
type TunnelFunc func(ctx context.Context, probe tunnel.ProbeFunc) (io.Closer, error)

// Options configure a Monitor.
type Options struct {
	Client    *prom.Client
	Namespace string
	Duration  time.Duration
	Interval  time.Duration
	Tunnel    TunnelFunc // nil disables the fallback
	Logger    *zap.Logger
}

// Result is the outcome of one monitoring window.
type Result struct {
	Samples     []stats.ResourceSample   `json:"samples"`
	Statistics  stats.ResourceStatistics `json:"statistics"`
	Backend     string                   `json:"prometheus_url"`
	DurationSec float64                  `json:"duration_sec"`
	Tunneled    bool                     `json:"port_forward"`
}

type Monitor struct {
	opts    Options
	queries QuerySet
	logger  *zap.Logger
}

func New(opts Options) (*Monitor, error) {
	if opts.Client == nil {
		return nil, errors.New("monitor: prometheus client is required")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("monitor: duration must be positive, got %s", opts.Duration)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("monitor: interval must be positive, got %s", opts.Interval)
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	return &Monitor{
		opts:    opts,
		queries: Queries(opts.Namespace),
		logger:  logging.OrNop(opts.Logger).Named("monitor"),
	}, nil
}

// SampleCount returns how many interval boundaries fall strictly before
// duration, counting t=0.
func SampleCount(duration, interval time.Duration) int {
	if duration <= 0 || interval <= 0 {
		return 0
	}
	return int(math.Ceil(float64(duration) / float64(interval)))
}

// Run verifies the backend, then takes one sample per interval boundary.
// A tunnel opened along the way is closed before Run returns. When ctx ends
// mid-window the samples taken so far are returned with the error.
func (m *Monitor) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{Backend: m.opts.Client.Address()}

	closer, err := m.ensureReachable(ctx)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		res.Tunneled = true
		defer func() {
			if err := closer.Close(); err != nil {
				m.logger.Warn("close tunnel", zap.Error(err))
			}
		}()
	}

	n := SampleCount(m.opts.Duration, m.opts.Interval)
	m.logger.Info("sampling resources",
		zap.String("namespace", m.opts.Namespace),
		zap.Duration("duration", m.opts.Duration),
		zap.Duration("interval", m.opts.Interval),
		zap.Int("samples", n))

	var runErr error
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := sleep(ctx, m.opts.Interval); err != nil {
				runErr = fmt.Errorf("monitoring interrupted after %d samples: %w", len(res.Samples), err)
				break
			}
		}
		sample := m.Sample(ctx)
		if err := ctx.Err(); err != nil {
			// Queries cut short by ctx read as absent data; drop the sample.
			runErr = fmt.Errorf("monitoring interrupted after %d samples: %w", len(res.Samples), err)
			break
		}
		res.Samples = append(res.Samples, sample)
	}

	res.Statistics = stats.AggregateResources(res.Samples)
	res.DurationSec = time.Since(start).Seconds()
	if res.Statistics.Empty() {
		m.logger.Warn("no resource data collected; check the Prometheus scrape configuration")
	}
	return res, runErr
}

func (m *Monitor) ensureReachable(ctx context.Context) (io.Closer, error) {
	client := m.opts.Client
	err := client.Healthy(ctx)
	if err == nil {
		m.logger.Info("prometheus reachable", zap.String("url", client.Address()))
		return nil, nil
	}
	if m.opts.Tunnel == nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}

	m.logger.Info("prometheus not directly reachable, opening port-forward",
		zap.String("url", client.Address()), zap.Error(err))
	closer, err := m.opts.Tunnel(ctx, client.Healthy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	if err := client.Healthy(ctx); err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("%w through port-forward: %w", ErrBackendUnreachable, err)
	}
	m.logger.Info("port-forward established")
	return closer, nil
}

// Sample runs every query once. A failed or empty query leaves its field nil.
func (m *Monitor) Sample(ctx context.Context) stats.ResourceSample {
	s := stats.ResourceSample{Timestamp: time.Now().UTC()}
	c := m.opts.Client

	if v, ok := m.value(ctx, "cpu_cores", c.Sum, m.queries.CPUCores); ok {
		s.CPUCores = &v
	}
	if v, ok := m.value(ctx, "memory_mb", c.Sum, m.queries.MemoryBytes); ok {
		mb := v / bytesPerMiB
		s.MemoryMB = &mb
	}
	if v, ok := m.value(ctx, "network_rx_mbps", c.First, m.queries.NetworkRx); ok {
		mbps := v / bytesPerMiB
		s.NetworkRxMBps = &mbps
	}
	if v, ok := m.value(ctx, "network_tx_mbps", c.First, m.queries.NetworkTx); ok {
		mbps := v / bytesPerMiB
		s.NetworkTxMBps = &mbps
	}
	if v, ok := m.value(ctx, "running_pods", c.First, m.queries.RunningPods); ok {
		pods := int(v)
		s.RunningPods = &pods
	}
	return s
}

func (m *Monitor) value(ctx context.Context, field string, fn func(context.Context, string) (float64, error), query string) (float64, bool) {
	v, err := fn(ctx, query)
	if err != nil {
		m.logger.Debug("metric unavailable", zap.String("field", field), zap.Error(err))
		return 0, false
	}
	return v, true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// KubectlTunnel returns a TunnelFunc forwarding the local port of address to
// svc/service in namespace. Only localhost addresses can be forwarded.
func KubectlTunnel(address, namespace, service string, remotePort int, cfg tunnel.Config) (TunnelFunc, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse backend url %q: %w", address, err)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1":
	default:
		return nil, fmt.Errorf("port-forward is only supported for localhost backends, got %q", u.Hostname())
	}
	localPort := remotePort
	if p := u.Port(); p != "" {
		if localPort, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", address, err)
		}
	}

	cfg.Command = tunnel.KubectlCommand(namespace, service, localPort, remotePort)
	return func(ctx context.Context, probe tunnel.ProbeFunc) (io.Closer, error) {
		return tunnel.Start(ctx, cfg, probe)
	}, nil
}
