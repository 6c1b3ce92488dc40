package monitor_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/torosent/loadgate/internal/monitor"
	"github.com/torosent/loadgate/internal/prom"
	"github.com/torosent/loadgate/internal/prom/promtest"
	"github.com/torosent/loadgate/internal/tunnel"
)

func newMonitor(t *testing.T, server *promtest.Server, opts monitor.Options) *monitor.Monitor {
	t.Helper()
	client, err := prom.New(prom.Options{Address: server.URL})
	if err != nil {
		t.Fatalf("prom.New: %v", err)
	}
	opts.Client = client
	if opts.Duration == 0 {
		opts.Duration = 30 * time.Millisecond
	}
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	m, err := monitor.New(opts)
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	return m
}

func TestSampleCount(t *testing.T) {
	tests := []struct {
		duration, interval time.Duration
		want               int
	}{
		{30 * time.Second, 10 * time.Second, 3},
		{60 * time.Second, 10 * time.Second, 6},
		{25 * time.Second, 10 * time.Second, 3},
		{5 * time.Second, 10 * time.Second, 1},
		{0, 10 * time.Second, 0},
		{10 * time.Second, 0, 0},
	}
	for _, tt := range tests {
		if got := monitor.SampleCount(tt.duration, tt.interval); got != tt.want {
			t.Errorf("SampleCount(%s, %s) = %d, want %d", tt.duration, tt.interval, got, tt.want)
		}
	}
}

func TestRunCollectsSamples(t *testing.T) {
	server := promtest.NewServer(t)
	q := monitor.Queries("echo")
	server.SetResult(q.CPUCores,
		promtest.Series{Labels: map[string]string{"pod": "foo"}, Value: 0.1},
		promtest.Series{Labels: map[string]string{"pod": "bar"}, Value: 0.2},
	)
	server.SetResult(q.MemoryBytes, promtest.Series{Value: 64 * 1024 * 1024})
	server.SetResult(q.RunningPods, promtest.Series{Value: 4})
	server.Fail(q.NetworkRx)

	res, err := newMonitor(t, server, monitor.Options{Namespace: "echo"}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Samples) != 3 {
		t.Fatalf("samples = %d, want 3", len(res.Samples))
	}
	for i, s := range res.Samples {
		if s.CPUCores == nil || *s.CPUCores < 0.299 || *s.CPUCores > 0.301 {
			t.Errorf("sample %d cpu = %v", i, s.CPUCores)
		}
		if s.MemoryMB == nil || *s.MemoryMB != 64 {
			t.Errorf("sample %d memory = %v", i, s.MemoryMB)
		}
		if s.NetworkRxMBps != nil || s.NetworkTxMBps != nil {
			t.Errorf("sample %d network fields should be absent", i)
		}
		if s.RunningPods == nil || *s.RunningPods != 4 {
			t.Errorf("sample %d pods = %v", i, s.RunningPods)
		}
	}

	st := res.Statistics
	if st.NetworkRxMBps != nil || st.NetworkTxMBps != nil {
		t.Fatal("statistics include fields no sample carried")
	}
	if st.MemoryMB == nil || st.MemoryMB.Avg != 64 || st.MemoryMB.Samples != 3 {
		t.Fatalf("memory stats = %+v", st.MemoryMB)
	}
	if res.Tunneled {
		t.Fatal("no tunnel should have been opened")
	}
	if res.Backend != server.URL {
		t.Fatalf("Backend = %q", res.Backend)
	}
}

func TestRunUnreachableWithoutTunnel(t *testing.T) {
	server := promtest.NewServer(t)
	server.SetHealthy(false)

	_, err := newMonitor(t, server, monitor.Options{}).Run(context.Background())
	if !errors.Is(err, monitor.ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
	if server.Queries() != 0 {
		t.Fatalf("queries = %d, want none", server.Queries())
	}
}

type fakeTunnel struct {
	closed int
}

func (f *fakeTunnel) Close() error {
	f.closed++
	return nil
}

func TestRunOpensAndClosesTunnel(t *testing.T) {
	server := promtest.NewServer(t)
	server.SetHealthy(false)
	ft := &fakeTunnel{}
	opened := 0

	m := newMonitor(t, server, monitor.Options{
		Tunnel: func(ctx context.Context, probe tunnel.ProbeFunc) (io.Closer, error) {
			opened++
			server.SetHealthy(true)
			if err := probe(ctx); err != nil {
				return nil, err
			}
			return ft, nil
		},
	})
	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if opened != 1 || ft.closed != 1 {
		t.Fatalf("opened=%d closed=%d, want 1/1", opened, ft.closed)
	}
	if !res.Tunneled {
		t.Fatal("Tunneled = false")
	}
	if !res.Statistics.Empty() {
		t.Fatal("expected empty statistics from a backend with no series")
	}
}

func TestRunClosesTunnelWhenBackendStaysDown(t *testing.T) {
	server := promtest.NewServer(t)
	server.SetHealthy(false)
	ft := &fakeTunnel{}

	m := newMonitor(t, server, monitor.Options{
		Tunnel: func(context.Context, tunnel.ProbeFunc) (io.Closer, error) { return ft, nil },
	})
	if _, err := m.Run(context.Background()); !errors.Is(err, monitor.ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
	if ft.closed != 1 {
		t.Fatalf("closed = %d, want 1", ft.closed)
	}
}

func TestRunTunnelFailure(t *testing.T) {
	server := promtest.NewServer(t)
	server.SetHealthy(false)

	m := newMonitor(t, server, monitor.Options{
		Tunnel: func(context.Context, tunnel.ProbeFunc) (io.Closer, error) {
			return nil, tunnel.ErrExited
		},
	})
	_, err := m.Run(context.Background())
	if !errors.Is(err, monitor.ErrBackendUnreachable) || !errors.Is(err, tunnel.ErrExited) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunInterrupted(t *testing.T) {
	server := promtest.NewServer(t)
	m := newMonitor(t, server, monitor.Options{Duration: time.Hour, Interval: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := m.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if res == nil || len(res.Samples) != 1 {
		t.Fatalf("expected the t=0 sample, got %+v", res)
	}
}

func TestRunDropsSampleCutShortByCancel(t *testing.T) {
	server := promtest.NewServer(t)
	server.SetResult(monitor.Queries("echo").RunningPods, promtest.Series{Value: 3})
	server.SetDelay(time.Second)
	m := newMonitor(t, server, monitor.Options{Namespace: "echo", Duration: time.Hour, Interval: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := m.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if res == nil {
		t.Fatal("expected a partial result")
	}
	if len(res.Samples) != 0 {
		t.Fatalf("kept %d samples with cancelled queries", len(res.Samples))
	}
	if !res.Statistics.Empty() {
		t.Fatalf("statistics from a dropped sample: %+v", res.Statistics)
	}
}

func TestNewValidates(t *testing.T) {
	server := promtest.NewServer(t)
	client, _ := prom.New(prom.Options{Address: server.URL})
	tests := []monitor.Options{
		{},
		{Client: client, Interval: time.Second},
		{Client: client, Duration: time.Second},
	}
	for i, opts := range tests {
		if _, err := monitor.New(opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestKubectlTunnel(t *testing.T) {
	if _, err := monitor.KubectlTunnel("http://prometheus.example:9090", "monitoring", "prometheus", 9090, tunnel.Config{}); err == nil {
		t.Fatal("expected error for non-local backend")
	}
	fn, err := monitor.KubectlTunnel("http://localhost:19090", "monitoring", "prometheus", 9090, tunnel.Config{})
	if err != nil || fn == nil {
		t.Fatalf("KubectlTunnel: %v", err)
	}
}
