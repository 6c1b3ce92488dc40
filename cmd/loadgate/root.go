package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/kube"
	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/monitor"
	"github.com/torosent/loadgate/internal/readiness"
	"github.com/torosent/loadgate/internal/state"
	"github.com/torosent/loadgate/internal/tracing"
	"github.com/torosent/loadgate/internal/tunnel"
)

const (
	prometheusPort  = 9090
	shutdownTimeout = 5 * time.Second
)

// app holds the process boundaries so tests can swap them.
type app struct {
	stdout       io.Writer
	stderr       io.Writer
	getenv       func(string) string
	newClientset func(kubeconfig string) (kubernetes.Interface, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:       stdout,
		stderr:       stderr,
		newClientset: kube.NewClientset,
	}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "loadgate",
		Short: "Readiness gate, load generator and resource monitor for CI pipelines",
		Long: `loadgate runs the performance stage of a CI pipeline against a Kubernetes
deployment: it waits until the cluster is ready, load-tests the routed hosts,
samples resource usage from Prometheus and records everything in a state file
shared by the pipeline steps.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	config.AddGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		a.checkCommand(),
		a.loadCommand(),
		a.monitorCommand(),
		a.runCommand(),
		a.reportCommand(),
		a.stateCommand(),
	)
	return root
}

// session is the per-invocation context shared by the phases of a command.
type session struct {
	cfg          *config.Config
	logger       *zap.Logger
	tracing      *tracing.Provider
	stdout       io.Writer
	stderr       io.Writer
	newClientset func(string) (kubernetes.Interface, error)

	mu    sync.Mutex
	state *state.State
}

func (a *app) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.NewLoader(a.getenv).Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// run writes from the load and monitor phases at once; the progress
	// reporter and the logger also share stderr.
	stdout, stderr := logging.Locked(a.stdout), logging.Locked(a.stderr)
	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	var attrs []attribute.KeyValue
	if id := st.RunID(); id != "" {
		attrs = append(attrs, attribute.String("loadgate.run_id", id))
	}
	provider, err := tracing.Init(cmd.Context(), cfg.Tracing, attrs...)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	return &session{
		cfg:          cfg,
		logger:       logger,
		tracing:      provider,
		stdout:       stdout,
		stderr:       stderr,
		newClientset: a.newClientset,
		state:        st,
	}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.tracing.Shutdown(ctx); err != nil {
		s.logger.Warn("flush traces", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// phase runs fn under a pipeline span and prefixes its error with name.
func (s *session) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracing.StartPhase(ctx, s.tracing.Tracer(), tracing.KindPipeline, name)
	s.logger.Info("phase started", zap.String("phase", name))
	start := time.Now()

	err := fn(ctx)
	tracing.EndSpan(span, err)
	if err != nil {
		s.logger.Error("phase failed", zap.String("phase", name), zap.Duration("elapsed", time.Since(start)))
		return phaseError(name, err)
	}
	s.logger.Info("phase finished", zap.String("phase", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// phaseError prefixes err with the pipeline phase. Readiness failures
// already name the readiness phase that stopped the gate.
func phaseError(name string, err error) error {
	var pe *readiness.PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return fmt.Errorf("%s: %w", name, err)
}

// record sets key and saves the state file. Phases running concurrently
// share one State.
func (s *session) record(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.state.Set(key, v); err != nil {
		return err
	}
	if err := s.state.Save(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// kubeconfig prefers the configured path over the one recorded in state by
// the cluster bootstrap step. Empty lets client-go fall back to $KUBECONFIG.
func (s *session) kubeconfig() string {
	if s.cfg.Kubeconfig != "" {
		return s.cfg.Kubeconfig
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetString(state.KeyKubeconfig)
}

// tunnel returns the port-forward fallback for the metrics backend, or nil
// when it is disabled or the backend is not on localhost.
func (s *session) tunnel() monitor.TunnelFunc {
	m := s.cfg.Monitor
	if !m.PortForward {
		return nil
	}
	cfg := tunnel.Config{Logger: s.logger}
	if kc := s.kubeconfig(); kc != "" {
		cfg.Env = []string{"KUBECONFIG=" + kc}
	}
	fn, err := monitor.KubectlTunnel(m.PrometheusURL, m.ServiceNamespace, m.Service, prometheusPort, cfg)
	if err != nil {
		s.logger.Info("port-forward fallback disabled", zap.Error(err))
		return nil
	}
	return fn
}
