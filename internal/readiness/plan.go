package readiness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"github.com/torosent/loadgate/internal/kube"
	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/prom"
	"github.com/torosent/loadgate/internal/retry"
	"github.com/torosent/loadgate/internal/tunnel"
)

const (
	DefaultTimeout      = 180 * time.Second
	DefaultRetries      = 3
	DefaultPollInterval = 2 * time.Second
	DefaultQueryTimeout = 10 * time.Second

	IngressNamespace    = "ingress-nginx"
	MonitoringNamespace = "monitoring"
	webhookSelector     = "app.kubernetes.io/component=webhook"
	controllerSelector  = "app.kubernetes.io/component=controller"
	prometheusName      = "prometheus"
)

// PlanConfig parameterises DefaultPlan.
type PlanConfig struct {
	Clientset    kubernetes.Interface
	Namespace    string
	Deployments  []string
	Services     []string
	Timeout      time.Duration // per wait phase
	PollInterval time.Duration
	Retries      int // attempts of the backend query

	Prometheus *prom.Client
	// OpenTunnel is used when Prometheus is not directly reachable. Nil
	// fails the backend phase instead.
	OpenTunnel func(ctx context.Context, probe tunnel.ProbeFunc) (io.Closer, error)
	Logger     *zap.Logger
}

func (c *PlanConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	c.Logger = logging.OrNop(c.Logger).Named("readiness")
}

// DefaultPlan returns the checks run before a load test, in dependency
// order: nodes, ingress, workloads, routing, monitoring.
func DefaultPlan(cfg PlanConfig) []Phase {
	cfg.defaults()
	cs := cfg.Clientset
	wait := func(check CheckFunc) CheckFunc { return Wait(cfg.PollInterval, check) }

	return []Phase{
		{
			Name:        "cluster-nodes-ready",
			Description: "every node reports Ready",
			Timeout:     cfg.Timeout,
			Check:       wait(func(ctx context.Context) error { return kube.NodesReady(ctx, cs) }),
		},
		{
			Name:        "admission-webhooks-ready",
			Description: "ingress-nginx admission webhook is operational",
			Timeout:     cfg.Timeout,
			Advisory:    true,
			Check:       wait(func(ctx context.Context) error { return webhooksReady(ctx, cs) }),
		},
		{
			Name:        "ingress-controller-ready",
			Description: "ingress-nginx controller pods are Ready",
			Timeout:     cfg.Timeout,
			Check: wait(func(ctx context.Context) error {
				return kube.PodsReady(ctx, cs, IngressNamespace, controllerSelector)
			}),
		},
		{
			Name:        "application-rollout-complete",
			Description: fmt.Sprintf("deployments %v rolled out in %s", cfg.Deployments, cfg.Namespace),
			Timeout:     cfg.Timeout,
			Check:       rollouts(cs, cfg.Namespace, cfg.Deployments, cfg.PollInterval),
		},
		{
			Name:        "service-endpoints-populated",
			Description: fmt.Sprintf("services %v have ready endpoints", cfg.Services),
			Timeout:     DefaultQueryTimeout,
			Check:       endpoints(cs, cfg.Namespace, cfg.Services, cfg.Logger),
		},
		{
			Name:        "ingress-backends-configured",
			Description: fmt.Sprintf("ingresses in %s route to backend services", cfg.Namespace),
			Timeout:     DefaultQueryTimeout,
			Check: func(ctx context.Context) error {
				names, err := kube.IngressBackends(ctx, cs, cfg.Namespace)
				if err != nil {
					return err
				}
				cfg.Logger.Info("ingress backends configured", zap.Strings("services", names))
				return nil
			},
		},
		{
			Name:        "monitoring-stack-ready",
			Description: "prometheus deployment rolled out",
			Timeout:     cfg.Timeout,
			Check: wait(func(ctx context.Context) error {
				return kube.DeploymentRolledOut(ctx, cs, MonitoringNamespace, prometheusName)
			}),
		},
		{
			Name:        "monitoring-backend-reachable",
			Description: "prometheus answers queries and has scrape targets",
			Timeout:     cfg.Timeout,
			Check:       backendReachable(cfg),
		},
	}
}

// webhooksReady accepts either webhook pods or completed webhook jobs,
// since charts deploy the admission webhook one way or the other.
func webhooksReady(ctx context.Context, cs kubernetes.Interface) error {
	podsErr := kube.PodsReady(ctx, cs, IngressNamespace, webhookSelector)
	jobsErr := kube.JobsComplete(ctx, cs, IngressNamespace, webhookSelector)
	switch {
	case podsErr == nil && (jobsErr == nil || errors.Is(jobsErr, kube.ErrNotFound)):
		return nil
	case jobsErr == nil && errors.Is(podsErr, kube.ErrNotFound):
		return nil
	}
	return errors.Join(podsErr, jobsErr)
}

func rollouts(cs kubernetes.Interface, namespace string, names []string, interval time.Duration) CheckFunc {
	return func(ctx context.Context) error {
		for _, name := range names {
			policy := retry.Policy{
				Interval:    interval,
				ShouldRetry: func(err error) bool { return !errors.Is(err, kube.ErrRolloutStalled) },
			}
			_, err := policy.Do(ctx, func(ctx context.Context) error {
				return kube.DeploymentRolledOut(ctx, cs, namespace, name)
			})
			if err != nil {
				return fmt.Errorf("deployment %s not ready: %w", name, err)
			}
		}
		return nil
	}
}

// endpoints is a single query: an empty service fails immediately.
func endpoints(cs kubernetes.Interface, namespace string, services []string, logger *zap.Logger) CheckFunc {
	return func(ctx context.Context) error {
		for _, svc := range services {
			n, err := kube.EndpointsPopulated(ctx, cs, namespace, svc)
			if err != nil {
				return err
			}
			logger.Info("service endpoints found", zap.String("service", svc), zap.Int("ready", n))
		}
		return nil
	}
}

func backendReachable(cfg PlanConfig) CheckFunc {
	return func(ctx context.Context) error {
		client := cfg.Prometheus
		if client == nil {
			return errors.New("no prometheus client configured")
		}

		if err := client.Healthy(ctx); err != nil {
			if cfg.OpenTunnel == nil {
				return fmt.Errorf("prometheus unreachable: %w", err)
			}
			cfg.Logger.Info("opening port-forward to prometheus", zap.String("url", client.Address()))
			closer, err := cfg.OpenTunnel(ctx, client.Healthy)
			if err != nil {
				return fmt.Errorf("port-forward to prometheus: %w", err)
			}
			defer func() {
				if err := closer.Close(); err != nil {
					cfg.Logger.Warn("close port-forward", zap.Error(err))
				}
			}()
		}

		policy := retry.Policy{
			MaxAttempts: cfg.Retries,
			Interval:    DefaultPollInterval,
			OnRetry: func(attempt int, err error, _ time.Duration) {
				cfg.Logger.Warn("prometheus query failed", zap.Int("attempt", attempt), zap.Int("max", cfg.Retries), zap.Error(err))
			},
		}
		attempts, err := policy.Do(ctx, func(ctx context.Context) error {
			_, err := client.Query(ctx, "up")
			if errors.Is(err, prom.ErrNoData) {
				return nil
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("cannot query prometheus after %d attempts: %w", attempts, err)
		}

		targets, err := client.ActiveTargets(ctx)
		if err != nil {
			return err
		}
		if targets == 0 {
			cfg.Logger.Warn("prometheus has no active scrape targets")
		} else {
			cfg.Logger.Info("prometheus scrape targets found", zap.Int("active", targets))
		}
		return nil
	}
}
