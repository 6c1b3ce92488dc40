package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/prom"
	"github.com/torosent/loadgate/internal/readiness"
	"github.com/torosent/loadgate/internal/state"
)

func (a *app) checkCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Wait until the cluster and the application are ready for load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return s.phase(cmd.Context(), "readiness", s.checkReadiness)
		},
	}
	config.AddFlags(cmd.Flags(), config.GroupReadiness)
	return cmd
}

// checkReadiness runs the default plan and records its report, passed or
// not, under the readiness key.
func (s *session) checkReadiness(ctx context.Context) error {
	kubeconfig := s.kubeconfig()
	cs, err := s.newClientset(kubeconfig)
	if err != nil {
		return err
	}
	client, err := prom.New(prom.Options{Address: s.cfg.Monitor.PrometheusURL, Logger: s.logger})
	if err != nil {
		return err
	}

	rc := s.cfg.Readiness
	plan := readiness.DefaultPlan(readiness.PlanConfig{
		Clientset:    cs,
		Namespace:    s.cfg.Namespace,
		Deployments:  rc.Deployments,
		Services:     rc.Services,
		Timeout:      rc.Timeout,
		PollInterval: rc.PollInterval,
		Retries:      rc.Retries,
		Prometheus:   client,
		OpenTunnel:   s.tunnel(),
		Logger:       s.logger,
	})

	report, runErr := readiness.New(plan, readiness.Options{
		Logger: s.logger,
		Tracer: s.tracing.Tracer(),
	}).Run(ctx)
	if err := s.record(state.KeyReadiness, report); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(s.stdout, "readiness gate passed: %d phases in %.1fs\n", len(report.Phases), report.DurationSec)
	return nil
}
