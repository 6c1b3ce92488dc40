package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/monitor"
	"github.com/torosent/loadgate/internal/output"
	"github.com/torosent/loadgate/internal/prom"
	"github.com/torosent/loadgate/internal/state"
	"github.com/torosent/loadgate/internal/stats"
)

// resourceMetricsState is stored under the resource_metrics key.
type resourceMetricsState struct {
	output.Paths
	Statistics stats.ResourceStatistics `json:"statistics"`
}

func (a *app) monitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample namespace resource usage from Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return s.phase(cmd.Context(), "monitor", s.runMonitor)
		},
	}
	config.AddFlags(cmd.Flags(), config.GroupMonitor)
	return cmd
}

func (s *session) runMonitor(ctx context.Context) error {
	mc := s.cfg.Monitor
	client, err := prom.New(prom.Options{Address: mc.PrometheusURL, Logger: s.logger})
	if err != nil {
		return err
	}
	mon, err := monitor.New(monitor.Options{
		Client:    client,
		Namespace: s.cfg.Namespace,
		Duration:  mc.Duration,
		Interval:  mc.Interval,
		Tunnel:    s.tunnel(),
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}

	result, runErr := mon.Run(ctx)
	if result == nil {
		return runErr
	}
	if result.Statistics.Empty() {
		s.logger.Warn("no resource metric returned data", zap.Int("samples", len(result.Samples)))
	}

	markdown := output.ResourceMarkdown(result.Statistics)
	paths, err := output.WritePair(s.cfg.ArtifactsDir, output.ResourceMetricsBase, result, markdown)
	if err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprint(s.stdout, markdown)
	if err := s.record(state.KeyResourceMetrics, resourceMetricsState{Paths: paths, Statistics: result.Statistics}); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
