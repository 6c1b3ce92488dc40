package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/loadgen"
	"github.com/torosent/loadgate/internal/metrics"
	"github.com/torosent/loadgate/internal/output"
	"github.com/torosent/loadgate/internal/state"
	"github.com/torosent/loadgate/internal/threshold"
)

const progressInterval = time.Second

// loadTestState is stored under the load_test key.
type loadTestState struct {
	output.Paths
	Results output.LoadReport `json:"results"`
}

// thresholdError is returned after the report pair has been written when
// any threshold failed.
type thresholdError struct {
	failed []threshold.Result
	total  int
}

func (e *thresholdError) Error() string {
	msg := fmt.Sprintf("%d of %d thresholds failed", len(e.failed), e.total)
	if len(e.failed) > 0 {
		msg += ": " + e.failed[0].Message
	}
	return msg
}

func newThresholdError(results []threshold.Result) error {
	if !threshold.Failed(results) {
		return nil
	}
	var failed []threshold.Result
	for _, r := range results {
		if !r.Pass {
			failed = append(failed, r)
		}
	}
	return &thresholdError{failed: failed, total: len(results)}
}

func (a *app) loadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Warm up the targets and run the steady-state load test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return s.phase(cmd.Context(), "load", s.runLoad)
		},
	}
	config.AddFlags(cmd.Flags(), config.GroupLoad)
	return cmd
}

func loadTargets(targets []config.Target) ([]loadgen.Target, error) {
	out := make([]loadgen.Target, len(targets))
	for i, t := range targets {
		out[i] = loadgen.Target{Host: t.Host, Expect: t.Expect, URL: t.URL}
	}
	return loadgen.NormalizeTargets(out)
}

// runLoad writes the report pair even when the steady state was
// interrupted, then fails on the interruption or on failing thresholds.
func (s *session) runLoad(ctx context.Context) error {
	lc := s.cfg.Load
	targets, err := loadTargets(lc.Targets)
	if err != nil {
		return err
	}
	checks, err := threshold.ParseMultiple(lc.Thresholds)
	if err != nil {
		return err
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Host
	}
	collector := metrics.NewCollector(names...)

	gen, err := loadgen.New(loadgen.Options{
		Targets:        targets,
		Requests:       lc.Requests,
		Concurrency:    lc.Concurrency,
		RatePerSecond:  lc.Rate,
		Timeout:        lc.Timeout,
		WarmupAttempts: lc.WarmupAttempts,
		WarmupDelay:    lc.WarmupDelay,
		Headers:        lc.Headers,
		Seed:           lc.Seed,
		Propagate:      s.tracing.ShouldPropagate(),
		Collector:      collector,
		Logger:         s.logger,
		Tracer:         s.tracing.Tracer(),
	})
	if err != nil {
		return err
	}

	var progress *output.ProgressReporter
	if lc.Progress {
		progress = output.NewProgressReporter(collector, progressInterval, s.stderr)
		progress.Start()
	}
	result, runErr := gen.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if result == nil {
		return runErr
	}

	hosts, combined := result.Metrics()
	report := output.LoadReport{Hosts: hosts, Combined: combined}
	report.Thresholds = threshold.NewEvaluator(checks).Evaluate(hosts, combined)

	paths, err := output.WritePair(s.cfg.ArtifactsDir, output.LoadTestBase, report, output.LoadMarkdown(report))
	if err != nil {
		return errors.Join(runErr, err)
	}
	var printed bytes.Buffer
	output.PrintLoadReport(&printed, report)
	if _, err := s.stdout.Write(printed.Bytes()); err != nil {
		return errors.Join(runErr, err)
	}
	if err := s.record(state.KeyLoadTest, loadTestState{Paths: paths, Results: report}); err != nil {
		return errors.Join(runErr, err)
	}

	if runErr != nil {
		return runErr
	}
	return newThresholdError(report.Thresholds)
}
