package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/loadgate/internal/config"
	"github.com/torosent/loadgate/internal/tracing"
)

func (a *app) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run readiness, load and monitoring as one pipeline",
		Long: `run waits for the readiness gate, then load-tests the targets while the
resource monitor samples Prometheus. Both reports are written even when a
threshold fails; the command then exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return s.pipeline(cmd.Context())
		},
	}
	config.AddFlags(cmd.Flags(), config.GroupAll)
	return cmd
}

func (s *session) pipeline(ctx context.Context) (err error) {
	ctx, span := tracing.StartPhase(ctx, s.tracing.Tracer(), tracing.KindPipeline, "run")
	defer func() { tracing.EndSpan(span, err) }()

	if err := s.phase(ctx, "readiness", s.checkReadiness); err != nil {
		return err
	}

	// Failing thresholds must not cancel the monitor, so they are held back
	// until both phases are done.
	var thresholdErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.phase(gctx, "monitor", s.runMonitor)
	})
	g.Go(func() error {
		err := s.phase(gctx, "load", s.runLoad)
		var te *thresholdError
		if errors.As(err, &te) {
			thresholdErr = err
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return thresholdErr
}
