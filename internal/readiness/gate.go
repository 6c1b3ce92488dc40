// Package readiness runs an ordered list of cluster checks and stops at the
// first fatal failure.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/retry"
	"github.com/torosent/loadgate/internal/tracing"
)

// CheckFunc answers one readiness question. The context carries the phase
// deadline.
type CheckFunc func(ctx context.Context) error

// Phase is one named step of the gate. Advisory phases log their failure and
// let the gate continue.
type Phase struct {
	Name        string
	Description string
	Timeout     time.Duration // 0 means bounded only by the parent context
	Advisory    bool
	Check       CheckFunc
}

type Status string

const (
	StatusPassed         Status = "passed"
	StatusFailed         Status = "failed"
	StatusAdvisoryFailed Status = "advisory-failed"
	StatusSkipped        Status = "skipped"
)

// PhaseResult records how one phase ended.
type PhaseResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      Status  `json:"status"`
	Advisory    bool    `json:"advisory,omitempty"`
	DurationSec float64 `json:"duration_sec"`
	Error       string  `json:"error,omitempty"`
}

// Report lists every phase of the plan in order.
type Report struct {
	Passed      bool          `json:"passed"`
	FailedPhase string        `json:"failed_phase,omitempty"`
	DurationSec float64       `json:"duration_sec"`
	Phases      []PhaseResult `json:"phases"`
}

// PhaseError identifies the fatal phase that stopped the gate.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("%s: %v", e.Phase, e.Err) }

func (e *PhaseError) Unwrap() error { return e.Err }

// Options configure a Gate.
type Options struct {
	Logger *zap.Logger
	Tracer trace.Tracer
}

type Gate struct {
	phases []Phase
	logger *zap.Logger
	tracer trace.Tracer
}

func New(phases []Phase, opts Options) *Gate {
	return &Gate{
		phases: phases,
		logger: logging.OrNop(opts.Logger).Named("readiness"),
		tracer: opts.Tracer,
	}
}

// Run executes the phases strictly in order. A fatal failure returns a
// *PhaseError together with a report in which the remaining phases are
// marked skipped.
func (g *Gate) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Phases: make([]PhaseResult, 0, len(g.phases))}

	var failure *PhaseError
	for _, phase := range g.phases {
		res := PhaseResult{Name: phase.Name, Description: phase.Description, Advisory: phase.Advisory}
		if failure != nil {
			res.Status = StatusSkipped
			report.Phases = append(report.Phases, res)
			continue
		}

		err := g.runPhase(ctx, phase, &res)
		report.Phases = append(report.Phases, res)
		if err != nil && !phase.Advisory {
			failure = &PhaseError{Phase: phase.Name, Err: err}
			report.FailedPhase = phase.Name
		}
	}

	report.DurationSec = time.Since(start).Seconds()
	if failure != nil {
		return report, failure
	}
	report.Passed = true
	g.logger.Info("all readiness checks passed", zap.Int("phases", len(g.phases)), zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (g *Gate) runPhase(ctx context.Context, phase Phase, res *PhaseResult) (err error) {
	ctx, span := tracing.StartPhase(ctx, g.tracer, tracing.KindReadiness, phase.Name,
		attribute.Bool("loadgate.advisory", phase.Advisory))
	defer func() { tracing.EndSpan(span, err) }()

	if phase.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, phase.Timeout)
		defer cancel()
	}

	g.logger.Info("checking", zap.String("phase", phase.Name), zap.String("description", phase.Description),
		zap.Duration("timeout", phase.Timeout))
	started := time.Now()
	if phase.Check == nil {
		err = errors.New("phase has no check")
	} else {
		err = phase.Check(ctx)
	}
	res.DurationSec = time.Since(started).Seconds()

	switch {
	case err == nil:
		res.Status = StatusPassed
		g.logger.Info("passed", zap.String("phase", phase.Name), zap.Duration("elapsed", time.Since(started)))
	case phase.Advisory:
		res.Status = StatusAdvisoryFailed
		res.Error = err.Error()
		g.logger.Warn("advisory check failed, continuing", zap.String("phase", phase.Name), zap.Error(err))
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
		g.logger.Error("failed", zap.String("phase", phase.Name), zap.Error(err))
	}
	return err
}

// Wait polls check at a fixed interval until it succeeds or ctx ends.
func Wait(interval time.Duration, check CheckFunc) CheckFunc {
	return func(ctx context.Context) error {
		_, err := retry.Policy{Interval: interval}.Do(ctx, check)
		return err
	}
}
