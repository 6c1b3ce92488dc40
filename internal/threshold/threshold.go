// Package threshold evaluates pass/fail assertions against aggregated load
// statistics.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/loadgate/internal/stats"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Host      string  `json:"host,omitempty"` // empty means the combined statistics
	Metric    string  `json:"metric"`         // latency, failures, requests, success
	Aggregate string  `json:"aggregate"`      // p95, avg, rate, count, ...
	Operator  string  `json:"operator"`
	Value     float64 `json:"value"`
	Raw       string  `json:"raw"`
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

// Evaluator evaluates thresholds against aggregated statistics.
type Evaluator struct {
	thresholds []Threshold
}

func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks every threshold. Host-scoped thresholds look the host up
// in hosts; an unknown host fails the threshold.
func (e *Evaluator) Evaluate(hosts []stats.HostMetrics, combined stats.CombinedMetrics) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, hosts, combined))
	}
	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return true
		}
	}
	return false
}

func evaluateOne(t Threshold, hosts []stats.HostMetrics, combined stats.CombinedMetrics) Result {
	m := combined.HostMetrics
	if t.Host != "" {
		found := false
		for _, h := range hosts {
			if h.Target == t.Host {
				m, found = h, true
				break
			}
		}
		if !found {
			return Result{Threshold: t, Message: fmt.Sprintf("✗ %s: no statistics for host %q", t.Raw, t.Host)}
		}
	}

	actual, err := extractMetricValue(t, m)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("✗ %s: %v", t.Raw, err)}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

var pattern = regexp.MustCompile(`^(?:([A-Za-z0-9.\-:]+)/)?([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string. Supported forms:
//   - "latency:p95 < 500"          latency percentile in ms (p50, p90, p95, p99, avg, min, max)
//   - "failures:rate < 0.01"       failure ratio; "failures:count" for the absolute number
//   - "requests:rate > 50"         requests per second; "requests:count" for the total
//   - "success:rate >= 0.99"       success ratio
//   - "foo.localhost/latency:p99 < 800" scopes any of the above to one host
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: [host/]metric:aggregate operator value, e.g., 'latency:p95 < 500')", s)
	}
	host, metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4], matches[5]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}
	aggregates, ok := supported[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: latency, failures, requests, success)", metric)
	}
	if !oneOf(aggregate, aggregates...) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(aggregates, ", "))
	}
	if !oneOf(operator, "<", "<=", ">", ">=", "==") {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Host:      host,
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings, reporting every bad one.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

var supported = map[string][]string{
	"latency":  {"p50", "p90", "p95", "p99", "avg", "min", "max"},
	"failures": {"count", "rate"},
	"requests": {"count", "rate"},
	"success":  {"rate"},
}

func oneOf(s string, values ...string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, m stats.HostMetrics) (float64, error) {
	switch t.Metric + ":" + t.Aggregate {
	case "latency:p50":
		return m.P50Ms, nil
	case "latency:p90":
		return m.P90Ms, nil
	case "latency:p95":
		return m.P95Ms, nil
	case "latency:p99":
		return m.P99Ms, nil
	case "latency:avg":
		return m.MeanMs, nil
	case "latency:min":
		return m.MinMs, nil
	case "latency:max":
		return m.MaxMs, nil
	case "failures:count":
		return float64(m.Failures), nil
	case "failures:rate":
		if m.Requests == 0 {
			return 0, nil
		}
		return float64(m.Failures) / float64(m.Requests), nil
	case "requests:count":
		return float64(m.Requests), nil
	case "requests:rate":
		return m.RequestsPerSec, nil
	case "success:rate":
		return m.SuccessRate, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	const epsilon = 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
