// Package stats computes latency percentiles, per-host and combined request
// statistics, and resource utilisation summaries.
//
// Every function in this package is pure: inputs are never mutated and
// malformed-but-well-typed input degrades to zero values instead of errors.
package stats

import (
	"math"
	"sort"
	"time"
)

// Outcome is the recorded result of a single steady-state request.
type Outcome struct {
	Target  string        `json:"target"`
	SentAt  time.Time     `json:"sent_at"`
	Latency time.Duration `json:"latency"`
	Success bool          `json:"success"`
	Reason  string        `json:"reason,omitempty"`
}

// HostMetrics summarises the outcomes recorded for one target.
type HostMetrics struct {
	Target         string         `json:"target"`
	Requests       int64          `json:"requests"`
	Successes      int64          `json:"successes"`
	Failures       int64          `json:"failures"`
	SuccessRate    float64        `json:"success_rate"`
	RequestsPerSec float64        `json:"requests_per_sec"`
	Mean           time.Duration  `json:"-"`
	Min            time.Duration  `json:"-"`
	P50            time.Duration  `json:"-"`
	P90            time.Duration  `json:"-"`
	P95            time.Duration  `json:"-"`
	P99            time.Duration  `json:"-"`
	Max            time.Duration  `json:"-"`
	Reasons        map[string]int `json:"failure_reasons,omitempty"`

	// JSON-friendly millisecond fields.
	MeanMs float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// CombinedMetrics is HostMetrics over the union of every target's outcomes.
type CombinedMetrics struct {
	HostMetrics
	Duration      time.Duration `json:"-"`
	DurationSec   float64       `json:"duration_sec"`
	TotalRequests int64         `json:"total_requests"`
}

// Percentile returns the linearly interpolated order statistic at fraction p.
// An empty input yields 0 and p is clamped to [0, 1].
func Percentile(samples []float64, p float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return samples[0]
	}
	p = clamp(p)

	ordered := make([]float64, n)
	copy(ordered, samples)
	sort.Float64s(ordered)

	k := float64(n-1) * p
	f := int(math.Floor(k))
	c := f + 1
	if c > n-1 {
		c = n - 1
	}
	if f == c {
		return ordered[f]
	}
	return ordered[f]*(float64(c)-k) + ordered[c]*(k-float64(f))
}

// PercentileDuration is Percentile over durations.
func PercentileDuration(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	values := make([]float64, len(samples))
	for i, d := range samples {
		values[i] = float64(d)
	}
	return time.Duration(math.Round(Percentile(values, p)))
}

// Aggregate reduces the outcomes of one target over a wall-clock window.
func Aggregate(target string, outcomes []Outcome, wall time.Duration) HostMetrics {
	m := HostMetrics{Target: target}
	if len(outcomes) == 0 {
		return m
	}

	latencies := make([]time.Duration, 0, len(outcomes))
	var sum time.Duration
	for i, o := range outcomes {
		m.Requests++
		if o.Success {
			m.Successes++
		} else {
			m.Failures++
			reason := o.Reason
			if reason == "" {
				reason = "unknown"
			}
			if m.Reasons == nil {
				m.Reasons = make(map[string]int)
			}
			m.Reasons[reason]++
		}
		latency := o.Latency
		if latency < 0 {
			latency = 0
		}
		latencies = append(latencies, latency)
		sum += latency
		if i == 0 || latency < m.Min {
			m.Min = latency
		}
		if latency > m.Max {
			m.Max = latency
		}
	}

	m.SuccessRate = float64(m.Successes) / float64(m.Requests)
	if wall > 0 {
		m.RequestsPerSec = float64(m.Requests) / wall.Seconds()
	}
	m.Mean = sum / time.Duration(len(latencies))
	m.P50 = PercentileDuration(latencies, 0.50)
	m.P90 = PercentileDuration(latencies, 0.90)
	m.P95 = PercentileDuration(latencies, 0.95)
	m.P99 = PercentileDuration(latencies, 0.99)

	m.MeanMs = toMillis(m.Mean)
	m.MinMs = toMillis(m.Min)
	m.P50Ms = toMillis(m.P50)
	m.P90Ms = toMillis(m.P90)
	m.P95Ms = toMillis(m.P95)
	m.P99Ms = toMillis(m.P99)
	m.MaxMs = toMillis(m.Max)
	return m
}

// Combine aggregates the union of all targets' outcomes. Targets are visited
// in the given order so the union is deterministic.
func Combine(byTarget map[string][]Outcome, order []string, wall time.Duration) CombinedMetrics {
	var all []Outcome
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		all = append(all, byTarget[name]...)
	}
	rest := make([]string, 0)
	for name := range byTarget {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		all = append(all, byTarget[name]...)
	}

	combined := CombinedMetrics{
		HostMetrics:   Aggregate("combined", all, wall),
		Duration:      wall,
		TotalRequests: int64(len(all)),
	}
	if wall > 0 {
		combined.DurationSec = wall.Seconds()
	}
	return combined
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
