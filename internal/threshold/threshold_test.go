package threshold

import (
	"math"
	"strings"
	"testing"

	"github.com/torosent/loadgate/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "p95 latency",
			input: "latency:p95 < 500",
			want:  Threshold{Metric: "latency", Aggregate: "p95", Operator: "<", Value: 500, Raw: "latency:p95 < 500"},
		},
		{
			name:  "failure rate",
			input: "failures:rate < 0.01",
			want:  Threshold{Metric: "failures", Aggregate: "rate", Operator: "<", Value: 0.01, Raw: "failures:rate < 0.01"},
		},
		{
			name:  "success rate with >=",
			input: "success:rate >= 0.99",
			want:  Threshold{Metric: "success", Aggregate: "rate", Operator: ">=", Value: 0.99, Raw: "success:rate >= 0.99"},
		},
		{
			name:  "host scoped",
			input: "foo.localhost/latency:p99 <= 800",
			want:  Threshold{Host: "foo.localhost", Metric: "latency", Aggregate: "p99", Operator: "<=", Value: 800, Raw: "foo.localhost/latency:p99 <= 800"},
		},
		{
			name:  "host with port, no spaces",
			input: "foo.localhost:8080/requests:count==100",
			want:  Threshold{Host: "foo.localhost:8080", Metric: "requests", Aggregate: "count", Operator: "==", Value: 100, Raw: "foo.localhost:8080/requests:count==100"},
		},
		{name: "empty", input: "", wantError: true},
		{name: "unknown metric", input: "cpu:avg < 1", wantError: true},
		{name: "aggregate not valid for metric", input: "success:p95 < 1", wantError: true},
		{name: "bad operator", input: "latency:p95 != 5", wantError: true},
		{name: "missing value", input: "latency:p95 <", wantError: true},
		{name: "negative value", input: "latency:p95 < -5", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %+v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{"latency:p95 < 500", "failures:rate < 0.01"})
	if err != nil || len(got) != 2 {
		t.Fatalf("ParseMultiple = %v, %v", got, err)
	}

	_, err = ParseMultiple([]string{"latency:p95 < 500", "bogus", "cpu:avg < 1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "threshold[1]") || !strings.Contains(err.Error(), "threshold[2]") {
		t.Errorf("expected every bad threshold to be reported, got %v", err)
	}

	if got, err := ParseMultiple(nil); got != nil || err != nil {
		t.Errorf("ParseMultiple(nil) = %v, %v", got, err)
	}
}

func sampleStats() ([]stats.HostMetrics, stats.CombinedMetrics) {
	foo := stats.HostMetrics{Target: "foo.localhost", Requests: 100, Successes: 100, SuccessRate: 1, P99Ms: 120}
	bar := stats.HostMetrics{Target: "bar.localhost", Requests: 100, Successes: 90, Failures: 10, SuccessRate: 0.9, P99Ms: 900}
	combined := stats.CombinedMetrics{
		HostMetrics: stats.HostMetrics{
			Target:         "combined",
			Requests:       200,
			Successes:      190,
			Failures:       10,
			SuccessRate:    0.95,
			RequestsPerSec: 40,
			MeanMs:         100.75,
			MinMs:          10.5,
			P50Ms:          80.5,
			P90Ms:          200.25,
			P95Ms:          300.5,
			P99Ms:          400.5,
			MaxMs:          900,
		},
		TotalRequests: 200,
	}
	return []stats.HostMetrics{foo, bar}, combined
}

func TestEvaluator(t *testing.T) {
	hosts, combined := sampleStats()
	tests := []struct {
		input string
		pass  bool
	}{
		{"latency:p95 < 500", true},
		{"latency:p99 < 400", false},
		{"failures:rate <= 0.05", true},
		{"failures:count < 10", false},
		{"success:rate >= 0.95", true},
		{"requests:count == 200", true},
		{"requests:rate > 50", false},
		{"foo.localhost/latency:p99 < 500", true},
		{"bar.localhost/latency:p99 < 500", false},
		{"bar.localhost/success:rate >= 0.95", false},
		{"baz.localhost/success:rate >= 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			th, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			results := NewEvaluator([]Threshold{th}).Evaluate(hosts, combined)
			if len(results) != 1 {
				t.Fatalf("expected 1 result, got %d", len(results))
			}
			if results[0].Pass != tt.pass {
				t.Errorf("Pass = %v, want %v (%s)", results[0].Pass, tt.pass, results[0].Message)
			}
			if Failed(results) == tt.pass {
				t.Errorf("Failed() disagrees with Pass")
			}
		})
	}
}

func TestEvaluatorWithoutThresholds(t *testing.T) {
	hosts, combined := sampleStats()
	if got := NewEvaluator(nil).Evaluate(hosts, combined); got != nil {
		t.Errorf("expected nil results, got %v", got)
	}
	if Failed(nil) {
		t.Error("Failed(nil) = true")
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{"less than true", 50, "<", 100, true},
		{"less than equal", 100, "<", 100, false},
		{"less than or equal equal", 100, "<=", 100, true},
		{"less than or equal false", 150, "<=", 100, false},
		{"greater than true", 150, ">", 100, true},
		{"greater than equal", 100, ">", 100, false},
		{"greater than or equal equal", 100, ">=", 100, true},
		{"greater than or equal false", 50, ">=", 100, false},
		{"equal true", 100, "==", 100, true},
		{"equal false", 100, "==", 101, false},
		{"equal with floating point precision", 100.0000000001, "==", 100, true},
		{"unknown operator", 1, "!=", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareValues(tt.actual, tt.operator, tt.expected); got != tt.want {
				t.Errorf("compareValues(%.2f, %s, %.2f) = %v, want %v", tt.actual, tt.operator, tt.expected, got, tt.want)
			}
		})
	}
}

func TestExtractMetricValue(t *testing.T) {
	_, combined := sampleStats()
	m := combined.HostMetrics

	tests := []struct {
		metric, aggregate string
		want              float64
	}{
		{"latency", "p50", 80.5},
		{"latency", "p90", 200.25},
		{"latency", "p95", 300.5},
		{"latency", "p99", 400.5},
		{"latency", "avg", 100.75},
		{"latency", "min", 10.5},
		{"latency", "max", 900},
		{"failures", "rate", 0.05},
		{"failures", "count", 10},
		{"requests", "rate", 40},
		{"requests", "count", 200},
		{"success", "rate", 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.metric+":"+tt.aggregate, func(t *testing.T) {
			got, err := extractMetricValue(Threshold{Metric: tt.metric, Aggregate: tt.aggregate}, m)
			if err != nil {
				t.Fatalf("extractMetricValue: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := extractMetricValue(Threshold{Metric: "latency", Aggregate: "rate"}, m); err == nil {
		t.Error("expected error for unsupported aggregate")
	}
}

func TestFailureRateWithoutRequests(t *testing.T) {
	got, err := extractMetricValue(Threshold{Metric: "failures", Aggregate: "rate"}, stats.HostMetrics{})
	if err != nil || got != 0 {
		t.Fatalf("got %v, %v; want 0", got, err)
	}
}
