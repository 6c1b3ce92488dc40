package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/torosent/loadgate/internal/stats"
	"github.com/torosent/loadgate/internal/threshold"
)

// LoadReport is the machine-readable load-test record written next to its
// Markdown rendering and stored in the pipeline state.
type LoadReport struct {
	Hosts      []stats.HostMetrics   `json:"hosts"`
	Combined   stats.CombinedMetrics `json:"combined"`
	Thresholds []threshold.Result    `json:"thresholds,omitempty"`
}

// LoadMarkdown renders one table row per host plus a combined totals line.
func LoadMarkdown(r LoadReport) string {
	var b strings.Builder
	b.WriteString("### 🚦 Load-test summary\n")
	b.WriteString("| Host | Requests | Success % | Avg (ms) | P50 (ms) | P90 (ms) | P95 (ms) | P99 (ms) | Max (ms) | Req/s | Failures |\n")
	b.WriteString("| --- | ---: | ---: | ---: | ---: | ---: | ---: | ---: | ---: | ---: | ---: |\n")
	for _, h := range r.Hosts {
		fmt.Fprintf(&b, "| %s | %d | %.1f%% | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %.2f | %d |\n",
			h.Target, h.Requests, h.SuccessRate*100,
			h.MeanMs, h.P50Ms, h.P90Ms, h.P95Ms, h.P99Ms, h.MaxMs,
			h.RequestsPerSec, h.Failures)
	}
	c := r.Combined
	fmt.Fprintf(&b, "\nTotal duration: %.2fs for %d requests (failures: %d, success: %.1f%%, %.2f req/s).\n",
		c.Duration.Seconds(), c.TotalRequests, c.Failures, c.SuccessRate*100, c.RequestsPerSec)

	if reasons := sortedReasons(c.Reasons); len(reasons) > 0 {
		b.WriteString("\n**Failure reasons**\n\n")
		for _, kv := range reasons {
			fmt.Fprintf(&b, "- %s: %d\n", kv.name, kv.count)
		}
	}

	if len(r.Thresholds) > 0 {
		b.WriteString("\n**Thresholds**\n\n")
		for _, t := range r.Thresholds {
			fmt.Fprintf(&b, "- %s\n", t.Message)
		}
	}
	return b.String()
}

// ResourceMarkdown renders a row for every field that carried data.
func ResourceMarkdown(s stats.ResourceStatistics) string {
	var b strings.Builder
	b.WriteString("### 📊 Resource Utilization\n")
	if s.Empty() {
		b.WriteString("\n_No resource data was collected._\n")
		return b.String()
	}
	b.WriteString("| Metric | Average | Min | Max |\n")
	b.WriteString("| --- | ---: | ---: | ---: |\n")

	rows := []struct {
		label  string
		format string
		field  *stats.FieldStats
	}{
		{"CPU (cores)", "%.3f", s.CPUCores},
		{"Memory (MB)", "%.1f", s.MemoryMB},
		{"Network RX (MB/s)", "%.2f", s.NetworkRxMBps},
		{"Network TX (MB/s)", "%.2f", s.NetworkTxMBps},
		{"Running pods", "%.1f", s.RunningPods},
	}
	for _, row := range rows {
		if row.field == nil {
			continue
		}
		f := row.format
		fmt.Fprintf(&b, "| %s | "+f+" | "+f+" | "+f+" |\n", row.label, row.field.Avg, row.field.Min, row.field.Max)
	}
	return b.String()
}

// PrintLoadReport outputs a human-readable summary report.
func PrintLoadReport(w io.Writer, r LoadReport) {
	c := r.Combined
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Total Requests:    %d\n", c.TotalRequests)
	fmt.Fprintf(w, "Successful:        %d\n", c.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", c.Failures)
	fmt.Fprintf(w, "Success Rate:      %.1f%%\n", c.SuccessRate*100)
	fmt.Fprintf(w, "Duration:          %s\n", c.Duration)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", c.RequestsPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %.2fms\n", c.MinMs)
	fmt.Fprintf(w, "  Max:             %.2fms\n", c.MaxMs)
	fmt.Fprintf(w, "  Mean:            %.2fms\n", c.MeanMs)
	fmt.Fprintf(w, "  P50:             %.2fms\n", c.P50Ms)
	fmt.Fprintf(w, "  P90:             %.2fms\n", c.P90Ms)
	fmt.Fprintf(w, "  P95:             %.2fms\n", c.P95Ms)
	fmt.Fprintf(w, "  P99:             %.2fms\n", c.P99Ms)

	if len(r.Hosts) > 0 {
		fmt.Fprintln(w, "\nHost Breakdown:")
		for _, h := range r.Hosts {
			share := 0.0
			if c.TotalRequests > 0 {
				share = float64(h.Requests) / float64(c.TotalRequests) * 100
			}
			fmt.Fprintf(w, "  - %s: total=%d (%.1f%%), successes=%d, failures=%d, rps=%.2f, p99=%.2fms\n",
				h.Target, h.Requests, share, h.Successes, h.Failures, h.RequestsPerSec, h.P99Ms)
			for _, kv := range sortedReasons(h.Reasons) {
				fmt.Fprintf(w, "      %s: %d\n", kv.name, kv.count)
			}
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
	}
}

// WriteJSON outputs v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type reasonCount struct {
	name  string
	count int
}

// sortedReasons orders by count descending, then name.
func sortedReasons(reasons map[string]int) []reasonCount {
	out := make([]reasonCount, 0, len(reasons))
	for name, count := range reasons {
		out = append(out, reasonCount{name, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}
