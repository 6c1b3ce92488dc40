package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/loadgate/internal/stats"
)

// Collector records steady-state outcomes partitioned by target in a
// thread-safe manner.
type Collector struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	outcomes  map[string][]stats.Outcome
	order     []string
	successes int64
	failures  int64
	start     time.Time
}

// Snapshot is a cheap live view used for progress reporting. Percentiles come
// from the histogram and are approximate; final statistics use the exact
// outcome lists.
type Snapshot struct {
	Total          int64
	Successes      int64
	Failures       int64
	Elapsed        time.Duration
	RequestsPerSec float64
	P50            time.Duration
	P99            time.Duration
	PerTarget      map[string]int
}

// NewCollector creates a collector. Targets listed here keep their order in
// Targets even if they never receive a request.
func NewCollector(targets ...string) *Collector {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	c := &Collector{
		hist:     h,
		outcomes: make(map[string][]stats.Outcome, len(targets)),
		start:    time.Now(),
	}
	for _, t := range targets {
		if _, ok := c.outcomes[t]; ok {
			continue
		}
		c.outcomes[t] = nil
		c.order = append(c.order, t)
	}
	return c
}

// Start marks the beginning of the measured window.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// Record appends an outcome to its target's collection.
func (c *Collector) Record(o stats.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.outcomes[o.Target]; !ok {
		c.order = append(c.order, o.Target)
	}
	c.outcomes[o.Target] = append(c.outcomes[o.Target], o)

	if o.Latency > 0 {
		us := o.Latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}

	if o.Success {
		c.successes++
	} else {
		c.failures++
	}
}

// Targets returns target names in first-seen order.
func (c *Collector) Targets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Outcomes returns a copy of the recorded outcomes keyed by target.
func (c *Collector) Outcomes() map[string][]stats.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]stats.Outcome, len(c.outcomes))
	for target, list := range c.outcomes {
		out[target] = append([]stats.Outcome(nil), list...)
	}
	return out
}

// Snapshot returns live counters since Start.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Total:     c.successes + c.failures,
		Successes: c.successes,
		Failures:  c.failures,
		Elapsed:   time.Since(c.start),
		PerTarget: make(map[string]int, len(c.outcomes)),
	}
	for target, list := range c.outcomes {
		snap.PerTarget[target] = len(list)
	}
	if snap.Elapsed > 0 && snap.Total > 0 {
		snap.RequestsPerSec = float64(snap.Total) / snap.Elapsed.Seconds()
	}
	if c.hist.TotalCount() > 0 {
		snap.P50 = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		snap.P99 = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	return snap
}
