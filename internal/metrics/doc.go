// Package metrics records steady-state request outcomes for the load generator.
//
// The [Collector] partitions outcomes by target under a single mutex, so an
// outcome is always attributed to exactly one target's collection even when
// many workers record concurrently:
//
//	collector := metrics.NewCollector("foo.localhost", "bar.localhost")
//	collector.Start()
//
//	collector.Record(stats.Outcome{
//		Target:  "foo.localhost",
//		Latency: 12 * time.Millisecond,
//		Success: true,
//	})
//
//	byTarget := collector.Outcomes() // exact lists for the statistics engine
//
// # Live Snapshots
//
// [Collector.Snapshot] returns running counters plus approximate P50/P99 from
// an HDR histogram. It is meant for progress output only; reports are always
// computed from the exact outcome lists by the stats package.
//
// # Failure Reasons
//
// [ClassifyFailure] maps transport errors (timeouts, refused connections, DNS
// failures) onto short labels that end up in the report's failure breakdown.
package metrics
