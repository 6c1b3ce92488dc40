package monitor

import "fmt"

const bytesPerMiB = 1024 * 1024

// QuerySet is the fixed PromQL sampled on every tick.
type QuerySet struct {
	CPUCores    string
	MemoryBytes string
	NetworkRx   string
	NetworkTx   string
	RunningPods string
}

// Queries returns the query set scoped to namespace.
func Queries(namespace string) QuerySet {
	return QuerySet{
		CPUCores:    fmt.Sprintf(`sum(rate(container_cpu_usage_seconds_total{namespace=%q}[1m])) by (pod)`, namespace),
		MemoryBytes: fmt.Sprintf(`sum(container_memory_working_set_bytes{namespace=%q}) by (pod)`, namespace),
		NetworkRx:   fmt.Sprintf(`sum(rate(container_network_receive_bytes_total{namespace=%q}[1m]))`, namespace),
		NetworkTx:   fmt.Sprintf(`sum(rate(container_network_transmit_bytes_total{namespace=%q}[1m]))`, namespace),
		RunningPods: fmt.Sprintf(`count(kube_pod_status_phase{namespace=%q, phase="Running"})`, namespace),
	}
}
