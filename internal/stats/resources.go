package stats

import (
	"math"
	"time"
)

// ResourceSample is one reading of the monitored namespace. A nil field means
// the backend returned no data for that query, which is distinct from zero.
type ResourceSample struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUCores      *float64  `json:"cpu_cores,omitempty"`
	MemoryMB      *float64  `json:"memory_mb,omitempty"`
	NetworkRxMBps *float64  `json:"network_rx_mbps,omitempty"`
	NetworkTxMBps *float64  `json:"network_tx_mbps,omitempty"`
	RunningPods   *int      `json:"running_pods,omitempty"`
}

// FieldStats holds avg/min/max over the samples that carried a field.
type FieldStats struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// ResourceStatistics summarises a monitoring window. Fields no sample carried
// are nil and omitted from JSON.
type ResourceStatistics struct {
	CPUCores      *FieldStats `json:"cpu_cores,omitempty"`
	MemoryMB      *FieldStats `json:"memory_mb,omitempty"`
	NetworkRxMBps *FieldStats `json:"network_rx_mbps,omitempty"`
	NetworkTxMBps *FieldStats `json:"network_tx_mbps,omitempty"`
	RunningPods   *FieldStats `json:"running_pods,omitempty"`
}

// Empty reports whether no field had any data.
func (r ResourceStatistics) Empty() bool {
	return r.CPUCores == nil && r.MemoryMB == nil && r.NetworkRxMBps == nil &&
		r.NetworkTxMBps == nil && r.RunningPods == nil
}

// AggregateResources reduces samples field by field, skipping absent values.
func AggregateResources(samples []ResourceSample) ResourceStatistics {
	var cpu, mem, rx, tx, pods []float64
	for _, s := range samples {
		if s.CPUCores != nil {
			cpu = append(cpu, *s.CPUCores)
		}
		if s.MemoryMB != nil {
			mem = append(mem, *s.MemoryMB)
		}
		if s.NetworkRxMBps != nil {
			rx = append(rx, *s.NetworkRxMBps)
		}
		if s.NetworkTxMBps != nil {
			tx = append(tx, *s.NetworkTxMBps)
		}
		if s.RunningPods != nil {
			pods = append(pods, float64(*s.RunningPods))
		}
	}
	return ResourceStatistics{
		CPUCores:      summarize(cpu),
		MemoryMB:      summarize(mem),
		NetworkRxMBps: summarize(rx),
		NetworkTxMBps: summarize(tx),
		RunningPods:   summarize(pods),
	}
}

func summarize(values []float64) *FieldStats {
	if len(values) == 0 {
		return nil
	}
	fs := &FieldStats{Min: math.Inf(1), Max: math.Inf(-1), Samples: len(values)}
	var sum float64
	for _, v := range values {
		sum += v
		fs.Min = math.Min(fs.Min, v)
		fs.Max = math.Max(fs.Max, v)
	}
	fs.Avg = sum / float64(len(values))
	return fs
}
