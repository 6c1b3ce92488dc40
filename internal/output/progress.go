package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/loadgate/internal/metrics"
)

// SnapshotSource is satisfied by *metrics.Collector.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   SnapshotSource
	interval time.Duration
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source SnapshotSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &ProgressReporter{
		source:   source,
		interval: interval,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts progress updates and prints a final line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.source.Snapshot()))
		case <-p.done:
			fmt.Fprintln(p.writer, "\r"+FormatProgress(p.source.Snapshot()))
			return
		}
	}
}

// FormatProgress renders one status line.
func FormatProgress(s metrics.Snapshot) string {
	line := fmt.Sprintf("Requests: %d | Successes: %d | Failures: %d | RPS: %.1f",
		s.Total, s.Successes, s.Failures, s.RequestsPerSec)
	if s.Total > 0 {
		line += fmt.Sprintf(" | P50 %.1fms | P99 %.1fms",
			float64(s.P50)/float64(time.Millisecond), float64(s.P99)/float64(time.Millisecond))
	}
	return line
}
