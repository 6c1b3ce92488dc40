package logging_test

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/loadgate/internal/logging"
)

func TestNewWithSinkJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithSink(zapcore.AddSync(&buf), "debug", "json")
	if err != nil {
		t.Fatalf("NewWithSink: %v", err)
	}
	logger.Debug("phase started", zap.String("phase", "cluster-nodes-ready"))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "phase started" || entry["phase"] != "cluster-nodes-ready" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewWithSinkFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewWithSink(zapcore.AddSync(&buf), "warn", "console")
	if err != nil {
		t.Fatalf("NewWithSink: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name, level, format string
	}{
		{"bad level", "loud", "json"},
		{"bad format", "info", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := logging.New(io.Discard, tt.level, tt.format); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// overlapWriter records whether two Write calls were ever in flight at once.
type overlapWriter struct {
	active  atomic.Int32
	overlap atomic.Bool
	lines   atomic.Int32
}

func (w *overlapWriter) Write(p []byte) (int, error) {
	if w.active.Add(1) > 1 {
		w.overlap.Store(true)
	}
	time.Sleep(50 * time.Microsecond)
	w.active.Add(-1)
	w.lines.Add(1)
	return len(p), nil
}

func TestLoggerAndLockedWriterShareOneLock(t *testing.T) {
	w := &overlapWriter{}
	out := logging.Locked(w)
	logger, err := logging.New(out, "info", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 20 {
				logger.Info("sample", zap.Int("worker", g), zap.Int("i", i))
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				_, _ = io.WriteString(out, "\r12 req | 0 failed\n")
			}
		}()
	}
	wg.Wait()

	if w.overlap.Load() {
		t.Fatal("writes overlapped")
	}
	if got := w.lines.Load(); got != 160 {
		t.Fatalf("saw %d writes, want 160", got)
	}
}

func TestOrNop(t *testing.T) {
	if logging.OrNop(nil) == nil {
		t.Fatal("expected a logger")
	}
	l := zap.NewExample()
	if logging.OrNop(l) != l {
		t.Fatal("expected the same logger back")
	}
}
