package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/torosent/loadgate/internal/retry"
)

var errTransient = errors.New("transient failure")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	attempts, err := retry.Fixed(5, time.Millisecond).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("attempts=%d calls=%d, want 3", attempts, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	tests := []struct {
		name string
		max  int
	}{
		{"single attempt", 1},
		{"three attempts", 3},
		{"twenty attempts", 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := retry.Fixed(tt.max, time.Microsecond).Do(context.Background(), func(context.Context) error {
				calls++
				return errTransient
			})
			if !errors.Is(err, errTransient) {
				t.Fatalf("expected transient error, got %v", err)
			}
			if attempts != tt.max || calls != tt.max {
				t.Fatalf("attempts=%d calls=%d, want %d", attempts, calls, tt.max)
			}
		})
	}
}

func TestDoStopsWhenShouldRetryDeclines(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := retry.Policy{
		MaxAttempts: 10,
		Interval:    time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, fatal) },
	}
	_, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoUntilContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := retry.Fixed(0, 5*time.Millisecond).Do(ctx, func(context.Context) error {
		return errTransient
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last check error to be kept, got %v", err)
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	p := retry.Policy{MaxAttempts: 2, Interval: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}
	start := time.Now()
	attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected attempt deadline, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("attempt timeout not applied")
	}
}

func TestDoNotifiesRetries(t *testing.T) {
	var seen []int
	p := retry.Policy{
		MaxAttempts: 3,
		Interval:    time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { seen = append(seen, attempt) },
	}
	_, _ = p.Do(context.Background(), func(context.Context) error { return errTransient })
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("OnRetry attempts = %v, want [1 2]", seen)
	}
}

func TestExponentialPolicyRetries(t *testing.T) {
	calls := 0
	p := retry.Policy{MaxAttempts: 4, Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Exponential: true}
	_, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if err == nil || calls != 4 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
