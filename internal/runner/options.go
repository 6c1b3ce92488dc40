package runner

import (
	"context"

	"golang.org/x/time/rate"
)

// Requester abstracts executing a single request operation.
// Implementations should return an error for failed requests.
type Requester interface {
	Do(ctx context.Context) error
}

// RequesterFunc adapts a plain function to Requester.
type RequesterFunc func(ctx context.Context) error

func (f RequesterFunc) Do(ctx context.Context) error { return f(ctx) }

// Options configure the Runner.
type Options struct {
	Concurrency    int                         // worker goroutines, capped at TotalRequests
	TotalRequests  int                         // exact budget; 0 runs until ctx is cancelled
	RatePerSecond  int                         // permit pacing; 0 means unlimited
	Requester      Requester                   // request executor (required)
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.TotalRequests < 0 {
		o.TotalRequests = 0
	}
	if o.TotalRequests > 0 && o.Concurrency > o.TotalRequests {
		o.Concurrency = o.TotalRequests
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Requester == nil {
		o.Requester = RequesterFunc(func(context.Context) error { return nil })
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps the spacing uniform across workers.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
