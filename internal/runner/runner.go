package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Result summarises one run.
type Result struct {
	Issued  int64 // requests handed to workers
	Failed  int64 // requests whose Requester returned an error
	Elapsed time.Duration
}

// Runner spreads a request budget over a pool of workers.
type Runner struct {
	opt     Options
	limiter *rate.Limiter
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, limiter: opt.LimiterFactory(opt.RatePerSecond)}
}

// Run issues requests until the budget is spent or ctx is cancelled.
// Individual request errors are counted, never fatal.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var issued, failed atomic.Int64
	permits := make(chan struct{}, r.opt.Concurrency)
	go r.schedule(ctx, permits, &issued)

	var wg sync.WaitGroup
	for range r.opt.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range permits {
				if err := r.opt.Requester.Do(ctx); err != nil {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Issued:  issued.Load(),
		Failed:  failed.Load(),
		Elapsed: time.Since(start),
	}
}

// schedule is the only goroutine that spends budget. A slot is counted
// before its permit is released, so racing workers never overshoot.
func (r *Runner) schedule(ctx context.Context, permits chan<- struct{}, issued *atomic.Int64) {
	defer close(permits)
	budget := int64(r.opt.TotalRequests)
	for budget == 0 || issued.Load() < budget {
		if ctx.Err() != nil {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		issued.Add(1)
		select {
		case permits <- struct{}{}:
		case <-ctx.Done():
			issued.Add(-1)
			return
		}
	}
}
