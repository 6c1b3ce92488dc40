// Package runner spends an exact request budget across a pool of workers.
//
// One scheduler goroutine hands out permits and counts each against the
// budget before releasing it, so no interleaving of workers can run more
// than TotalRequests calls:
//
//	res := runner.New(runner.Options{
//		Concurrency:   10,
//		TotalRequests: 200,
//		Requester:     requester,
//	}).Run(ctx)
//
// RatePerSecond paces permits through a golang.org/x/time/rate limiter.
//
// # Middleware
//
// [WithTimeout] bounds each call and [WithLogging] reports every failed call
// to a [FailureLogger]. Failures are otherwise only counted in [Result].
package runner
