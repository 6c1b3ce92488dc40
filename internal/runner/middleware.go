package runner

import (
	"context"
	"time"
)

// FailureLogger receives every error a wrapped Requester returns.
type FailureLogger interface {
	LogFailure(err error)
}

// FailureLoggerFunc adapts a function to FailureLogger.
type FailureLoggerFunc func(err error)

func (f FailureLoggerFunc) LogFailure(err error) { f(err) }

// WithLogging wraps a Requester to log failures.
func WithLogging(req Requester, logger FailureLogger) Requester {
	if logger == nil {
		return req
	}
	return RequesterFunc(func(ctx context.Context) error {
		err := req.Do(ctx)
		if err != nil {
			logger.LogFailure(err)
		}
		return err
	})
}

// WithTimeout bounds every call of req by d. A non-positive d leaves req
// unbounded.
func WithTimeout(req Requester, d time.Duration) Requester {
	if d <= 0 {
		return req
	}
	return RequesterFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return req.Do(ctx)
	})
}
