package loadgen

import "fmt"

// WarmupError reports a target that never answered HTTP 200 within the
// warmup budget. No steady-state request is issued after it.
type WarmupError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *WarmupError) Error() string {
	return fmt.Sprintf("warmup: %s not ready after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

func (e *WarmupError) Unwrap() error { return e.Err }

// StatusError is returned for a response other than HTTP 200.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// BodyMismatchError is returned when a 200 response lacks the expected
// substring, usually because the request was routed to the wrong backend.
type BodyMismatchError struct {
	Target string
	Expect string
}

func (e *BodyMismatchError) Error() string {
	return fmt.Sprintf("response from %s does not contain %q", e.Target, e.Expect)
}
