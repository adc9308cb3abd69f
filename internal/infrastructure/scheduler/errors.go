package scheduler

import "errors"

// Submission and configuration errors. The HTTP layer maps the first two
// to 503.
var (
	ErrSchedulerNotRunning = errors.New("scheduler: not accepting jobs")
	ErrJobQueueFull        = errors.New("scheduler: fulfillment queue at capacity")
	ErrInvalidConfig       = errors.New("scheduler: invalid configuration")
	ErrEmptyOrderID        = errors.New("scheduler: job needs an order id")
)
