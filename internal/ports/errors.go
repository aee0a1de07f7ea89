package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Feed Errors
	// ErrRateLimited and ErrNetwork are retryable; ErrUpstream and
	// ErrMalformed are not and surface immediately.
	ErrRateLimited = errors.New("feed rate limit exceeded")
	ErrNetwork     = errors.New("feed network failure")
	ErrUpstream    = errors.New("feed upstream rejected the request")
	ErrMalformed   = errors.New("feed returned a malformed response")

	// Order Errors
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyResolved  = errors.New("order is already in a terminal state")
	ErrNoPosition       = errors.New("no open position for symbol")
	ErrInvalidThreshold = errors.New("protective threshold out of range")

	// Execution Errors
	ErrInsufficientFunds = errors.New("insufficient funds for operation")

	// Persistence Errors
	ErrPersistence = errors.New("durable write failed")
)

// IsRetryableFeedError reports whether a feed error is worth another attempt.
func IsRetryableFeedError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}
