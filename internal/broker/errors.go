package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError represents a brokerage API error with its upstream return code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("broker API error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("broker API error %d: %s", e.Code, e.Message)
}

// Return codes used by the KIS-style order API.
const (
	ErrCodeTokenExpired      = 1
	ErrCodeRateLimitExceeded = 429
	ErrCodeMarketClosed      = 40310000
	ErrCodeInsufficientCash  = 40240000
	ErrCodeUnknownSecurity   = 40560000
)

// ErrDataAbsent marks a snapshot field the upstream could not provide.
// Filters resolve it locally via their fallback policy; it is never a
// hard failure.
var ErrDataAbsent = errors.New("required market data absent")

// ErrStaleSnapshot marks a snapshot older than the configured staleness
// bound. Treated as absent data by all consumers.
var ErrStaleSnapshot = errors.New("market snapshot stale")

// NewAPIError creates an APIError.
func NewAPIError(code int, message string, details ...string) *APIError {
	err := &APIError{Code: code, Message: message}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// IsRetryable reports whether the error is a transient API failure worth
// retrying: timeouts, rate limits and upstream 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeRateLimitExceeded,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// IsMarketClosed reports whether the error is the exchange rejecting an
// order outside session hours.
func IsMarketClosed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeMarketClosed
}

// WrapAPIError adds operation context to an error. The wrapped APIError
// is a copy; the original may be shared or wrapped again.
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		wrapped := *apiErr
		wrapped.Details = fmt.Sprintf("operation: %s", operation)
		return &wrapped
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
