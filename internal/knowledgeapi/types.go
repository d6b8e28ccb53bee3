package knowledgeapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// APIError represents an error response from the knowledge API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("knowledge API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError represents a client-side rate limit rejection.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("knowledge API rate limit exceeded, retry after %v", e.RetryAfter)
}

// IsAuthError reports whether err is an authentication/authorization failure
// (401/403). Auth errors will not resolve by waiting, so they must
// short-circuit retries.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable reports whether err is worth another attempt: timeouts,
// transient network failures, 5xx responses, and rate limiting. Auth errors
// and other 4xx responses are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= 500:
			return true
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// OpError first: it satisfies net.Error, but connection-level failures
	// (refused, reset) are transient even when Timeout() is false.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wireItem is the JSON shape returned by the knowledge API.
type wireItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ItemType  string    `json:"item_type"`
	Source    string    `json:"source"`
	Relevance float64   `json:"relevance"`
	Timestamp time.Time `json:"timestamp"`
}

// itemsResponse wraps the item list endpoint response.
type itemsResponse struct {
	Items []wireItem `json:"items"`
}

// documentResponse wraps the single-document endpoint response.
type documentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}
