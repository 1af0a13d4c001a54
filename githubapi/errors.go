package githubapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an APIError for callers deciding how to present or retry it.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindInvalid      Kind = "invalid_input"
	KindServer       Kind = "server"
	KindNetwork      Kind = "network"
	KindUnknown      Kind = "unknown"
)

// APIError is returned for every non-2xx response and for requests that
// never got a response. StatusCode is 0 in the latter case and Err holds
// the transport failure.
type APIError struct {
	Message    string
	StatusCode int
	URL        string
	RateLimit  RateLimit
	Payload    json.RawMessage // decoded JSON error body, if any
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github: %s (%s)", e.Message, e.URL)
	}
	return fmt.Sprintf("github: %s (status %d, %s)", e.Message, e.StatusCode, e.URL)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// RateLimited reports a primary (403 with no remaining quota) or
// secondary (429) rate limit.
func (e *APIError) RateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode == http.StatusForbidden && e.RateLimit.Exhausted()
}

// Kind maps the status code to a Kind
func (e *APIError) Kind() Kind {
	if e.RateLimited() {
		return KindRateLimited
	}

	switch e.StatusCode {
	case 0:
		return KindNetwork
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindInvalid
	}
	if e.StatusCode >= 500 {
		return KindServer
	}
	return KindUnknown
}

// Retryable reports whether repeating the request later may succeed
func (e *APIError) Retryable() bool {
	switch e.Kind() {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	}
	return false
}

// AsAPIError unwraps err to an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind() == KindNotFound
}

// IsRateLimited reports whether err is a rate limit rejection
func IsRateLimited(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.RateLimited()
}
