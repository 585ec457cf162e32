package clover

import "errors"

// Upstream failure classes. Callers treat all of them as "no data" for the
// affected fetch; none of them is fatal.
var (
	// ErrRateLimited is returned when every attempt of the retry policy was rate limited
	ErrRateLimited = errors.New("clover: rate limited")
	// ErrMalformedResponse is returned when the response body is not the expected JSON
	ErrMalformedResponse = errors.New("clover: malformed response")
	// ErrRequestFailed is returned for transport errors and non-2xx statuses other than 429
	ErrRequestFailed = errors.New("clover: request failed")
)
