package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication indicates the API rejected our credentials.
	ErrAuthentication = errors.New("llm authentication failed")

	// ErrRateLimited indicates the API asked us to back off.
	ErrRateLimited = errors.New("llm rate limit exceeded")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("llm call timed out")

	// ErrUpstream indicates any other upstream API failure.
	ErrUpstream = errors.New("llm upstream error")
)

// UpstreamError carries the upstream API's own error detail.
type UpstreamError struct {
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm upstream error: %s", e.Detail)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}
