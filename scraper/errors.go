package scraper

import (
	"errors"
	"fmt"
)

// Pager failures reported through ConfigError.
var (
	ErrPagerNotFound         = errors.New("pager not found")
	ErrUnexpectedPagerFormat = errors.New("unexpected pager format")
	ErrPageCountNotNumeric   = errors.New("page count not numeric")
)

// FetchError reports a URL that still failed after every retry attempt.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ConfigError means the site markup no longer matches what the scraper
// expects. It is never retried.
type ConfigError struct {
	URL string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("site layout changed at %s: %v", e.URL, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Transport failure categories, used as log fields and metric labels.
const (
	CategoryTimeout     = "timeout"
	CategoryConnection  = "connection"
	CategoryForbidden   = "forbidden"
	CategoryNotFound    = "not_found"
	CategoryRateLimited = "rate_limited"
	CategoryServerError = "server_error"
	CategoryRefused     = "refused"
	CategoryOther       = "other"
)

// TransportError is one failed attempt, tagged with its category and the
// HTTP status when a response arrived.
type TransportError struct {
	Category string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Category, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Category returns the transport category wrapped in err, or "" when err
// carries none.
func Category(err error) string {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Category
	}
	return ""
}
