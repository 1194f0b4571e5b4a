package wishlist

import (
	"fmt"

	"bookdrop/internal/services"
)

// ErrorKind classifies crawl failures.
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"
	KindUnauthorized ErrorKind = "unauthorized"
)

// CrawlError reports a failed page fetch.
type CrawlError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CrawlError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wishlist %s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("wishlist %s: %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap exposes both the services marker and the underlying cause.
func (e *CrawlError) Unwrap() []error {
	marker := services.ErrTransient
	if e.Kind == KindUnauthorized {
		marker = services.ErrUnauthorized
	}
	if e.Err == nil {
		return []error{marker}
	}
	return []error{marker, e.Err}
}

// ReasonCode reports the kind for run summaries.
func (e *CrawlError) ReasonCode() string {
	return string(e.Kind)
}

func transientError(url string, err error) *CrawlError {
	return &CrawlError{Kind: KindTransient, URL: url, Err: err}
}

func unauthorizedError(url string, err error) *CrawlError {
	return &CrawlError{Kind: KindUnauthorized, URL: url, Err: err}
}
