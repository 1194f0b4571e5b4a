package fetch

import (
	"fmt"

	"bookdrop/internal/services"
)

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	// KindIncomplete marks downloads that ended short, oversized, or with the
	// wrong size.
	KindIncomplete ErrorKind = "incomplete"
	// KindTransient marks network, timeout, and upstream failures.
	KindTransient ErrorKind = "transient"
)

// FetchError reports why a download failed.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error {
	marker := services.ErrTransient
	if e.Kind == KindIncomplete {
		marker = services.ErrIncomplete
	}
	return []error{marker, e.Err}
}

// ReasonCode reports the kind for run summaries.
func (e *FetchError) ReasonCode() string {
	return string(e.Kind)
}

func incomplete(url string, format string, args ...any) error {
	return &FetchError{Kind: KindIncomplete, URL: url, Err: fmt.Errorf(format, args...)}
}

func transient(url string, err error) error {
	return &FetchError{Kind: KindTransient, URL: url, Err: err}
}
