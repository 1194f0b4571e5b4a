package catalog

import (
	"fmt"

	"bookdrop/internal/services"
)

// ErrorKind classifies resolve failures.
type ErrorKind string

// KindTransient marks failures worth retrying on a later run.
const KindTransient ErrorKind = "transient"

// ResolveError reports a catalog request that failed.
type ResolveError struct {
	Kind  ErrorKind
	Query string
	Err   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("catalog %s (query %q): %v", e.Kind, e.Query, e.Err)
}

func (e *ResolveError) Unwrap() []error {
	return []error{services.ErrTransient, e.Err}
}

// ReasonCode reports the kind for run summaries.
func (e *ResolveError) ReasonCode() string {
	return string(e.Kind)
}
