package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrIncomplete    = errors.New("incomplete")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Marker returns the first sentinel that err carries, or nil when err is not
// tagged. Timeouts are reported as ErrTimeout even when also transient.
func Marker(err error) error {
	if err == nil {
		return nil
	}
	for _, marker := range []error{ErrUnauthorized, ErrIncomplete, ErrTimeout, ErrNotFound, ErrValidation, ErrConfiguration, ErrTransient} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

// RequiresAction reports whether the failure needs the operator to change
// something (credentials, list visibility, config) rather than simply retry.
func RequiresAction(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrConfiguration)
}

// ReasonOf maps err to the short reason code shown in run summaries. Errors
// exposing a ReasonCode method report their own code; otherwise the marker
// decides.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ ReasonCode() string }
	if errors.As(err, &coded) {
		if reason := coded.ReasonCode(); reason != "" {
			return reason
		}
	}
	switch Marker(err) {
	case ErrUnauthorized:
		return "unauthorized"
	case ErrIncomplete:
		return "incomplete"
	case ErrTimeout:
		return "timeout"
	case ErrNotFound:
		return "not_found"
	case ErrValidation:
		return "validation"
	case ErrConfiguration:
		return "configuration"
	case ErrTransient:
		return "transient"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "unknown"
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
