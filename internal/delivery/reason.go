package delivery

import (
	"fmt"

	"bookdrop/internal/services"
)

// Reason classifies a failed delivery.
type Reason string

const (
	ReasonAttachmentTooLarge Reason = "attachment_too_large"
	ReasonAuthFailure        Reason = "auth_failure"
	ReasonTransientNetwork   Reason = "transient_network"
	ReasonUnsupportedFormat  Reason = "unsupported_format"
	// ReasonInvalidMessage means the message could not be built, usually
	// because a configured address does not parse.
	ReasonInvalidMessage Reason = "invalid_message"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Err returns the failure as an error, or nil when the delivery succeeded.
func (o Outcome) Err() error {
	if o.OK {
		return nil
	}
	return &Error{Reason: o.Reason, Detail: o.Detail}
}

func failed(reason Reason, format string, args ...any) Outcome {
	return Outcome{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Error is a failed Outcome in error form.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "delivery failed: " + string(e.Reason)
	}
	return fmt.Sprintf("delivery failed: %s: %s", e.Reason, e.Detail)
}

// Unwrap maps the reason onto the shared error markers.
func (e *Error) Unwrap() error {
	switch e.Reason {
	case ReasonAuthFailure:
		return services.ErrUnauthorized
	case ReasonAttachmentTooLarge, ReasonUnsupportedFormat:
		return services.ErrValidation
	case ReasonInvalidMessage:
		return services.ErrConfiguration
	default:
		return services.ErrTransient
	}
}

// ReasonCode reports the reason for run summaries.
func (e *Error) ReasonCode() string {
	return string(e.Reason)
}
