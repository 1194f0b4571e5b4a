package delivery

import (
	"errors"
	"net/textproto"
	"strings"
)

// Classify maps a send error to a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}
	var protoErr *textproto.Error
	hasCode := errors.As(err, &protoErr)

	var smtpErr *SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Step == StepAuth {
		if hasCode && protoErr.Code >= 400 && protoErr.Code < 500 {
			return ReasonTransientNetwork
		}
		return ReasonAuthFailure
	}

	if hasCode {
		switch protoErr.Code {
		case 530, 534, 535, 538:
			return ReasonAuthFailure
		case 550, 551, 553, 554:
			// Sender not on the device's approved list, or the mailbox refuses it.
			return ReasonAuthFailure
		case 552, 523:
			return ReasonAttachmentTooLarge
		}
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return ReasonTransientNetwork
		}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "too large"), strings.Contains(message, "size limit"):
		return ReasonAttachmentTooLarge
	case strings.Contains(message, "authentication"), strings.Contains(message, "unencrypted connection"):
		return ReasonAuthFailure
	}
	return ReasonTransientNetwork
}
