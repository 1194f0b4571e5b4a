// Package delivery emails downloaded books to the reading device inbox.
//
// The Agent checks preconditions (supported extension, attachment size),
// composes a multipart message, and hands it to a Sender. Failures are never
// retried here: they come back as a Record whose Outcome carries one of the
// Reason codes so the workflow can summarise them. A successful send marks the
// fingerprint delivered in the cache, which is what keeps later runs from
// sending the same book again. Every attempt is appended to the audit log.
package delivery
