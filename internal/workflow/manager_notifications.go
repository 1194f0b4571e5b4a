package workflow

import (
	"context"
	"errors"
	"log/slog"

	"bookdrop/internal/logging"
	"bookdrop/internal/notifications"
	"bookdrop/internal/services"
)

func (m *Manager) logSummary(logger *slog.Logger, summary *RunSummary, runErr error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("total", summary.TotalItems),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Bool("cancelled", summary.Cancelled),
		logging.Bool("degraded", summary.Degraded),
		logging.Duration("run_duration", summary.Duration()),
	}
	if reason := summary.DominantReason(); reason != "" {
		attrs = append(attrs, logging.String("dominant_reason", reason))
	}
	switch {
	case runErr != nil:
		attrs = append(attrs, logging.Error(runErr))
		logger.Error(summary.String(), logging.Args(attrs...)...)
	case summary.Failed > 0:
		logger.Warn(summary.String(), logging.Args(attrs...)...)
	default:
		logger.Info(summary.String(), logging.Args(attrs...)...)
	}
}

// notify sends the post-run notifications. Notification failures are logged
// and never change the run result.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, summary *RunSummary, runErr error) {
	if m.notifier == nil || !notifications.Enabled(m.notifier) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	report := summary.Report()

	if summary.RequiresAction() {
		reason, detail := actionRequired(summary, runErr)
		m.send(logger, "action_required", m.notifier.NotifyActionRequired(ctx, reason, detail))
	}
	if summary.Failed > m.cfg.Notifications.FailureThreshold {
		m.send(logger, "run_failures", m.notifier.NotifyRunFailures(ctx, report))
	}
	if m.cfg.Notifications.RunSummary {
		m.send(logger, "run_summary", m.notifier.NotifyRunSummary(ctx, report))
	}
}

func (m *Manager) send(logger *slog.Logger, kind string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.String("notification", kind),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the run result is unaffected"),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
	)
}

func actionRequired(summary *RunSummary, runErr error) (string, string) {
	switch {
	case runErr != nil && errors.Is(runErr, services.ErrUnauthorized):
		return "unauthorized", "The wishlist is not public. Share it publicly or fix wishlist.url."
	case runErr != nil && errors.Is(runErr, services.ErrConfiguration):
		return "configuration", runErr.Error()
	}
	for _, failure := range summary.FailureDetails {
		if failure.Reason == "auth_failure" {
			return "auth_failure", "The mail server rejected delivery. Check the SMTP credentials and the approved sender list."
		}
	}
	for _, failure := range summary.FailureDetails {
		if failure.Reason == "invalid_message" {
			return "invalid_message", "The delivery email could not be built (" + failure.Detail + "). Check delivery.from_address and delivery.destination."
		}
	}
	return "auth_failure", "The mail server rejected delivery. Check the SMTP credentials and the approved sender list."
}
