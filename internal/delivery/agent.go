package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookdrop/internal/audit"
	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

// DefaultMaxAttachmentBytes matches the device inbox attachment limit.
const DefaultMaxAttachmentBytes int64 = 25 << 20

// Marker records completed deliveries.
type Marker interface {
	MarkDelivered(ctx context.Context, fingerprint string) error
}

// AuditLog receives one entry per attempt.
type AuditLog interface {
	Append(entry audit.Entry) error
}

// Record describes one delivery attempt.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	Destination string    `json:"destination"`
	File        string    `json:"file"`
	SizeBytes   int64     `json:"size_bytes,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	Outcome     Outcome   `json:"outcome"`
}

// Config configures an Agent.
type Config struct {
	Sender      Sender
	Marker      Marker
	Audit       AuditLog
	From        string
	MaxBytes    int64
	Convert     bool
	SendTimeout time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Agent sends downloaded files to the device inbox.
type Agent struct {
	sender      Sender
	marker      Marker
	audit       AuditLog
	from        string
	maxBytes    int64
	convert     bool
	sendTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewAgent builds an Agent.
func NewAgent(cfg Config) *Agent {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAttachmentBytes
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Agent{
		sender:      cfg.Sender,
		marker:      cfg.Marker,
		audit:       cfg.Audit,
		from:        cfg.From,
		maxBytes:    maxBytes,
		convert:     cfg.Convert,
		sendTimeout: timeout,
		now:         now,
		logger:      logging.NewComponentLogger(cfg.Logger, "delivery"),
	}
}

// NewAgentFromConfig wires an SMTP-backed Agent from the delivery settings.
func NewAgentFromConfig(cfg *config.Config, marker Marker, auditLog AuditLog, logger *slog.Logger) *Agent {
	timeout := time.Duration(cfg.Delivery.SendTimeout) * time.Second
	return NewAgent(Config{
		Sender: &SMTPSender{
			Host:     cfg.Delivery.SMTPHost,
			Port:     cfg.Delivery.SMTPPort,
			Username: cfg.Delivery.SMTPUsername,
			Password: cfg.Delivery.SMTPPassword,
			StartTLS: cfg.Delivery.UseStartTLS,
			Timeout:  timeout,
		},
		Marker:      marker,
		Audit:       auditLog,
		From:        cfg.Delivery.FromAddress,
		MaxBytes:    cfg.MaxAttachmentBytes(),
		Convert:     cfg.Delivery.Convert,
		SendTimeout: timeout,
		Logger:      logger,
	})
}

// Deliver emails localPath to destination. It never returns an error or
// panics; failures are carried in the Record outcome.
func (a *Agent) Deliver(ctx context.Context, fingerprint, localPath, destination string) (rec Record) {
	rec = Record{
		Fingerprint: fingerprint,
		Destination: destination,
		File:        localPath,
		AttemptedAt: a.now().UTC(),
	}
	defer func() {
		if r := recover(); r != nil {
			rec.Outcome = failed(ReasonTransientNetwork, "delivery panicked: %v", r)
		}
		a.finish(ctx, rec)
	}()

	rec.Outcome = a.deliver(ctx, &rec)
	if rec.Outcome.OK && a.marker != nil {
		if err := a.marker.MarkDelivered(context.WithoutCancel(ctx), fingerprint); err != nil {
			rec.Outcome.Detail = fmt.Sprintf("sent, but recording the delivery failed: %v", err)
			logging.ErrorWithContext(a.logger, "delivery not recorded in cache", "delivery_mark_failed",
				logging.String(logging.FieldFingerprint, fingerprint),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the book may be sent again on the next run"),
			)
		}
	}
	return rec
}

func (a *Agent) deliver(ctx context.Context, rec *Record) Outcome {
	ext := filepath.Ext(rec.File)
	if !SupportedExtension(ext) {
		return failed(ReasonUnsupportedFormat, "extension %q is not accepted by the device inbox", ext)
	}
	info, err := os.Stat(rec.File)
	if err != nil {
		return failed(ReasonTransientNetwork, "attachment unavailable: %v", err)
	}
	rec.SizeBytes = info.Size()
	if info.Size() > a.maxBytes {
		return failed(ReasonAttachmentTooLarge, "%d bytes exceeds the %d byte limit", info.Size(), a.maxBytes)
	}
	if a.sender == nil {
		return failed(ReasonAuthFailure, "no mail transport configured")
	}
	content, err := os.ReadFile(rec.File)
	if err != nil {
		return failed(ReasonTransientNetwork, "read attachment: %v", err)
	}

	title := strings.TrimSuffix(filepath.Base(rec.File), ext)
	subject := title
	if a.convert {
		subject = "convert"
	}
	msg, err := ComposeMessage(Message{
		From:     a.from,
		To:       rec.Destination,
		Subject:  subject,
		Text:     fmt.Sprintf("%s\n\nSent by bookdrop.", title),
		FileName: filepath.Base(rec.File),
		Content:  content,
		Date:     a.now(),
	})
	if err != nil {
		return failed(ReasonInvalidMessage, "compose message: %v", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	if err := a.sender.Send(sendCtx, a.from, []string{rec.Destination}, msg); err != nil {
		return failed(Classify(err), "%v", err)
	}
	return Outcome{OK: true}
}

func (a *Agent) finish(ctx context.Context, rec Record) {
	if a.audit != nil {
		runID, _ := services.RunIDFromContext(ctx)
		entry := audit.Entry{
			Time:        rec.AttemptedAt,
			RunID:       runID,
			Fingerprint: rec.Fingerprint,
			Title:       strings.TrimSuffix(filepath.Base(rec.File), filepath.Ext(rec.File)),
			Destination: rec.Destination,
			File:        rec.File,
			SizeBytes:   rec.SizeBytes,
			OK:          rec.Outcome.OK,
			Reason:      string(rec.Outcome.Reason),
			Detail:      rec.Outcome.Detail,
		}
		if err := a.audit.Append(entry); err != nil {
			logging.WarnWithContext(a.logger, "audit append failed", "audit_append_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "delivery history is missing this attempt"),
			)
		}
	}

	if rec.Outcome.OK {
		a.logger.Info("book delivered",
			logging.String(logging.FieldFingerprint, rec.Fingerprint),
			logging.String("destination", rec.Destination),
			logging.Int64("size_bytes", rec.SizeBytes),
		)
		return
	}
	logging.WarnWithContext(a.logger, "delivery failed", "delivery_failed",
		logging.String(logging.FieldFingerprint, rec.Fingerprint),
		logging.String("reason", string(rec.Outcome.Reason)),
		logging.String("detail", rec.Outcome.Detail),
		logging.String(logging.FieldErrorHint, hintFor(rec.Outcome.Reason)),
	)
}

func hintFor(reason Reason) string {
	switch reason {
	case ReasonAuthFailure:
		return "check smtp credentials and that from_address is an approved sender for the device"
	case ReasonAttachmentTooLarge:
		return "raise delivery.max_attachment_mb or send the file manually"
	case ReasonUnsupportedFormat:
		return "add a supported format to catalog.preferred_formats"
	case ReasonInvalidMessage:
		return "check delivery.from_address and delivery.destination"
	default:
		return "the item will be retried on the next run"
	}
}
