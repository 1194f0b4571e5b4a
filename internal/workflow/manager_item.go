package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"bookdrop/internal/cache"
	"bookdrop/internal/catalog"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
	"bookdrop/internal/stage"
	"bookdrop/internal/wishlist"
)

// itemRun carries the state of one item through the pipeline.
type itemRun struct {
	item        wishlist.Item
	fingerprint string
	progress    Progress
	logger      *slog.Logger
}

// processItem advances item as far as it can go and records exactly one
// outcome in summary.
func (m *Manager) processItem(ctx context.Context, item wishlist.Item, summary *RunSummary) {
	fingerprint := item.Fingerprint()
	ctx = services.WithFingerprint(ctx, fingerprint)
	run := &itemRun{
		item:        item,
		fingerprint: fingerprint,
		logger: logging.WithContext(ctx, m.logger).With(
			logging.String("title", item.Title),
			logging.String("author", item.Author),
		),
	}
	started := m.now()

	entry, found, err := m.cache.Get(ctx, fingerprint)
	if err != nil {
		m.fail(ctx, run, summary, stage.Cache, err)
		return
	}
	if found {
		if entry.Status == cache.StatusDelivered {
			run.logger.Info("already delivered; skipping",
				logging.String(logging.FieldEventType, "item_skipped"),
				logging.String("reason", SkipDelivered),
			)
			summary.recordSkip(fingerprint, item.Title, SkipDelivered)
			return
		}
		if progress, ok := DecodeProgress(entry.Payload); ok {
			run.progress = progress
		}
		if entry.Status == cache.StatusFailed && run.progress.Reason == SkipNotFound {
			run.logger.Info("no catalog match recorded recently; skipping",
				logging.String(logging.FieldEventType, "item_skipped"),
				logging.String("reason", SkipNotFound),
				logging.String("expires_at", entry.ExpiresAt.Format(time.RFC3339)),
			)
			summary.recordSkip(fingerprint, item.Title, SkipNotFound)
			return
		}
	}
	run.progress.Item = item
	run.progress.Attempts++
	if run.progress.Completed == "" {
		run.progress.Completed = cache.StatusPending
	}

	resume := m.resumePoint(run)
	if resume != "" {
		run.logger.Info("resuming item",
			logging.String(logging.FieldEventType, "item_resumed"),
			logging.String("completed", string(run.progress.Completed)),
			logging.String("next_stage", resume),
		)
		run.progress.clearFailure()
		m.save(ctx, run, run.progress.Completed)
	} else {
		resume = stage.Resolve
		m.save(ctx, run, cache.StatusPending)
	}

	if resume == stage.Resolve {
		resolution, err := m.resolve(ctx, run)
		if err != nil {
			m.fail(ctx, run, summary, stage.Resolve, err)
			return
		}
		if !resolution.Found {
			run.progress.Reason = SkipNotFound
			run.progress.Detail = "no candidate above the similarity threshold"
			m.save(ctx, run, cache.StatusFailed)
			run.logger.Info("no catalog match; skipping",
				logging.String(logging.FieldEventType, "item_skipped"),
				logging.String("reason", SkipNotFound),
				logging.Int("considered", resolution.Considered),
			)
			summary.recordSkip(fingerprint, item.Title, SkipNotFound)
			return
		}
		candidate := resolution.Candidate
		run.progress.Candidate = &candidate
		run.progress.Query = resolution.Query
		run.progress.Completed = cache.StatusResolved
		run.progress.clearFailure()
		m.save(ctx, run, cache.StatusResolved)
		resume = stage.Fetch
	}

	if resume == stage.Fetch {
		path, err := m.fetch(ctx, run)
		if err != nil {
			m.fail(ctx, run, summary, stage.Fetch, err)
			return
		}
		run.progress.LocalPath = path
		run.progress.Completed = cache.StatusDownloaded
		run.progress.clearFailure()
		m.save(ctx, run, cache.StatusDownloaded)
	}

	if err := m.deliver(ctx, run); err != nil {
		m.fail(ctx, run, summary, stage.Deliver, err)
		return
	}
	summary.recordSuccess()
	run.logger.Info("item delivered",
		logging.String(logging.FieldEventType, "item_delivered"),
		logging.String("file", run.progress.LocalPath),
		logging.Duration("item_duration", m.now().Sub(started)),
	)
}

// resumePoint returns the first stage still to run for an item with stored
// progress, or "" when the item starts fresh.
func (m *Manager) resumePoint(run *itemRun) string {
	p := run.progress
	switch p.Completed {
	case cache.StatusDownloaded:
		if p.LocalPath != "" && fileExists(p.LocalPath) {
			return stage.Deliver
		}
		if p.Candidate != nil {
			return stage.Fetch
		}
	case cache.StatusResolved:
		if p.Candidate != nil {
			return stage.Fetch
		}
	}
	return ""
}

func (m *Manager) resolve(ctx context.Context, run *itemRun) (catalog.Resolution, error) {
	var resolution catalog.Resolution
	err := m.runStage(ctx, run, stage.Resolve, m.stageTimeout(), func(ctx context.Context) error {
		var err error
		resolution, err = m.stages.Resolver.Resolve(ctx, run.item)
		return err
	})
	return resolution, err
}

func (m *Manager) fetch(ctx context.Context, run *itemRun) (string, error) {
	var path string
	err := m.runStage(ctx, run, stage.Fetch, m.fetchTimeout(), func(ctx context.Context) error {
		var err error
		path, err = m.stages.Fetcher.Fetch(ctx, *run.progress.Candidate, m.cfg.Paths.DownloadDir)
		return err
	})
	return path, err
}

func (m *Manager) deliver(ctx context.Context, run *itemRun) error {
	return m.runStage(ctx, run, stage.Deliver, m.deliverTimeout(), func(ctx context.Context) error {
		rec := m.stages.Deliverer.Deliver(ctx, run.fingerprint, run.progress.LocalPath, m.cfg.Delivery.Destination)
		return rec.Outcome.Err()
	})
}

// runStage wraps stage.Run with the start and completion log lines.
func (m *Manager) runStage(ctx context.Context, run *itemRun, name string, timeout time.Duration, fn stage.Func) error {
	stageLogger := run.logger.With(logging.String(logging.FieldStage, name))
	stageStart := m.now()
	stageLogger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	err := stage.Run(ctx, name, timeout, fn)
	if err != nil {
		return err
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", m.now().Sub(stageStart)),
	)
	return nil
}

func (m *Manager) fail(ctx context.Context, run *itemRun, summary *RunSummary, stageName string, err error) {
	reason := services.ReasonOf(err)
	detail := strings.TrimSpace(err.Error())
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldStage, stageName),
		logging.String("reason", reason),
		logging.Error(err),
		logging.Alert("item_failure"),
		logging.String(logging.FieldImpact, "item retried on the next run"),
	}
	if hint := failureHint(reason); hint != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	}
	if panicErr, ok := asPanic(err); ok {
		attrs = append(attrs, logging.String("stack", string(panicErr.Stack)))
	}
	run.logger.Error("item failed", logging.Args(attrs...)...)

	summary.recordFailure(FailureDetail{
		Fingerprint: run.fingerprint,
		Title:       run.item.Title,
		Stage:       stageName,
		Reason:      reason,
		Detail:      detail,
	})
	if stageName == stage.Cache {
		return
	}
	run.progress.FailedStage = stageName
	run.progress.Reason = reason
	run.progress.Detail = detail
	m.save(ctx, run, cache.StatusFailed)
}

// save writes the progress record. A failed write costs only resumability,
// so it is logged rather than failing the item.
func (m *Manager) save(ctx context.Context, run *itemRun, status cache.Status) {
	run.progress.UpdatedAt = m.now().UTC()
	payload, err := run.progress.encode()
	if err == nil {
		err = m.cache.Put(context.WithoutCancel(ctx), run.fingerprint, payload, status, m.cfg.CacheTTL())
	}
	if err != nil {
		logging.WarnWithContext(run.logger, "failed to record item progress", "cache_write_failed",
			logging.String("status", string(status)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "an interrupted run repeats this stage"),
		)
	}
}

func failureHint(reason string) string {
	switch reason {
	case "auth_failure":
		return "check the SMTP credentials and that the sender is approved for the destination"
	case "attachment_too_large":
		return "raise delivery.max_attachment_mb or pick a smaller format"
	case "unsupported_format":
		return "adjust catalog.preferred_formats"
	case "invalid_message":
		return "check delivery.from_address and delivery.destination"
	case "incomplete":
		return "the download was truncated or not a book file"
	case "timeout":
		return "raise workflow.stage_timeout"
	}
	return ""
}

func asPanic(err error) (*stage.PanicError, bool) {
	var panicErr *stage.PanicError
	ok := errors.As(err, &panicErr)
	return panicErr, ok
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
