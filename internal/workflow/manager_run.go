package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"bookdrop/internal/logging"
	"bookdrop/internal/preflight"
	"bookdrop/internal/services"
	"bookdrop/internal/wishlist"
)

// collectFunc gathers the items of one batch. A returned error is the batch
// error; items gathered before it are still processed.
type collectFunc func(ctx context.Context, logger *slog.Logger, summary *RunSummary) ([]wishlist.Item, error)

// Run executes one batch. It returns an error only when the run could not
// start (lock held, configuration or local directories unusable) or when the
// wishlist crawl failed; item failures are reported in the summary. A crawl
// failure still returns the summary of any items gathered before it.
func (m *Manager) Run(ctx context.Context) (*RunSummary, error) {
	return m.runBatch(ctx, m.cfg.ValidateForRun, m.collectWishlist,
		logging.String("mode", "wishlist"),
		logging.String("wishlist_url", m.cfg.Wishlist.URL),
	)
}

// Search runs a single free-text query through the resolve, fetch, and
// deliver stages. The query is cached, deduplicated, audited, and notified
// like a wishlist item; the wishlist itself is not crawled.
func (m *Manager) Search(ctx context.Context, query string) (*RunSummary, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, "workflow", "search", "query is empty", nil)
	}
	collect := func(context.Context, *slog.Logger, *RunSummary) ([]wishlist.Item, error) {
		return []wishlist.Item{{Title: query}}, nil
	}
	return m.runBatch(ctx, m.cfg.ValidateForDelivery, collect,
		logging.String("mode", "search"),
		logging.String("query", query),
	)
}

func (m *Manager) runBatch(ctx context.Context, validate func() error, collect collectFunc, attrs ...logging.Attr) (*RunSummary, error) {
	if err := m.stages.validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "run", "pipeline incomplete", err)
	}
	if m.cache == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "run", "cache store is required", nil)
	}

	guard, err := acquireRunGuard(m.cfg.RunLockPath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := guard.release(); err != nil {
			m.logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, m.logger)
	summary := &RunSummary{
		RunID:          runID,
		StartedAt:      m.now().UTC(),
		FailureDetails: []FailureDetail{},
	}
	logger.Info("run started", logging.Args(append([]logging.Attr{
		logging.String(logging.FieldEventType, "run_start"),
	}, attrs...)...)...)

	runErr := m.execute(ctx, logger, summary, validate, collect)
	summary.EndedAt = m.now().UTC()
	m.logSummary(logger, summary, runErr)
	m.notify(ctx, logger, summary, runErr)
	return summary, runErr
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, summary *RunSummary, validate func() error, collect collectFunc) error {
	if err := validate(); err != nil {
		err = services.Wrap(services.ErrConfiguration, "workflow", "validate config", "", err)
		summary.CrawlReason = services.ReasonOf(err)
		return err
	}
	if failed := preflight.Failed(preflight.LocalChecks(m.cfg)); len(failed) > 0 {
		details := make([]string, 0, len(failed))
		for _, result := range failed {
			details = append(details, result.Name+": "+result.Detail)
		}
		err := services.Wrap(services.ErrConfiguration, "workflow", "preflight", strings.Join(details, "; "), nil)
		summary.CrawlReason = services.ReasonOf(err)
		return err
	}
	if swept, err := m.cache.SweepExpired(ctx); err != nil {
		logger.Warn("cache sweep failed", logging.Error(err))
	} else if swept > 0 {
		logger.Debug("expired cache entries swept", logging.Int("removed", swept))
	}

	items, collectErr := collect(ctx, logger, summary)
	summary.TotalItems = len(items)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			for _, untouched := range items[i:] {
				summary.recordSkip(untouched.Fingerprint(), untouched.Title, SkipCancelled)
			}
			logging.WarnWithContext(logger, "run cancelled", "run_cancelled",
				logging.Int("remaining", len(items)-i),
				logging.String(logging.FieldImpact, "remaining items are picked up by the next run"),
			)
			break
		}
		m.processItem(ctx, item, summary)
	}
	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	return collectErr
}

func (m *Manager) collectWishlist(ctx context.Context, logger *slog.Logger, summary *RunSummary) ([]wishlist.Item, error) {
	result, crawlErr := m.stages.Crawler.Crawl(ctx, m.cfg.Wishlist.URL)
	summary.Degraded = result.Degraded
	summary.ParseFailures = result.Skipped
	if crawlErr != nil {
		summary.CrawlReason = services.ReasonOf(crawlErr)
		logging.ErrorWithContext(logger, "wishlist crawl failed", "crawl_failed",
			logging.String("reason", summary.CrawlReason),
			logging.Int("items_collected", len(result.Items)),
			logging.Error(crawlErr),
			logging.String(logging.FieldErrorHint, crawlHint(crawlErr)),
		)
	}
	return result.Items, crawlErr
}

func crawlHint(err error) string {
	if errors.Is(err, services.ErrUnauthorized) {
		return "make the wishlist public or check the configured URL"
	}
	return "the next run retries the crawl"
}
