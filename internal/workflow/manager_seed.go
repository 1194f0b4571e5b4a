package workflow

import (
	"context"

	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

// SeedResult reports what SeedDelivered recorded.
type SeedResult struct {
	Items   int  `json:"items"`
	Marked  int  `json:"marked"`
	Already int  `json:"already_delivered"`
	Skipped int  `json:"skipped_rows"`
	Pages   int  `json:"pages"`
	Partial bool `json:"partial"`
	// Degraded is set when the crawl used the built-in client signature.
	Degraded bool `json:"degraded"`
}

// SeedDelivered crawls the wishlist and records every item as delivered
// without sending anything, so books the reader already owns are never
// mailed. It holds the run lock. A crawl failure returns the result of the
// items gathered before it, which are still recorded.
func (m *Manager) SeedDelivered(ctx context.Context) (SeedResult, error) {
	var result SeedResult
	if m.stages.Crawler == nil || m.cache == nil {
		return result, services.Wrap(services.ErrConfiguration, "workflow", "seed", "crawler and cache are required", nil)
	}
	if err := m.cfg.ValidateWishlist(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "workflow", "validate config", "", err)
	}

	guard, err := acquireRunGuard(m.cfg.RunLockPath())
	if err != nil {
		return result, err
	}
	defer func() {
		if err := guard.release(); err != nil {
			m.logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	crawled, crawlErr := m.stages.Crawler.Crawl(ctx, m.cfg.Wishlist.URL)
	result.Items = len(crawled.Items)
	result.Skipped = crawled.Skipped
	result.Pages = crawled.Pages
	result.Degraded = crawled.Degraded
	result.Partial = crawlErr != nil

	for _, item := range crawled.Items {
		fingerprint := item.Fingerprint()
		delivered, err := m.cache.Delivered(ctx, fingerprint)
		if err != nil {
			return result, err
		}
		if delivered {
			result.Already++
			continue
		}
		if err := m.cache.MarkDelivered(ctx, fingerprint); err != nil {
			return result, err
		}
		result.Marked++
	}

	m.logger.Info("wishlist recorded as delivered",
		logging.String(logging.FieldEventType, "seed_delivered"),
		logging.Int("items", result.Items),
		logging.Int("marked", result.Marked),
		logging.Int("already_delivered", result.Already),
		logging.Bool("degraded", result.Degraded),
	)
	if crawlErr != nil {
		logging.WarnWithContext(m.logger, "wishlist crawl incomplete", "crawl_failed",
			logging.String("reason", services.ReasonOf(crawlErr)),
			logging.Error(crawlErr),
			logging.String(logging.FieldImpact, "items on unread pages were not recorded"),
			logging.String(logging.FieldErrorHint, crawlHint(crawlErr)),
		)
	}
	return result, crawlErr
}
