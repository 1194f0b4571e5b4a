package preflight

import (
	"context"
	"strings"

	"bookdrop/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Network checks are skipped when their endpoint is not configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := LocalChecks(cfg)
	results = append(results, CheckWishlistURL(cfg.Wishlist.URL))

	if strings.TrimSpace(cfg.Delivery.SMTPHost) != "" {
		results = append(results, CheckSMTP(ctx, cfg.Delivery.SMTPHost, cfg.Delivery.SMTPPort))
	} else {
		results = append(results, Result{Name: "SMTP server", Detail: "missing smtp_host"})
	}

	if strings.TrimSpace(cfg.Catalog.BaseURL) != "" {
		results = append(results, CheckHTTP(ctx, "Catalog", cfg.Catalog.BaseURL))
	}

	return results
}

// LocalChecks covers the directories a run writes to.
func LocalChecks(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
	}
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
