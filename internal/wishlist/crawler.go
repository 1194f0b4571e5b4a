package wishlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

const (
	// DefaultUserAgent is sent when no cached client signature is available.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.60 Safari/537.36"
	// SignatureName is the cache signature key holding the user agent.
	SignatureName = "wishlist_user_agent"

	defaultMaxPages        = 20
	defaultRequestInterval = 2 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	maxPageBytes           = 8 << 20
)

// SignatureStore persists the client signature between runs.
type SignatureStore interface {
	GetSignature(ctx context.Context, name string) (string, bool, error)
	PutSignature(ctx context.Context, name, value string, ttl time.Duration) error
}

// Config describes crawler behaviour.
type Config struct {
	MaxPages        int
	RequestInterval time.Duration
	RequestTimeout  time.Duration
	// UserAgent overrides the cached signature when set.
	UserAgent    string
	SignatureTTL time.Duration
	Signatures   SignatureStore
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Crawler fetches and parses wishlist pages.
type Crawler struct {
	maxPages     int
	timeout      time.Duration
	userAgent    string
	signatureTTL time.Duration
	signatures   SignatureStore
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// New constructs a Crawler, applying defaults for zero values.
func New(cfg Config) *Crawler {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Crawler{
		maxPages:     maxPages,
		timeout:      timeout,
		userAgent:    strings.TrimSpace(cfg.UserAgent),
		signatureTTL: cfg.SignatureTTL,
		signatures:   cfg.Signatures,
		http:         client,
		limiter:      rate.NewLimiter(limit, 1),
		logger:       logging.NewComponentLogger(cfg.Logger, "wishlist"),
	}
}

// NewFromConfig builds a Crawler from the wishlist configuration section.
func NewFromConfig(cfg *config.Config, signatures SignatureStore, logger *slog.Logger) *Crawler {
	if cfg == nil {
		return New(Config{Signatures: signatures, Logger: logger, RequestInterval: defaultRequestInterval})
	}
	return New(Config{
		MaxPages:        cfg.Wishlist.MaxPages,
		RequestInterval: time.Duration(cfg.Wishlist.RequestIntervalMS) * time.Millisecond,
		RequestTimeout:  time.Duration(cfg.Wishlist.RequestTimeout) * time.Second,
		UserAgent:       cfg.Wishlist.UserAgent,
		SignatureTTL:    cfg.CacheTTL(),
		Signatures:      signatures,
		Logger:          logger,
	})
}

// MaxPages reports the page ceiling.
func (c *Crawler) MaxPages() int {
	return c.maxPages
}

// browserMarkers are the product tokens a real browser user agent carries.
var browserMarkers = []string{"Chrome", "Firefox", "Safari", "Edge"}

// ValidateUserAgent rejects values that do not look like a browser's user
// agent string.
func ValidateUserAgent(userAgent string) error {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return services.Wrap(services.ErrValidation, "wishlist", "signature", "user agent is empty", nil)
	}
	for _, marker := range browserMarkers {
		if strings.Contains(userAgent, marker) {
			return nil
		}
	}
	return services.Wrap(services.ErrValidation, "wishlist", "signature",
		fmt.Sprintf("user agent names no known browser (want one of %s)", strings.Join(browserMarkers, ", ")), nil)
}

// RememberSignature validates and stores a browser user agent for later runs.
func (c *Crawler) RememberSignature(ctx context.Context, userAgent string) error {
	if err := ValidateUserAgent(userAgent); err != nil {
		return err
	}
	if c.signatures == nil {
		return errors.New("wishlist: no signature store configured")
	}
	return c.signatures.PutSignature(ctx, SignatureName, strings.TrimSpace(userAgent), c.signatureTTL)
}

// resolveUserAgent picks the configured user agent (refreshing the stored
// signature with it), then the stored signature, then the built-in default.
// The bool reports the degraded fallback.
func (c *Crawler) resolveUserAgent(ctx context.Context) (string, bool) {
	if c.userAgent != "" {
		if c.signatures != nil {
			if err := c.RememberSignature(ctx, c.userAgent); err != nil {
				logging.WarnWithContext(c.logger, "configured user agent not stored", "signature_store_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "later runs without wishlist.user_agent fall back to the built-in agent"),
				)
			}
		}
		return c.userAgent, false
	}
	if c.signatures != nil {
		value, ok, err := c.signatures.GetSignature(ctx, SignatureName)
		if err != nil {
			logging.WarnWithContext(c.logger, "signature lookup failed", "signature_lookup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "crawl uses the built-in user agent"),
			)
		}
		if ok && strings.TrimSpace(value) != "" {
			return value, false
		}
	}
	logging.WarnWithContext(c.logger, "no cached client signature; using built-in user agent", "signature_missing",
		logging.String(logging.FieldImpact, "requests are more likely to be blocked"),
		logging.String(logging.FieldErrorHint, "run 'bookdrop signature set \"<browser user agent>\"' or set wishlist.user_agent"),
	)
	return DefaultUserAgent, true
}

// Pages yields wishlist pages starting at listURL. The sequence ends after the
// last page, at the page ceiling, when a next URL repeats, or after the first
// error. Each iteration starts a fresh crawl.
func (c *Crawler) Pages(ctx context.Context, listURL string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		current := strings.TrimSpace(listURL)
		if _, err := parseAbsolute(current); err != nil {
			yield(Page{}, unauthorizedError(current, err))
			return
		}
		userAgent, degraded := c.resolveUserAgent(ctx)
		visited := map[string]struct{}{}

		for number := 1; current != "" && number <= c.maxPages; number++ {
			visited[current] = struct{}{}
			page, err := c.fetchPage(ctx, current, userAgent)
			page.Number = number
			page.Degraded = degraded
			if err != nil {
				yield(page, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if _, seen := visited[page.Next]; seen {
				c.logger.Debug("next page repeats; stopping", logging.String("url", page.Next))
				return
			}
			if page.Next != "" && number == c.maxPages {
				logging.WarnWithContext(c.logger, "wishlist page ceiling reached", "wishlist_page_ceiling",
					logging.Int("max_pages", c.maxPages),
					logging.String(logging.FieldImpact, "items on later pages are ignored this run"),
					logging.String(logging.FieldErrorHint, "raise wishlist.max_pages"),
				)
			}
			current = page.Next
		}
	}
}

// Crawl drains Pages, collecting items deduplicated by fingerprint. On error
// the partial result gathered so far is returned alongside it.
func (c *Crawler) Crawl(ctx context.Context, listURL string) (Result, error) {
	var (
		result Result
		seen   = map[string]struct{}{}
	)
	for page, err := range c.Pages(ctx, listURL) {
		if page.Degraded {
			result.Degraded = true
		}
		if err != nil {
			return result, err
		}
		result.Pages++
		for _, row := range page.Rows {
			switch r := row.(type) {
			case ParsedItem:
				fp := r.Item.Fingerprint()
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				result.Items = append(result.Items, r.Item)
			case ParseFailure:
				result.Skipped++
				c.logger.Debug("wishlist row skipped",
					logging.Int("page", page.Number),
					logging.Int("index", r.Index),
					logging.String("reason", r.Reason),
				)
			}
		}
	}
	c.logger.Info("wishlist crawled",
		logging.Int("items", len(result.Items)),
		logging.Int("skipped", result.Skipped),
		logging.Int("pages", result.Pages),
		logging.Bool("degraded", result.Degraded),
	)
	return result, nil
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL, userAgent string) (Page, error) {
	page := Page{URL: pageURL}
	if err := c.limiter.Wait(ctx); err != nil {
		return page, transientError(pageURL, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return page, transientError(pageURL, fmt.Errorf("build request: %w", err))
	}
	applyHeaders(req, userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return page, transientError(pageURL, fmt.Errorf("request page: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return page, unauthorizedError(pageURL, fmt.Errorf("wishlist returned %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return page, unauthorizedError(pageURL, fmt.Errorf("wishlist returned %s; check the list URL", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return page, transientError(pageURL, fmt.Errorf("wishlist returned %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return page, transientError(pageURL, fmt.Errorf("parse document: %w", err))
	}
	if IsPrivate(doc) {
		return page, unauthorizedError(pageURL, errors.New("list is private or not published"))
	}

	base := resp.Request.URL
	if base == nil {
		base, _ = url.Parse(pageURL)
	}
	page.Rows, page.Next = ParsePage(doc, base)
	c.logger.Debug("wishlist page parsed",
		logging.String("url", pageURL),
		logging.Int("rows", len(page.Rows)),
		logging.Bool("has_next", page.Next != ""),
	)
	return page, nil
}

func applyHeaders(req *http.Request, userAgent string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
}

func parseAbsolute(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("wishlist url is not configured")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse wishlist url: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("wishlist url %q is not absolute", raw)
	}
	return parsed, nil
}
