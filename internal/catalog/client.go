package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/services"
)

const (
	defaultBaseURL        = "https://libgen.li"
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.60 Safari/537.36"
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultInitialBackoff = 2 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	maxDocumentBytes      = 8 << 20

	breakerFailureThreshold = 5
	breakerOpenTimeout      = 60 * time.Second
)

// Config describes the catalog client configuration.
type Config struct {
	BaseURL         string
	UserAgent       string
	RequestTimeout  time.Duration
	RequestInterval time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client talks to the catalog's HTML search and mirror pages.
type Client struct {
	baseURL        *url.URL
	userAgent      string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	http           *http.Client
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker[[]byte]
	logger         *slog.Logger
}

// NewClient creates a Client from the supplied configuration.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return nil, fmt.Errorf("catalog: invalid base url %q", base)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := logging.NewComponentLogger(cfg.Logger, "catalog")
	c := &Client{
		baseURL:        baseURL,
		userAgent:      userAgent,
		timeout:        timeout,
		maxRetries:     maxRetries,
		initialBackoff: initial,
		maxBackoff:     maxBackoff,
		http:           httpClient,
		limiter:        rate.NewLimiter(limit, 1),
		logger:         logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetriable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logging.WarnWithContext(logger, "catalog circuit opened", "catalog_circuit_open",
					logging.String("breaker", name),
					logging.String(logging.FieldImpact, "remaining items skip catalog lookups until it recovers"),
					logging.String(logging.FieldErrorHint, "check catalog.base_url reachability"),
				)
				return
			}
			logger.Info("catalog circuit state changed",
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// NewClientFromConfig builds a Client from the catalog configuration section.
func NewClientFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	return NewClient(Config{
		BaseURL:         cfg.Catalog.BaseURL,
		RequestTimeout:  time.Duration(cfg.Catalog.RequestTimeout) * time.Second,
		RequestInterval: time.Duration(cfg.Catalog.RequestIntervalMS) * time.Millisecond,
		MaxRetries:      cfg.Catalog.MaxRetries,
		Logger:          logger,
	})
}

// BaseURL returns the catalog root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SearchURL builds the search page URL for query.
func (c *Client) SearchURL(query string) string {
	endpoint := c.baseURL.JoinPath("index.php")
	params := url.Values{}
	params.Set("req", query)
	params["columns[]"] = []string{"t", "a", "s", "y", "p", "i"}
	params["objects[]"] = []string{"f", "e", "s", "a", "p", "w"}
	params["topics[]"] = []string{"l", "c", "f", "a", "m", "r", "s"}
	params.Set("res", "100")
	params.Set("filesuns", "all")
	endpoint.RawQuery = params.Encode()
	return endpoint.String()
}

// Search runs one catalog query and returns its candidates in listing order.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	searchURL := c.SearchURL(query)
	doc, finalURL, err := c.document(ctx, searchURL)
	if err != nil {
		return nil, &ResolveError{Kind: KindTransient, Query: query, Err: err}
	}
	candidates := ParseSearchResults(doc, finalURL)
	c.logger.Debug("catalog search parsed",
		logging.String("query", query),
		logging.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// DownloadLink visits the candidate's mirror pages in order and returns the
// first direct download link found.
func (c *Client) DownloadLink(ctx context.Context, candidate Candidate) (string, error) {
	mirrors := candidate.Mirrors
	if len(mirrors) == 0 && candidate.Locator != "" {
		mirrors = []string{candidate.Locator}
	}
	var lastErr error
	for _, mirror := range mirrors {
		doc, finalURL, err := c.document(ctx, mirror)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			lastErr = err
			c.logger.Debug("mirror page unavailable", logging.String("mirror", mirror), logging.Error(err))
			continue
		}
		if link := ParseDownloadLink(doc, finalURL); link != "" {
			return link, nil
		}
	}
	if lastErr != nil {
		return "", services.Wrap(services.ErrTransient, "catalog", "download link", "no mirror answered", lastErr)
	}
	return "", services.Wrap(services.ErrNotFound, "catalog", "download link", "no GET link on mirror pages", nil)
}

// document fetches and parses pageURL, retrying retriable failures with
// exponential backoff. The returned URL is the final URL after redirects.
func (c *Client) document(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	backoff := c.initialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var finalURL *url.URL
		body, err := c.breaker.Execute(func() ([]byte, error) {
			data, final, fetchErr := c.fetch(ctx, pageURL)
			finalURL = final
			return data, fetchErr
		})
		if err == nil {
			doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if parseErr != nil {
				return nil, nil, fmt.Errorf("parse document: %w", parseErr)
			}
			return doc, finalURL, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, err
		}
		if !IsRetriable(err) || attempt == c.maxRetries || ctx.Err() != nil {
			break
		}
		c.logger.Debug("catalog request failed; retrying",
			logging.String("url", pageURL),
			logging.Int("attempt", attempt+1),
			logging.Duration("backoff", backoff),
			logging.Error(err),
		)
		if sleepErr := SleepWithContext(ctx, backoff); sleepErr != nil {
			return nil, nil, sleepErr
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
	return nil, nil, lastErr
}

func (c *Client) fetch(ctx context.Context, pageURL string) ([]byte, *url.URL, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return data, resp.Request.URL, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
}

// StatusError reports a non-200 catalog response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "catalog returned " + e.Status
}

// SleepWithContext blocks for d, returning early if ctx is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRetriable reports whether err is a transient condition worth retrying:
// rate limiting, server errors, timeouts, and connection failures.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"timeout", "connection reset", "connection refused", "eof", "temporary failure"} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
