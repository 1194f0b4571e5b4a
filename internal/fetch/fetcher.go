package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"bookdrop/internal/catalog"
	"bookdrop/internal/config"
	"bookdrop/internal/fileutil"
	"bookdrop/internal/logging"
	"bookdrop/internal/textutil"
)

const (
	// DefaultMaxBytes caps a single download.
	DefaultMaxBytes int64 = 100 << 20

	defaultTimeout   = 5 * time.Minute
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.6422.60 Safari/537.36"

	// sizeTolerance is the relative slack allowed against catalog size labels,
	// which are rounded for display.
	sizeTolerance = 0.10
)

// LinkResolver turns a candidate into a direct download URL.
type LinkResolver interface {
	DownloadLink(ctx context.Context, candidate catalog.Candidate) (string, error)
}

// Config configures a Fetcher.
type Config struct {
	MaxBytes       int64
	RequestTimeout time.Duration
	UserAgent      string
	HTTPClient     *http.Client
	// Links resolves mirror pages to direct links. When nil the candidate
	// locator is downloaded as is.
	Links  LinkResolver
	Logger *slog.Logger
}

// Fetcher downloads candidate files.
type Fetcher struct {
	maxBytes  int64
	timeout   time.Duration
	userAgent string
	http      *http.Client
	links     LinkResolver
	logger    *slog.Logger
}

// New constructs a Fetcher, filling unset fields with defaults.
func New(cfg Config) *Fetcher {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		maxBytes:  maxBytes,
		timeout:   timeout,
		userAgent: userAgent,
		http:      client,
		links:     cfg.Links,
		logger:    logging.NewComponentLogger(cfg.Logger, "fetch"),
	}
}

// NewFromConfig builds a Fetcher from workflow settings.
func NewFromConfig(cfg *config.Config, links LinkResolver, logger *slog.Logger) *Fetcher {
	return New(Config{
		MaxBytes:       cfg.MaxDownloadBytes(),
		RequestTimeout: time.Duration(cfg.Workflow.FetchTimeout) * time.Second,
		Links:          links,
		Logger:         logger,
	})
}

// FileName returns the local file name used for candidate.
func FileName(candidate catalog.Candidate) string {
	name := textutil.SanitizeFileName(candidate.DisplayName)
	if name == "" {
		name = "book"
	}
	return filepath.Base(name + "." + candidate.FileExtension())
}

// Fetch downloads candidate into destDir and returns the local path. An
// existing file of the expected size is returned without downloading.
func (f *Fetcher) Fetch(ctx context.Context, candidate catalog.Candidate, destDir string) (string, error) {
	path := filepath.Join(destDir, FileName(candidate))
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && candidate.SizeBytes > 0 && SizeMatches(info.Size(), candidate.SizeBytes) {
		f.logger.Info("download already present",
			logging.String("path", path),
			logging.Int64("size_bytes", info.Size()),
		)
		return path, nil
	}

	link := candidate.Locator
	if f.links != nil {
		resolved, err := f.links.DownloadLink(ctx, candidate)
		if err != nil {
			return "", transient(candidate.Locator, fmt.Errorf("resolve download link: %w", err))
		}
		link = resolved
	}
	if link == "" {
		return "", transient("", errors.New("candidate has no download locator"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link, nil)
	if err != nil {
		return "", transient(link, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	started := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		return "", transient(link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", transient(link, fmt.Errorf("download returned %s", resp.Status))
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		return "", incomplete(link, "download returned an HTML page instead of a file")
	}
	if resp.ContentLength > f.maxBytes {
		return "", incomplete(link, "declared size %d exceeds limit %d", resp.ContentLength, f.maxBytes)
	}

	verify := func(written int64) error {
		switch {
		case written == 0:
			return incomplete(link, "empty download")
		case resp.ContentLength > 0 && written != resp.ContentLength:
			return incomplete(link, "received %d of %d bytes", written, resp.ContentLength)
		case candidate.SizeBytes > 0 && !SizeMatches(written, candidate.SizeBytes):
			return incomplete(link, "received %d bytes, catalog lists %d", written, candidate.SizeBytes)
		}
		return nil
	}

	result, err := fileutil.WriteAtomic(path, resp.Body, f.maxBytes, verify)
	if err != nil {
		return "", classifyWriteError(ctx, link, err)
	}
	f.logger.Info("download complete",
		logging.String("path", result.Path),
		logging.Int64("size_bytes", result.Written),
		logging.String("sha256", result.SHA256),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result.Path, nil
}

func classifyWriteError(ctx context.Context, link string, err error) error {
	var fetchErr *FetchError
	switch {
	case errors.As(err, &fetchErr):
		return err
	case errors.Is(err, fileutil.ErrTooLarge):
		return incomplete(link, "%w", err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return incomplete(link, "stream ended early: %w", err)
	case ctx.Err() != nil:
		return transient(link, ctx.Err())
	default:
		return transient(link, err)
	}
}

// SizeMatches reports whether actual is within display rounding of the
// catalog's expected size. An unknown expectation always matches.
func SizeMatches(actual, expected int64) bool {
	if expected <= 0 {
		return true
	}
	diff := math.Abs(float64(actual - expected))
	return diff <= float64(expected)*sizeTolerance
}
