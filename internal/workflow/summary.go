package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"bookdrop/internal/notifications"
)

// Skip reasons recorded in RunSummary.Skips.
const (
	SkipDelivered = "delivered"
	SkipNotFound  = "not_found"
	SkipCancelled = "cancelled"
)

// FailureDetail describes one item that failed during a run.
type FailureDetail struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Stage       string `json:"stage"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

// SkipDetail describes one item that was intentionally not processed.
type SkipDetail struct {
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Reason      string `json:"reason"`
}

// RunSummary aggregates the outcome of one run. Succeeded, Failed, and
// Skipped always add up to TotalItems; items left untouched by cancellation
// count as skipped.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	TotalItems int       `json:"total_items"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Cancelled  bool      `json:"cancelled"`
	// Degraded is set when the crawl used the built-in client signature.
	Degraded bool `json:"degraded"`
	// ParseFailures counts wishlist rows that could not be turned into items.
	ParseFailures int `json:"parse_failures,omitempty"`
	// CrawlReason is the reason code of a crawl-level failure, if any.
	CrawlReason    string          `json:"crawl_reason,omitempty"`
	FailureDetails []FailureDetail `json:"failure_details"`
	Skips          []SkipDetail    `json:"skips,omitempty"`
}

// Duration reports the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s == nil || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// DominantReason returns the most frequent failure reason. Ties go to the
// reason seen first. A crawl failure with no item failures reports the crawl
// reason.
func (s *RunSummary) DominantReason() string {
	if s == nil {
		return ""
	}
	if len(s.FailureDetails) == 0 {
		return s.CrawlReason
	}
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, failure := range s.FailureDetails {
		if _, ok := counts[failure.Reason]; !ok {
			order = append(order, failure.Reason)
		}
		counts[failure.Reason]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order[0]
}

// RequiresAction reports whether the operator must intervene: the list was
// not public, delivery credentials were rejected, or the delivery message
// could not be built from the configured addresses.
func (s *RunSummary) RequiresAction() bool {
	if s == nil {
		return false
	}
	if s.CrawlReason == "unauthorized" || s.CrawlReason == "configuration" {
		return true
	}
	for _, failure := range s.FailureDetails {
		if failure.Reason == "auth_failure" || failure.Reason == "invalid_message" {
			return true
		}
	}
	return false
}

// String renders the operator-facing one-line summary.
func (s *RunSummary) String() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Processing complete: %d successful, %d failed out of %d books", s.Succeeded, s.Failed, s.TotalItems)
	if s.Skipped > 0 {
		fmt.Fprintf(&b, " (%d skipped)", s.Skipped)
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "; %d %s failed: %s", s.Failed, plural(s.Failed, "item", "items"), s.DominantReason())
	}
	if s.CrawlReason != "" {
		fmt.Fprintf(&b, "; wishlist crawl failed: %s", s.CrawlReason)
	}
	if s.Cancelled {
		b.WriteString("; run cancelled")
	}
	return b.String()
}

// Report converts the summary into the notifier payload.
func (s *RunSummary) Report() notifications.Report {
	return notifications.Report{
		RunID:          s.RunID,
		Total:          s.TotalItems,
		Succeeded:      s.Succeeded,
		Failed:         s.Failed,
		Skipped:        s.Skipped,
		DominantReason: s.DominantReason(),
		Duration:       s.Duration(),
		Cancelled:      s.Cancelled,
	}
}

func (s *RunSummary) recordSuccess() {
	s.Succeeded++
}

func (s *RunSummary) recordSkip(fingerprint, title, reason string) {
	s.Skipped++
	s.Skips = append(s.Skips, SkipDetail{Fingerprint: fingerprint, Title: title, Reason: reason})
}

func (s *RunSummary) recordFailure(detail FailureDetail) {
	s.Failed++
	s.FailureDetails = append(s.FailureDetails, detail)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
