package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookdrop/internal/config"
)

const userAgent = "bookdrop/0.1.0"

// Report is the slice of a run summary that alerts describe.
type Report struct {
	RunID          string
	Total          int
	Succeeded      int
	Failed         int
	Skipped        int
	DominantReason string
	Duration       time.Duration
	Cancelled      bool
}

// Service defines the notification surface exposed to the workflow and CLI.
type Service interface {
	NotifyRunFailures(ctx context.Context, report Report) error
	NotifyRunSummary(ctx context.Context, report Report) error
	NotifyActionRequired(ctx context.Context, reason, detail string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether svc actually delivers messages.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunFailures(ctx context.Context, report Report) error {
	reason := strings.TrimSpace(report.DominantReason)
	if reason == "" {
		reason = "unknown"
	}
	message := fmt.Sprintf("❌ %d of %d books failed: %s", report.Failed, report.Total, reason)
	if report.RunID != "" {
		message = fmt.Sprintf("%s\nRun: %s", message, shortID(report.RunID))
	}
	data := payload{
		title:    "Bookdrop - Run Failures",
		message:  message,
		tags:     []string{"bookdrop", "run", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunSummary(ctx context.Context, report Report) error {
	duration := report.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "Bookdrop - Run Complete"
	if report.Cancelled {
		title = "Bookdrop - Run Cancelled"
	}
	data := payload{
		title: title,
		message: fmt.Sprintf("📚 %d delivered, %d failed, %d skipped of %d books in %s",
			report.Succeeded, report.Failed, report.Skipped, report.Total, duration),
		tags: []string{"bookdrop", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyActionRequired(ctx context.Context, reason, detail string) error {
	var builder strings.Builder
	builder.WriteString("⚠️ Action required: ")
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(reason)
	} else {
		builder.WriteString("unknown")
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		builder.WriteString("\n")
		builder.WriteString(detail)
	}
	data := payload{
		title:    "Bookdrop - Action Required",
		message:  builder.String(),
		tags:     []string{"bookdrop", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Bookdrop - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"bookdrop", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyRunFailures(context.Context, Report) error            { return nil }
func (noopService) NotifyRunSummary(context.Context, Report) error             { return nil }
func (noopService) NotifyActionRequired(context.Context, string, string) error { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
