package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"bookdrop/internal/cache"
	"bookdrop/internal/catalog"
	"bookdrop/internal/config"
	"bookdrop/internal/delivery"
	"bookdrop/internal/fetch"
	"bookdrop/internal/logging"
	"bookdrop/internal/notifications"
	"bookdrop/internal/testsupport"
	"bookdrop/internal/wishlist"
	"bookdrop/internal/workflow"
)

type fakeCrawler struct {
	mu     sync.Mutex
	result wishlist.Result
	err    error
	calls  int
}

func (f *fakeCrawler) Crawl(context.Context, string) (wishlist.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

// fakeResolver matches every title unless told otherwise. Errors are
// consumed by the first call for that title.
type fakeResolver struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]catalog.Resolution
	errs    map[string]error
	panics  map[string]bool
	block   map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:   map[string]int{},
		results: map[string]catalog.Resolution{},
		errs:    map[string]error{},
		panics:  map[string]bool{},
		block:   map[string]bool{},
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, item wishlist.Item) (catalog.Resolution, error) {
	f.mu.Lock()
	f.calls[item.Title]++
	err, hasErr := f.errs[item.Title]
	delete(f.errs, item.Title)
	res, hasRes := f.results[item.Title]
	shouldPanic := f.panics[item.Title]
	shouldBlock := f.block[item.Title]
	f.mu.Unlock()

	if shouldPanic {
		panic("resolver exploded")
	}
	if shouldBlock {
		<-ctx.Done()
		return catalog.Resolution{}, ctx.Err()
	}
	if hasErr {
		return catalog.Resolution{}, err
	}
	if hasRes {
		return res, nil
	}
	return foundResolution(item.Title), nil
}

func (f *fakeResolver) callCount(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[title]
}

func foundResolution(title string) catalog.Resolution {
	return catalog.Resolution{
		Found:      true,
		Query:      title,
		Considered: 1,
		Candidate: catalog.Candidate{
			DisplayName: title,
			Format:      catalog.FormatEPUB,
			Extension:   "epub",
			Locator:     "https://catalog.invalid/get/" + title,
		},
	}
}

// fakeFetcher writes a small file named like the real fetcher would.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
	hook  func(title string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, candidate catalog.Candidate, destDir string) (string, error) {
	f.mu.Lock()
	f.calls[candidate.DisplayName]++
	err, hasErr := f.errs[candidate.DisplayName]
	delete(f.errs, candidate.DisplayName)
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(candidate.DisplayName)
	}
	if hasErr {
		return "", err
	}
	path := filepath.Join(destDir, fetch.FileName(candidate))
	if err := os.WriteFile(path, []byte("book: "+candidate.DisplayName), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeFetcher) callCount(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[title]
}

// fakeSender fails the queued errors in order, then succeeds.
type fakeSender struct {
	mu       sync.Mutex
	failures []error
	attempts int
	sent     int
}

func (f *fakeSender) Send(context.Context, string, []string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	f.sent++
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type recordingNotifier struct {
	mu      sync.Mutex
	kinds   []string
	reports []notifications.Report
}

func (r *recordingNotifier) record(kind string, report notifications.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingNotifier) NotifyRunFailures(_ context.Context, report notifications.Report) error {
	return r.record("run_failures", report)
}

func (r *recordingNotifier) NotifyRunSummary(_ context.Context, report notifications.Report) error {
	return r.record("run_summary", report)
}

func (r *recordingNotifier) NotifyActionRequired(_ context.Context, reason, _ string) error {
	return r.record("action_required:"+reason, notifications.Report{})
}

func (r *recordingNotifier) TestNotification(context.Context) error {
	return r.record("test", notifications.Report{})
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

type harness struct {
	cfg      *config.Config
	store    *cache.Store
	crawler  *fakeCrawler
	resolver *fakeResolver
	fetcher  *fakeFetcher
	sender   *fakeSender
	notifier *recordingNotifier
	manager  *workflow.Manager
}

func newHarness(t *testing.T, items ...wishlist.Item) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.FailureThreshold = 0
	store := testsupport.MustOpenCache(t, cfg)
	h := &harness{
		cfg:      cfg,
		store:    store,
		crawler:  &fakeCrawler{result: wishlist.Result{Items: items, Pages: 1}},
		resolver: newFakeResolver(),
		fetcher:  newFakeFetcher(),
		sender:   &fakeSender{},
		notifier: &recordingNotifier{},
	}
	agent := delivery.NewAgent(delivery.Config{
		Sender: h.sender,
		Marker: store,
		From:   cfg.Delivery.FromAddress,
		Logger: logging.NewNop(),
	})
	h.manager = workflow.NewManager(cfg, store, workflow.Stages{
		Crawler:   h.crawler,
		Resolver:  h.resolver,
		Fetcher:   h.fetcher,
		Deliverer: agent,
	}, logging.NewNop(), workflow.WithNotifier(h.notifier))
	return h
}

func (h *harness) run(t *testing.T) *workflow.RunSummary {
	t.Helper()
	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return summary
}

func (h *harness) entry(t *testing.T, item wishlist.Item) (*cache.Entry, workflow.Progress) {
	t.Helper()
	entry, found, err := h.store.Get(context.Background(), item.Fingerprint())
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if !found {
		t.Fatalf("no cache entry for %q", item.Title)
	}
	progress, _ := workflow.DecodeProgress(entry.Payload)
	return entry, progress
}

func assertCounts(t *testing.T, s *workflow.RunSummary, total, succeeded, failed, skipped int) {
	t.Helper()
	if s.TotalItems != total || s.Succeeded != succeeded || s.Failed != failed || s.Skipped != skipped {
		t.Fatalf("summary counts = total %d, ok %d, failed %d, skipped %d; want %d/%d/%d/%d",
			s.TotalItems, s.Succeeded, s.Failed, s.Skipped, total, succeeded, failed, skipped)
	}
	if s.Succeeded+s.Failed+s.Skipped != s.TotalItems {
		t.Fatalf("counts do not add up: %+v", s)
	}
}

var (
	dune    = wishlist.Item{Title: "Dune", Author: "Frank Herbert"}
	emma    = wishlist.Item{Title: "Emma", Author: "Jane Austen"}
	walden  = wishlist.Item{Title: "Walden", Author: "Henry David Thoreau"}
	ulysses = wishlist.Item{Title: "Ulysses", Author: "James Joyce"}
)

func removeFile(path string) error {
	return os.Remove(path)
}
