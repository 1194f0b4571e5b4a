package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"bookdrop/internal/audit"
	"bookdrop/internal/cache"
	"bookdrop/internal/workflow"
)

type cliEnv struct {
	baseDir    string
	configPath string
	stateDir   string
}

func setupCLIEnv(t *testing.T, wishlist http.HandlerFunc) *cliEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("BOOKDROP_WISHLIST_URL", "")

	srv := httptest.NewServer(wishlist)
	t.Cleanup(srv.Close)

	env := &cliEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "bookdrop.toml"),
		stateDir:   filepath.Join(base, "state"),
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
download_dir = %q
log_dir = %q

[wishlist]
url = %q
request_interval_ms = 0

[catalog]
base_url = %q
request_interval_ms = 0

[delivery]
destination = "reader@kindle.invalid"
from_address = "sender@example.invalid"
smtp_host = "127.0.0.1"
smtp_port = 2525

[logging]
level = "error"
`, env.stateDir, filepath.Join(base, "downloads"), filepath.Join(base, "logs"),
		srv.URL+"/hz/wishlist/ls/TEST", srv.URL)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q\n%s", needle, haystack)
	}
}

func emptyList(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "<html><body><ul></ul></body></html>")
}

func privateList(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "<html><body><p>This list is private</p></body></html>")
}

func TestRunEmptyWishlist(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Processing complete: 0 successful, 0 failed out of 0 books")
	requireContains(t, out, "Delivered")
}

func TestRunJSONWithTail(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "--log-level", "info", "run", "--json", "--tail", "50")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var payload struct {
		Summary struct {
			RunID      string `json:"run_id"`
			TotalItems int    `json:"total_items"`
		} `json:"summary"`
		Logs []struct {
			Message string `json:"msg"`
			RunID   string `json:"run_id"`
		} `json:"logs"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if payload.Summary.RunID == "" || payload.Summary.TotalItems != 0 {
		t.Fatalf("unexpected summary: %+v", payload.Summary)
	}
	if len(payload.Logs) == 0 {
		t.Fatal("expected log lines in --tail output")
	}
	for _, line := range payload.Logs {
		if line.Message == "run started" && line.RunID != payload.Summary.RunID {
			t.Fatalf("log line run id %q does not match summary %q", line.RunID, payload.Summary.RunID)
		}
	}
}

func TestRunPrivateWishlist(t *testing.T) {
	env := setupCLIEnv(t, privateList)

	out, err := env.run(t, "run")
	if err == nil {
		t.Fatal("expected run to fail for a private wishlist")
	}
	requireContains(t, out, "wishlist crawl failed: unauthorized")
	requireContains(t, out, "action required")
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	env := setupCLIEnv(t, emptyList)
	if err := os.MkdirAll(env.stateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	lock := flock.New(filepath.Join(env.stateDir, "run.lock"))
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	defer func() { _ = lock.Unlock() }()

	_, err := env.run(t, "run")
	if !errors.Is(err, workflow.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestCacheCommands(t *testing.T) {
	env := setupCLIEnv(t, emptyList)
	if err := os.MkdirAll(env.stateDir, 0o755); err != nil {
		t.Fatalf("mkdir state: %v", err)
	}
	store, err := cache.Open(filepath.Join(env.stateDir, "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "fp-pending", []byte(`{}`), cache.StatusPending, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.MarkDelivered(ctx, "fp-sent"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := env.run(t, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	requireContains(t, out, "pending")
	requireContains(t, out, "delivery records")

	out, err = env.run(t, "cache", "sweep")
	if err != nil {
		t.Fatalf("cache sweep: %v", err)
	}
	requireContains(t, out, "Removed 0 expired entries")

	out, err = env.run(t, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	requireContains(t, out, "Removed 1 cache rows")

	out, err = env.run(t, "cache", "clear", "--all")
	if err != nil {
		t.Fatalf("cache clear --all: %v", err)
	}
	requireContains(t, out, "Removed 1 cache rows")
	requireContains(t, out, "eligible to be sent again")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "reader@kindle.invalid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, err = runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, err = runCLI(t, "--config", target, "config", "validate")
	if err == nil {
		t.Fatal("sample config should not be ready to run")
	}
	requireContains(t, out, "wishlist.url is required")
}

func TestHistory(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No deliveries recorded")

	log, err := audit.Open(filepath.Join(env.stateDir, "deliveries.jsonl"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	for _, entry := range []audit.Entry{
		{Title: "Dune", Destination: "reader@kindle.invalid", SizeBytes: 2048, OK: true},
		{Title: "Emma", Destination: "reader@kindle.invalid", Reason: "auth_failure"},
	} {
		if err := log.Append(entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err = env.run(t, "history", "--limit", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Dune")
	requireContains(t, out, "auth_failure")

	out, err = env.run(t, "history", "--json", "-n", "1")
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	var entries []audit.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "Emma" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestTestNotifyDisabled(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notifications disabled")
}

const browserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0"

// twoBookList serves a wishlist page with two books and one row that has no
// title.
func twoBookList(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, `<html><body><ul>`+
		`<li><div id="item_B1"><h3 class="item-title"><a id="itemName_B1" href="/dp/B1/">Dune</a></h3><span id="item-byline-B1">by Frank Herbert (Kindle Edition)</span></div></li>`+
		`<li><div id="item_B2"><h3 class="item-title"><a id="itemName_B2" href="/dp/B2/">Emma</a></h3><span id="item-byline-B2">by Jane Austen (Paperback)</span></div></li>`+
		`<li><div id="item_B3"><a href="/dp/B3/">cover</a><span id="item-byline-B3">by Nobody</span></div></li>`+
		`</ul></body></html>`)
}

func TestSignatureCommands(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "signature", "show")
	if err != nil {
		t.Fatalf("signature show: %v", err)
	}
	requireContains(t, out, "No client signatures stored")

	if _, err := env.run(t, "signature", "set", "curl/8.5.0"); err == nil {
		t.Fatal("expected a non-browser user agent to be rejected")
	}

	out, err = env.run(t, "signature", "set", browserAgent)
	if err != nil {
		t.Fatalf("signature set: %v", err)
	}
	requireContains(t, out, "Stored wishlist client signature")

	out, err = env.run(t, "signature", "show")
	if err != nil {
		t.Fatalf("signature show: %v", err)
	}
	requireContains(t, out, "wishlist_user_agent")
	requireContains(t, out, "Fresh")
	requireContains(t, out, "yes")

	out, err = env.run(t, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	requireContains(t, out, "Signatures")
	requireContains(t, out, "wishlist_user_agent")
}

func TestWishlistPreview(t *testing.T) {
	env := setupCLIEnv(t, twoBookList)

	out, err := env.run(t, "wishlist")
	if err != nil {
		t.Fatalf("wishlist: %v", err)
	}
	requireContains(t, out, "2 books on 1 pages")
	requireContains(t, out, "Dune")
	requireContains(t, out, "Jane Austen")
	requireContains(t, out, "1 wishlist rows could not be parsed")
	requireContains(t, out, "built-in client signature")

	if _, err := env.run(t, "signature", "set", browserAgent); err != nil {
		t.Fatalf("signature set: %v", err)
	}
	out, err = env.run(t, "wishlist", "--json")
	if err != nil {
		t.Fatalf("wishlist --json: %v", err)
	}
	var preview struct {
		Items []struct {
			Title     string `json:"title"`
			Delivered bool   `json:"delivered"`
		} `json:"items"`
		Skipped  int  `json:"skipped_rows"`
		Degraded bool `json:"degraded"`
	}
	if err := json.Unmarshal([]byte(out), &preview); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(preview.Items) != 2 || preview.Skipped != 1 || preview.Degraded {
		t.Fatalf("unexpected preview: %+v", preview)
	}
	for _, item := range preview.Items {
		if item.Delivered {
			t.Fatalf("%q reported as delivered before any run", item.Title)
		}
	}

	if _, err := env.run(t, "wishlist", "--url", "not-a-url"); err == nil {
		t.Fatal("expected a relative url to be rejected")
	}
}

func TestCacheMarkDeliveredFromWishlist(t *testing.T) {
	env := setupCLIEnv(t, twoBookList)

	if _, err := env.run(t, "cache", "mark-delivered"); err == nil {
		t.Fatal("expected mark-delivered without a source to fail")
	}

	out, err := env.run(t, "cache", "mark-delivered", "--from-wishlist")
	if err != nil {
		t.Fatalf("cache mark-delivered: %v", err)
	}
	requireContains(t, out, "Marked 2 of 2 wishlist books as delivered (0 already recorded)")

	out, err = env.run(t, "cache", "mark-delivered", "--from-wishlist")
	if err != nil {
		t.Fatalf("cache mark-delivered again: %v", err)
	}
	requireContains(t, out, "Marked 0 of 2 wishlist books as delivered (2 already recorded)")

	out, err = env.run(t, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "0 successful, 0 failed out of 2 books (2 skipped)")
}

func TestSearchCommand(t *testing.T) {
	env := setupCLIEnv(t, emptyList)

	out, err := env.run(t, "search", "Dune", "Messiah")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	requireContains(t, out, "0 successful, 0 failed out of 1 books (1 skipped)")

	out, err = env.run(t, "search", "--json", "Dune Messiah")
	if err != nil {
		t.Fatalf("search --json: %v", err)
	}
	var payload struct {
		Summary struct {
			TotalItems int `json:"total_items"`
			Skips      []struct {
				Title  string `json:"title"`
				Reason string `json:"reason"`
			} `json:"skips"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if payload.Summary.TotalItems != 1 || len(payload.Summary.Skips) != 1 ||
		payload.Summary.Skips[0].Title != "Dune Messiah" || payload.Summary.Skips[0].Reason != workflow.SkipNotFound {
		t.Fatalf("unexpected search summary: %+v", payload.Summary)
	}

	if _, err := env.run(t, "search", "   "); err == nil {
		t.Fatal("expected an empty query to fail")
	}
}
