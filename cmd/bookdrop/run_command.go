package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookdrop/internal/logging"
	"bookdrop/internal/workflow"
)

type runOutput struct {
	Summary *workflow.RunSummary `json:"summary"`
	Error   string               `json:"error,omitempty"`
	Logs    []logging.LogEvent   `json:"logs,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts pipelineOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl the wishlist once and deliver new books",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, ctx, opts, func(runCtx context.Context, manager *workflow.Manager) (*workflow.RunSummary, error) {
				return manager.Run(runCtx)
			})
		},
	}

	opts.bind(cmd)
	return cmd
}

type pipelineOptions struct {
	jsonOutput bool
	tail       int
}

func (o *pipelineOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.Flags().IntVar(&o.tail, "tail", 0, "Print the last N log lines of the run")
}

// runPipeline wires the production manager, runs fn under a signal-aware
// context, and prints the summary.
func runPipeline(cmd *cobra.Command, ctx *commandContext, opts pipelineOptions, fn func(context.Context, *workflow.Manager) (*workflow.RunSummary, error)) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := logging.NewStreamHub(cfg.Logging.StreamCapacity)
	logger, err := ctx.newLogger(hub)
	if err != nil {
		return err
	}
	store, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	manager, err := workflow.NewManagerFromConfig(cfg, store, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	summary, runErr := fn(signalCtx, manager)
	if errors.Is(runErr, workflow.ErrRunInProgress) {
		return fmt.Errorf("%w (lock %s)", runErr, cfg.RunLockPath())
	}

	var events []logging.LogEvent
	if opts.tail > 0 {
		events, _ = hub.Tail(opts.tail)
	}
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		payload := runOutput{Summary: summary, Logs: events}
		if runErr != nil {
			payload.Error = runErr.Error()
		}
		if err := writeJSON(cmd, payload); err != nil {
			return err
		}
	} else {
		printRunSummary(out, summary)
		printLogTail(out, events)
	}
	return runErr
}

func printRunSummary(out io.Writer, summary *workflow.RunSummary) {
	if summary == nil {
		return
	}
	fmt.Fprintln(out, summary.String())

	tableSpec{
		headers: []string{"Run", "Total", "Delivered", "Failed", "Skipped", "Duration"},
		rows: [][]string{{
			shortRunID(summary.RunID),
			strconv.Itoa(summary.TotalItems),
			strconv.Itoa(summary.Succeeded),
			strconv.Itoa(summary.Failed),
			strconv.Itoa(summary.Skipped),
			summary.Duration().Round(time.Millisecond).String(),
		}},
		rightAligned: []int{1, 2, 3, 4, 5},
	}.print(out)

	if len(summary.FailureDetails) > 0 {
		rows := make([][]string, 0, len(summary.FailureDetails))
		for _, failure := range summary.FailureDetails {
			rows = append(rows, []string{truncate(failure.Title, 48), failure.Stage, failure.Reason, truncate(failure.Detail, 60)})
		}
		tableSpec{title: "Failures", headers: []string{"Title", "Stage", "Reason", "Detail"}, rows: rows}.print(out)
	}

	var notes []string
	if summary.Degraded {
		notes = append(notes, "wishlist crawled with the built-in client signature")
	}
	if summary.ParseFailures > 0 {
		notes = append(notes, fmt.Sprintf("%d wishlist rows could not be parsed", summary.ParseFailures))
	}
	if summary.RequiresAction() {
		notes = append(notes, "action required: "+summary.DominantReason())
	}
	for _, note := range notes {
		fmt.Fprintf(out, "note: %s\n", note)
	}
}

func printLogTail(out io.Writer, events []logging.LogEvent) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(out, "Last %d log lines:\n", len(events))
	for _, evt := range events {
		line := fmt.Sprintf("%s %-5s %s", evt.Timestamp.Local().Format("15:04:05"), strings.ToUpper(evt.Level), evt.Message)
		if evt.Stage != "" {
			line += " [" + evt.Stage + "]"
		}
		fmt.Fprintln(out, line)
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
