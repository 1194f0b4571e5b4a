package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookdrop/internal/audit"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent delivery attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			entries, err := audit.ReadTail(cfg.AuditLogPath(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if entries == nil {
					entries = []audit.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No deliveries recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				result := "sent"
				if !entry.OK {
					result = entry.Reason
				}
				rows = append(rows, []string{
					formatStamp(entry.Time),
					truncate(entry.Title, 48),
					entry.Destination,
					strconv.FormatInt(entry.SizeBytes, 10),
					result,
				})
			}
			tableSpec{
				headers:      []string{"Time", "Title", "Destination", "Bytes", "Result"},
				rows:         rows,
				rightAligned: []int{3},
			}.print(out)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of attempts to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print entries as JSON")
	return cmd
}
