package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookdrop/internal/cache"
	"bookdrop/internal/config"
	"bookdrop/internal/workflow"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the content cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	cacheCmd.AddCommand(newCacheSweepCommand(ctx))
	cacheCmd.AddCommand(newCacheMarkDeliveredCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Cache: %s\n", stats.Path)
				if err := store.Recovered(); err != nil {
					fmt.Fprintf(out, "warning: %v\n", err)
				}

				rows := make([][]string, 0, len(cache.Statuses())+3)
				for _, status := range cache.Statuses() {
					rows = append(rows, []string{string(status), strconv.Itoa(stats.Entries[status])})
				}
				rows = append(rows,
					[]string{"expired", strconv.Itoa(stats.Expired)},
					[]string{"delivery records", strconv.Itoa(stats.Delivered)},
					[]string{"client signatures", strconv.Itoa(stats.Signatures)},
				)
				tableSpec{headers: []string{"Entries", "Count"}, rows: rows, rightAligned: []int{1}}.print(out)

				sigs, err := store.Signatures(cmd.Context())
				if err != nil {
					return err
				}
				if len(sigs) > 0 {
					signatureTable(sigs, store).print(out)
				}
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached metadata (delivery records are kept unless --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				var (
					removed int
					err     error
				)
				if all {
					removed, err = store.ClearAll(cmd.Context())
				} else {
					removed, err = store.Clear(cmd.Context())
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Removed %d cache rows\n", removed)
				if all {
					fmt.Fprintln(out, "Delivery records were cleared; every wishlist book is eligible to be sent again")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also forget delivery records")
	return cmd
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired, undelivered cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				removed, err := store.SweepExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheMarkDeliveredCommand(ctx *commandContext) *cobra.Command {
	var fromWishlist bool
	cmd := &cobra.Command{
		Use:   "mark-delivered",
		Short: "Record books as already delivered so they are never sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fromWishlist {
				return errors.New("nothing to mark: pass --from-wishlist")
			}
			return ctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				logger, err := ctx.newLogger(nil)
				if err != nil {
					return err
				}
				manager, err := workflow.NewManagerFromConfig(cfg, store, logger)
				if err != nil {
					return err
				}
				defer manager.Close()

				result, seedErr := manager.SeedDelivered(cmd.Context())
				if errors.Is(seedErr, workflow.ErrRunInProgress) {
					return fmt.Errorf("%w (lock %s)", seedErr, cfg.RunLockPath())
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Marked %d of %d wishlist books as delivered (%d already recorded)\n",
					result.Marked, result.Items, result.Already)
				if result.Skipped > 0 {
					fmt.Fprintf(out, "note: %d wishlist rows could not be parsed\n", result.Skipped)
				}
				if result.Degraded {
					fmt.Fprintln(out, "note: crawled with the built-in client signature")
				}
				if seedErr != nil {
					return fmt.Errorf("wishlist crawl incomplete: %w", seedErr)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fromWishlist, "from-wishlist", false, "Mark every book currently on the wishlist")
	return cmd
}
