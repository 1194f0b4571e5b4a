package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookdrop/internal/cache"
	"bookdrop/internal/config"
	"bookdrop/internal/wishlist"
)

func newSignatureCommand(ctx *commandContext) *cobra.Command {
	signatureCmd := &cobra.Command{
		Use:   "signature",
		Short: "Manage the browser signature used to crawl the wishlist",
	}

	signatureCmd.AddCommand(newSignatureSetCommand(ctx))
	signatureCmd.AddCommand(newSignatureShowCommand(ctx))

	return signatureCmd
}

func newSignatureSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <user-agent>",
		Short: "Store a browser user agent for later wishlist crawls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				crawler := wishlist.NewFromConfig(cfg, store, nil)
				if err := crawler.RememberSignature(cmd.Context(), args[0]); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Stored wishlist client signature")
				if cfg.Wishlist.UserAgent != "" {
					fmt.Fprintln(out, "note: wishlist.user_agent is set and replaces this value on the next crawl")
				}
				return nil
			})
		},
	}
}

func newSignatureShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List stored client signatures and whether they are still fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ *config.Config, store *cache.Store) error {
				sigs, err := store.Signatures(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sigs) == 0 {
					fmt.Fprintln(out, "No client signatures stored; crawls use the built-in user agent")
					return nil
				}
				signatureTable(sigs, store).print(out)
				return nil
			})
		},
	}
}

func signatureTable(sigs []cache.Signature, store *cache.Store) tableSpec {
	now := store.Now()
	rows := make([][]string, 0, len(sigs))
	for _, sig := range sigs {
		rows = append(rows, []string{sig.Name, truncate(sig.Value, 48), formatStamp(sig.ExpiresAt), yesNo(sig.Fresh(now))})
	}
	return tableSpec{title: "Signatures", headers: []string{"Name", "Value", "Expires", "Fresh"}, rows: rows}
}
