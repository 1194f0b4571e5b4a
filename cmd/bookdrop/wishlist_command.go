package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bookdrop/internal/cache"
	"bookdrop/internal/config"
	"bookdrop/internal/preflight"
	"bookdrop/internal/wishlist"
)

type wishlistPreview struct {
	URL      string        `json:"url"`
	Pages    int           `json:"pages"`
	Items    []previewItem `json:"items"`
	Skipped  int           `json:"skipped_rows"`
	Degraded bool          `json:"degraded"`
	Error    string        `json:"error,omitempty"`
}

type previewItem struct {
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Delivered   bool   `json:"delivered"`
}

func newWishlistCommand(ctx *commandContext) *cobra.Command {
	var listURL string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "wishlist",
		Short: "Crawl the wishlist and list its books without delivering anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				target := listURL
				if target == "" {
					target = cfg.Wishlist.URL
				}
				if check := preflight.CheckWishlistURL(target); !check.Passed {
					return fmt.Errorf("wishlist url %s", check.Detail)
				}
				logger, err := ctx.newLogger(nil)
				if err != nil {
					return err
				}

				result, crawlErr := wishlist.NewFromConfig(cfg, store, logger).Crawl(cmd.Context(), target)
				preview := wishlistPreview{
					URL:      target,
					Pages:    result.Pages,
					Items:    make([]previewItem, 0, len(result.Items)),
					Skipped:  result.Skipped,
					Degraded: result.Degraded,
				}
				for _, item := range result.Items {
					fingerprint := item.Fingerprint()
					delivered, err := store.Delivered(cmd.Context(), fingerprint)
					if err != nil {
						return err
					}
					preview.Items = append(preview.Items, previewItem{
						Title:       item.Title,
						Author:      item.Author,
						SourceID:    item.SourceID,
						Fingerprint: fingerprint,
						Delivered:   delivered,
					})
				}
				if crawlErr != nil {
					preview.Error = crawlErr.Error()
				}

				if jsonOutput {
					if err := writeJSON(cmd, preview); err != nil {
						return err
					}
				} else {
					printWishlistPreview(cmd, preview, limit)
				}
				if crawlErr != nil {
					return fmt.Errorf("wishlist crawl failed: %w", crawlErr)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&listURL, "url", "", "Wishlist URL to crawl instead of wishlist.url")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most N books (0 shows all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the crawl result as JSON")
	return cmd
}

func printWishlistPreview(cmd *cobra.Command, preview wishlistPreview, limit int) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wishlist: %s (%d books on %d pages)\n", preview.URL, len(preview.Items), preview.Pages)

	shown := preview.Items
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	if len(shown) > 0 {
		rows := make([][]string, 0, len(shown))
		for i, item := range shown {
			rows = append(rows, []string{strconv.Itoa(i + 1), truncate(item.Title, 48), truncate(item.Author, 32), yesNo(item.Delivered)})
		}
		tableSpec{headers: []string{"#", "Title", "Author", "Delivered"}, rows: rows, rightAligned: []int{0}}.print(out)
	}
	if hidden := len(preview.Items) - len(shown); hidden > 0 {
		fmt.Fprintf(out, "... and %d more\n", hidden)
	}

	if preview.Skipped > 0 {
		fmt.Fprintf(out, "note: %d wishlist rows could not be parsed\n", preview.Skipped)
	}
	if preview.Degraded {
		fmt.Fprintln(out, "note: crawled with the built-in client signature; run 'bookdrop signature set' to store a browser user agent")
	}
	if preview.Error != "" {
		fmt.Fprintf(out, "note: crawl stopped early: %s\n", preview.Error)
	}
}
