package catalog

import (
	"context"
	"errors"
	"log/slog"

	"bookdrop/internal/config"
	"bookdrop/internal/logging"
	"bookdrop/internal/wishlist"
)

// Searcher runs a single catalog query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Resolver maps wishlist items to the best catalog candidate.
type Resolver struct {
	searcher  Searcher
	prefs     []Format
	threshold float64
	logger    *slog.Logger
}

// NewResolver builds a Resolver. A nil prefs slice leaves every format
// equally preferred; a non-positive threshold falls back to
// DefaultMinSimilarity.
func NewResolver(searcher Searcher, prefs []Format, threshold float64, logger *slog.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultMinSimilarity
	}
	return &Resolver{
		searcher:  searcher,
		prefs:     prefs,
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "resolver"),
	}
}

// NewResolverFromConfig wires a Resolver using the catalog configuration.
func NewResolverFromConfig(cfg *config.Config, searcher Searcher, logger *slog.Logger) *Resolver {
	return NewResolver(searcher, ParseFormats(cfg.Catalog.PreferredFormats), cfg.Catalog.MinSimilarity, logger)
}

// Resolve walks the query chain for item and returns the top ranked
// candidate of the first query that yields one. A miss is reported as a
// Resolution with Found unset; only catalog failures return an error.
func (r *Resolver) Resolve(ctx context.Context, item wishlist.Item) (Resolution, error) {
	var resolution Resolution
	for _, query := range Queries(item.Title, item.Author) {
		if err := ctx.Err(); err != nil {
			return resolution, err
		}
		candidates, err := r.searcher.Search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return resolution, ctx.Err()
			}
			var resolveErr *ResolveError
			if !errors.As(err, &resolveErr) {
				err = &ResolveError{Kind: KindTransient, Query: query, Err: err}
			}
			return resolution, err
		}
		resolution.Considered += len(candidates)
		ranked := Rank(candidates, query, r.prefs, r.threshold)
		r.logger.Debug("catalog query ranked",
			logging.String("query", query),
			logging.Int("candidates", len(candidates)),
			logging.Int("above_threshold", len(ranked)),
		)
		if len(ranked) == 0 {
			continue
		}
		resolution.Found = true
		resolution.Candidate = ranked[0]
		resolution.Query = query
		return resolution, nil
	}
	r.logger.Info("no catalog match",
		logging.String("title", item.Title),
		logging.String("author", item.Author),
		logging.Int("considered", resolution.Considered),
	)
	return resolution, nil
}
