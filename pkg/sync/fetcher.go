package sync

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/umbrella"
)

// Fetcher pages through resource exports account by account and hands
// each page to a batch callback.
type Fetcher struct {
	platform Platform
	pageSize int
	logger   zerolog.Logger
}

// NewFetcher creates a fetcher with the given page size.
func NewFetcher(platform Platform, pageSize int, logger zerolog.Logger) *Fetcher {
	if pageSize < 1 {
		pageSize = 1000
	}
	return &Fetcher{
		platform: platform,
		pageSize: pageSize,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
}

// Batch is one fetched page plus its position in the run.
type Batch struct {
	AccountKey string
	Page       int
	Resources  []engine.Resource
}

// Fetch streams batches for every account in order. The callback's
// error aborts the run; context cancellation is honored between pages.
// tagKeys are the physical tag columns to request; filterDimensions,
// when non-empty, enables the platform-side "no value yet" filter.
func (f *Fetcher) Fetch(
	ctx context.Context,
	scope Scope,
	accountKeys []string,
	tagKeys []string,
	filterDimensions []string,
	fn func(Batch) error,
) error {
	for _, accountKey := range accountKeys {
		page := 1
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			result, err := f.platform.FetchResources(ctx, umbrella.ResourceQuery{
				AccountKey:       accountKey,
				StartDate:        scope.StartDate,
				EndDate:          scope.EndDate,
				Page:             page,
				PageSize:         f.pageSize,
				TagKeys:          tagKeys,
				FilterDimensions: filterDimensions,
			})
			if err != nil {
				return err
			}

			if len(result.Resources) > 0 {
				f.logger.Debug().
					Str("account", accountKey).
					Int("page", page).
					Int("resources", len(result.Resources)).
					Msg("fetched batch")

				if err := fn(Batch{
					AccountKey: accountKey,
					Page:       page,
					Resources:  result.Resources,
				}); err != nil {
					return err
				}
			}

			if !result.HasMore {
				break
			}
			page++
		}
	}
	return nil
}
