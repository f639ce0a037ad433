package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PoolResult summarizes one pool run.
type PoolResult struct {
	Resolved  int
	Created   int
	Merged    int
	Refreshed int
	Rejected  int
	Requeued  int
}

// Pool fans candidates out to a bounded set of workers. One candidate's
// cascade is independent of another's until they contend on the store;
// content-hash uniqueness turns create races into merges, so no extra
// locking happens here.
type Pool struct {
	resolver *Resolver
	workers  int
	logger   zerolog.Logger
}

func NewPool(resolver *Resolver, workers int, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{resolver: resolver, workers: workers, logger: logger}
}

// Run drains the channel. Structurally invalid candidates are dropped with
// a log line; candidates hitting a storage failure go to requeue so they
// are never silently lost. Returns only on context cancellation.
func (p *Pool) Run(ctx context.Context, candidates <-chan Candidate, requeue func(Candidate)) (PoolResult, error) {
	var mu sync.Mutex
	var result PoolResult

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)

	for candidate := range candidates {
		if groupCtx.Err() != nil {
			break
		}
		candidate := candidate
		group.Go(func() error {
			resolution, err := p.resolver.Resolve(groupCtx, candidate)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Resolved++
				switch resolution.Decision {
				case DecisionCreated:
					result.Created++
				case DecisionMerged:
					result.Merged++
				case DecisionRefreshed:
					result.Refreshed++
				}
			case IsValidation(err):
				result.Rejected++
				p.logger.Warn().Err(err).Str("source_url", candidate.Source.URL).Msg("rejected invalid candidate")
			case IsStorage(err):
				result.Requeued++
				p.logger.Error().Err(err).Str("source_url", candidate.Source.URL).Msg("storage failure; candidate requeued")
				if requeue != nil {
					requeue(candidate)
				}
			default:
				result.Requeued++
				p.logger.Error().Err(err).Str("source_url", candidate.Source.URL).Msg("unexpected resolver failure; candidate requeued")
				if requeue != nil {
					requeue(candidate)
				}
			}
			return nil
		})
	}

	err := group.Wait()
	return result, err
}
