package scraper

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/meli-harvester/config"
	"github.com/aluiziolira/meli-harvester/models"
)

// QuestionFetcher reads the question activity of a single item.
type QuestionFetcher interface {
	QuestionActivity(ctx context.Context, itemID string) (models.QuestionFields, error)
}

// QuestionLookup resolves question activity for the products of a page with
// bounded concurrency and its own request budget.
type QuestionLookup struct {
	fetcher QuestionFetcher
	limiter *rate.Limiter
	cache   QuestionCache
	workers int
	metrics *Metrics
}

// NewQuestionLookup wires a fetcher with the question limits of cfg. cache
// and metrics may be nil.
func NewQuestionLookup(fetcher QuestionFetcher, cfg *config.Config, cache QuestionCache, metrics *Metrics) *QuestionLookup {
	workers := cfg.QuestionWorkers
	if workers <= 0 {
		workers = 1
	}
	return &QuestionLookup{
		fetcher: fetcher,
		limiter: newLimiter(cfg.QuestionsPerSecond),
		cache:   cache,
		workers: workers,
		metrics: metrics,
	}
}

// LookupAll returns the question fields of every id it could resolve and the
// number of failed lookups. A failed lookup leaves the id out of the map so
// its fields stay nil. Only context cancellation is returned as an error.
func (q *QuestionLookup) LookupAll(ctx context.Context, ids []string) (map[string]models.QuestionFields, int, error) {
	var (
		mu       sync.Mutex
		results  = make(map[string]models.QuestionFields, len(ids))
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if q.cache != nil {
				if fields, ok := q.cache.Get(gctx, id); ok {
					q.metrics.IncQuestionLookup("hit")
					mu.Lock()
					results[id] = fields
					mu.Unlock()
					return nil
				}
			}
			if err := q.limiter.Wait(gctx); err != nil {
				return err
			}

			fields, err := q.fetcher.QuestionActivity(gctx, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				q.metrics.IncQuestionLookup("error")
				slog.Debug("question lookup failed", slog.String("item", id), slog.Any("error", err))
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}

			q.metrics.IncQuestionLookup("fetched")
			if q.cache != nil {
				q.cache.Set(gctx, id, fields)
			}
			mu.Lock()
			results[id] = fields
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, failures, err
	}
	if err := ctx.Err(); err != nil {
		return results, failures, err
	}
	return results, failures, nil
}
