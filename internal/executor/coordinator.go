// Package executor coordinates the scatter side of a search: fanning the
// query phase out to every shard, feeding arriving results into the
// query-phase consumer, reducing, and driving the fetch phase for the merged
// doc list.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchplatform/search-reduce/internal/reduce"
	"github.com/searchplatform/search-reduce/internal/search"
	"github.com/searchplatform/search-reduce/pkg/config"
	pkgerrors "github.com/searchplatform/search-reduce/pkg/errors"
	"github.com/searchplatform/search-reduce/pkg/logger"
	"github.com/searchplatform/search-reduce/pkg/metrics"
	"github.com/searchplatform/search-reduce/pkg/resilience"
	"github.com/searchplatform/search-reduce/pkg/tracing"
)

// ShardExecutor is one shard's phase surface. Implementations must be safe
// for concurrent calls.
type ShardExecutor interface {
	Target() string
	ExecuteDfs(ctx context.Context, query string) (*reduce.DfsResult, error)
	ExecuteQuery(ctx context.Context, req *search.Request, dfs *reduce.AggregatedDfs) (*reduce.ShardQueryResult, error)
	ExecuteFetch(ctx context.Context, ordinals []int) (*reduce.ShardFetchResult, error)
}

// Coordinator runs searches across a fixed set of shard executors.
type Coordinator struct {
	shards  []ShardExecutor
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCoordinator wires the coordinator; m may be nil in tests.
func NewCoordinator(shards []ShardExecutor, cfg config.SearchConfig, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		shards:  shards,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "coordinator"),
	}
}

// Search executes one request end to end: optional dfs pre-pass, query-phase
// scatter, incremental reduction, fetch, and response assembly.
func (c *Coordinator) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	started := time.Now()
	if err := c.normalize(req); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "search", logger.QueryID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()

	var dfs *reduce.AggregatedDfs
	if req.DfsQueryThenFetch {
		err := tracing.Timed(ctx, "dfs", func(ctx context.Context) error {
			var err error
			dfs, err = c.gatherDfs(ctx, req.Query)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	consumer, err := reduce.NewQueryPhaseResultConsumer(
		len(c.shards), req.BatchedReduceSize, req.HasAggs(), req.Pipelines)
	if err != nil {
		return nil, err
	}

	var failed int
	err = tracing.Timed(ctx, "query", func(ctx context.Context) error {
		failed = c.scatterQuery(ctx, req, dfs, consumer)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if failed == len(c.shards) {
		return nil, pkgerrors.Newf(pkgerrors.ErrAllShardsFailed, 503,
			"all %d shards failed in the query phase", len(c.shards))
	}

	var reduced reduce.ReducedQueryPhase
	var mergedDocs []reduce.ScoreDoc
	err = tracing.Timed(ctx, "reduce", func(context.Context) error {
		var err error
		reduced, err = consumer.Reduce()
		if err != nil {
			return err
		}
		mergedDocs = reduce.MergeTopDocs(req.Scroll, consumer.Results())
		return nil
	})
	if err != nil {
		return nil, err
	}

	var fetchResults []*reduce.ShardFetchResult
	err = tracing.Timed(ctx, "fetch", func(ctx context.Context) error {
		var err error
		fetchResults, err = c.scatterFetch(ctx, mergedDocs)
		return err
	})
	if err != nil {
		return nil, err
	}

	resp, err := reduce.AssembleResponse(req.Query, reduced, mergedDocs, fetchResults)
	if err != nil {
		return nil, err
	}
	span.SetAttr("shards_failed", failed)
	span.SetAttr("reduce_phases", reduced.NumReducePhases)
	resp.TookMs = time.Since(started).Milliseconds()
	resp.Shards = search.ShardStats{
		Total:      len(c.shards),
		Successful: len(c.shards) - failed,
		Failed:     failed,
	}
	c.observe(consumer, resp, len(mergedDocs))
	c.logger.Info("search completed",
		"query", req.Query,
		"hits", resp.Hits.Total,
		"returned", len(resp.Hits.Hits),
		"reduce_phases", resp.NumReducePhases,
		"shards_failed", failed,
		"took_ms", resp.TookMs,
	)
	return resp, nil
}

// normalize applies configured defaults and bounds to the request.
func (c *Coordinator) normalize(req *search.Request) error {
	if req.From < 0 || req.Size < 0 {
		return pkgerrors.New(pkgerrors.ErrInvalidInput, 400, "from and size must be non-negative")
	}
	if req.Size == 0 {
		req.Size = c.cfg.DefaultSize
	}
	if max := c.cfg.MaxResults; max > 0 && req.From+req.Size > max {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, 400,
			"from+size %d exceeds the result window limit %d", req.From+req.Size, max)
	}
	if req.BatchedReduceSize == 0 {
		req.BatchedReduceSize = c.cfg.BatchedReduceSize
	}
	return nil
}

// gatherDfs runs the statistics pre-pass on every shard and aggregates the
// results. A failed shard fails the whole pre-pass: scoring a subset of the
// corpus with statistics from a different subset would skew ranks silently.
func (c *Coordinator) gatherDfs(ctx context.Context, query string) (*reduce.AggregatedDfs, error) {
	results := make([]*reduce.DfsResult, len(c.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range c.shards {
		i, shard := i, shard
		g.Go(func() error {
			err := resilience.WithTimeout(gctx, c.cfg.TimeoutPerShard, "dfs", func(ctx context.Context) error {
				var err error
				results[i], err = shard.ExecuteDfs(ctx, query)
				return err
			})
			if err != nil {
				c.recordShardError("dfs")
				return fmt.Errorf("shard %d dfs: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reduce.AggregateDfs(results), nil
}

// scatterQuery fans the query phase out to all shards and feeds each
// successful result straight into the consumer, so buffered aggregation
// reduction overlaps with the slower shards still running. Returns the
// number of failed shards.
func (c *Coordinator) scatterQuery(ctx context.Context, req *search.Request, dfs *reduce.AggregatedDfs, consumer *reduce.QueryPhaseResultConsumer) int {
	errs := make([]error, len(c.shards))
	var wg sync.WaitGroup
	for i, shard := range c.shards {
		i, shard := i, shard
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := resilience.WithTimeout(ctx, c.cfg.TimeoutPerShard, "query", func(ctx context.Context) error {
				result, err := shard.ExecuteQuery(ctx, req, dfs)
				if err != nil {
					return err
				}
				return consumer.ConsumeResult(result)
			})
			if err != nil {
				errs[i] = fmt.Errorf("shard %d query: %w", i, err)
			}
		}()
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		c.recordShardError("query")
		c.logger.Error("shard query failed", "shard", i, "error", err)
	}
	return failed
}

// scatterFetch loads document bodies for the merged docs, one batch per shard
// that contributed. A fetch failure is fatal for the whole search: the merged
// positions already promised those documents.
func (c *Coordinator) scatterFetch(ctx context.Context, mergedDocs []reduce.ScoreDoc) ([]*reduce.ShardFetchResult, error) {
	docsByShard := reduce.DocsToLoad(mergedDocs, len(c.shards))
	fetchResults := make([]*reduce.ShardFetchResult, len(c.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, ordinals := range docsByShard {
		if len(ordinals) == 0 {
			continue
		}
		i, ordinals := i, ordinals
		g.Go(func() error {
			err := resilience.WithTimeout(gctx, c.cfg.TimeoutPerShard, "fetch", func(ctx context.Context) error {
				var err error
				fetchResults[i], err = c.shards[i].ExecuteFetch(ctx, ordinals)
				return err
			})
			if err != nil {
				c.recordShardError("fetch")
				return fmt.Errorf("shard %d fetch: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetchResults, nil
}

func (c *Coordinator) recordShardError(phase string) {
	if c.metrics != nil {
		c.metrics.ShardErrorsTotal.WithLabelValues(phase).Inc()
	}
}

func (c *Coordinator) observe(consumer *reduce.QueryPhaseResultConsumer, resp *search.Response, merged int) {
	if c.metrics == nil {
		return
	}
	c.metrics.ReducePhases.Observe(float64(resp.NumReducePhases))
	c.metrics.AggBufferFlushes.Add(float64(consumer.Flushes()))
	c.metrics.FetchedDocs.Observe(float64(merged))
}
