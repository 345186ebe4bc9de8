package reduce

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/searchplatform/search-reduce/internal/aggs"
	pkgerrors "github.com/searchplatform/search-reduce/pkg/errors"
)

// QueryPhaseResultConsumer accumulates per-shard query results as they stream
// in from concurrent shard completions, and batches partial aggregation trees
// so peak memory stays bounded by the batched reduce size instead of the
// shard count.
//
// Two modes, chosen up front from the expected shard count and the request
// shape, before any result arrives:
//
//   - direct: aggregations absent, or expected shards fit in one batch. All
//     partial trees are retained on their results and merged once at final
//     reduce time.
//   - buffered: a fixed slot array of capacity bufferSize accumulates one
//     consumed tree per arriving shard. When it fills, an intermediate merge
//     (no pipeline aggregations) folds the slots together with the previous
//     intermediate result, empties the array, and counts one additional
//     reduce phase.
//
// ConsumeResult is safe for concurrent use; the slot array append-and-flush
// is the only part of the subsystem that needs mutual exclusion.
type QueryPhaseResultConsumer struct {
	expectedShards int
	bufferSize     int
	buffered       bool
	pipelines      []aggs.PipelineSpec

	mu        sync.Mutex
	results   []*ShardQueryResult
	buffer    []*aggs.Aggregations
	lastMerge *aggs.Aggregations
	flushes   int

	logger *slog.Logger
}

// NewQueryPhaseResultConsumer sizes a consumer for expectedShards results.
// batchedReduceSize is rejected, never clamped, when it cannot satisfy the
// buffering invariants.
func NewQueryPhaseResultConsumer(expectedShards, batchedReduceSize int, hasAggs bool, pipelines []aggs.PipelineSpec) (*QueryPhaseResultConsumer, error) {
	if expectedShards <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.ErrInvalidConfig, http.StatusBadRequest,
			"expected shard count must be positive, got %d", expectedShards)
	}
	if expectedShards > 1 && batchedReduceSize < 2 {
		return nil, pkgerrors.Newf(pkgerrors.ErrInvalidConfig, http.StatusBadRequest,
			"batched reduce size must be at least 2 with %d shards expected, got %d", expectedShards, batchedReduceSize)
	}
	c := &QueryPhaseResultConsumer{
		expectedShards: expectedShards,
		bufferSize:     batchedReduceSize,
		buffered:       hasAggs && batchedReduceSize < expectedShards,
		pipelines:      pipelines,
		results:        make([]*ShardQueryResult, expectedShards),
		logger:         slog.Default().With("component", "query-phase-consumer"),
	}
	if c.buffered {
		c.buffer = make([]*aggs.Aggregations, 0, c.bufferSize)
	}
	return c, nil
}

// ConsumeResult records one shard's query result. In buffered mode the
// shard's aggregation tree is consumed immediately and an intermediate merge
// runs when the slot array fills. Concurrent calls serialize internally.
//
// On an intermediate merge error the shard is not registered at all: its tree
// is dropped from the buffer and its hits never reach the final merge, so a
// shard the caller counts as failed contributes nothing.
func (c *QueryPhaseResultConsumer) ConsumeResult(result *ShardQueryResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Shard < 0 || result.Shard >= c.expectedShards {
		panic(fmt.Sprintf("reduce: shard index %d outside expected range [0,%d)", result.Shard, c.expectedShards))
	}
	if c.results[result.Shard] != nil {
		panic(fmt.Sprintf("reduce: shard %d reported twice", result.Shard))
	}

	if c.buffered && result.HasAggs() {
		c.buffer = append(c.buffer, result.ConsumeAggs())
		if len(c.buffer) >= c.bufferSize {
			parts := c.buffer
			if c.lastMerge != nil {
				parts = append([]*aggs.Aggregations{c.lastMerge}, parts...)
			}
			merged, err := aggs.Merge(parts, nil)
			if err != nil {
				c.buffer = c.buffer[:len(c.buffer)-1]
				return fmt.Errorf("intermediate aggregation reduce: %w", err)
			}
			c.buffer = c.buffer[:0]
			c.lastMerge = merged
			c.flushes++
			c.logger.Debug("aggregation buffer flushed",
				"flushes", c.flushes,
				"buffer_size", c.bufferSize,
			)
		}
	}

	c.results[result.Shard] = result
	return nil
}

// Results returns the accumulated per-shard results, sparse, slot = shard
// index. Call only after the scatter phase is closed.
func (c *QueryPhaseResultConsumer) Results() []*ShardQueryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ShardQueryResult, len(c.results))
	copy(out, c.results)
	return out
}

// Flushes returns the number of intermediate reduce passes triggered so far.
func (c *QueryPhaseResultConsumer) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Reduce runs the final reduction pass over everything consumed so far. The
// final pass is the first to apply pipeline aggregations, so the reduce-phase
// count is always the intermediate flush count plus one.
func (c *QueryPhaseResultConsumer) Reduce() (ReducedQueryPhase, error) {
	c.mu.Lock()
	results := make([]*ShardQueryResult, len(c.results))
	copy(results, c.results)
	var buffered []*aggs.Aggregations
	if c.buffered {
		buffered = make([]*aggs.Aggregations, 0, len(c.buffer)+1)
		if c.lastMerge != nil {
			buffered = append(buffered, c.lastMerge)
		}
		buffered = append(buffered, c.buffer...)
	}
	numReducePhases := c.flushes + 1
	c.mu.Unlock()

	return Reduce(results, buffered, c.pipelines, numReducePhases)
}
