// Package reduce implements the search-phase reduction engine: merging
// per-shard ranked results into one globally ordered, bounded response,
// incrementally reducing partial aggregation trees, and recombining
// fetch-phase document bodies with their merged positions.
//
// The package is pure in-process merge logic. Per-shard query and fetch
// execution are collaborators invoked by the scatter layer; results are fed
// in as they arrive, in any order, and the final ordering is a strict
// function of scores, sort values, and shard index.
package reduce

import (
	"math"
	"sync/atomic"

	"github.com/searchplatform/search-reduce/internal/aggs"
	"github.com/searchplatform/search-reduce/internal/search"
)

// UnsetShard marks a ScoreDoc whose owning shard has not been annotated yet.
const UnsetShard = -1

// ScoreNone is the unset relevance score.
func ScoreNone() float32 { return float32(math.NaN()) }

// ScoreDoc references one matched document: its ordinal within the owning
// shard, its ranking value(s), and the shard it came from. A ScoreDoc is
// immutable once produced by a shard; the reducer may only fill in Shard if
// it was previously unset.
type ScoreDoc struct {
	// Doc is the document ordinal within the owning shard.
	Doc int
	// Score is the relevance score; NaN means unset (pure field sort).
	Score float32
	// Shard is the owning shard index, used as the ordering tie-break.
	Shard int
	// SortValues holds one value per declared sort field; nil unless the
	// request sorts on fields. A sort field on the relevance score carries
	// the score as a float64 in its slot.
	SortValues []any
}

// TopDocsKind tags the variant of a per-shard top-docs container. All shards
// of one query produce the same kind, selected once from the representative
// result, and absent shard slots are filled with an empty instance of that
// same kind so the k-way merge runs homogeneously.
type TopDocsKind int

const (
	// TopDocsPlain ranks by relevance score only.
	TopDocsPlain TopDocsKind = iota
	// TopDocsFieldSorted ranks by a multi-field sort specification.
	TopDocsFieldSorted
	// TopDocsCollapsed is field-sorted with at most one hit per distinct
	// collapse-field value.
	TopDocsCollapsed
)

// TopDocs is a bounded ranked score-doc array from one shard, plus the
// metadata needed to merge it against other shards' arrays.
type TopDocs struct {
	Kind      TopDocsKind
	TotalHits int64
	ScoreDocs []ScoreDoc

	// SortFields is set for TopDocsFieldSorted and TopDocsCollapsed.
	SortFields []search.SortField
	// CollapseField and CollapseValues are set for TopDocsCollapsed;
	// CollapseValues holds the collapse key of each score doc, parallel to
	// ScoreDocs.
	CollapseField  string
	CollapseValues []any
}

// emptyTopDocsLike returns an empty placeholder of the same variant as ref,
// used to fill shard slots that produced no result.
func emptyTopDocsLike(ref TopDocs) TopDocs {
	return TopDocs{
		Kind:          ref.Kind,
		SortFields:    ref.SortFields,
		CollapseField: ref.CollapseField,
	}
}

// ShardQueryResult is one shard's contribution to the query phase: its ranked
// score docs plus optional partial aggregation tree, suggestion results, and
// profiling payload. It is created once per shard per query phase and never
// mutated by the reducer, except that the aggregation payload is consumed
// (moved out) exactly once.
type ShardQueryResult struct {
	// Shard is the originating shard index.
	Shard int
	// Target identifies the shard for profile keying, e.g. "shard-3".
	Target string

	TopDocs TopDocs
	// MaxScore is the largest score this shard saw; NaN when it saw none.
	MaxScore float32
	// From and Size echo the pagination hint the shard executed with.
	From int
	Size int

	TimedOut bool
	// TerminatedEarly is nil when the shard did not report, otherwise the
	// reported value.
	TerminatedEarly *bool

	Suggest []search.Suggestion
	Profile *search.ProfileShardResult

	aggregations *aggs.Aggregations
	aggsConsumed atomic.Bool
}

// NewShardQueryResult creates a result shell for the given shard.
func NewShardQueryResult(shard int, target string) *ShardQueryResult {
	return &ShardQueryResult{
		Shard:    shard,
		Target:   target,
		MaxScore: ScoreNone(),
	}
}

// SetAggregations attaches the shard's partial aggregation tree. Called once
// by the producing shard executor.
func (r *ShardQueryResult) SetAggregations(a *aggs.Aggregations) {
	r.aggregations = a
}

// HasAggs reports whether an unconsumed aggregation tree is attached.
func (r *ShardQueryResult) HasAggs() bool {
	return r.aggregations != nil && !r.aggsConsumed.Load()
}

// ConsumeAggs moves the partial aggregation tree out of the result. The move
// happens exactly once per result, either on arrival (incremental mode) or at
// final-reduce time (buffered mode); a second consumption would corrupt
// merged sums, so it panics instead of returning empty or duplicate data.
func (r *ShardQueryResult) ConsumeAggs() *aggs.Aggregations {
	if !r.aggsConsumed.CompareAndSwap(false, true) {
		panic("reduce: aggregations of shard result consumed twice")
	}
	a := r.aggregations
	r.aggregations = nil
	return a
}

// hasHits reports whether the shard contributed any ranked docs.
func (r *ShardQueryResult) hasHits() bool {
	return r != nil && len(r.TopDocs.ScoreDocs) > 0
}

// annotateShard fills the owning shard index into every score doc that does
// not carry one yet. This is the sole mutation the reducer performs on a
// shard's docs.
func (r *ShardQueryResult) annotateShard() {
	for i := range r.TopDocs.ScoreDocs {
		if r.TopDocs.ScoreDocs[i].Shard == UnsetShard {
			r.TopDocs.ScoreDocs[i].Shard = r.Shard
		}
	}
}

// ShardFetchResult carries the materialized document bodies for one shard, in
// the exact order their ordinals were requested. Consumption during response
// assembly is strictly sequential through a per-shard cursor owned by this
// wrapper; each query's assembly resets and owns its own cursors.
type ShardFetchResult struct {
	Shard int
	Hits  []search.Hit

	cursor int
}

func (r *ShardFetchResult) reset() { r.cursor = 0 }

// nextHit returns the next unconsumed fetched hit. Running past the end means
// the merge and fetch phases disagreed about which docs were requested, which
// is a contract violation, not a recoverable condition.
func (r *ShardFetchResult) nextHit() search.Hit {
	if r.cursor >= len(r.Hits) {
		panic("reduce: fetch results for shard exhausted, merge/fetch desynchronization")
	}
	hit := r.Hits[r.cursor]
	r.cursor++
	return hit
}

// ReducedQueryPhase is the single immutable output of query-phase reduction,
// fed into fetch-phase coordination and final response assembly.
type ReducedQueryPhase struct {
	// TotalHits is the summed (possibly approximate) hit count across shards.
	TotalHits int64
	// FetchHits is the summed count of ranked docs actually returned.
	FetchHits int
	// MaxScore is the largest score across shards, NaN if none scored.
	MaxScore float32
	// TimedOut is true when any shard timed out.
	TimedOut bool
	// TerminatedEarly is nil unless at least one shard reported a value;
	// true if any shard reported true.
	TerminatedEarly *bool

	// Representative is one arbitrary non-nil shard result used for shared
	// metadata (sort fields, pagination). Nil only in the legitimate
	// zero-shards-responded case.
	Representative *ShardQueryResult

	Suggest      []search.Suggestion
	Aggregations *aggs.Aggregations
	Profile      map[string]search.ProfileShardResult

	// NumReducePhases counts the reduce passes applied, always >= 1.
	NumReducePhases int
}

// IsEmpty reports the zero-shards-responded case.
func (r ReducedQueryPhase) IsEmpty() bool { return r.Representative == nil }

// CompletionSuggestions returns the reduced completion-type suggestions in
// suggestion-name order, matching the order their backing docs occupy in the
// merged doc list suffix.
func (r ReducedQueryPhase) CompletionSuggestions() []search.Suggestion {
	var out []search.Suggestion
	for _, s := range r.Suggest {
		if s.Kind == search.SuggestCompletion {
			out = append(out, s)
		}
	}
	return out
}
