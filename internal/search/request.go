// Package search defines the request and response model shared by the HTTP
// layer, the shard executors, and the reduction engine.
package search

import (
	"github.com/searchplatform/search-reduce/internal/aggs"
)

// Field names with reserved sort semantics.
const (
	ScoreField = "_score"
	DocField   = "_doc"
)

// SortField is one element of a multi-field sort specification.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// IsScore reports whether the field sorts on the relevance score.
func (f SortField) IsScore() bool { return f.Field == ScoreField }

// Collapse groups hits by a field value, retaining at most one hit per
// distinct value. Inner ordering within a group follows the request sort.
type Collapse struct {
	Field string `json:"field"`
}

// Request describes one search across all shards. Every shard executes the
// same request, so a single representative shard result is trusted to reflect
// the shape (sort, collapse, aggregations, suggestions) of all of them.
type Request struct {
	Query string `json:"query"`
	From  int    `json:"from"`
	Size  int    `json:"size"`

	// Sort is the multi-field sort specification; empty means descending
	// relevance score.
	Sort     []SortField `json:"sort,omitempty"`
	Collapse *Collapse   `json:"collapse,omitempty"`

	Suggest   []SuggestSpec       `json:"suggest,omitempty"`
	Aggs      []aggs.Spec         `json:"aggs,omitempty"`
	Pipelines []aggs.PipelineSpec `json:"pipelines,omitempty"`

	// BatchedReduceSize bounds how many partial aggregation trees are held in
	// memory before an intermediate reduce pass folds them into one.
	BatchedReduceSize int `json:"batched_reduce_size,omitempty"`

	// Scroll marks a scroll-style continuation: pagination offset is ignored
	// and every hit from position 0 is merged.
	Scroll bool `json:"scroll,omitempty"`

	// DfsQueryThenFetch runs a statistics-gathering pre-pass so every shard
	// scores with corpus-wide term statistics.
	DfsQueryThenFetch bool `json:"dfs,omitempty"`

	// TerminateAfter stops per-shard collection after this many matches;
	// shards report the early termination in their results. Zero disables.
	TerminateAfter int `json:"terminate_after,omitempty"`

	// Profile asks every shard to attach query-phase profiling data.
	Profile bool `json:"profile,omitempty"`
}

// HasAggs reports whether the request declares any aggregations.
func (r *Request) HasAggs() bool { return len(r.Aggs) > 0 }

// SuggestSpec declares one named suggester.
type SuggestSpec struct {
	Name   string         `json:"name"`
	Kind   SuggestionKind `json:"kind"`
	Prefix string         `json:"prefix"`
	Size   int            `json:"size,omitempty"`
}
