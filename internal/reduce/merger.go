package reduce

import (
	"github.com/searchplatform/search-reduce/internal/search"
)

// MergeTopDocs merges the per-shard ranked doc arrays into one globally
// ordered, paginated slice. perShardResults is a sparse slice indexed by
// shard: slots whose shard produced no result are nil.
//
// ignoreFrom disables the pagination offset entirely, used for scroll-style
// continuations that need every hit from position 0.
//
// Completion-suggestion option docs are appended after the regular hits,
// grouped contiguously per suggestion in suggestion-name order, so the
// returned length equals merged regular hits plus the sum of all completion
// option counts. Callers slice the array back apart with that invariant.
func MergeTopDocs(ignoreFrom bool, perShardResults []*ShardQueryResult) []ScoreDoc {
	var rep *ShardQueryResult
	var withHits []*ShardQueryResult
	for _, r := range perShardResults {
		if r == nil {
			continue
		}
		if rep == nil {
			rep = r
		}
		r.annotateShard()
		if r.hasHits() {
			withHits = append(withHits, r)
		}
	}
	if rep == nil {
		return nil
	}

	from, size := rep.From, rep.Size
	if ignoreFrom {
		from = 0
	}

	var merged []ScoreDoc
	switch {
	case len(withHits) == 0:
		// Every shard reported zero hits. Not an error: the caller's
		// IsEmpty check on the reduced phase handles it, and completion
		// suggestions may still contribute docs below.
	case len(withHits) == 1:
		// Single-result fast path: slice the one shard's docs directly
		// instead of building the k-way merge machinery.
		docs := withHits[0].TopDocs.ScoreDocs
		if from > len(docs) {
			from = len(docs)
		}
		end := from + size
		if end > len(docs) {
			end = len(docs)
		}
		merged = append(merged, docs[from:end]...)
	default:
		// General path: fill absent shard slots with an empty placeholder of
		// the representative's variant so the merge runs over homogeneous
		// containers.
		kind := rep.TopDocs.Kind
		sortFields := rep.TopDocs.SortFields
		shardTopDocs := make([]TopDocs, len(perShardResults))
		for i, r := range perShardResults {
			if r == nil {
				shardTopDocs[i] = emptyTopDocsLike(rep.TopDocs)
				continue
			}
			shardTopDocs[i] = r.TopDocs
		}
		merged = mergeTopDocs(from, size, kind, sortFields, shardTopDocs)
	}

	return append(merged, completionSuggestionDocs(perShardResults)...)
}

// completionSuggestionDocs reduces completion-type suggestions across shards
// and returns their backing docs, grouped per suggestion in name order. The
// reduction uses the same per-type reducer as the query-phase reduce, so the
// option order here matches the reduced suggestion set exactly.
func completionSuggestionDocs(perShardResults []*ShardQueryResult) []ScoreDoc {
	groups := make(map[string][]search.Suggestion)
	for _, r := range perShardResults {
		if r == nil {
			continue
		}
		for _, s := range r.Suggest {
			if s.Kind != search.SuggestCompletion {
				continue
			}
			tagged := s
			tagged.Options = make([]search.SuggestOption, len(s.Options))
			for i, opt := range s.Options {
				opt.Shard = r.Shard
				tagged.Options[i] = opt
			}
			groups[s.Name] = append(groups[s.Name], tagged)
		}
	}
	if len(groups) == 0 {
		return nil
	}

	reduced, err := search.ReduceSuggestions(groups)
	if err != nil {
		// Completion reduction is built in; a missing reducer here is a
		// programming error.
		panic("reduce: " + err.Error())
	}
	var docs []ScoreDoc
	for _, s := range reduced {
		for _, opt := range s.Options {
			docs = append(docs, ScoreDoc{
				Doc:   opt.Doc,
				Score: float32(opt.Score),
				Shard: opt.Shard,
			})
		}
	}
	return docs
}
