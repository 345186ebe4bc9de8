package reduce

import (
	"fmt"
	"math"

	"github.com/searchplatform/search-reduce/internal/search"
)

// DocsToLoad maps the merged, globally ordered doc list back to per-shard
// doc-ordinal batches for the fetch phase. The returned slice is indexed by
// shard; each shard's ordinals appear in merged-list order, which is also the
// order response assembly consumes that shard's fetch results in.
func DocsToLoad(mergedDocs []ScoreDoc, numShards int) [][]int {
	batches := make([][]int, numShards)
	for _, doc := range mergedDocs {
		if doc.Shard < 0 || doc.Shard >= numShards {
			panic(fmt.Sprintf("reduce: merged doc carries shard %d outside [0,%d)", doc.Shard, numShards))
		}
		batches[doc.Shard] = append(batches[doc.Shard], doc.Doc)
	}
	return batches
}

// AssembleResponse recombines fetched document bodies with their merged
// ordering positions into the final response envelope.
//
// mergedDocs is the output of MergeTopDocs: regular hits occupy the prefix,
// completion-suggestion docs the suffix, grouped per suggestion in name
// order. fetchResults is sparse, slot = shard index; each present shard's
// hits are consumed in strict incrementing order through a cursor reset here,
// so every assembly owns its own consumption state.
//
// A mismatch between the docs the merge selected and the hits the fetch
// phase returned means the two phases desynchronized; that is asserted, not
// papered over.
func AssembleResponse(query string, reduced ReducedQueryPhase, mergedDocs []ScoreDoc, fetchResults []*ShardFetchResult) (*search.Response, error) {
	resp := &search.Response{
		Query:           query,
		TimedOut:        reduced.TimedOut,
		TerminatedEarly: reduced.TerminatedEarly,
		NumReducePhases: reduced.NumReducePhases,
		Hits: search.Hits{
			Total: reduced.TotalHits,
			Hits:  []search.Hit{},
		},
	}
	if !math.IsNaN(float64(reduced.MaxScore)) {
		maxScore := float64(reduced.MaxScore)
		resp.Hits.MaxScore = &maxScore
	}
	if reduced.Aggregations != nil {
		resp.Aggregations = reduced.Aggregations.Render()
	}
	if reduced.Profile != nil {
		resp.Profile = reduced.Profile
	}

	completion := reduced.CompletionSuggestions()
	suggestionDocs := 0
	for _, s := range completion {
		suggestionDocs += len(s.Options)
	}
	regular := len(mergedDocs) - suggestionDocs
	if regular < 0 {
		panic(fmt.Sprintf("reduce: merged doc list (%d) shorter than completion suggestion docs (%d)", len(mergedDocs), suggestionDocs))
	}

	for _, fr := range fetchResults {
		if fr != nil {
			fr.reset()
		}
	}

	var sortFields []search.SortField
	scoreSortIdx := -1
	if rep := reduced.Representative; rep != nil && rep.TopDocs.Kind != TopDocsPlain {
		sortFields = rep.TopDocs.SortFields
		for i, f := range sortFields {
			if f.IsScore() {
				scoreSortIdx = i
				break
			}
		}
	}

	consumed := 0
	for ; consumed < regular; consumed++ {
		doc := mergedDocs[consumed]
		hit := nextFetchedHit(fetchResults, doc.Shard)
		hit.Shard = doc.Shard
		if sortFields != nil {
			hit.SortValues = doc.SortValues
			if scoreSortIdx >= 0 {
				// One sort field is the relevance score itself; the hit's
				// final score comes from that sort value.
				if v, ok := toFloat(sortValueAt(doc, scoreSortIdx)); ok {
					hit.Score = &v
				}
			}
		} else if !math.IsNaN(float64(doc.Score)) {
			score := float64(doc.Score)
			hit.Score = &score
		}
		resp.Hits.Hits = append(resp.Hits.Hits, hit)
	}

	// Suggestion suffix: splice fetched bodies into the matching completion
	// options rather than the main hit list.
	suggest := make(map[string]search.Suggestion, len(reduced.Suggest))
	for _, s := range reduced.Suggest {
		suggest[s.Name] = s
	}
	for _, s := range completion {
		spliced := suggest[s.Name]
		for i := range spliced.Options {
			doc := mergedDocs[consumed]
			if doc.Shard != spliced.Options[i].Shard {
				panic(fmt.Sprintf("reduce: suggestion doc at %d owned by shard %d, option expects shard %d",
					consumed, doc.Shard, spliced.Options[i].Shard))
			}
			hit := nextFetchedHit(fetchResults, doc.Shard)
			hit.Shard = doc.Shard
			score := float64(doc.Score)
			hit.Score = &score
			spliced.Options[i].Hit = &hit
			consumed++
		}
		suggest[s.Name] = spliced
	}
	if len(suggest) > 0 {
		resp.Suggest = suggest
	}

	if consumed != len(mergedDocs) {
		panic(fmt.Sprintf("reduce: assembled %d docs, merged list has %d, merge/fetch desynchronization", consumed, len(mergedDocs)))
	}
	return resp, nil
}

func nextFetchedHit(fetchResults []*ShardFetchResult, shard int) search.Hit {
	if shard < 0 || shard >= len(fetchResults) || fetchResults[shard] == nil {
		panic(fmt.Sprintf("reduce: no fetch result for shard %d", shard))
	}
	return fetchResults[shard].nextHit()
}
