package reduce

import (
	"fmt"
	"math"

	"github.com/searchplatform/search-reduce/internal/aggs"
	"github.com/searchplatform/search-reduce/internal/search"
)

// Reduce combines the accumulated per-shard query results into one
// ReducedQueryPhase. perShardResults is sparse, slot = shard index.
// bufferedAggs is non-nil when the consumer ran in buffered mode and holds
// the surviving slot contents; in direct mode it is nil and each result's
// aggregation tree is consumed here instead. numReducePhases counts this
// final pass plus every intermediate flush and must be at least 1; a zero
// means the caller forgot to count the pass it is invoking, which is a bug,
// not an input condition.
func Reduce(perShardResults []*ShardQueryResult, bufferedAggs []*aggs.Aggregations, pipelines []aggs.PipelineSpec, numReducePhases int) (ReducedQueryPhase, error) {
	if numReducePhases < 1 {
		panic(fmt.Sprintf("reduce: numReducePhases must be >= 1, got %d", numReducePhases))
	}

	var rep *ShardQueryResult
	var present []*ShardQueryResult
	for _, r := range perShardResults {
		if r == nil {
			continue
		}
		if rep == nil {
			rep = r
		}
		present = append(present, r)
	}
	if rep == nil {
		// No shard responded. Legitimate: zero totals, empty marker.
		return ReducedQueryPhase{
			MaxScore:        ScoreNone(),
			NumReducePhases: numReducePhases,
		}, nil
	}

	// One representative result is trusted to reflect the shape of every
	// shard's result, since all shards execute the same request.
	hasSuggest := len(rep.Suggest) > 0
	hasProfile := rep.Profile != nil
	consumeAggs := bufferedAggs == nil && rep.HasAggs()

	reduced := ReducedQueryPhase{
		MaxScore:        ScoreNone(),
		Representative:  rep,
		NumReducePhases: numReducePhases,
	}
	var suggestGroups map[string][]search.Suggestion
	if hasSuggest {
		suggestGroups = make(map[string][]search.Suggestion)
	}
	if hasProfile {
		reduced.Profile = make(map[string]search.ProfileShardResult, len(present))
	}
	var aggParts []*aggs.Aggregations
	if consumeAggs {
		aggParts = make([]*aggs.Aggregations, 0, len(present))
	}

	for _, r := range present {
		reduced.TotalHits += r.TopDocs.TotalHits
		reduced.FetchHits += len(r.TopDocs.ScoreDocs)
		if !math.IsNaN(float64(r.MaxScore)) {
			if math.IsNaN(float64(reduced.MaxScore)) || r.MaxScore > reduced.MaxScore {
				reduced.MaxScore = r.MaxScore
			}
		}
		reduced.TimedOut = reduced.TimedOut || r.TimedOut
		if r.TerminatedEarly != nil {
			if reduced.TerminatedEarly == nil || *r.TerminatedEarly {
				v := *r.TerminatedEarly
				reduced.TerminatedEarly = &v
			}
		}
		if hasSuggest {
			for _, s := range r.Suggest {
				tagged := s
				tagged.Options = make([]search.SuggestOption, len(s.Options))
				for i, opt := range s.Options {
					opt.Shard = r.Shard
					tagged.Options[i] = opt
				}
				suggestGroups[s.Name] = append(suggestGroups[s.Name], tagged)
			}
		}
		if hasProfile && r.Profile != nil {
			reduced.Profile[r.Target] = *r.Profile
		}
		if consumeAggs && r.HasAggs() {
			aggParts = append(aggParts, r.ConsumeAggs())
		}
	}

	if hasSuggest {
		suggest, err := search.ReduceSuggestions(suggestGroups)
		if err != nil {
			return ReducedQueryPhase{}, fmt.Errorf("reducing suggestions: %w", err)
		}
		reduced.Suggest = suggest
	}

	if bufferedAggs != nil {
		aggParts = bufferedAggs
	}
	if len(aggParts) > 0 {
		if pipelines == nil {
			pipelines = []aggs.PipelineSpec{}
		}
		merged, err := aggs.Merge(aggParts, pipelines)
		if err != nil {
			return ReducedQueryPhase{}, fmt.Errorf("final aggregation reduce: %w", err)
		}
		reduced.Aggregations = merged
	}

	return reduced, nil
}
