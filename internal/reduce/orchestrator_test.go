package reduce

import (
	"math"
	"testing"

	"github.com/searchplatform/search-reduce/internal/aggs"
	"github.com/searchplatform/search-reduce/internal/search"
)

func TestReduceEmpty(t *testing.T) {
	reduced, err := Reduce([]*ShardQueryResult{nil, nil}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reduced.IsEmpty() {
		t.Error("expected empty reduced phase")
	}
	if reduced.TotalHits != 0 {
		t.Errorf("TotalHits = %d, want 0", reduced.TotalHits)
	}
	if !math.IsNaN(float64(reduced.MaxScore)) {
		t.Errorf("MaxScore = %v, want NaN", reduced.MaxScore)
	}
	if reduced.NumReducePhases != 1 {
		t.Errorf("NumReducePhases = %d, want 1", reduced.NumReducePhases)
	}
}

func TestReduceAccumulatesTotals(t *testing.T) {
	r0 := plainResult(t, 0, 0, 10, 11, 5.0, 3.0)
	r1 := plainResult(t, 1, 0, 10, 7, 4.5)
	r1.TimedOut = true

	reduced, err := Reduce([]*ShardQueryResult{r0, r1}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if reduced.TotalHits != 18 {
		t.Errorf("TotalHits = %d, want 18", reduced.TotalHits)
	}
	if reduced.FetchHits != 3 {
		t.Errorf("FetchHits = %d, want 3", reduced.FetchHits)
	}
	if reduced.MaxScore != 5.0 {
		t.Errorf("MaxScore = %v, want 5.0", reduced.MaxScore)
	}
	if !reduced.TimedOut {
		t.Error("TimedOut should propagate from any shard")
	}
	if reduced.Representative != r0 {
		t.Error("representative should be the first non-nil result")
	}
}

func TestReduceMaxScoreIgnoresUnset(t *testing.T) {
	r0 := plainResult(t, 0, 0, 10, 1, 2.5)
	r1 := NewShardQueryResult(1, "shard-1") // MaxScore stays NaN
	r1.TopDocs = TopDocs{Kind: TopDocsPlain, TotalHits: 1}

	reduced, err := Reduce([]*ShardQueryResult{r0, r1}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if reduced.MaxScore != 2.5 {
		t.Errorf("MaxScore = %v, want 2.5", reduced.MaxScore)
	}
}

func TestReduceTerminatedEarlyTriState(t *testing.T) {
	tr, fa := true, false
	tests := []struct {
		name    string
		reports []*bool
		want    *bool
	}{
		{"no shard reports", []*bool{nil, nil}, nil},
		{"all false", []*bool{&fa, &fa}, &fa},
		{"any true wins", []*bool{&fa, &tr}, &tr},
		{"mixed nil and false", []*bool{nil, &fa}, &fa},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]*ShardQueryResult, len(tt.reports))
			for i, rep := range tt.reports {
				r := plainResult(t, i, 0, 10, 1, 1.0)
				r.TerminatedEarly = rep
				results[i] = r
			}
			reduced, err := Reduce(results, nil, nil, 1)
			if err != nil {
				t.Fatal(err)
			}
			switch {
			case tt.want == nil && reduced.TerminatedEarly != nil:
				t.Errorf("TerminatedEarly = %v, want nil", *reduced.TerminatedEarly)
			case tt.want != nil && reduced.TerminatedEarly == nil:
				t.Errorf("TerminatedEarly = nil, want %v", *tt.want)
			case tt.want != nil && *reduced.TerminatedEarly != *tt.want:
				t.Errorf("TerminatedEarly = %v, want %v", *reduced.TerminatedEarly, *tt.want)
			}
		})
	}
}

func TestReduceKeysProfileByTarget(t *testing.T) {
	r0 := plainResult(t, 0, 0, 10, 1, 1.0)
	r0.Profile = &search.ProfileShardResult{QueryTimeNanos: 100, CollectedHits: 1}
	r1 := plainResult(t, 1, 0, 10, 1, 1.0)
	r1.Profile = &search.ProfileShardResult{QueryTimeNanos: 250, CollectedHits: 1}

	reduced, err := Reduce([]*ShardQueryResult{r0, r1}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(reduced.Profile) != 2 {
		t.Fatalf("profile entries = %d, want 2", len(reduced.Profile))
	}
	if got := reduced.Profile["shard-1"].QueryTimeNanos; got != 250 {
		t.Errorf("profile[shard-1].QueryTimeNanos = %d, want 250", got)
	}
}

func TestReduceMergesTermSuggestions(t *testing.T) {
	mk := func(shard int, freq int64) *ShardQueryResult {
		r := plainResult(t, shard, 0, 10, 1, 1.0)
		r.Suggest = []search.Suggestion{{
			Name: "spell", Kind: search.SuggestTerm, Size: 5,
			Options: []search.SuggestOption{{Text: "golang", Freq: freq}},
		}}
		return r
	}
	reduced, err := Reduce([]*ShardQueryResult{mk(0, 3), mk(1, 4)}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(reduced.Suggest) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(reduced.Suggest))
	}
	opts := reduced.Suggest[0].Options
	if len(opts) != 1 || opts[0].Freq != 7 {
		t.Errorf("merged options = %+v, want one 'golang' with freq 7", opts)
	}
}

func TestReduceUsesBufferedAggsOverConsumed(t *testing.T) {
	// In buffered mode the shard results' trees were already consumed; the
	// reducer must use the handed-in buffer and never re-consume.
	r0 := countResult(t, 0, 10)
	consumed := r0.ConsumeAggs()
	reduced, err := Reduce([]*ShardQueryResult{r0}, []*aggs.Aggregations{consumed}, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := reducedCount(t, reduced); got != 10 {
		t.Errorf("merged count = %d, want 10", got)
	}
	if reduced.NumReducePhases != 2 {
		t.Errorf("NumReducePhases = %d, want 2", reduced.NumReducePhases)
	}
}

func TestReducePanicsOnZeroPhases(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for numReducePhases < 1")
		}
	}()
	Reduce(nil, nil, nil, 0)
}
