package reduce

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/searchplatform/search-reduce/internal/search"
)

// plainResult builds a shard result whose docs rank by the given scores,
// which must already be in descending order.
func plainResult(t *testing.T, shard, from, size int, totalHits int64, scores ...float32) *ShardQueryResult {
	t.Helper()
	r := NewShardQueryResult(shard, fmt.Sprintf("shard-%d", shard))
	r.From = from
	r.Size = size
	docs := make([]ScoreDoc, len(scores))
	for i, s := range scores {
		docs[i] = ScoreDoc{Doc: i, Score: s, Shard: UnsetShard}
		if i == 0 {
			r.MaxScore = s
		}
	}
	r.TopDocs = TopDocs{Kind: TopDocsPlain, TotalHits: totalHits, ScoreDocs: docs}
	return r
}

func positions(docs []ScoreDoc) [][2]int {
	out := make([][2]int, len(docs))
	for i, d := range docs {
		out[i] = [2]int{d.Shard, d.Doc}
	}
	return out
}

func TestMergeTopDocsSingleShardFastPath(t *testing.T) {
	tests := []struct {
		name string
		from int
		size int
		want [][2]int
	}{
		{"first page", 0, 2, [][2]int{{0, 0}, {0, 1}}},
		{"second page", 2, 2, [][2]int{{0, 2}, {0, 3}}},
		{"page past end", 3, 5, [][2]int{{0, 3}}},
		{"from past end", 9, 5, [][2]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := plainResult(t, 0, tt.from, tt.size, 4, 9.0, 7.0, 5.0, 3.0)
			merged := MergeTopDocs(false, []*ShardQueryResult{r})
			got := positions(merged)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("merged positions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeTopDocsOrdersAcrossShards(t *testing.T) {
	results := []*ShardQueryResult{
		plainResult(t, 0, 0, 3, 2, 5.0, 3.0),
		plainResult(t, 1, 0, 3, 1, 4.0),
		plainResult(t, 2, 0, 3, 2, 4.5, 4.5),
	}
	merged := MergeTopDocs(false, results)
	want := [][2]int{{0, 0}, {2, 0}, {2, 1}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged positions = %v, want %v", got, want)
	}
	if merged[0].Score != 5.0 || merged[1].Score != 4.5 {
		t.Errorf("merged scores = [%v %v %v]", merged[0].Score, merged[1].Score, merged[2].Score)
	}
}

func TestMergeTopDocsTieBreakIsDeterministic(t *testing.T) {
	// Identical scores everywhere: order must fall back to shard index, then
	// doc ordinal, regardless of the order results were handed in.
	a := []*ShardQueryResult{
		plainResult(t, 0, 0, 4, 2, 2.0, 2.0),
		plainResult(t, 1, 0, 4, 2, 2.0, 2.0),
	}
	merged := MergeTopDocs(false, a)
	want := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsSkipsNilSlots(t *testing.T) {
	results := []*ShardQueryResult{
		plainResult(t, 0, 0, 4, 1, 3.0),
		nil,
		plainResult(t, 2, 0, 4, 1, 6.0),
	}
	merged := MergeTopDocs(false, results)
	want := [][2]int{{2, 0}, {0, 0}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsScrollIgnoresFrom(t *testing.T) {
	results := []*ShardQueryResult{
		plainResult(t, 0, 2, 2, 2, 5.0, 3.0),
		plainResult(t, 1, 2, 2, 1, 4.0),
	}
	merged := MergeTopDocs(true, results)
	want := [][2]int{{0, 0}, {1, 0}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("scroll merge positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsFieldSorted(t *testing.T) {
	sortFields := []search.SortField{{Field: "year", Desc: false}}
	mk := func(shard int, years ...int64) *ShardQueryResult {
		r := NewShardQueryResult(shard, "t")
		r.Size = 10
		docs := make([]ScoreDoc, len(years))
		for i, y := range years {
			docs[i] = ScoreDoc{Doc: i, Score: ScoreNone(), Shard: UnsetShard, SortValues: []any{y}}
		}
		r.TopDocs = TopDocs{Kind: TopDocsFieldSorted, TotalHits: int64(len(years)), ScoreDocs: docs, SortFields: sortFields}
		return r
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{
		mk(0, 2020, 2024),
		mk(1, 2021, 2022),
	})
	want := [][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("field-sorted positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsCollapseDropsDuplicateKeys(t *testing.T) {
	sortFields := []search.SortField{{Field: search.ScoreField, Desc: true}}
	mk := func(shard int, keys []any, scores ...float32) *ShardQueryResult {
		r := NewShardQueryResult(shard, "t")
		r.Size = 10
		docs := make([]ScoreDoc, len(scores))
		for i, s := range scores {
			docs[i] = ScoreDoc{Doc: i, Score: ScoreNone(), Shard: UnsetShard, SortValues: []any{float64(s)}}
		}
		r.TopDocs = TopDocs{
			Kind:           TopDocsCollapsed,
			TotalHits:      int64(len(scores)),
			ScoreDocs:      docs,
			SortFields:     sortFields,
			CollapseField:  "category",
			CollapseValues: keys,
		}
		return r
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{
		mk(0, []any{"go", "storage"}, 9.0, 5.0),
		mk(1, []any{"go", "caching"}, 8.0, 6.0),
	})
	// The second "go" doc (shard 1, score 8.0) collapses away.
	want := [][2]int{{0, 0}, {1, 1}, {0, 1}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("collapsed positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsAppendsCompletionSuffix(t *testing.T) {
	r0 := plainResult(t, 0, 0, 2, 1, 3.0)
	r0.Suggest = []search.Suggestion{{
		Name: "titles", Kind: search.SuggestCompletion, Size: 3,
		Options: []search.SuggestOption{{Text: "alpha", Score: 2, Doc: 7}},
	}}
	r1 := plainResult(t, 1, 0, 2, 1, 4.0)
	r1.Suggest = []search.Suggestion{{
		Name: "titles", Kind: search.SuggestCompletion, Size: 3,
		Options: []search.SuggestOption{{Text: "beta", Score: 5, Doc: 2}},
	}}
	merged := MergeTopDocs(false, []*ShardQueryResult{r0, r1})

	// Two regular hits, then suggestion docs in reduced option order
	// (score descending).
	want := [][2]int{{1, 0}, {0, 0}, {1, 2}, {0, 7}}
	if got := positions(merged); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged positions = %v, want %v", got, want)
	}
}

func TestMergeTopDocsFastPathMatchesGeneralMerge(t *testing.T) {
	// A lone responding shard takes the slicing fast path. Running the same
	// docs through the k-way merge padded with empty placeholders must give
	// an identical list, shard tags included.
	for _, from := range []int{0, 1, 3, 9} {
		t.Run(fmt.Sprintf("from %d", from), func(t *testing.T) {
			r := plainResult(t, 1, from, 3, 4, 9.0, 7.0, 5.0, 3.0)
			fast := MergeTopDocs(false, []*ShardQueryResult{nil, r})

			padded := []TopDocs{
				emptyTopDocsLike(r.TopDocs),
				r.TopDocs,
				emptyTopDocsLike(r.TopDocs),
			}
			general := mergeTopDocs(from, 3, r.TopDocs.Kind, r.TopDocs.SortFields, padded)

			if len(fast) != len(general) {
				t.Fatalf("fast path returned %d docs, general merge %d", len(fast), len(general))
			}
			for i := range fast {
				if !reflect.DeepEqual(fast[i], general[i]) {
					t.Errorf("doc %d: fast path %+v, general merge %+v", i, fast[i], general[i])
				}
			}
		})
	}
}

func TestMergeTopDocsPaginatesAcrossShards(t *testing.T) {
	// Interleaved scores so the offset walk crosses shard boundaries. Global
	// order: (0,0) (1,0) (2,0) (0,1) (1,1) (2,1) (0,2) (1,2) (2,2).
	global := [][2]int{
		{0, 0}, {1, 0}, {2, 0}, {0, 1}, {1, 1}, {2, 1}, {0, 2}, {1, 2}, {2, 2},
	}
	const size = 3
	for _, from := range []int{0, 2, 4, 7, 9} {
		t.Run(fmt.Sprintf("from %d", from), func(t *testing.T) {
			results := []*ShardQueryResult{
				plainResult(t, 0, from, size, 3, 9.0, 6.0, 3.0),
				plainResult(t, 1, from, size, 3, 8.0, 5.0, 2.0),
				plainResult(t, 2, from, size, 3, 7.0, 4.0, 1.0),
			}
			merged := MergeTopDocs(false, results)

			var want [][2]int
			if from < len(global) {
				end := from + size
				if end > len(global) {
					end = len(global)
				}
				want = global[from:end]
			}
			if got := positions(merged); len(got) != len(want) {
				t.Fatalf("from %d: got %d docs %v, want %d %v", from, len(got), got, len(want), want)
			} else if len(want) > 0 && !reflect.DeepEqual(got, want) {
				t.Errorf("from %d: merged positions = %v, want %v", from, got, want)
			}
		})
	}
}

func TestMergeTopDocsAllNil(t *testing.T) {
	if merged := MergeTopDocs(false, []*ShardQueryResult{nil, nil}); merged != nil {
		t.Fatalf("expected nil merge for absent results, got %v", merged)
	}
}
