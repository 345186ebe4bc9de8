package reduce

import (
	"reflect"
	"testing"

	"github.com/searchplatform/search-reduce/internal/search"
)

func TestDocsToLoadGroupsByShard(t *testing.T) {
	merged := []ScoreDoc{
		{Doc: 4, Shard: 1},
		{Doc: 0, Shard: 0},
		{Doc: 2, Shard: 1},
		{Doc: 9, Shard: 0},
	}
	batches := DocsToLoad(merged, 3)
	if !reflect.DeepEqual(batches[0], []int{0, 9}) {
		t.Errorf("shard 0 batch = %v, want [0 9]", batches[0])
	}
	if !reflect.DeepEqual(batches[1], []int{4, 2}) {
		t.Errorf("shard 1 batch = %v, want [4 2]", batches[1])
	}
	if batches[2] != nil {
		t.Errorf("shard 2 batch = %v, want nil", batches[2])
	}
}

func TestDocsToLoadPanicsOnBadShard(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for shard index outside range")
		}
	}()
	DocsToLoad([]ScoreDoc{{Doc: 0, Shard: 5}}, 2)
}

func fetchHits(shard int, ids ...string) *ShardFetchResult {
	hits := make([]search.Hit, len(ids))
	for i, id := range ids {
		hits[i] = search.Hit{ID: id, Source: map[string]any{"title": id}}
	}
	return &ShardFetchResult{Shard: shard, Hits: hits}
}

func TestAssembleResponseStampsScores(t *testing.T) {
	r0 := plainResult(t, 0, 0, 10, 2, 5.0, 3.0)
	r1 := plainResult(t, 1, 0, 10, 1, 4.0)
	reduced, err := Reduce([]*ShardQueryResult{r0, r1}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{r0, r1})

	resp, err := AssembleResponse("test", reduced, merged, []*ShardFetchResult{
		fetchHits(0, "a", "c"),
		fetchHits(1, "b"),
	})
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []string{"a", "b", "c"}
	if len(resp.Hits.Hits) != len(wantIDs) {
		t.Fatalf("hits = %d, want %d", len(resp.Hits.Hits), len(wantIDs))
	}
	for i, want := range wantIDs {
		hit := resp.Hits.Hits[i]
		if hit.ID != want {
			t.Errorf("hit %d id = %q, want %q", i, hit.ID, want)
		}
		if hit.Score == nil {
			t.Errorf("hit %d has no score", i)
		}
	}
	if *resp.Hits.Hits[0].Score != 5.0 {
		t.Errorf("top hit score = %v, want 5.0", *resp.Hits.Hits[0].Score)
	}
	if resp.Hits.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Hits.Total)
	}
	if resp.Hits.MaxScore == nil || *resp.Hits.MaxScore != 5.0 {
		t.Errorf("max score = %v, want 5.0", resp.Hits.MaxScore)
	}
}

func TestAssembleResponseFieldSortTakesScoreFromSortSlot(t *testing.T) {
	sortFields := []search.SortField{
		{Field: "year", Desc: false},
		{Field: search.ScoreField, Desc: true},
	}
	r := NewShardQueryResult(0, "shard-0")
	r.Size = 10
	r.TopDocs = TopDocs{
		Kind:      TopDocsFieldSorted,
		TotalHits: 1,
		ScoreDocs: []ScoreDoc{
			{Doc: 0, Score: ScoreNone(), Shard: UnsetShard, SortValues: []any{int64(2024), 3.5}},
		},
		SortFields: sortFields,
	}
	reduced, err := Reduce([]*ShardQueryResult{r}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{r})

	resp, err := AssembleResponse("test", reduced, merged, []*ShardFetchResult{fetchHits(0, "doc")})
	if err != nil {
		t.Fatal(err)
	}
	hit := resp.Hits.Hits[0]
	if !reflect.DeepEqual(hit.SortValues, []any{int64(2024), 3.5}) {
		t.Errorf("sort values = %v", hit.SortValues)
	}
	if hit.Score == nil || *hit.Score != 3.5 {
		t.Errorf("score = %v, want 3.5 from the score sort slot", hit.Score)
	}
	if resp.Hits.MaxScore != nil {
		t.Errorf("max score = %v, want nil for untracked scores", *resp.Hits.MaxScore)
	}
}

func TestAssembleResponseSplicesCompletionHits(t *testing.T) {
	r0 := plainResult(t, 0, 0, 10, 1, 3.0)
	r0.Suggest = []search.Suggestion{{
		Name: "titles", Kind: search.SuggestCompletion, Size: 5,
		Options: []search.SuggestOption{{Text: "alpha", Score: 2, Doc: 4}},
	}}
	r1 := plainResult(t, 1, 0, 10, 1, 4.0)
	r1.Suggest = []search.Suggestion{{
		Name: "titles", Kind: search.SuggestCompletion, Size: 5,
		Options: []search.SuggestOption{{Text: "beta", Score: 6, Doc: 8}},
	}}
	reduced, err := Reduce([]*ShardQueryResult{r0, r1}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{r0, r1})

	resp, err := AssembleResponse("test", reduced, merged, []*ShardFetchResult{
		fetchHits(0, "hit0", "alpha-doc"),
		fetchHits(1, "hit1", "beta-doc"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Hits.Hits) != 2 {
		t.Fatalf("regular hits = %d, want 2", len(resp.Hits.Hits))
	}
	s, ok := resp.Suggest["titles"]
	if !ok {
		t.Fatal("suggestion 'titles' missing from response")
	}
	if len(s.Options) != 2 {
		t.Fatalf("options = %d, want 2", len(s.Options))
	}
	// Options rank by score descending, so beta (shard 1) comes first.
	if s.Options[0].Hit == nil || s.Options[0].Hit.ID != "beta-doc" {
		t.Errorf("option 0 hit = %+v, want beta-doc", s.Options[0].Hit)
	}
	if s.Options[1].Hit == nil || s.Options[1].Hit.ID != "alpha-doc" {
		t.Errorf("option 1 hit = %+v, want alpha-doc", s.Options[1].Hit)
	}
}

func TestAssembleResponsePanicsOnShortFetch(t *testing.T) {
	r := plainResult(t, 0, 0, 10, 2, 5.0, 3.0)
	reduced, err := Reduce([]*ShardQueryResult{r}, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	merged := MergeTopDocs(false, []*ShardQueryResult{r})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when fetch returned fewer hits than merged")
		}
	}()
	AssembleResponse("test", reduced, merged, []*ShardFetchResult{fetchHits(0, "only-one")})
}
