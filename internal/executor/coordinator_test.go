package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/searchplatform/search-reduce/internal/reduce"
	"github.com/searchplatform/search-reduce/internal/search"
	"github.com/searchplatform/search-reduce/pkg/config"
	pkgerrors "github.com/searchplatform/search-reduce/pkg/errors"
)

// fakeShard serves canned docs for the query phase and echoes ordinals back
// as hits for the fetch phase.
type fakeShard struct {
	shard     int
	scores    []float32
	totalHits int64
	queryErr  error
	fetchErr  error

	sawDfs bool
}

func (f *fakeShard) Target() string { return fmt.Sprintf("shard-%d", f.shard) }

func (f *fakeShard) ExecuteDfs(ctx context.Context, query string) (*reduce.DfsResult, error) {
	f.sawDfs = true
	return &reduce.DfsResult{Shard: f.shard, MaxDoc: 10}, nil
}

func (f *fakeShard) ExecuteQuery(ctx context.Context, req *search.Request, dfs *reduce.AggregatedDfs) (*reduce.ShardQueryResult, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	r := reduce.NewShardQueryResult(f.shard, f.Target())
	r.From = req.From
	r.Size = req.Size
	docs := make([]reduce.ScoreDoc, len(f.scores))
	for i, s := range f.scores {
		docs[i] = reduce.ScoreDoc{Doc: i, Score: s, Shard: reduce.UnsetShard}
		if i == 0 {
			r.MaxScore = s
		}
	}
	r.TopDocs = reduce.TopDocs{Kind: reduce.TopDocsPlain, TotalHits: f.totalHits, ScoreDocs: docs}
	return r, nil
}

func (f *fakeShard) ExecuteFetch(ctx context.Context, ordinals []int) (*reduce.ShardFetchResult, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	hits := make([]search.Hit, len(ordinals))
	for i, ord := range ordinals {
		hits[i] = search.Hit{ID: fmt.Sprintf("%d-%d", f.shard, ord)}
	}
	return &reduce.ShardFetchResult{Shard: f.shard, Hits: hits}, nil
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		NumShards:         3,
		DefaultSize:       10,
		MaxResults:        100,
		BatchedReduceSize: 512,
		TimeoutPerShard:   time.Second,
	}
}

func TestSearchMergesAcrossShards(t *testing.T) {
	shards := []ShardExecutor{
		&fakeShard{shard: 0, scores: []float32{5.0, 3.0}, totalHits: 2},
		&fakeShard{shard: 1, scores: []float32{4.0}, totalHits: 1},
		&fakeShard{shard: 2, scores: []float32{4.5}, totalHits: 1},
	}
	c := NewCoordinator(shards, testConfig(), nil)
	resp, err := c.Search(context.Background(), &search.Request{Query: "test", Size: 3})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Hits.Total != 4 {
		t.Errorf("total = %d, want 4", resp.Hits.Total)
	}
	wantIDs := []string{"0-0", "2-0", "1-0"}
	if len(resp.Hits.Hits) != len(wantIDs) {
		t.Fatalf("hits = %d, want %d", len(resp.Hits.Hits), len(wantIDs))
	}
	for i, want := range wantIDs {
		if resp.Hits.Hits[i].ID != want {
			t.Errorf("hit %d = %q, want %q", i, resp.Hits.Hits[i].ID, want)
		}
	}
	if resp.Shards.Failed != 0 || resp.Shards.Successful != 3 {
		t.Errorf("shard stats = %+v", resp.Shards)
	}
	if resp.NumReducePhases != 1 {
		t.Errorf("reduce phases = %d, want 1", resp.NumReducePhases)
	}
}

func TestSearchToleratesPartialFailure(t *testing.T) {
	shards := []ShardExecutor{
		&fakeShard{shard: 0, scores: []float32{5.0}, totalHits: 1},
		&fakeShard{shard: 1, queryErr: errors.New("disk on fire")},
	}
	c := NewCoordinator(shards, testConfig(), nil)
	resp, err := c.Search(context.Background(), &search.Request{Query: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Shards.Failed != 1 || resp.Shards.Successful != 1 {
		t.Errorf("shard stats = %+v, want one failed", resp.Shards)
	}
	if resp.Hits.Total != 1 {
		t.Errorf("total = %d, want the surviving shard's hits", resp.Hits.Total)
	}
}

func TestSearchFailsWhenAllShardsFail(t *testing.T) {
	shards := []ShardExecutor{
		&fakeShard{shard: 0, queryErr: errors.New("down")},
		&fakeShard{shard: 1, queryErr: errors.New("down")},
	}
	c := NewCoordinator(shards, testConfig(), nil)
	_, err := c.Search(context.Background(), &search.Request{Query: "test"})
	if !errors.Is(err, pkgerrors.ErrAllShardsFailed) {
		t.Fatalf("err = %v, want ErrAllShardsFailed", err)
	}
}

func TestSearchFailsWhenFetchFails(t *testing.T) {
	shards := []ShardExecutor{
		&fakeShard{shard: 0, scores: []float32{5.0}, totalHits: 1, fetchErr: errors.New("gone")},
	}
	c := NewCoordinator(shards, testConfig(), nil)
	if _, err := c.Search(context.Background(), &search.Request{Query: "test"}); err == nil {
		t.Fatal("expected fetch failure to fail the search")
	}
}

func TestSearchRunsDfsPrePass(t *testing.T) {
	f0 := &fakeShard{shard: 0, scores: []float32{1.0}, totalHits: 1}
	f1 := &fakeShard{shard: 1, scores: []float32{1.0}, totalHits: 1}
	c := NewCoordinator([]ShardExecutor{f0, f1}, testConfig(), nil)
	if _, err := c.Search(context.Background(), &search.Request{Query: "test", DfsQueryThenFetch: true}); err != nil {
		t.Fatal(err)
	}
	if !f0.sawDfs || !f1.sawDfs {
		t.Error("dfs pre-pass did not reach every shard")
	}
}

func TestSearchValidatesRequest(t *testing.T) {
	c := NewCoordinator([]ShardExecutor{&fakeShard{shard: 0}}, testConfig(), nil)
	tests := []struct {
		name string
		req  *search.Request
	}{
		{"negative from", &search.Request{Query: "q", From: -1}},
		{"negative size", &search.Request{Query: "q", Size: -5}},
		{"window too deep", &search.Request{Query: "q", From: 90, Size: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Search(context.Background(), tt.req); !errors.Is(err, pkgerrors.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestSearchAppliesDefaultSize(t *testing.T) {
	f := &fakeShard{shard: 0, scores: []float32{1.0}, totalHits: 1}
	c := NewCoordinator([]ShardExecutor{f}, testConfig(), nil)
	req := &search.Request{Query: "q"}
	if _, err := c.Search(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Size != 10 {
		t.Errorf("size = %d, want the configured default 10", req.Size)
	}
	if req.BatchedReduceSize != 512 {
		t.Errorf("batched reduce size = %d, want the configured default 512", req.BatchedReduceSize)
	}
}
