// Package shard implements an in-memory per-shard search executor. Each
// Engine owns an immutable slice of documents plus an inverted term index
// built at construction, and serves the three phase calls the coordinator
// scatters: statistics (dfs), query, and fetch.
package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/searchplatform/search-reduce/internal/aggs"
	"github.com/searchplatform/search-reduce/internal/reduce"
	"github.com/searchplatform/search-reduce/internal/search"
	pkgerrors "github.com/searchplatform/search-reduce/pkg/errors"
)

const defaultSuggestSize = 5

// Document is one indexed document. Fields carries the sortable and
// aggregatable values (int64, float64, string, bool); Suggest maps completion
// inputs to their weights.
type Document struct {
	ID      string
	Title   string
	Body    string
	Fields  map[string]any
	Suggest map[string]float64
}

// Engine executes one shard's share of every search. All state is built once
// in NewEngine and never mutated afterwards, so phase calls are safe to run
// concurrently.
type Engine struct {
	shard  int
	target string
	docs   []Document

	docTerms    []map[string]int // per-ordinal term frequencies
	docFreq     map[string]int64
	termFreq    map[string]int64 // summed term frequency across docs
	totalTokens int64

	logger *slog.Logger
}

// NewEngine indexes docs for the given shard number.
func NewEngine(shard int, docs []Document) *Engine {
	e := &Engine{
		shard:    shard,
		target:   fmt.Sprintf("shard-%d", shard),
		docs:     docs,
		docTerms: make([]map[string]int, len(docs)),
		docFreq:  make(map[string]int64),
		termFreq: make(map[string]int64),
		logger:   slog.Default().With("component", "shard", "shard", shard),
	}
	for i, doc := range docs {
		freq := make(map[string]int)
		for _, term := range Tokenize(doc.Title + " " + doc.Body) {
			freq[term]++
		}
		e.docTerms[i] = freq
		for term, n := range freq {
			e.docFreq[term]++
			e.termFreq[term] += int64(n)
			e.totalTokens += int64(n)
		}
	}
	e.logger.Debug("shard indexed", "docs", len(docs), "terms", len(e.docFreq))
	return e
}

// Target returns the identity string used to key profile output.
func (e *Engine) Target() string { return e.target }

// NumDocs returns the shard's document count.
func (e *Engine) NumDocs() int { return len(e.docs) }

// Tokenize lower-cases text and splits it on non-alphanumeric boundaries,
// dropping single-rune fragments.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if len(w) >= 2 {
			terms = append(terms, w)
		}
	}
	return terms
}

// ExecuteDfs gathers this shard's term and field statistics for the query.
func (e *Engine) ExecuteDfs(ctx context.Context, query string) (*reduce.DfsResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &reduce.DfsResult{
		Shard:  e.shard,
		MaxDoc: int64(len(e.docs)),
		Terms:  make(map[string]reduce.TermStatistics),
		Fields: make(map[string]reduce.CollectionStatistics),
	}
	for _, term := range uniqueTerms(query) {
		result.Terms[term] = reduce.TermStatistics{
			Term:          term,
			DocFreq:       e.docFreq[term],
			TotalTermFreq: e.termFreq[term],
		}
	}
	var sumDocFreq int64
	for _, df := range e.docFreq {
		sumDocFreq += df
	}
	result.Fields["body"] = reduce.CollectionStatistics{
		MaxDoc:           int64(len(e.docs)),
		DocCount:         int64(len(e.docs)),
		SumTotalTermFreq: e.totalTokens,
		SumDocFreq:       sumDocFreq,
	}
	return result, nil
}

// ExecuteQuery runs the query phase: match, score, rank, and collect the
// shard-local top docs plus partial aggregations and suggestions. When dfs is
// non-nil, scoring uses the corpus-wide statistics instead of shard-local
// ones.
func (e *Engine) ExecuteQuery(ctx context.Context, req *search.Request, dfs *reduce.AggregatedDfs) (*reduce.ShardQueryResult, error) {
	started := time.Now()
	result := reduce.NewShardQueryResult(e.shard, e.target)
	result.From = req.From
	result.Size = req.Size

	terms := uniqueTerms(req.Query)
	matched, terminated, timedOut := e.collect(ctx, terms, dfs, req.TerminateAfter)
	result.TimedOut = timedOut
	if req.TerminateAfter > 0 {
		result.TerminatedEarly = &terminated
	}

	kind, sortFields := topDocsShape(req)
	candidates := make([]reduce.ScoreDoc, 0, len(matched))
	scored := kind == reduce.TopDocsPlain || sortIncludesScore(sortFields)
	for _, m := range matched {
		doc := reduce.ScoreDoc{Doc: m.ordinal, Score: reduce.ScoreNone(), Shard: reduce.UnsetShard}
		if kind == reduce.TopDocsPlain {
			doc.Score = m.score
		} else {
			doc.SortValues = e.sortValues(m, sortFields)
		}
		candidates = append(candidates, doc)
		if scored {
			result.MaxScore = maxScore32(result.MaxScore, m.score)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return reduce.CompareDocs(kind, sortFields, candidates[i], candidates[j]) < 0
	})

	topDocs := reduce.TopDocs{
		Kind:       kind,
		TotalHits:  int64(len(matched)),
		SortFields: sortFields,
	}
	if kind == reduce.TopDocsCollapsed {
		topDocs.CollapseField = req.Collapse.Field
		candidates, topDocs.CollapseValues = e.collapse(candidates, req.Collapse.Field)
	}
	limit := req.From + req.Size
	if limit < len(candidates) {
		candidates = candidates[:limit]
		if topDocs.CollapseValues != nil {
			topDocs.CollapseValues = topDocs.CollapseValues[:limit]
		}
	}
	topDocs.ScoreDocs = candidates
	result.TopDocs = topDocs

	if req.HasAggs() {
		result.SetAggregations(e.buildAggs(req.Aggs, matched))
	}
	for _, spec := range req.Suggest {
		result.Suggest = append(result.Suggest, e.suggest(spec))
	}
	if req.Profile {
		result.Profile = &search.ProfileShardResult{
			QueryTimeNanos: time.Since(started).Nanoseconds(),
			CollectedHits:  int64(len(matched)),
			Description:    "in-memory term scan",
		}
	}
	return result, nil
}

// ExecuteFetch materializes document bodies for the given ordinals, in the
// exact order requested.
func (e *Engine) ExecuteFetch(ctx context.Context, ordinals []int) (*reduce.ShardFetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := make([]search.Hit, 0, len(ordinals))
	for _, ord := range ordinals {
		if ord < 0 || ord >= len(e.docs) {
			return nil, pkgerrors.Newf(pkgerrors.ErrInternal, 500,
				"shard %d asked to fetch unknown ordinal %d", e.shard, ord)
		}
		doc := e.docs[ord]
		source := map[string]any{"title": doc.Title, "body": doc.Body}
		for k, v := range doc.Fields {
			source[k] = v
		}
		hits = append(hits, search.Hit{ID: doc.ID, Source: source, Shard: e.shard})
	}
	return &reduce.ShardFetchResult{Shard: e.shard, Hits: hits}, nil
}

type match struct {
	ordinal int
	score   float32
}

// collect scans every document, scoring those that contain at least one
// query term with a tf-idf sum. Cancellation mid-scan keeps the partial
// matches and reports a timeout; terminateAfter stops collection outright.
func (e *Engine) collect(ctx context.Context, terms []string, dfs *reduce.AggregatedDfs, terminateAfter int) (matches []match, terminated, timedOut bool) {
	if len(terms) == 0 {
		return nil, false, false
	}
	for ord, freq := range e.docTerms {
		if ord%1024 == 0 && ctx.Err() != nil {
			return matches, terminated, true
		}
		var score float64
		hit := false
		for _, term := range terms {
			tf, ok := freq[term]
			if !ok {
				continue
			}
			hit = true
			score += float64(tf) * e.idf(term, dfs)
		}
		if !hit {
			continue
		}
		matches = append(matches, match{ordinal: ord, score: float32(score)})
		if terminateAfter > 0 && len(matches) >= terminateAfter {
			terminated = true
			break
		}
	}
	return matches, terminated, false
}

// idf uses aggregated statistics when available so every shard scores against
// the same corpus, falling back to shard-local counts otherwise.
func (e *Engine) idf(term string, dfs *reduce.AggregatedDfs) float64 {
	docFreq := e.docFreq[term]
	maxDoc := int64(len(e.docs))
	if dfs != nil {
		if ts, ok := dfs.Terms[term]; ok {
			docFreq = ts.DocFreq
		}
		if dfs.MaxDoc > 0 {
			maxDoc = dfs.MaxDoc
		}
	}
	if docFreq <= 0 {
		return 0
	}
	return 1 + float64(maxDoc)/float64(docFreq)
}

func (e *Engine) sortValues(m match, sortFields []search.SortField) []any {
	values := make([]any, len(sortFields))
	for i, f := range sortFields {
		if f.IsScore() {
			values[i] = float64(m.score)
			continue
		}
		values[i] = e.docs[m.ordinal].Fields[f.Field]
	}
	return values
}

// collapse keeps the highest-ranked doc per distinct collapse-key value and
// returns the kept docs with their parallel key slice. Docs without the field
// share a single nil group.
func (e *Engine) collapse(ranked []reduce.ScoreDoc, field string) ([]reduce.ScoreDoc, []any) {
	kept := ranked[:0]
	keys := make([]any, 0, len(ranked))
	seen := make(map[any]struct{})
	for _, doc := range ranked {
		key := e.docs[doc.Doc].Fields[field]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, doc)
		keys = append(keys, key)
	}
	return kept, keys
}

// buildAggs computes this shard's partial aggregation tree over all matched
// documents, not just the returned top docs.
func (e *Engine) buildAggs(specs []aggs.Spec, matched []match) *aggs.Aggregations {
	ordinals := make([]int, len(matched))
	for i, m := range matched {
		ordinals[i] = m.ordinal
	}
	return e.buildAggLevel(specs, ordinals)
}

func (e *Engine) buildAggLevel(specs []aggs.Spec, ordinals []int) *aggs.Aggregations {
	tree := aggs.NewAggregations()
	for _, spec := range specs {
		switch spec.Kind {
		case aggs.KindSum:
			var sum float64
			for _, ord := range ordinals {
				if v, ok := numericField(e.docs[ord].Fields[spec.Field]); ok {
					sum += v
				}
			}
			tree.Add(aggs.NewSum(spec.Name, sum))
		case aggs.KindValueCount:
			var count int64
			for _, ord := range ordinals {
				if _, ok := e.docs[ord].Fields[spec.Field]; ok {
					count++
				}
			}
			tree.Add(aggs.NewValueCount(spec.Name, count))
		case aggs.KindMin:
			node := &aggs.Min{AggName: spec.Name}
			for _, ord := range ordinals {
				if v, ok := numericField(e.docs[ord].Fields[spec.Field]); ok {
					if !node.Present || v < node.Value {
						node.Value, node.Present = v, true
					}
				}
			}
			tree.Add(node)
		case aggs.KindMax:
			node := &aggs.Max{AggName: spec.Name}
			for _, ord := range ordinals {
				if v, ok := numericField(e.docs[ord].Fields[spec.Field]); ok {
					if !node.Present || v > node.Value {
						node.Value, node.Present = v, true
					}
				}
			}
			tree.Add(node)
		case aggs.KindTerms:
			tree.Add(e.buildTerms(spec, ordinals))
		}
	}
	return tree
}

func (e *Engine) buildTerms(spec aggs.Spec, ordinals []int) *aggs.Terms {
	groups := make(map[string][]int)
	var order []string
	for _, ord := range ordinals {
		v, ok := e.docs[ord].Fields[spec.Field]
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ord)
	}
	buckets := make([]aggs.Bucket, 0, len(order))
	for _, key := range order {
		members := groups[key]
		bucket := aggs.Bucket{Key: key, DocCount: int64(len(members))}
		if len(spec.Subs) > 0 {
			bucket.Sub = e.buildAggLevel(spec.Subs, members)
		}
		buckets = append(buckets, bucket)
	}
	return aggs.NewTerms(spec.Name, spec.Size, buckets)
}

// suggest evaluates one suggester against the whole shard, independent of the
// query match set.
func (e *Engine) suggest(spec search.SuggestSpec) search.Suggestion {
	size := spec.Size
	if size <= 0 {
		size = defaultSuggestSize
	}
	out := search.Suggestion{Name: spec.Name, Kind: spec.Kind, Size: size}
	prefix := strings.ToLower(spec.Prefix)
	switch spec.Kind {
	case search.SuggestCompletion:
		for ord, doc := range e.docs {
			for input, weight := range doc.Suggest {
				if !strings.HasPrefix(strings.ToLower(input), prefix) {
					continue
				}
				out.Options = append(out.Options, search.SuggestOption{
					Text:  input,
					Score: weight,
					Doc:   ord,
					Shard: e.shard,
				})
			}
		}
		sort.Slice(out.Options, func(i, j int) bool {
			a, b := out.Options[i], out.Options[j]
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			return a.Text < b.Text
		})
	case search.SuggestTerm:
		for term, df := range e.docFreq {
			if strings.HasPrefix(term, prefix) {
				out.Options = append(out.Options, search.SuggestOption{Text: term, Freq: df})
			}
		}
		sort.Slice(out.Options, func(i, j int) bool {
			a, b := out.Options[i], out.Options[j]
			if a.Freq != b.Freq {
				return a.Freq > b.Freq
			}
			return a.Text < b.Text
		})
	}
	if len(out.Options) > size {
		out.Options = out.Options[:size]
	}
	return out
}

// topDocsShape derives the top-docs variant and effective sort fields from
// the request. A collapse without an explicit sort still needs sort values,
// so it sorts on descending score.
func topDocsShape(req *search.Request) (reduce.TopDocsKind, []search.SortField) {
	sortFields := req.Sort
	switch {
	case req.Collapse != nil:
		if len(sortFields) == 0 {
			sortFields = []search.SortField{{Field: search.ScoreField, Desc: true}}
		}
		return reduce.TopDocsCollapsed, sortFields
	case len(sortFields) > 0:
		return reduce.TopDocsFieldSorted, sortFields
	default:
		return reduce.TopDocsPlain, nil
	}
}

func sortIncludesScore(sortFields []search.SortField) bool {
	for _, f := range sortFields {
		if f.IsScore() {
			return true
		}
	}
	return false
}

func uniqueTerms(query string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range Tokenize(query) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

func numericField(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func isNaN32(f float32) bool { return f != f }

func maxScore32(cur, next float32) float32 {
	if isNaN32(cur) || next > cur {
		return next
	}
	return cur
}
