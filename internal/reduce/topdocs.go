package reduce

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/searchplatform/search-reduce/internal/search"
)

// CompareDocs is the global ordering contract. Shard executors must rank
// their local top docs with the same comparator the merge uses, otherwise the
// k-way merge produces garbage.
func CompareDocs(kind TopDocsKind, sortFields []search.SortField, a, b ScoreDoc) int {
	return compareDocs(kind, sortFields, a, b)
}

// compareDocs orders two score docs under the given variant. It returns a
// negative value when a ranks before b. Ties always resolve by shard index
// then doc ordinal, so the global ordering is deterministic and independent
// of shard arrival order.
func compareDocs(kind TopDocsKind, sortFields []search.SortField, a, b ScoreDoc) int {
	switch kind {
	case TopDocsPlain:
		if c := compareScores(a.Score, b.Score); c != 0 {
			return c
		}
	default:
		for i, f := range sortFields {
			c := compareSortValues(sortValueAt(a, i), sortValueAt(b, i))
			if f.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
	}
	if a.Shard != b.Shard {
		return a.Shard - b.Shard
	}
	return a.Doc - b.Doc
}

// compareScores orders descending by score. NaN (unset) ranks after any real
// score.
func compareScores(a, b float32) int {
	aNaN := math.IsNaN(float64(a))
	bNaN := math.IsNaN(float64(b))
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func sortValueAt(d ScoreDoc, i int) any {
	if i < len(d.SortValues) {
		return d.SortValues[i]
	}
	return nil
}

// compareSortValues orders two per-field sort values ascending. Numeric
// values compare across int64/float64; nil ranks after any value.
func compareSortValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if an, aok := toFloat(a); aok {
		bn, bok := toFloat(b)
		if !bok {
			panic(fmt.Sprintf("reduce: cannot compare sort values %T and %T", a, b))
		}
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			panic(fmt.Sprintf("reduce: cannot compare sort values %T and %T", a, b))
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, ok := b.(bool)
		if !ok {
			panic(fmt.Sprintf("reduce: cannot compare sort values %T and %T", a, b))
		}
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	default:
		panic(fmt.Sprintf("reduce: unsupported sort value type %T", a))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// shardIter walks one shard's ranked docs during the k-way merge.
type shardIter struct {
	docs     []ScoreDoc
	collapse []any
	pos      int
}

func (it *shardIter) current() ScoreDoc { return it.docs[it.pos] }

func (it *shardIter) exhausted() bool { return it.pos >= len(it.docs) }

// topDocsHeap is a min-heap of shard iterators ordered by their current doc,
// so the heap root always holds the globally next-ranked doc.
type topDocsHeap struct {
	iters      []*shardIter
	kind       TopDocsKind
	sortFields []search.SortField
}

func (h *topDocsHeap) Len() int { return len(h.iters) }

func (h *topDocsHeap) Less(i, j int) bool {
	return compareDocs(h.kind, h.sortFields, h.iters[i].current(), h.iters[j].current()) < 0
}

func (h *topDocsHeap) Swap(i, j int) { h.iters[i], h.iters[j] = h.iters[j], h.iters[i] }

func (h *topDocsHeap) Push(x interface{}) {
	h.iters = append(h.iters, x.(*shardIter))
}

func (h *topDocsHeap) Pop() interface{} {
	old := h.iters
	n := len(old)
	item := old[n-1]
	h.iters = old[:n-1]
	return item
}

// mergeTopDocs runs the general k-way merge over per-shard top-docs
// containers, skipping the first from docs and returning up to size docs. For
// the collapsed variant, docs whose collapse value was already emitted (or
// skipped into the offset) are dropped, keeping at most one hit per distinct
// value globally.
func mergeTopDocs(from, size int, kind TopDocsKind, sortFields []search.SortField, shardTopDocs []TopDocs) []ScoreDoc {
	h := &topDocsHeap{kind: kind, sortFields: sortFields}
	for i := range shardTopDocs {
		td := &shardTopDocs[i]
		if len(td.ScoreDocs) == 0 {
			continue
		}
		h.iters = append(h.iters, &shardIter{docs: td.ScoreDocs, collapse: td.CollapseValues})
	}
	heap.Init(h)

	var seen map[any]struct{}
	if kind == TopDocsCollapsed {
		seen = make(map[any]struct{})
	}

	out := make([]ScoreDoc, 0, size)
	skipped := 0
	for h.Len() > 0 && len(out) < size {
		it := h.iters[0]
		doc := it.current()
		var collapseKey any
		if seen != nil && it.pos < len(it.collapse) {
			collapseKey = it.collapse[it.pos]
		}
		it.pos++
		if it.exhausted() {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}

		if seen != nil {
			if _, dup := seen[collapseKey]; dup {
				continue
			}
			seen[collapseKey] = struct{}{}
		}
		if skipped < from {
			skipped++
			continue
		}
		out = append(out, doc)
	}
	return out
}
