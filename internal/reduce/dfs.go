package reduce

// DFS statistics: corpus-wide term and field frequency statistics gathered
// from all shards before scoring, so relevance scores stay consistent across
// shards. The value -1 means "unknown" and poisons any sum it participates
// in; a merge must never turn an unknown input into a wrong concrete number.

// TermStatistics holds per-term frequency statistics from one shard or, after
// aggregation, across all shards.
type TermStatistics struct {
	Term          string `json:"term"`
	DocFreq       int64  `json:"doc_freq"`
	TotalTermFreq int64  `json:"total_term_freq"`
}

// CollectionStatistics holds per-field statistics from one shard or, after
// aggregation, across all shards.
type CollectionStatistics struct {
	MaxDoc           int64 `json:"max_doc"`
	DocCount         int64 `json:"doc_count"`
	SumTotalTermFreq int64 `json:"sum_total_term_freq"`
	SumDocFreq       int64 `json:"sum_doc_freq"`
}

// DfsResult is one shard's statistics contribution.
type DfsResult struct {
	Shard  int
	MaxDoc int64
	Terms  map[string]TermStatistics
	Fields map[string]CollectionStatistics
}

// AggregatedDfs is the merged statistics over all shards, built once per
// query in a single pass. Terms and fields are keyed by content, not
// identity.
type AggregatedDfs struct {
	Terms  map[string]TermStatistics
	Fields map[string]CollectionStatistics
	MaxDoc int64
}

// AggregateDfs merges per-shard DFS results. Document frequencies sum
// plainly; total term frequencies and the per-field sums follow the unknown
// poisoning rule: if either side is -1 the merged value is -1.
func AggregateDfs(results []*DfsResult) *AggregatedDfs {
	agg := &AggregatedDfs{
		Terms:  make(map[string]TermStatistics),
		Fields: make(map[string]CollectionStatistics),
	}
	for _, r := range results {
		if r == nil {
			continue
		}
		agg.MaxDoc += r.MaxDoc
		for term, stats := range r.Terms {
			existing, seen := agg.Terms[term]
			if !seen {
				agg.Terms[term] = TermStatistics{
					Term:          term,
					DocFreq:       stats.DocFreq,
					TotalTermFreq: stats.TotalTermFreq,
				}
				continue
			}
			existing.DocFreq += stats.DocFreq
			existing.TotalTermFreq = addUnlessUnknown(existing.TotalTermFreq, stats.TotalTermFreq)
			agg.Terms[term] = existing
		}
		for field, stats := range r.Fields {
			existing, seen := agg.Fields[field]
			if !seen {
				agg.Fields[field] = stats
				continue
			}
			existing.MaxDoc += stats.MaxDoc
			existing.DocCount = addUnlessUnknown(existing.DocCount, stats.DocCount)
			existing.SumTotalTermFreq = addUnlessUnknown(existing.SumTotalTermFreq, stats.SumTotalTermFreq)
			existing.SumDocFreq = addUnlessUnknown(existing.SumDocFreq, stats.SumDocFreq)
			agg.Fields[field] = existing
		}
	}
	return agg
}

const unknownStat = -1

func addUnlessUnknown(a, b int64) int64 {
	if a == unknownStat || b == unknownStat {
		return unknownStat
	}
	return a + b
}
