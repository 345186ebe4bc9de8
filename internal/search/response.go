package search

// Hit is one materialized document in the final response. Score is a pointer
// because an unset score (pure field sort) is rendered as null, not 0.
type Hit struct {
	ID         string         `json:"id"`
	Score      *float64       `json:"score"`
	SortValues []any          `json:"sort,omitempty"`
	Source     map[string]any `json:"source,omitempty"`
	Shard      int            `json:"shard"`
}

// Hits is the ordered hit list with global totals.
type Hits struct {
	Total    int64    `json:"total"`
	MaxScore *float64 `json:"max_score"`
	Hits     []Hit    `json:"hits"`
}

// ShardStats reports scatter-phase fan-out accounting.
type ShardStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ProfileShardResult carries per-shard query-phase profiling, keyed in the
// response by the shard target identity string.
type ProfileShardResult struct {
	QueryTimeNanos int64  `json:"query_time_nanos"`
	CollectedHits  int64  `json:"collected_hits"`
	Description    string `json:"description,omitempty"`
}

// Response is the final assembled search response envelope: hits plus
// aggregations, suggestions, profiling, and reduction diagnostics.
type Response struct {
	Query           string                        `json:"query"`
	TookMs          int64                         `json:"took_ms"`
	TimedOut        bool                          `json:"timed_out"`
	TerminatedEarly *bool                         `json:"terminated_early,omitempty"`
	NumReducePhases int                           `json:"num_reduce_phases"`
	Shards          ShardStats                    `json:"shards"`
	Hits            Hits                          `json:"hits"`
	Aggregations    map[string]any                `json:"aggregations,omitempty"`
	Suggest         map[string]Suggestion         `json:"suggest,omitempty"`
	Profile         map[string]ProfileShardResult `json:"profile,omitempty"`
}
