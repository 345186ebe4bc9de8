package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventZeroResult EventType = "zero_result"
	EventError      EventType = "error"
)

// QueryEvent is the per-search diagnostics record published to Kafka. It
// carries the reduction diagnostics (phase count, shard accounting) the
// downstream analytics pipeline aggregates into dashboards.
type QueryEvent struct {
	Type            EventType `json:"type"`
	QueryID         string    `json:"query_id"`
	Query           string    `json:"query"`
	TotalHits       int64     `json:"total_hits"`
	Returned        int       `json:"returned"`
	NumReducePhases int       `json:"num_reduce_phases"`
	ShardsTotal     int       `json:"shards_total"`
	ShardsFailed    int       `json:"shards_failed"`
	TimedOut        bool      `json:"timed_out"`
	CacheHit        bool      `json:"cache_hit"`
	LatencyMs       int64     `json:"latency_ms"`
	Timestamp       time.Time `json:"timestamp"`
}
