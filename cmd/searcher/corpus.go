package main

import "github.com/searchplatform/search-reduce/internal/shard"

// sampleCorpus distributes a small built-in document set across the given
// number of shards, round-robin, for running the service without a database.
func sampleCorpus(numShards int) [][]shard.Document {
	docs := []shard.Document{
		{
			ID: "go-concurrency", Title: "Concurrency patterns in Go",
			Body:    "Goroutines and channels make concurrent pipelines simple to compose.",
			Fields:  map[string]any{"category": "go", "year": int64(2023), "rating": 4.7},
			Suggest: map[string]float64{"concurrency patterns": 9, "concurrent pipelines": 6},
		},
		{
			ID: "go-errors", Title: "Error handling in Go services",
			Body:    "Wrap errors with context and match sentinels with errors.Is at the boundary.",
			Fields:  map[string]any{"category": "go", "year": int64(2024), "rating": 4.2},
			Suggest: map[string]float64{"error handling": 8},
		},
		{
			ID: "kafka-basics", Title: "Kafka partitioning basics",
			Body:    "Partition keys decide ordering; consumer groups decide parallelism.",
			Fields:  map[string]any{"category": "messaging", "year": int64(2022), "rating": 4.0},
			Suggest: map[string]float64{"kafka partitioning": 7},
		},
		{
			ID: "redis-caching", Title: "Caching strategies with Redis",
			Body:    "Cache aside with short TTLs keeps hot queries fast without stale reads.",
			Fields:  map[string]any{"category": "caching", "year": int64(2023), "rating": 4.4},
			Suggest: map[string]float64{"caching strategies": 8, "cache aside": 5},
		},
		{
			ID: "pg-indexes", Title: "PostgreSQL index tuning",
			Body:    "Partial and covering indexes cut scan cost for selective queries.",
			Fields:  map[string]any{"category": "storage", "year": int64(2021), "rating": 4.1},
			Suggest: map[string]float64{"postgresql indexes": 6},
		},
		{
			ID: "scatter-gather", Title: "Scatter gather search over shards",
			Body:    "Each shard ranks locally; a coordinator merges the per shard top docs.",
			Fields:  map[string]any{"category": "search", "year": int64(2024), "rating": 4.9},
			Suggest: map[string]float64{"scatter gather": 10, "sharded search": 7},
		},
		{
			ID: "ranking-tfidf", Title: "Term frequency ranking explained",
			Body:    "Scores combine term frequency with inverse document frequency per term.",
			Fields:  map[string]any{"category": "search", "year": int64(2022), "rating": 4.5},
			Suggest: map[string]float64{"ranking explained": 6},
		},
		{
			ID: "metrics-slo", Title: "Latency metrics and service objectives",
			Body:    "Histogram buckets chosen around the objective make burn rates readable.",
			Fields:  map[string]any{"category": "observability", "year": int64(2023), "rating": 3.9},
			Suggest: map[string]float64{"latency metrics": 5},
		},
	}
	byShard := make([][]shard.Document, numShards)
	for i, doc := range docs {
		s := i % numShards
		byShard[s] = append(byShard[s], doc)
	}
	return byShard
}
