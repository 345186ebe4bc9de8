// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/searchplatform/search-reduce/internal/analytics"
	"github.com/searchplatform/search-reduce/internal/cache"
	"github.com/searchplatform/search-reduce/internal/search"
	pkgerrors "github.com/searchplatform/search-reduce/pkg/errors"
	"github.com/searchplatform/search-reduce/pkg/logger"
	"github.com/searchplatform/search-reduce/pkg/metrics"
)

// Searcher runs one search request end to end.
type Searcher interface {
	Search(ctx context.Context, req *search.Request) (*search.Response, error)
}

// Handler serves the search API. The cache and collector are optional.
type Handler struct {
	searcher  Searcher
	cache     *cache.ResponseCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the handler.
func New(searcher Searcher, respCache *cache.ResponseCache, collector *analytics.Collector, m *metrics.Metrics) *Handler {
	return &Handler{
		searcher:  searcher,
		cache:     respCache,
		collector: collector,
		metrics:   m,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET and POST /api/v1/search. GET takes the common options as
// query parameters; POST takes the full request document as JSON.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	queryID := newQueryID()
	ctx := logger.WithQueryID(r.Context(), queryID)
	log := logger.FromContext(ctx)

	req, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if req.Query == "" {
		h.writeError(w, pkgerrors.New(pkgerrors.ErrInvalidInput, 400, "query parameter 'q' is required"))
		return
	}

	var resp *search.Response
	var cacheHit bool
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, req, func() (*search.Response, error) {
			return h.searcher.Search(ctx, req)
		})
	} else {
		resp, err = h.searcher.Search(ctx, req)
	}
	latency := time.Since(start)
	if err != nil {
		log.Error("search failed", "query", req.Query, "error", err)
		h.observe("error", cacheHit, latency)
		h.emit(analytics.QueryEvent{
			Type:      analytics.EventError,
			QueryID:   queryID,
			Query:     req.Query,
			LatencyMs: latency.Milliseconds(),
		})
		h.writeError(w, err)
		return
	}

	resultType := "hit"
	eventType := analytics.EventQuery
	if resp.Hits.Total == 0 {
		resultType = "zero_result"
		eventType = analytics.EventZeroResult
	} else if resp.Shards.Failed > 0 {
		resultType = "partial"
	}
	h.observe(resultType, cacheHit, latency)
	h.emit(analytics.QueryEvent{
		Type:            eventType,
		QueryID:         queryID,
		Query:           req.Query,
		TotalHits:       resp.Hits.Total,
		Returned:        len(resp.Hits.Hits),
		NumReducePhases: resp.NumReducePhases,
		ShardsTotal:     resp.Shards.Total,
		ShardsFailed:    resp.Shards.Failed,
		TimedOut:        resp.TimedOut,
		CacheHit:        cacheHit,
		LatencyMs:       latency.Milliseconds(),
	})
	log.Info("search served",
		"query", req.Query,
		"total_hits", resp.Hits.Total,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) parseRequest(r *http.Request) (*search.Request, error) {
	if r.Method == http.MethodPost {
		var req search.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, pkgerrors.Newf(pkgerrors.ErrInvalidInput, 400, "decoding request body: %v", err)
		}
		return &req, nil
	}

	q := r.URL.Query()
	req := &search.Request{Query: q.Get("q")}
	var err error
	if req.From, err = intParam(q.Get("from"), 0); err != nil {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidInput, 400, "'from' must be a non-negative integer")
	}
	if req.Size, err = intParam(q.Get("size"), 0); err != nil {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidInput, 400, "'size' must be a non-negative integer")
	}
	if req.TerminateAfter, err = intParam(q.Get("terminate_after"), 0); err != nil {
		return nil, pkgerrors.New(pkgerrors.ErrInvalidInput, 400, "'terminate_after' must be a non-negative integer")
	}
	req.Sort = parseSort(q.Get("sort"))
	if field := q.Get("collapse"); field != "" {
		req.Collapse = &search.Collapse{Field: field}
	}
	if req.Suggest, err = parseSuggest(q.Get("suggest")); err != nil {
		return nil, err
	}
	req.Scroll = q.Get("scroll") == "true"
	req.DfsQueryThenFetch = q.Get("dfs") == "true"
	req.Profile = q.Get("profile") == "true"
	return req, nil
}

// parseSort reads a comma-separated field list; a "-" prefix means
// descending, and "_score" sorts on relevance.
func parseSort(raw string) []search.SortField {
	if raw == "" {
		return nil
	}
	var fields []search.SortField
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := search.SortField{Field: part}
		if strings.HasPrefix(part, "-") {
			f.Field = part[1:]
			f.Desc = true
		}
		fields = append(fields, f)
	}
	return fields
}

// parseSuggest reads name:kind:prefix[:size] specs, comma separated.
func parseSuggest(raw string) ([]search.SuggestSpec, error) {
	if raw == "" {
		return nil, nil
	}
	var specs []search.SuggestSpec
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(part, ":")
		if len(fields) < 3 || len(fields) > 4 {
			return nil, pkgerrors.Newf(pkgerrors.ErrInvalidInput, 400,
				"suggest spec %q must be name:kind:prefix[:size]", part)
		}
		spec := search.SuggestSpec{
			Name:   fields[0],
			Kind:   search.SuggestionKind(fields[1]),
			Prefix: fields[2],
		}
		if len(fields) == 4 {
			size, err := strconv.Atoi(fields[3])
			if err != nil || size < 1 {
				return nil, pkgerrors.Newf(pkgerrors.ErrInvalidInput, 400,
					"suggest spec %q has a bad size", part)
			}
			spec.Size = size
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad integer %q", raw)
	}
	return n, nil
}

func (h *Handler) observe(resultType string, cacheHit bool, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
}

func (h *Handler) emit(event analytics.QueryEvent) {
	if h.collector != nil {
		h.collector.Emit(event)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := pkgerrors.HTTPStatusCode(err)
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func newQueryID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
