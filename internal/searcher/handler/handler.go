// Package handler exposes the search API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/buscadoc/buscadoc/pkg/config"
	apperrors "github.com/buscadoc/buscadoc/pkg/errors"
	"github.com/buscadoc/buscadoc/pkg/logger"
	"github.com/buscadoc/buscadoc/pkg/metrics"
	"github.com/buscadoc/buscadoc/pkg/middleware"
	"github.com/buscadoc/buscadoc/pkg/tracing"

	"github.com/buscadoc/buscadoc/internal/searcher/cache"
	"github.com/buscadoc/buscadoc/internal/searcher/executor"
)

// Handler serves the /api/v1 search endpoints.
type Handler struct {
	executor *executor.Executor
	cache    *cache.QueryCache
	metrics  *metrics.Metrics
	cfg      config.SearchConfig
}

func New(ex *executor.Executor, qc *cache.QueryCache, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{executor: ex, cache: qc, metrics: m, cfg: cfg}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.InvalidateCache)
}

// Search handles GET /api/v1/search?q=...&limit=...&debug=true.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	query := r.URL.Query().Get("q")
	if query == "" {
		h.metrics.SearchQueriesTotal.WithLabelValues("empty_query").Inc()
		writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "missing query parameter q"))
		return
	}

	limit := h.cfg.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid limit %q", raw))
			return
		}
		limit = n
	}
	rawDebug := r.URL.Query().Get("debug")
	debug := rawDebug == "1" || rawDebug == "true"

	ctx, span := tracing.StartSpan(r.Context(), "search", middleware.GetRequestID(r.Context()))
	span.SetAttr("query", query)
	resp, cached, err := h.cache.GetOrCompute(ctx, query, limit, debug, func(ctx context.Context) (*executor.Response, error) {
		return h.executor.Search(ctx, query, limit, debug)
	})
	span.End()
	if debug {
		span.Log()
	}
	if err != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		log.Error("search failed", "query", query, "error", err)
		writeError(w, err)
		return
	}

	cacheStatus := "miss"
	if cached {
		cacheStatus = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(resp.Results)))
	outcome := "ok"
	if resp.TotalHits == 0 {
		outcome = "zero_result"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()

	log.Info("search served",
		"query", query,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"cache", cacheStatus,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, resp)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// InvalidateCache handles POST /api/v1/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"invalidated": deleted})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
