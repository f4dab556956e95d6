// Package api exposes the aggregator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"book_finder/internal/domain"
)

type Searcher interface {
	SearchAllPlatforms(ctx context.Context, q domain.Query) ([]domain.Listing, error)
}

type QuotaReporter interface {
	Usage(ctx context.Context) (domain.QuotaUsage, error)
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results    []domain.Listing `json:"results"`
	SearchedAt time.Time        `json:"searched_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	searcher Searcher
	quota    QuotaReporter
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler builds the API handler. quota may be nil when the paid source
// is disabled.
func NewHandler(searcher Searcher, quota QuotaReporter, logger *slog.Logger) *Handler {
	return &Handler{
		searcher: searcher,
		quota:    quota,
		logger:   logger.With("component", "api"),
		now:      time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", h.search)
	mux.HandleFunc("GET /quota", h.quotaUsage)
	mux.HandleFunc("GET /healthz", h.health)
	return mux
}

// NewSearchResponse wraps results; a nil slice is encoded as [].
func NewSearchResponse(results []domain.Listing, at time.Time) SearchResponse {
	if results == nil {
		results = []domain.Listing{}
	}
	return SearchResponse{Results: results, SearchedAt: at.UTC()}
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := domain.Query{
		BookTitle: params.Get("title"),
		Author:    params.Get("author"),
		Topic:     params.Get("topic"),
	}

	results, err := h.searcher.SearchAllPlatforms(r.Context(), q)
	if errors.Is(err, domain.ErrInvalidQuery) {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("search failed", "title", q.BookTitle, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed"})
		return
	}

	h.writeJSON(w, http.StatusOK, NewSearchResponse(results, h.now()))
}

func (h *Handler) quotaUsage(w http.ResponseWriter, r *http.Request) {
	if h.quota == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "quota tracking is not configured"})
		return
	}

	usage, err := h.quota.Usage(r.Context())
	if err != nil {
		h.logger.Error("quota usage failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quota usage unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, usage)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("write response failed", "error", err)
	}
}
