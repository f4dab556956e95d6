package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book_finder/internal/domain"
)

type stubSearcher struct {
	got      domain.Query
	listings []domain.Listing
	err      error
}

func (s *stubSearcher) SearchAllPlatforms(_ context.Context, q domain.Query) ([]domain.Listing, error) {
	s.got = q
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.listings, s.err
}

type stubQuota struct {
	usage domain.QuotaUsage
	err   error
}

func (s stubQuota) Usage(context.Context) (domain.QuotaUsage, error) {
	return s.usage, s.err
}

func newTestHandler(searcher Searcher, quota QuotaReporter) *Handler {
	h := NewHandler(searcher, quota, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestSearch_ReturnsResults(t *testing.T) {
	searcher := &stubSearcher{listings: []domain.Listing{
		domain.NewListing("Dune", "$10", "eBay", "https://ebay.test/1"),
	}}
	h := newTestHandler(searcher, nil)

	req := httptest.NewRequest(http.MethodGet, "/search?title=Dune&author=Frank+Herbert&topic=scifi", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, domain.Query{BookTitle: "Dune", Author: "Frank Herbert", Topic: "scifi"}, searcher.got)

	var body SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "https://ebay.test/1", body.Results[0].Link)
	assert.Equal(t, "2024-03-10T12:00:00Z", body.SearchedAt.Format(time.RFC3339))
}

func TestSearch_EmptyResultsEncodeAsArray(t *testing.T) {
	h := newTestHandler(&stubSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?title=Obscure", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestSearch_MissingTitle(t *testing.T) {
	h := newTestHandler(&stubSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?author=Herbert", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "book title is required")
}

func TestSearch_InternalError(t *testing.T) {
	h := newTestHandler(&stubSearcher{err: errors.New("boom")}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?title=Dune", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSearch_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(&stubSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search?title=Dune", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestQuota(t *testing.T) {
	usage := domain.QuotaUsage{Used: 12, Remaining: 78, Limit: 90, PeriodKey: "2024-03-10"}
	h := newTestHandler(&stubSearcher{}, stubQuota{usage: usage})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quota", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.QuotaUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, usage, got)
}

func TestQuota_NotConfigured(t *testing.T) {
	h := newTestHandler(&stubSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quota", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&stubSearcher{}, nil)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
