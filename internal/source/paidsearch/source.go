package paidsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"book_finder/internal/domain"
	"book_finder/internal/source"
)

const (
	SourceID   = "paid_search"
	SourceName = "Google Shopping"

	resultsPerCall = 10
	maxListings    = 8
	responseFields = "items(title,link,snippet,displayLink,pagemap),searchInformation"
)

// ErrQuotaExhausted is returned when the daily call budget refused the first strategy.
var ErrQuotaExhausted = errors.New("paid search quota exhausted")

// Reserver hands out units of the daily call budget. Reserve either commits
// all n units or none.
type Reserver interface {
	Reserve(ctx context.Context, n int) (bool, error)
}

type Config struct {
	BaseURL        string
	APIKey         string
	SearchEngineID string
	UserAgent      string
	Timeout        time.Duration
	StrategyDelay  time.Duration
}

// Source queries the metered structured search API. Every outbound call is
// paid for with one quota unit reserved beforehand.
type Source struct {
	httpClient *http.Client
	cfg        Config
	quota      Reserver
	logger     *slog.Logger
}

func New(cfg Config, quota Reserver, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:    cfg,
		quota:  quota,
		logger: logger.With("source", SourceID),
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

// Strategies returns the phrasings tried in order for query.
func Strategies(query string) []string {
	return []string{
		`"` + query + `" book buy purchase`,
		query + " book for sale used new",
		query + " paperback hardcover price",
	}
}

func (s *Source) Search(ctx context.Context, query string) ([]domain.Listing, error) {
	var collected []domain.Listing

	for i, strategy := range Strategies(query) {
		if i > 0 && !s.pause(ctx) {
			break
		}

		granted, err := s.quota.Reserve(ctx, 1)
		if err != nil {
			s.logger.Error("quota reservation failed", "error", err)
		}
		if !granted {
			if i == 0 {
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrQuotaExhausted, err)
				}
				return nil, ErrQuotaExhausted
			}
			s.logger.Warn("quota exhausted mid-query, keeping partial results",
				"query", query,
				"strategies_run", i,
			)
			break
		}

		items, err := s.fetch(ctx, strategy)
		if err != nil {
			s.logger.Warn("strategy failed",
				"query", strategy,
				"category", source.ErrorLabel(err),
				"error", err,
			)
			if source.IsRateLimitSignal(err) {
				break
			}
			continue
		}

		for _, item := range items {
			if listing, ok := toListing(item, query); ok {
				collected = append(collected, listing)
			}
		}
	}

	unique := source.DedupeByLink(collected, func(l domain.Listing) string { return l.Link })
	rank(unique)
	if len(unique) > maxListings {
		unique = unique[:maxListings]
	}

	s.logger.Debug("search completed", "query", query, "listings", len(unique))
	return unique, nil
}

func (s *Source) pause(ctx context.Context) bool {
	if s.cfg.StrategyDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.cfg.StrategyDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Source) fetch(ctx context.Context, query string) ([]Item, error) {
	params := url.Values{
		"key":    {s.cfg.APIKey},
		"cx":     {s.cfg.SearchEngineID},
		"q":      {query},
		"num":    {strconv.Itoa(resultsPerCall)},
		"start":  {"1"},
		"safe":   {"medium"},
		"fields": {responseFields},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, source.Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, source.Classify(nil, resp.StatusCode)
	}

	var page rawPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]Item, 0, len(page.Items))
	for i, raw := range page.Items {
		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			s.logger.Debug("skipping malformed item", "query", query, "index", i, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
