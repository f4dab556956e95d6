package classifieds

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"book_finder/internal/domain"
	"book_finder/internal/source"
)

const (
	SourceID   = "classifieds"
	SourceName = "Craigslist"

	maxRows        = 8
	fixedCondition = "Used"
)

var bookKeywords = []string{"book", "novel", "textbook"}

// Config holds classifieds source configuration.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Source scrapes the classifieds search page.
type Source struct {
	baseURL   *url.URL
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

// New creates a new classifieds source.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	return &Source{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		transport: http.DefaultTransport,
		logger:    logger.With("source", SourceID),
	}, nil
}

// newCollector builds a collector bound to ctx. Redirects to other hosts of
// the site are followed.
func (s *Source) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(source.BindContext(ctx, s.transport))
	return c
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

// Search fetches one results page for query. Failures are logged and yield no listings.
func (s *Source) Search(ctx context.Context, query string) ([]domain.Listing, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	c := s.newCollector(ctx)
	tokens := source.QueryTokens(query)

	var (
		mu       sync.Mutex
		listings []domain.Listing
		status   int
	)

	c.OnHTML(".result-row", func(e *colly.HTMLElement) {
		if e.Index >= maxRows {
			return
		}
		listing, ok := s.extractRow(e, tokens)
		if !ok {
			return
		}
		mu.Lock()
		listings = append(listings, listing)
		mu.Unlock()
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if ctx.Err() != nil {
		return nil, nil
	}

	if err := c.Visit(s.searchURL(query)); err != nil {
		classified := source.Classify(err, status)
		s.logger.Warn("search failed",
			"query", query,
			"category", source.ErrorLabel(classified),
			"error", classified,
		)
		return nil, nil
	}

	s.logger.Debug("search completed", "query", query, "listings", len(listings))
	return listings, nil
}

func (s *Source) searchURL(query string) string {
	u := *s.baseURL
	u.Path = "/search/sss"
	u.RawQuery = url.Values{"query": {query}}.Encode()
	return u.String()
}

func (s *Source) extractRow(e *colly.HTMLElement, tokens []string) (domain.Listing, bool) {
	title := strings.TrimSpace(e.ChildText(".result-title"))
	if title == "" {
		return domain.Listing{}, false
	}
	if !isBookRelated(title, tokens) {
		return domain.Listing{}, false
	}

	link, ok := s.absoluteLink(e.ChildAttr(".result-title", "href"))
	if !ok {
		return domain.Listing{}, false
	}

	price := strings.TrimSpace(e.ChildText(".result-price"))
	if price == "" {
		price = domain.PriceNotListed
	}

	label := SourceName
	if location := strings.TrimSpace(e.ChildText(".result-hood")); location != "" {
		label += " " + location
	}

	listing := domain.NewListing(title, price, label, link)
	listing.Condition = fixedCondition
	return listing, true
}

func (s *Source) absoluteLink(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return s.baseURL.ResolveReference(ref).String(), true
}

// isBookRelated accepts titles with a book keyword or any query token.
func isBookRelated(title string, tokens []string) bool {
	lower := strings.ToLower(title)
	if source.ContainsAny(lower, bookKeywords...) {
		return true
	}
	return source.ContainsAny(lower, tokens...)
}
