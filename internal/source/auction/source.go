package auction

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
	SourceID   = "auction"
	SourceName = "eBay"

	booksCategory = "267"
	maxRows       = 10
)

// Titles of rows that are page furniture rather than real items.
var placeholderTitles = []string{"shop on ebay"}

// Config holds auction source configuration.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Source scrapes the auction site's books category.
type Source struct {
	baseURL   *url.URL
	userAgent string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

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

func (s *Source) Search(ctx context.Context, query string) ([]domain.Listing, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	c := s.newCollector(ctx)

	var (
		mu       sync.Mutex
		listings []domain.Listing
		status   int
	)

	c.OnHTML(".s-item", func(e *colly.HTMLElement) {
		// The first row is a promoted placement.
		if e.Index == 0 || e.Index >= maxRows {
			return
		}
		listing, ok := s.extractItem(e)
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
	u.Path = "/sch/i.html"
	u.RawQuery = url.Values{
		"_nkw":   {query + " book"},
		"_sacat": {booksCategory},
	}.Encode()
	return u.String()
}

func (s *Source) extractItem(e *colly.HTMLElement) (domain.Listing, bool) {
	title := strings.TrimSpace(e.ChildText(".s-item__title"))
	if title == "" || source.ContainsAny(strings.ToLower(title), placeholderTitles...) {
		return domain.Listing{}, false
	}

	href := strings.TrimSpace(e.ChildAttr(".s-item__link", "href"))
	if href == "" {
		return domain.Listing{}, false
	}

	price := strings.TrimSpace(e.ChildText(".s-item__price"))
	if price == "" {
		price = domain.PriceNotListed
	}
	condition := strings.TrimSpace(e.ChildText(".SECONDARY_INFO"))
	if condition == "" {
		condition = domain.ConditionNotSpecified
	}

	listing := domain.NewListing(title, price, SourceName, e.Request.AbsoluteURL(href))
	listing.Condition = condition
	return listing, true
}
