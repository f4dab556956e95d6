package forum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"book_finder/internal/domain"
	"book_finder/internal/source"
)

const (
	SourceID   = "forum"
	SourceName = "Reddit"

	postsPerQuery = 15
	maxListings   = 5
	tokenMargin   = time.Minute
)

var (
	sellingKeywords = []string{"for sale", "selling", "sale", "$", "£", "€"}
	priceRe         = regexp.MustCompile(`([$£€])\s?(\d+(?:\.\d{1,2})?)`)
)

// Config holds forum source configuration.
type Config struct {
	AuthURL      string
	APIURL       string
	LinkBaseURL  string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	Timeout      time.Duration
	QueryDelay   time.Duration
}

// Source searches the discussion forum for posts offering a book.
type Source struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a new forum source.
func New(cfg Config, logger *slog.Logger) *Source {
	limit := rate.Inf
	if cfg.QueryDelay > 0 {
		limit = rate.Every(cfg.QueryDelay)
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("source", SourceID),
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

// SubQueries returns the three selling-intent queries derived from query.
func SubQueries(query string) []string {
	return []string{
		query + " for sale",
		"selling " + query,
		query + " book sale",
	}
}

// Search runs the sub-queries one after another, paced by the limiter.
func (s *Source) Search(ctx context.Context, query string) ([]domain.Listing, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		s.logger.Warn("authentication failed", "error", err, "category", source.ErrorLabel(err))
		return nil, nil
	}

	var collected []domain.Listing
	for _, term := range SubQueries(query) {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("search interrupted", "query", term, "error", err)
			break
		}

		posts, err := s.searchPosts(ctx, token, term)
		if err != nil {
			s.logger.Warn("sub-query failed",
				"query", term,
				"category", source.ErrorLabel(err),
				"error", err,
			)
			continue
		}

		collected = append(collected, s.transform(posts)...)
	}

	unique := source.DedupeByLink(collected, func(l domain.Listing) string { return l.Link })
	if len(unique) > maxListings {
		unique = unique[:maxListings]
	}

	s.logger.Debug("search completed", "query", query, "listings", len(unique))
	return unique, nil
}

func (s *Source) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	form := url.Values{
		"grant_type": {"password"},
		"username":   {s.cfg.Username},
		"password":   {s.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", source.Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", source.Classify(nil, resp.StatusCode)
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		if tr.Error != "" {
			return "", fmt.Errorf("token request rejected: %s", tr.Error)
		}
		return "", errors.New("token response missing access_token")
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > tokenMargin {
		ttl -= tokenMargin
	}
	s.token = tr.AccessToken
	s.tokenExpiry = time.Now().Add(ttl)
	return s.token, nil
}

func (s *Source) searchPosts(ctx context.Context, token, term string) ([]Post, error) {
	params := url.Values{
		"q":     {term},
		"sort":  {"new"},
		"t":     {"month"},
		"limit": {strconv.Itoa(postsPerQuery)},
		"type":  {"link"},
	}
	endpoint := strings.TrimSuffix(s.cfg.APIURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, source.Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			s.invalidateToken()
		}
		return nil, source.Classify(nil, resp.StatusCode)
	}

	var sr SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	posts := make([]Post, 0, len(sr.Data.Children))
	for _, child := range sr.Data.Children {
		posts = append(posts, child.Data)
	}
	if len(posts) > postsPerQuery {
		posts = posts[:postsPerQuery]
	}
	return posts, nil
}

func (s *Source) invalidateToken() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *Source) transform(posts []Post) []domain.Listing {
	listings := make([]domain.Listing, 0, len(posts))
	linkBase := strings.TrimSuffix(s.cfg.LinkBaseURL, "/")

	for _, p := range posts {
		title := strings.TrimSpace(p.Title)
		if title == "" || p.Permalink == "" {
			continue
		}
		if !qualifies(p) {
			continue
		}

		listing := domain.NewListing(
			title,
			extractPrice(p.Title+" "+p.Selftext),
			"Reddit r/"+p.Subreddit,
			linkBase+p.Permalink,
		)
		if p.Author != "" {
			listing.Seller = "/u/" + p.Author
		}
		listings = append(listings, listing)
	}

	return listings
}

// qualifies accepts public, non-adult posts that show selling intent.
func qualifies(p Post) bool {
	if p.Over18 || p.SubredditType != "public" {
		return false
	}
	combined := strings.ToLower(p.Title + " " + p.Selftext)
	return source.ContainsAny(combined, sellingKeywords...)
}

func extractPrice(text string) string {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return domain.PriceSeePost
	}
	return m[1] + m[2]
}
