package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"book_finder/internal/domain"
	"book_finder/internal/metrics"
	"book_finder/internal/source/paidsearch"
)

type fakeAdapter struct {
	id       string
	listings []domain.Listing
	err      error
	delay    time.Duration
	panics   bool

	calls   atomic.Int32
	mu      sync.Mutex
	queries []string
}

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Name() string { return f.id }

func (f *fakeAdapter) Search(ctx context.Context, query string) ([]domain.Listing, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.panics {
		panic("selector exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.listings, f.err
}

func listing(title, source, link string) domain.Listing {
	return domain.NewListing(title, "$10", source, link)
}

func links(listings []domain.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.Link
	}
	return out
}

func newDispatcher(sources Sources, cfg Config) *Dispatcher {
	return NewDispatcher(sources, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestDedupe_FirstOccurrenceWins(t *testing.T) {
	a := listing("Dune", "Craigslist", "https://x/1")
	b := listing("Dune copy", "eBay", "https://x/1")
	c := listing("Dune hc", "eBay", "https://x/2")
	noLink := listing("Dune", "Reddit", "")

	got := Dedupe([]domain.Listing{a}, []domain.Listing{b, noLink, c})

	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, c.ID, got[1].ID)
}

func TestDedupe_Empty(t *testing.T) {
	assert.Empty(t, Dedupe())
	assert.Empty(t, Dedupe(nil, []domain.Listing{}))
}

func TestSearchAllPlatforms_MergesInSourceOrder(t *testing.T) {
	classifieds := &fakeAdapter{id: "classifieds", delay: 30 * time.Millisecond, listings: []domain.Listing{
		listing("Dune paperback", "Craigslist SF", "https://cl.test/1"),
		listing("Dune hardcover", "Craigslist SF", "https://shared.test/dune"),
	}}
	forum := &fakeAdapter{id: "forum", listings: []domain.Listing{
		listing("[FS] Dune", "Reddit r/booksale", "https://reddit.test/1"),
	}}
	auction := &fakeAdapter{id: "auction", delay: 10 * time.Millisecond, listings: []domain.Listing{
		listing("Dune 1965", "eBay", "https://shared.test/dune"),
		listing("Dune Messiah", "eBay", "https://ebay.test/2"),
	}}
	paid := &fakeAdapter{id: "paid_search", listings: []domain.Listing{
		listing("Dune", "Amazon", "https://amazon.test/1"),
	}}

	d := newDispatcher(Sources{Classifieds: classifieds, Forum: forum, Auction: auction, PaidSearch: paid}, Config{})
	got, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune", Author: "Frank Herbert"})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cl.test/1",
		"https://shared.test/dune",
		"https://reddit.test/1",
		"https://ebay.test/2",
		"https://amazon.test/1",
	}, links(got))
	assert.Equal(t, "Craigslist SF", got[1].Source, "earlier source wins a duplicate link")

	for _, a := range []*fakeAdapter{classifieds, forum, auction, paid} {
		assert.Equal(t, []string{"Dune Frank Herbert"}, a.queries, a.id)
	}
}

func TestSearchAllPlatforms_TopicAddsPaidSearchTask(t *testing.T) {
	paid := &fakeAdapter{id: "paid_search"}
	d := newDispatcher(Sources{PaidSearch: paid}, Config{})

	_, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune", Topic: "science fiction"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), paid.calls.Load())
	assert.ElementsMatch(t, []string{"Dune", "Dune science fiction"}, paid.queries)
}

func TestSearchAllPlatforms_PartialFailure(t *testing.T) {
	classifieds := &fakeAdapter{id: "classifieds", err: errors.New("connection reset")}
	forum := &fakeAdapter{id: "forum", panics: true}
	auction := &fakeAdapter{id: "auction", listings: []domain.Listing{listing("Dune", "eBay", "https://ebay.test/1")}}
	paid := &fakeAdapter{id: "paid_search", err: paidsearch.ErrQuotaExhausted}

	d := newDispatcher(Sources{Classifieds: classifieds, Forum: forum, Auction: auction, PaidSearch: paid}, Config{})
	got, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://ebay.test/1"}, links(got))
}

func TestSearchAllPlatforms_TotalFailureIsEmptyNotError(t *testing.T) {
	failing := &fakeAdapter{id: "classifieds", err: errors.New("boom")}
	d := newDispatcher(Sources{Classifieds: failing, Auction: &fakeAdapter{id: "auction", err: errors.New("boom")}}, Config{})

	got, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchAllPlatforms_SlowSourceTimesOut(t *testing.T) {
	slow := &fakeAdapter{id: "auction", delay: time.Hour, listings: []domain.Listing{listing("late", "eBay", "https://ebay.test/late")}}
	fast := &fakeAdapter{id: "forum", listings: []domain.Listing{listing("Dune", "Reddit", "https://reddit.test/1")}}

	d := newDispatcher(Sources{Forum: fast, Auction: slow}, Config{AdapterTimeout: 50 * time.Millisecond})

	start := time.Now()
	got, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://reddit.test/1"}, links(got))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSearchAllPlatforms_InvalidQuery(t *testing.T) {
	a := &fakeAdapter{id: "classifieds"}
	d := newDispatcher(Sources{Classifieds: a}, Config{})

	_, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "   ", Author: "Frank Herbert"})

	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestSearchAllPlatforms_NoSourcesConfigured(t *testing.T) {
	d := newDispatcher(Sources{}, Config{})

	got, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchAllPlatforms_CachesResults(t *testing.T) {
	a := &fakeAdapter{id: "auction", listings: []domain.Listing{listing("Dune", "eBay", "https://ebay.test/1")}}
	d := NewDispatcher(Sources{Auction: a}, Config{CacheSize: 8, CacheTTL: time.Minute},
		slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New())

	first, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})
	require.NoError(t, err)
	second, err := d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "  dune "})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestSearchAllPlatforms_CallerDeadlineKeepsFinishedSources(t *testing.T) {
	slow := &fakeAdapter{id: "auction", delay: time.Hour, listings: []domain.Listing{listing("late", "eBay", "https://ebay.test/late")}}
	fast := &fakeAdapter{id: "classifieds", listings: []domain.Listing{listing("Dune", "Craigslist", "https://cl.test/1")}}

	d := newDispatcher(Sources{Classifieds: fast, Auction: slow}, Config{AdapterTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := d.SearchAllPlatforms(ctx, domain.Query{BookTitle: "Dune"})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://cl.test/1"}, links(got))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSearchAllPlatforms_PartialResultsAreNotCached(t *testing.T) {
	tests := []struct {
		name   string
		broken *fakeAdapter
		ctx    func() (context.Context, context.CancelFunc)
	}{
		{
			name:   "caller deadline",
			broken: &fakeAdapter{id: "auction", delay: 200 * time.Millisecond, listings: []domain.Listing{listing("Dune hc", "eBay", "https://ebay.test/1")}},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
		{
			name:   "adapter error",
			broken: &fakeAdapter{id: "auction", err: errors.New("boom")},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithCancel(context.Background())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fast := &fakeAdapter{id: "classifieds", listings: []domain.Listing{listing("Dune", "Craigslist", "https://cl.test/1")}}
			d := newDispatcher(Sources{Classifieds: fast, Auction: tt.broken}, Config{
				AdapterTimeout: time.Minute,
				CacheSize:      8,
				CacheTTL:       time.Minute,
			})

			ctx, cancel := tt.ctx()
			first, err := d.SearchAllPlatforms(ctx, domain.Query{BookTitle: "Dune"})
			cancel()
			require.NoError(t, err)
			assert.Equal(t, []string{"https://cl.test/1"}, links(first))

			_, err = d.SearchAllPlatforms(context.Background(), domain.Query{BookTitle: "Dune"})
			require.NoError(t, err)

			assert.Equal(t, int32(2), fast.calls.Load())
			assert.Equal(t, int32(2), tt.broken.calls.Load())
		})
	}
}
