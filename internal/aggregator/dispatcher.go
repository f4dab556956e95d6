// Package aggregator fans a book query out to every configured source and
// merges the answers into one de-duplicated list.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"book_finder/internal/domain"
	"book_finder/internal/metrics"
	"book_finder/internal/source"
	"book_finder/internal/source/paidsearch"
)

const DefaultAdapterTimeout = 15 * time.Second

// Adapter is one listing source.
type Adapter interface {
	ID() string
	Name() string
	Search(ctx context.Context, query string) ([]domain.Listing, error)
}

// Sources lists the adapters in merge order. Nil adapters are skipped.
type Sources struct {
	Classifieds Adapter
	Forum       Adapter
	Auction     Adapter
	PaidSearch  Adapter
}

type Config struct {
	AdapterTimeout time.Duration
	CacheSize      int
	CacheTTL       time.Duration
}

type task struct {
	label   string
	adapter Adapter
	query   string
}

type Dispatcher struct {
	sources Sources
	timeout time.Duration
	cache   *expirable.LRU[string, []domain.Listing]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDispatcher(sources Sources, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	timeout := cfg.AdapterTimeout
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}

	d := &Dispatcher{
		sources: sources,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "aggregator"),
	}
	if cfg.CacheSize > 0 {
		d.cache = expirable.NewLRU[string, []domain.Listing](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return d
}

// SearchAllPlatforms queries every configured source concurrently and returns
// the merged listings. The only error is an invalid query; source failures
// and timeouts contribute nothing to the result.
func (d *Dispatcher) SearchAllPlatforms(ctx context.Context, q domain.Query) ([]domain.Listing, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := cacheKey(q)
	if d.cache != nil {
		if cached, ok := d.cache.Get(key); ok {
			d.metrics.IncCacheHit()
			d.logger.Debug("serving cached results", "query", q.SearchString(), "listings", len(cached))
			return slices.Clone(cached), nil
		}
	}

	tasks := d.tasks(q)
	batches := make([][]domain.Listing, len(tasks))
	finished := make([]bool, len(tasks))

	start := time.Now()
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches[i], finished[i] = d.run(ctx, t)
		}()
	}
	wg.Wait()

	results := Dedupe(batches...)
	d.metrics.ObserveAggregation(len(results))
	d.logger.Info("aggregated search completed",
		"query", q.SearchString(),
		"topic", q.Topic,
		"sources", len(tasks),
		"listings", len(results),
		"duration", time.Since(start),
	)

	// A partial merge must not hide the missing sources from later callers.
	complete := ctx.Err() == nil && !slices.Contains(finished, false)
	if d.cache != nil && complete && len(results) > 0 {
		d.cache.Add(key, slices.Clone(results))
	}
	return results, nil
}

// tasks builds the fan-out in merge order: classifieds, forum, auction, paid
// search, then the topic variant of paid search.
func (d *Dispatcher) tasks(q domain.Query) []task {
	search := q.SearchString()

	var tasks []task
	add := func(label string, a Adapter, query string) {
		if a == nil || query == "" {
			return
		}
		tasks = append(tasks, task{label: label, adapter: a, query: query})
	}

	add(d.label(d.sources.Classifieds), d.sources.Classifieds, search)
	add(d.label(d.sources.Forum), d.sources.Forum, search)
	add(d.label(d.sources.Auction), d.sources.Auction, search)
	add(d.label(d.sources.PaidSearch), d.sources.PaidSearch, search)
	add(d.label(d.sources.PaidSearch)+"_topic", d.sources.PaidSearch, q.TopicSearchString())

	return tasks
}

func (d *Dispatcher) label(a Adapter) string {
	if a == nil {
		return ""
	}
	return a.ID()
}

type outcome struct {
	listings []domain.Listing
	err      error
}

// run executes one task under the per-adapter timeout. It never fails: every
// problem is logged and yields an empty batch. The flag is false unless the
// adapter answered cleanly.
func (d *Dispatcher) run(ctx context.Context, t task) ([]domain.Listing, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logger := d.logger.With("source", t.label)
	start := time.Now()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		listings, err := t.adapter.Search(ctx, t.query)
		done <- outcome{listings: listings, err: err}
	}()

	select {
	case <-ctx.Done():
		d.metrics.ObserveAdapter(t.label, "timeout", time.Since(start), 0)
		logger.Warn("source timed out",
			"query", t.query,
			"timeout", d.timeout,
			"error", ctx.Err(),
		)
		return nil, false

	case o := <-done:
		elapsed := time.Since(start)
		switch {
		case errors.Is(o.err, paidsearch.ErrQuotaExhausted):
			d.metrics.ObserveAdapter(t.label, "quota_exhausted", elapsed, 0)
			logger.Warn("daily search quota exhausted, skipping source", "query", t.query)
			return nil, false
		case o.err != nil:
			d.metrics.ObserveAdapter(t.label, "error", elapsed, 0)
			logger.Warn("source failed",
				"query", t.query,
				"category", source.ErrorLabel(o.err),
				"error", o.err,
			)
			return nil, false
		}

		d.metrics.ObserveAdapter(t.label, "ok", elapsed, len(o.listings))
		logger.Debug("source completed", "listings", len(o.listings), "duration", elapsed)
		return o.listings, true
	}
}
