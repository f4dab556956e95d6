// Package quota meters the daily call budget of the paid search API.
package quota

import (
	"context"
	"fmt"
	"time"

	"book_finder/internal/domain"
	"book_finder/internal/metrics"
)

const (
	DefaultDailyLimit = 90
	DefaultTimeZone   = "America/New_York"

	periodLayout = "2006-01-02"
)

// Store persists per-period usage counters.
type Store interface {
	// Increment adds n to the counter for periodKey only if the result stays
	// within ceiling. Check and commit must be one indivisible operation.
	Increment(ctx context.Context, periodKey string, n, ceiling int, at time.Time) (bool, error)
	// Get returns the counter for periodKey, zero when absent.
	Get(ctx context.Context, periodKey string) (int, error)
	// DeleteBefore drops every counter older than periodKey.
	DeleteBefore(ctx context.Context, periodKey string) (int64, error)
}

// Tracker hands out quota units for the current period. Periods are calendar
// days in the configured time zone.
type Tracker struct {
	store    Store
	limit    int
	location *time.Location
	now      func() time.Time
	metrics  *metrics.Metrics
}

type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// NewTracker builds a tracker; a limit <= 0 falls back to DefaultDailyLimit
// and an empty time zone to DefaultTimeZone.
func NewTracker(store Store, limit int, timeZone string, opts ...Option) (*Tracker, error) {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", timeZone, err)
	}

	t := &Tracker{
		store:    store,
		limit:    limit,
		location: loc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// PeriodKey returns the period that contains at.
func (t *Tracker) PeriodKey(at time.Time) string {
	return at.In(t.location).Format(periodLayout)
}

// Reserve commits n units to the current period if they fit under the limit.
// A store failure is returned with granted=false.
func (t *Tracker) Reserve(ctx context.Context, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}

	now := t.now()
	granted, err := t.store.Increment(ctx, t.PeriodKey(now), n, t.limit, now)
	switch {
	case err != nil:
		t.metrics.IncReservation("error")
		return false, fmt.Errorf("reserve quota: %w", err)
	case !granted:
		t.metrics.IncReservation("refused")
	default:
		t.metrics.IncReservation("granted")
	}
	return granted, nil
}

// Usage returns a read-only snapshot of the current period.
func (t *Tracker) Usage(ctx context.Context) (domain.QuotaUsage, error) {
	key := t.PeriodKey(t.now())
	used, err := t.store.Get(ctx, key)
	if err != nil {
		return domain.QuotaUsage{}, fmt.Errorf("get quota usage: %w", err)
	}

	return domain.QuotaUsage{
		Used:      used,
		Remaining: max(t.limit-used, 0),
		Limit:     t.limit,
		PeriodKey: key,
	}, nil
}

// Purge removes counters for periods older than retentionDays.
func (t *Tracker) Purge(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := t.PeriodKey(t.now().AddDate(0, 0, -retentionDays))
	n, err := t.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge quota records: %w", err)
	}
	return n, nil
}
