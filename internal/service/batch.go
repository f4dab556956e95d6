package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"book_finder/internal/config"
	"book_finder/internal/domain"
)

// BatchService searches every tracked book of every opted-in user and turns
// the results into stored and published notifications.
type BatchService struct {
	searcher      Searcher
	users         UserStore
	books         BookStore
	notifications NotificationStore
	quota         QuotaPurger
	txManager     TransactionManager
	publisher     Publisher
	logger        *slog.Logger
	config        config.BatchConfig
	now           func() time.Time
}

func NewBatchService(
	searcher Searcher,
	users UserStore,
	books BookStore,
	notifications NotificationStore,
	quota QuotaPurger,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.BatchConfig,
) *BatchService {
	return &BatchService{
		searcher:      searcher,
		users:         users,
		books:         books,
		notifications: notifications,
		quota:         quota,
		txManager:     txManager,
		publisher:     publisher,
		logger:        logger.With("component", "batch"),
		config:        cfg,
		now:           time.Now,
	}
}

// Run processes one batch. Per-book failures are counted in the stats and
// never stop the batch; only listing users or cancellation returns an error.
func (s *BatchService) Run(ctx context.Context) (*domain.BatchStats, error) {
	startTime := s.now()
	s.logger.Info("starting batch",
		"min_search_interval", s.config.MinSearchInterval,
		"book_delay", s.config.BookDelay,
		"user_delay", s.config.UserDelay,
	)

	users, err := s.users.ListNotifiable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	stats := &domain.BatchStats{Users: len(users)}
	searched := 0

	for i, user := range users {
		if i > 0 {
			if err := sleep(ctx, s.config.UserDelay); err != nil {
				return s.finish(stats, startTime), fmt.Errorf("batch interrupted: %w", err)
			}
		}

		books, err := s.books.ListByUser(ctx, user.ID)
		if err != nil {
			stats.Errors++
			s.logger.Error("list books failed", "user_id", user.ID, "error", err)
			continue
		}
		stats.Books += len(books)

		for _, book := range books {
			if s.recentlySearched(book) {
				stats.Skipped++
				s.logger.Debug("book searched recently, skipping",
					"book_id", book.ID,
					"last_searched", *book.LastSearched,
				)
				continue
			}

			if searched > 0 {
				if err := sleep(ctx, s.config.BookDelay); err != nil {
					return s.finish(stats, startTime), fmt.Errorf("batch interrupted: %w", err)
				}
			}
			searched++

			if err := s.processBook(ctx, user, book, stats); err != nil {
				stats.Errors++
				s.logger.Error("process book failed",
					"user_id", user.ID,
					"book_id", book.ID,
					"title", book.Title,
					"error", err,
				)
			}
		}
	}

	return s.finish(stats, startTime), nil
}

func (s *BatchService) finish(stats *domain.BatchStats, start time.Time) *domain.BatchStats {
	stats.Duration = s.now().Sub(start)

	s.logger.Info("batch completed",
		"users", stats.Users,
		"books", stats.Books,
		"searched", stats.Searched,
		"skipped", stats.Skipped,
		"listings", stats.Listings,
		"notifications", stats.Notifications,
		"published", stats.Published,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats
}

func (s *BatchService) recentlySearched(book domain.Book) bool {
	if book.LastSearched == nil || s.config.MinSearchInterval <= 0 {
		return false
	}
	return s.now().Sub(*book.LastSearched) < s.config.MinSearchInterval
}

// processBook searches one book, then stores its notifications and marks it
// searched in one transaction. A book with no results is still marked.
func (s *BatchService) processBook(ctx context.Context, user domain.User, book domain.Book, stats *domain.BatchStats) error {
	listings, err := s.searcher.SearchAllPlatforms(ctx, book.Query())
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("search: %w", err)
	}

	searchedAt := s.now()
	stats.Searched++
	stats.Listings += len(listings)

	notifications := make([]domain.Notification, 0, len(listings))
	for _, l := range listings {
		notifications = append(notifications, domain.Notification{
			UserID:    user.ID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Title:     l.Title,
			Price:     l.Price,
			Source:    l.Source,
			Link:      l.Link,
			Condition: optional(l.Condition),
			Seller:    optional(l.Seller),
			CreatedAt: searchedAt,
		})
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if len(notifications) > 0 {
			if err := s.notifications.InsertBatch(txCtx, notifications); err != nil {
				return fmt.Errorf("insert notifications: %w", err)
			}
		}
		if err := s.books.MarkSearched(txCtx, book.ID, searchedAt); err != nil {
			return fmt.Errorf("mark searched: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stats.Notifications += len(notifications)

	s.logger.Info("book searched",
		"user_id", user.ID,
		"book_id", book.ID,
		"listings", len(listings),
	)

	if len(listings) == 0 || s.publisher == nil {
		return nil
	}

	msg := &domain.ListingMessage{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		BookID:      book.ID,
		BookTitle:   book.Title,
		Listings:    listings,
		SearchedAt:  searchedAt,
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	stats.Published++
	return nil
}

// Cleanup drops notifications and quota records older than the retention window.
func (s *BatchService) Cleanup(ctx context.Context) error {
	if s.config.RetentionDays <= 0 {
		return nil
	}

	var errs []error

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	deleted, err := s.notifications.DeleteBefore(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge notifications: %w", err))
	} else {
		s.logger.Info("purged old notifications", "deleted", deleted, "cutoff", cutoff)
	}

	if s.quota != nil {
		purged, err := s.quota.Purge(ctx, s.config.RetentionDays)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.logger.Info("purged old quota records", "deleted", purged)
		}
	}

	return errors.Join(errs...)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
