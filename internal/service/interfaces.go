package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"book_finder/internal/domain"
)

type Searcher interface {
	SearchAllPlatforms(ctx context.Context, q domain.Query) ([]domain.Listing, error)
}

type UserStore interface {
	ListNotifiable(ctx context.Context) ([]domain.User, error)
}

type BookStore interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Book, error)
	MarkSearched(ctx context.Context, bookID string, at time.Time) error
}

type NotificationStore interface {
	InsertBatch(ctx context.Context, notifications []domain.Notification) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type QuotaPurger interface {
	Purge(ctx context.Context, retentionDays int) (int64, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, msg *domain.ListingMessage) error
	Close() error
}
