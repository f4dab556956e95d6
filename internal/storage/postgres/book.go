package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"book_finder/internal/domain"
)

type UserStore struct {
	db *sqlx.DB
}

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// ListNotifiable returns users that opted in to notifications.
func (s *UserStore) ListNotifiable(ctx context.Context) ([]domain.User, error) {
	query := `
		SELECT id, email, display_name, notifications
		FROM users
		WHERE notifications = TRUE
		ORDER BY created_at, id`

	var users []domain.User
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &users, query)
	return users, err
}

type BookStore struct {
	db *sqlx.DB
}

func NewBookStore(db *sqlx.DB) *BookStore {
	return &BookStore{db: db}
}

func (s *BookStore) ListByUser(ctx context.Context, userID string) ([]domain.Book, error) {
	query := `
		SELECT id, user_id, title, author, topic, last_searched
		FROM books
		WHERE user_id = $1
		ORDER BY created_at, id`

	var books []domain.Book
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &books, query, userID)
	return books, err
}

func (s *BookStore) MarkSearched(ctx context.Context, bookID string, at time.Time) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"UPDATE books SET last_searched = $2 WHERE id = $1",
		bookID, at,
	)
	return err
}
