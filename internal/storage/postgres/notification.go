package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"book_finder/internal/domain"
)

const notificationColumns = 10

type NotificationStore struct {
	db *sqlx.DB
}

func NewNotificationStore(db *sqlx.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// InsertBatch writes all notifications in one statement.
func (s *NotificationStore) InsertBatch(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO notifications
		(user_id, book_id, book_title, title, price, source, link, condition, seller, created_at) VALUES `)
	valueArgs := make([]interface{}, 0, len(notifications)*notificationColumns)

	for i, n := range notifications {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 0; col < notificationColumns; col++ {
			if col > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(itoa(i*notificationColumns + col + 1))
		}
		sb.WriteString(")")

		createdAt := n.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		valueArgs = append(valueArgs,
			n.UserID, n.BookID, n.BookTitle, n.Title, n.Price,
			n.Source, n.Link, n.Condition, n.Seller, createdAt,
		)
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

// ListByBook returns the notifications stored for the given books, newest first.
func (s *NotificationStore) ListByBook(ctx context.Context, bookIDs []string) ([]domain.Notification, error) {
	if len(bookIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, user_id, book_id, book_title, title, price, source, link,
			condition, seller, read, created_at
		FROM notifications
		WHERE book_id = ANY($1)
		ORDER BY created_at DESC, id`

	var result []domain.Notification
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &result, query, pq.Array(bookIDs))
	return result, err
}

func (s *NotificationStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM notifications WHERE created_at < $1",
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
