package domain

import "time"

type User struct {
	ID            string `db:"id"`
	Email         string `db:"email"`
	DisplayName   string `db:"display_name"`
	Notifications bool   `db:"notifications"`
}

type Book struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	Title        string     `db:"title"`
	Author       *string    `db:"author"`
	Topic        *string    `db:"topic"`
	LastSearched *time.Time `db:"last_searched"`
}

// Query builds the aggregator query for the book.
func (b Book) Query() Query {
	q := Query{BookTitle: b.Title}
	if b.Author != nil {
		q.Author = *b.Author
	}
	if b.Topic != nil {
		q.Topic = *b.Topic
	}
	return q
}

// Notification is a listing delivered to a user for one of their books.
type Notification struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	BookID    string    `db:"book_id"`
	BookTitle string    `db:"book_title"`
	Title     string    `db:"title"`
	Price     string    `db:"price"`
	Source    string    `db:"source"`
	Link      string    `db:"link"`
	Condition *string   `db:"condition"`
	Seller    *string   `db:"seller"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

// BatchStats holds statistics about a batch run.
type BatchStats struct {
	Users         int
	Books         int
	Searched      int
	Skipped       int
	Listings      int
	Notifications int
	Published     int
	Errors        int
	Duration      time.Duration
}

// ListingMessage is the payload handed to the e-mail delivery queue: every
// new listing found for one book in one batch run.
type ListingMessage struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	BookID      string    `json:"book_id"`
	BookTitle   string    `json:"book_title"`
	Listings    []Listing `json:"listings"`
	SearchedAt  time.Time `json:"searched_at"`
}
