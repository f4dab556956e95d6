package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Price and condition placeholders used when a source omits a field.
const (
	PriceNotListed        = "Price not listed"
	PriceSeePost          = "See post for price"
	PriceSeeListing       = "See listing for price"
	ConditionNotSpecified = "Condition not specified"
)

var ErrInvalidQuery = errors.New("invalid query: book title is required")

// Listing is one item offered for sale, normalized from a single source.
// Link is the identity used for de-duplication.
type Listing struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Source    string `json:"source"`
	Link      string `json:"link"`
	Condition string `json:"condition,omitempty"`
	Seller    string `json:"seller,omitempty"`
}

// NewListing assigns a fresh ID. IDs are not stable across queries.
func NewListing(title, price, source, link string) Listing {
	return Listing{
		ID:     uuid.NewString(),
		Title:  title,
		Price:  price,
		Source: source,
		Link:   link,
	}
}

type Query struct {
	BookTitle string
	Author    string
	Topic     string
}

func (q Query) Validate() error {
	if strings.TrimSpace(q.BookTitle) == "" {
		return ErrInvalidQuery
	}
	return nil
}

// SearchString joins the non-empty title and author.
func (q Query) SearchString() string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(q.BookTitle); t != "" {
		parts = append(parts, t)
	}
	if a := strings.TrimSpace(q.Author); a != "" {
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// TopicSearchString returns the supplemental topic query, or "" when no topic is set.
func (q Query) TopicSearchString() string {
	topic := strings.TrimSpace(q.Topic)
	if topic == "" {
		return ""
	}
	return q.SearchString() + " " + topic
}

type QuotaRecord struct {
	PeriodKey   string    `db:"period_key"`
	Count       int       `db:"count"`
	LastUpdated time.Time `db:"last_updated"`
}

type QuotaUsage struct {
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	PeriodKey string `json:"period_key"`
}
