package aggregator

import (
	"strings"

	"book_finder/internal/domain"
	"book_finder/internal/source"
)

// Dedupe concatenates batches in order and keeps the first listing seen for
// each link. Listings without a link are dropped.
func Dedupe(batches ...[]domain.Listing) []domain.Listing {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	all := make([]domain.Listing, 0, total)
	for _, b := range batches {
		for _, l := range b {
			if strings.TrimSpace(l.Link) == "" {
				continue
			}
			all = append(all, l)
		}
	}

	return source.DedupeByLink(all, func(l domain.Listing) string { return l.Link })
}

func cacheKey(q domain.Query) string {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(q.BookTitle) + "|" + norm(q.Author) + "|" + norm(q.Topic)
}
