package paidsearch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"book_finder/internal/domain"
	"book_finder/internal/source"
)

const maxTitleLength = 100

var (
	bookRetailers = []string{
		"amazon", "barnes", "abebooks", "alibris", "thriftbooks",
		"bookdepository", "waterstones", "powells", "strand",
	}
	bookKeywords = []string{
		"book", "paperback", "hardcover", "novel", "textbook",
		"bestseller", "author", "isbn", "edition", "publisher",
	}
	saleKeywords = []string{
		"buy", "purchase", "price", "sale", "shop", "order",
		"available", "stock", "shipping", "$",
	}

	premiumSources = map[string]bool{
		"Amazon":         true,
		"Barnes & Noble": true,
		"AbeBooks":       true,
		"ThriftBooks":    true,
	}

	marketplaceDomains = []string{"ebay", "etsy", "amazon"}
)

// Checked in order; the first matching key names the source.
var domainNames = []struct {
	key  string
	name string
}{
	{"amazon", "Amazon"},
	{"barnesandnoble", "Barnes & Noble"},
	{"bn.com", "Barnes & Noble"},
	{"abebooks", "AbeBooks"},
	{"alibris", "Alibris"},
	{"thriftbooks", "ThriftBooks"},
	{"bookdepository", "Book Depository"},
	{"waterstones", "Waterstones"},
	{"powells", "Powell's Books"},
	{"strand", "Strand Books"},
	{"ebay", "eBay"},
	{"etsy", "Etsy"},
	{"mercari", "Mercari"},
	{"facebook", "Facebook Marketplace"},
}

var snippetPricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$(\d{1,4}(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)\bUSD?\s*(\d{1,4}(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)Price:\s*\$?(\d{1,4}(?:\.\d{2})?)`),
	regexp.MustCompile(`(?i)(\d{1,4}(?:\.\d{2})?)\s*USD`),
}

// "like new" is listed before "new" so the more specific phrase wins.
var conditionPatterns = []struct {
	re    *regexp.Regexp
	value string
}{
	{regexp.MustCompile(`(?i)\b(like new|excellent)\b`), "Like New"},
	{regexp.MustCompile(`(?i)\b(new|brand new)\b`), "New"},
	{regexp.MustCompile(`(?i)\b(used|pre-owned|second-hand)\b`), "Used"},
	{regexp.MustCompile(`(?i)\b(good condition)\b`), "Good"},
	{regexp.MustCompile(`(?i)\b(fair condition)\b`), "Fair"},
	{regexp.MustCompile(`(?i)\b(refurbished|renewed)\b`), "Refurbished"},
}

var (
	sellerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)seller:\s*([^,\n]+)`),
		regexp.MustCompile(`(?i)sold by\s+([^,\n]+)`),
	}
	retailerSuffixRe = regexp.MustCompile(`(?i)\s*-\s*(Amazon\.com|Barnes & Noble|eBay|Etsy).*$`)
	pipeSuffixRe     = regexp.MustCompile(`\s*\|\s*.*$`)
	booksSuffixRe    = regexp.MustCompile(`\s*:\s*Books\s*$`)
	nonPriceCharsRe  = regexp.MustCompile(`[^\d.]`)
)

// toListing maps one search item onto a Listing, rejecting items that do not
// look like a book offered for sale.
func toListing(item Item, query string) (domain.Listing, bool) {
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Link) == "" {
		return domain.Listing{}, false
	}
	if !isBookRelated(item.Title, item.Snippet, item.DisplayLink, query) {
		return domain.Listing{}, false
	}

	price := extractPrice(item)
	if price == "" {
		price = domain.PriceSeeListing
	}

	listing := domain.NewListing(cleanTitle(item.Title), price, determineSource(item.DisplayLink), item.Link)
	listing.Condition = extractCondition(item)
	listing.Seller = extractSeller(item)
	return listing, true
}

func isBookRelated(title, snippet, displayLink, query string) bool {
	titleLower := strings.ToLower(title)
	snippetLower := strings.ToLower(snippet)

	if source.ContainsAny(strings.ToLower(displayLink), bookRetailers...) {
		return true
	}

	matches := func(words []string) bool {
		return source.ContainsAny(titleLower, words...) || source.ContainsAny(snippetLower, words...)
	}

	if !matches(bookKeywords) {
		return false
	}
	if matches(saleKeywords) {
		return true
	}

	var terms []string
	for _, token := range source.QueryTokens(query) {
		if len(token) > 2 {
			terms = append(terms, token)
		}
	}
	return matches(terms)
}

func extractPrice(item Item) string {
	if item.Pagemap != nil {
		for _, p := range item.Pagemap.Product {
			if p.Price != "" {
				return formatPrice(p.Price)
			}
		}
		for _, o := range item.Pagemap.Offer {
			if o.Price != "" {
				currency := o.PriceCurrency
				if currency == "" || strings.EqualFold(currency, "USD") {
					return "$" + o.Price
				}
				return currency + " " + o.Price
			}
		}
	}

	for _, re := range snippetPricePatterns {
		if m := re.FindStringSubmatch(item.Snippet); m != nil {
			return "$" + m[1]
		}
	}
	return ""
}

func formatPrice(raw string) string {
	value, err := strconv.ParseFloat(nonPriceCharsRe.ReplaceAllString(raw, ""), 64)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("$%.2f", value)
}

func determineSource(displayLink string) string {
	lower := strings.ToLower(displayLink)
	for _, d := range domainNames {
		if strings.Contains(lower, d.key) {
			return d.name
		}
	}

	bare := strings.SplitN(strings.TrimPrefix(lower, "www."), ".", 2)[0]
	if bare == "" {
		return displayLink
	}
	return strings.ToUpper(bare[:1]) + bare[1:]
}

func extractCondition(item Item) string {
	if item.Pagemap != nil {
		for _, p := range item.Pagemap.Product {
			availability := strings.ToLower(p.Availability)
			switch {
			case availability == "":
				continue
			case strings.Contains(availability, "new"):
				return "New"
			case strings.Contains(availability, "used"):
				return "Used"
			case strings.Contains(availability, "refurbished"):
				return "Refurbished"
			}
		}
	}

	for _, c := range conditionPatterns {
		if c.re.MatchString(item.Snippet) {
			return c.value
		}
	}
	return ""
}

func extractSeller(item Item) string {
	if !source.ContainsAny(strings.ToLower(item.DisplayLink), marketplaceDomains...) {
		return ""
	}
	for _, re := range sellerPatterns {
		if m := re.FindStringSubmatch(item.Snippet); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func cleanTitle(title string) string {
	cleaned := retailerSuffixRe.ReplaceAllString(title, "")
	cleaned = pipeSuffixRe.ReplaceAllString(cleaned, "")
	cleaned = booksSuffixRe.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) > maxTitleLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxTitleLength]) + "..."
	}
	return cleaned
}

// Score ranks a listing: premium retailer +10, real price +5, known
// condition +3, and a further +2 for "New".
func Score(l domain.Listing) int {
	score := 0
	if premiumSources[l.Source] {
		score += 10
	}
	if l.Price != "" && l.Price != domain.PriceSeeListing {
		score += 5
	}
	if l.Condition != "" {
		score += 3
	}
	if l.Condition == "New" {
		score += 2
	}
	return score
}

// rank sorts by descending score; equal scores keep their input order.
func rank(listings []domain.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return Score(listings[i]) > Score(listings[j])
	})
}
