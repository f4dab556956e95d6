package paidsearch

import "encoding/json"

// SearchResponse is the structured search API response, limited to the
// projected fields.
type SearchResponse struct {
	Items             []Item             `json:"items"`
	SearchInformation *SearchInformation `json:"searchInformation"`
}

// rawPage defers item decoding so one malformed item only drops itself.
type rawPage struct {
	Items []json.RawMessage `json:"items"`
}

type SearchInformation struct {
	TotalResults string  `json:"totalResults"`
	SearchTime   float64 `json:"searchTime"`
}

type Item struct {
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Snippet     string   `json:"snippet"`
	DisplayLink string   `json:"displayLink"`
	Pagemap     *Pagemap `json:"pagemap"`
}

type Pagemap struct {
	Product  []Product           `json:"product"`
	Offer    []Offer             `json:"offer"`
	Metatags []map[string]string `json:"metatags"`
}

type Product struct {
	Name         string `json:"name"`
	Price        string `json:"price"`
	Availability string `json:"availability"`
	Brand        string `json:"brand"`
}

type Offer struct {
	Price         string `json:"price"`
	PriceCurrency string `json:"pricecurrency"`
}
