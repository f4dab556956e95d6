package forum

// TokenResponse is the OAuth password-grant response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// SearchResponse is the forum search listing envelope.
type SearchResponse struct {
	Kind string     `json:"kind"`
	Data SearchData `json:"data"`
}

type SearchData struct {
	After    *string     `json:"after"`
	Children []PostChild `json:"children"`
}

type PostChild struct {
	Kind string `json:"kind"`
	Data Post   `json:"data"`
}

type Post struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Selftext      string `json:"selftext"`
	Over18        bool   `json:"over_18"`
	SubredditType string `json:"subreddit_type"`
	Subreddit     string `json:"subreddit"`
	Permalink     string `json:"permalink"`
	Author        string `json:"author"`
}
