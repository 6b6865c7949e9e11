// Package youtube talks to YouTube's public pages and feeds without the
// official API: keyword search with continuation paging, channel reference
// resolution, RSS plus watch-page enrichment, and about-page email scans.
// One shared rate limiter gates every outbound request.
package youtube

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Terminal outcomes the scheduler treats as done-but-not-retried, as opposed
// to transient errors.
var (
	ErrFeedUnavailable = errors.New("channel feed not available")
	ErrInvalidChannel  = errors.New("invalid channel reference")
	ErrNoVideos        = errors.New("no public videos found in feed")
)

// SearchResult is one channel pulled from a search results page.
type SearchResult struct {
	ChannelID   string
	Title       string
	URL         string
	Subscribers *int64
}

// SearchSession carries the innertube credentials scraped from the first
// results page; continuation requests need both.
type SearchSession struct {
	APIKey  string         `json:"api_key"`
	Context map[string]any `json:"context"`
}

// SearchPage is one page of channel search results plus the token to fetch
// the next one. An empty NextPageToken means the listing is exhausted.
type SearchPage struct {
	Results       []SearchResult
	NextPageToken string
	Session       *SearchSession
}

// Resolution is a channel reference resolved to its canonical identity.
type Resolution struct {
	ChannelID    string
	CanonicalURL string
	Handle       string
	Title        string
}

// DiscoveryMetadata is the lightweight probe used by discovery-time gates.
type DiscoveryMetadata struct {
	LastUpload         string
	Language           string
	LanguageConfidence *float64
}

// Enrichment is the full scrape result for one channel.
type Enrichment struct {
	Name               string
	Subscribers        *int64
	Language           string
	LanguageConfidence *float64
	Emails             []string
	LastUpdated        string
	EmailGatePresent   *bool
}

// EmailScan is the lightweight email-only scrape result.
type EmailScan struct {
	Emails           []string
	LastUpdated      string
	EmailGatePresent *bool
}

// Client performs all YouTube page fetches. Safe for concurrent use; the
// embedded limiter serializes request pacing across goroutines.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   retryConfig
}

// NewClient builds a client around the shared HTTP client. The limiter
// enforces the minimum interval between any two outbound requests,
// roughly three per second.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 1),
		retry:   defaultRetry,
	}
}
