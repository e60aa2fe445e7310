// Package sources provides the News Collector's concrete source kinds:
// a generic JSON REST feed, an RSS/Atom feed, and a paginated search API
// (rest_json | rss | paginated_search).
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
)

// RESTSource polls a JSON endpoint returning an array of articles.
type RESTSource struct {
	name         string
	tier         int
	baseURL      string
	apiKey       string
	rateLimitRPS float64
	burst        int
	http         *http.Client
}

// RESTConfig configures a RESTSource.
type RESTConfig struct {
	Name         string
	Tier         int
	BaseURL      string // expects ?since=<RFC3339>&limit=<n> query support
	APIKey       string
	RateLimitRPS float64
	Burst        int
	Timeout      time.Duration
}

// NewRESTSource builds a RESTSource from configuration.
func NewRESTSource(cfg RESTConfig) *RESTSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTSource{
		name:         cfg.Name,
		tier:         cfg.Tier,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		rateLimitRPS: cfg.RateLimitRPS,
		burst:        cfg.Burst,
		http:         &http.Client{Timeout: timeout},
	}
}

func (s *RESTSource) Name() string { return s.name }
func (s *RESTSource) Tier() int    { return s.tier }

func (s *RESTSource) RateLimit() (float64, int) {
	return s.rateLimitRPS, s.burst
}

type restArticle struct {
	Headline    string    `json:"headline"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Snippet     string    `json:"snippet"`
	Symbol      string    `json:"symbol"`
}

// Fetch calls baseURL with since/limit query parameters and decodes a JSON
// array of articles.
func (s *RESTSource) Fetch(ctx context.Context, since time.Time, limit int) ([]collector.RawArticle, error) {
	url := fmt.Sprintf("%s?since=%s&limit=%d", s.baseURL, since.UTC().Format(time.RFC3339), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sources.RESTSource[%s]: build request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sources.RESTSource[%s]: request: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sources.RESTSource[%s]: unexpected status %d", s.name, resp.StatusCode)
	}

	var raw []restArticle
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("sources.RESTSource[%s]: decode: %w", s.name, err)
	}

	articles := make([]collector.RawArticle, 0, len(raw))
	for _, a := range raw {
		articles = append(articles, collector.RawArticle{
			Headline:       a.Headline,
			SourceURL:      a.URL,
			PublishedAt:    a.PublishedAt,
			ContentSnippet: a.Snippet,
			Symbol:         a.Symbol,
		})
	}
	return articles, nil
}
