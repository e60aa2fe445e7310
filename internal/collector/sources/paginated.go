package sources

// paginated.go implements the paginated_search source kind: a search API
// that returns a page plus a cursor, walked until exhausted or the number
// of collected articles reaches the requested limit.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/TradingApplication/catalyst-trading-system/internal/collector"
)

// PaginatedSource polls a cursor-paginated search endpoint.
type PaginatedSource struct {
	name         string
	tier         int
	baseURL      string
	apiKey       string
	rateLimitRPS float64
	burst        int
	pageSize     int
	http         *http.Client
}

// PaginatedConfig configures a PaginatedSource.
type PaginatedConfig struct {
	Name         string
	Tier         int
	BaseURL      string // expects ?since=&cursor=&page_size= query support
	APIKey       string
	RateLimitRPS float64
	Burst        int
	PageSize     int
	Timeout      time.Duration
}

// NewPaginatedSource builds a PaginatedSource from configuration.
func NewPaginatedSource(cfg PaginatedConfig) *PaginatedSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &PaginatedSource{
		name:         cfg.Name,
		tier:         cfg.Tier,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		rateLimitRPS: cfg.RateLimitRPS,
		burst:        cfg.Burst,
		pageSize:     pageSize,
		http:         &http.Client{Timeout: timeout},
	}
}

func (s *PaginatedSource) Name() string             { return s.name }
func (s *PaginatedSource) Tier() int                 { return s.tier }
func (s *PaginatedSource) RateLimit() (float64, int) { return s.rateLimitRPS, s.burst }

type paginatedResponse struct {
	Results    []paginatedArticle `json:"results"`
	NextCursor string             `json:"nextCursor"`
}

type paginatedArticle struct {
	Headline    string    `json:"headline"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Snippet     string    `json:"snippet"`
	Symbol      string    `json:"symbol"`
}

// Fetch walks pages until the cursor is exhausted or limit articles have
// been collected.
func (s *PaginatedSource) Fetch(ctx context.Context, since time.Time, limit int) ([]collector.RawArticle, error) {
	var articles []collector.RawArticle
	cursor := ""

	for {
		page, next, err := s.fetchPage(ctx, since, cursor)
		if err != nil {
			return articles, err
		}
		articles = append(articles, page...)

		if next == "" || (limit > 0 && len(articles) >= limit) {
			break
		}
		cursor = next
	}

	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}

func (s *PaginatedSource) fetchPage(ctx context.Context, since time.Time, cursor string) ([]collector.RawArticle, string, error) {
	url := fmt.Sprintf("%s?since=%s&page_size=%d", s.baseURL, since.UTC().Format(time.RFC3339), s.pageSize)
	if cursor != "" {
		url += "&cursor=" + cursor
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("sources.PaginatedSource[%s]: build request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sources.PaginatedSource[%s]: request: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("sources.PaginatedSource[%s]: unexpected status %d", s.name, resp.StatusCode)
	}

	var page paginatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("sources.PaginatedSource[%s]: decode: %w", s.name, err)
	}

	articles := make([]collector.RawArticle, 0, len(page.Results))
	for _, a := range page.Results {
		articles = append(articles, collector.RawArticle{
			Headline:       a.Headline,
			SourceURL:      a.URL,
			PublishedAt:    a.PublishedAt,
			ContentSnippet: a.Snippet,
			Symbol:         a.Symbol,
		})
	}
	return articles, page.NextCursor, nil
}
