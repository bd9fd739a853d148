// Package websearch provides web search, news search and guarded page
// fetching over the Brave Search API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.search.brave.com/res/v1"
	defaultResultCount = 5
	requestTimeout     = 30 * time.Second
)

// Config holds configuration for the search tools.
type Config struct {
	APIKey  string
	BaseURL string
}

// Result is one search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Age         string `json:"age,omitempty"`
}

// Client calls the Brave Search API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a search client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// SearchWeb runs a web search.
func (c *Client) SearchWeb(ctx context.Context, query string, count int) ([]Result, error) {
	return c.search(ctx, "/web/search", query, count)
}

// SearchNews runs a news search.
func (c *Client) SearchNews(ctx context.Context, query string, count int) ([]Result, error) {
	return c.search(ctx, "/news/search", query, count)
}

func (c *Client) search(ctx context.Context, endpoint, query string, count int) ([]Result, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("search API key not configured")
	}
	if count <= 0 {
		count = defaultResultCount
	}

	searchURL, err := url.Parse(c.config.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	values := url.Values{}
	values.Set("q", query)
	values.Set("count", fmt.Sprintf("%d", count))
	searchURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	if strings.HasSuffix(endpoint, "/news/search") {
		var newsResp struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &newsResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		results := make([]Result, 0, len(newsResp.Results))
		for _, r := range newsResp.Results {
			results = append(results, Result{Title: r.Title, URL: r.URL, Description: r.Description, Age: r.Age})
		}
		return results, nil
	}

	var webResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &webResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	results := make([]Result, 0, len(webResp.Web.Results))
	for _, r := range webResp.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}
