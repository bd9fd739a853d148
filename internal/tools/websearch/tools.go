package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/outie/internal/tools"
)

// WebSearchTool searches the web. Result URLs are added to the allow-list so
// the engine can fetch them afterwards.
type WebSearchTool struct {
	client    *Client
	allowlist *Allowlist
}

// NewWebSearchTool creates the web_search tool.
func NewWebSearchTool(client *Client, allowlist *Allowlist) *WebSearchTool {
	return &WebSearchTool{client: client, allowlist: allowlist}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returned URLs become fetchable with fetch_page."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Result count (default 5)"}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	return runSearch(ctx, params, t.allowlist, t.client.SearchWeb)
}

// NewsSearchTool searches recent news.
type NewsSearchTool struct {
	client    *Client
	allowlist *Allowlist
}

// NewNewsSearchTool creates the news_search tool.
func NewNewsSearchTool(client *Client, allowlist *Allowlist) *NewsSearchTool {
	return &NewsSearchTool{client: client, allowlist: allowlist}
}

func (t *NewsSearchTool) Name() string { return "news_search" }

func (t *NewsSearchTool) Description() string {
	return "Search recent news. Returned URLs become fetchable with fetch_page."
}

func (t *NewsSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"},
			"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Result count (default 5)"}
		},
		"required": ["query"]
	}`)
}

func (t *NewsSearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	return runSearch(ctx, params, t.allowlist, t.client.SearchNews)
}

func runSearch(ctx context.Context, params json.RawMessage, allowlist *Allowlist,
	search func(context.Context, string, int) ([]Result, error)) (*tools.Result, error) {
	var input struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	results, err := search(ctx, input.Query, input.Count)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return tools.Textf("No results for %q.", input.Query), nil
	}

	var sb strings.Builder
	for _, r := range results {
		allowlist.Add(r.URL)
		fmt.Fprintf(&sb, "%s\n%s\n", r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&sb, "%s\n", r.Description)
		}
		if r.Age != "" {
			fmt.Fprintf(&sb, "(%s)\n", r.Age)
		}
		sb.WriteString("\n")
	}
	return &tools.Result{Content: strings.TrimSpace(sb.String())}, nil
}
