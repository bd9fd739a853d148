package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/haasonsaas/outie/internal/tools"
)

const fetchMaxChars = 10000

// Fetcher retrieves a page. The default implementation does a plain GET;
// when a rendering endpoint is configured, wait_for_js requests go through
// it so client-side pages render before extraction.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, waitForJS bool) (string, error)
}

// HTTPFetcher fetches pages with a plain HTTP client, optionally delegating
// JS-rendered fetches to a remote rendering endpoint.
type HTTPFetcher struct {
	httpClient *http.Client
	renderURL  string
}

// NewHTTPFetcher creates a fetcher. renderURL may be empty to disable the
// wait_for_js path.
func NewHTTPFetcher(renderURL string) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: requestTimeout},
		renderURL:  renderURL,
	}
}

// Fetch retrieves the page body as readable text.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string, waitForJS bool) (string, error) {
	target := pageURL
	if waitForJS {
		if f.renderURL == "" {
			return "", fmt.Errorf("wait_for_js requested but no rendering endpoint configured")
		}
		target = f.renderURL + "?url=" + url.QueryEscape(pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "outie/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return stripHTML(string(body)), nil
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]+>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	linesPattern  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML document to readable text.
func stripHTML(html string) string {
	text := scriptPattern.ReplaceAllString(html, " ")
	text = tagPattern.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = spacePattern.ReplaceAllString(text, " ")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return linesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

// FetchPageTool fetches a URL that previously entered the allow-list. Any
// other URL is blocked before a connection is attempted.
type FetchPageTool struct {
	fetcher   Fetcher
	allowlist *Allowlist
}

// NewFetchPageTool creates the fetch_page tool.
func NewFetchPageTool(fetcher Fetcher, allowlist *Allowlist) *FetchPageTool {
	return &FetchPageTool{fetcher: fetcher, allowlist: allowlist}
}

func (t *FetchPageTool) Name() string { return "fetch_page" }

func (t *FetchPageTool) Description() string {
	return "Fetch a page. Only URLs from the user's messages or prior search results are allowed."
}

func (t *FetchPageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "URL to fetch (http/https only)"},
			"wait_for_js": {"type": "boolean", "description": "Render JavaScript before extracting (slower)"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchPageTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		URL       string `json:"url"`
		WaitForJS bool   `json:"wait_for_js"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	if !t.allowlist.Allowed(input.URL) {
		return &tools.Result{
			Content: fmt.Sprintf("BLOCKED: URL %s not in allowlist.", input.URL),
			IsError: true,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	content, err := t.fetcher.Fetch(ctx, input.URL, input.WaitForJS)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", input.URL, err)
	}
	if len(content) > fetchMaxChars {
		content = content[:fetchMaxChars] + "..."
	}
	return &tools.Result{Content: content}, nil
}
