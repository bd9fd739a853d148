// Package engine is the client for the remote reasoning engine running
// inside the sandbox. The engine holds conversational sessions identified by
// opaque ids; the orchestrator creates, prompts and aborts them over HTTP.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable indicates the engine could not be reached or refused
	// the request.
	ErrUnavailable = errors.New("reasoning engine unavailable")

	// ErrSessionMissing indicates the engine no longer knows the session id.
	ErrSessionMissing = errors.New("reasoning engine session not found")
)

// Part is one piece of a prompt or response.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Type: "text", Text: text} }

// PromptBody carries the model and parts of one prompt.
type PromptBody struct {
	Model string `json:"model,omitempty"`
	Parts []Part `json:"parts"`
}

// PromptRequest is one session.prompt call.
type PromptRequest struct {
	SessionID string
	Directory string
	Body      PromptBody
}

// PromptResponse is the engine's reply to a prompt.
type PromptResponse struct {
	Parts []Part `json:"parts"`
}

// Text concatenates the text parts of the response with newlines.
func (r *PromptResponse) Text() string {
	var texts []string
	for _, part := range r.Parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Session describes one engine session.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// Event is one server-sent event from the engine.
type Event struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionID,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// Config configures the engine client.
type Config struct {
	BaseURL       string
	Model         string
	PromptTimeout time.Duration
}

// Client talks to the engine's HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates an engine client.
func NewClient(config Config) *Client {
	if config.PromptTimeout <= 0 {
		config.PromptTimeout = 10 * time.Minute
	}
	return &Client{
		config: config,
		// The prompt deadline is applied per request; the client itself
		// stays unbounded so SSE subscriptions can run indefinitely.
		httpClient: &http.Client{},
	}
}

// Model returns the configured default model.
func (c *Client) Model() string { return c.config.Model }

// CreateSession creates a new session and returns its id.
func (c *Client) CreateSession(ctx context.Context, title, directory string) (string, error) {
	payload := map[string]string{"title": title}
	if directory != "" {
		payload["directory"] = directory
	}
	var session Session
	if err := c.post(ctx, "/session", payload, &session, time.Minute); err != nil {
		return "", err
	}
	if session.ID == "" {
		return "", fmt.Errorf("%w: create returned no session id", ErrUnavailable)
	}
	return session.ID, nil
}

// Prompt sends a prompt to a session and waits for the reply, up to the
// configured prompt deadline.
func (c *Client) Prompt(ctx context.Context, req PromptRequest) (*PromptResponse, error) {
	if req.Body.Model == "" {
		req.Body.Model = c.config.Model
	}
	payload := map[string]any{
		"directory": req.Directory,
		"body":      req.Body,
	}
	var response PromptResponse
	path := fmt.Sprintf("/session/%s/prompt", req.SessionID)
	if err := c.post(ctx, path, payload, &response, c.config.PromptTimeout); err != nil {
		return nil, err
	}
	return &response, nil
}

// Get returns a session, or nil when the engine does not know the id.
func (c *Client) Get(ctx context.Context, sessionID string) (*Session, error) {
	req, err := c.newRequest(ctx, "GET", "/session/"+sessionID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: session get returned %d", ErrUnavailable, resp.StatusCode)
	}
	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &session, nil
}

// Abort asks the engine to stop a session's in-flight turn. Aborting an
// already-idle or unknown session is not an error the caller needs to act
// on; the boolean reports whether the engine acknowledged the abort.
func (c *Client) Abort(ctx context.Context, sessionID string) (bool, error) {
	req, err := c.newRequest(ctx, "POST", fmt.Sprintf("/session/%s/abort", sessionID), nil)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrSessionMissing
	default:
		return false, fmt.Errorf("%w: abort returned %d", ErrUnavailable, resp.StatusCode)
	}
}

// SubscribeEvents opens the engine's SSE stream and invokes onEvent for each
// event until the context is cancelled or the stream closes.
func (c *Client) SubscribeEvents(ctx context.Context, onEvent func(Event)) error {
	req, err := c.newRequest(ctx, "GET", "/event", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: event stream returned %d", ErrUnavailable, resp.StatusCode)
	}

	scanner := newSSEScanner(resp.Body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		onEvent(event)
	}
	return scanner.Err()
}

// newSSEScanner builds a line scanner sized for large event payloads.
func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return scanner
}

func (c *Client) post(ctx context.Context, path string, payload any, out any, timeout time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, "POST", path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionMissing
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.config.BaseURL, "/")+path, body)
}
