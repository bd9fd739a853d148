// Package codingtask orchestrates delegated coding work: per-repo session
// continuity, branch management, GitHub App credentials and the commit gate
// that keeps the engine from walking away with a dirty tree.
package codingtask

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Decision is the continuation strategy for a new task against a repo.
type Decision struct {
	Action string `json:"action"` // continue | new
	Branch string `json:"branch,omitempty"`
}

// Classifier decides whether a new task continues the previous session.
type Classifier interface {
	Classify(ctx context.Context, lastTask, newTask string) (Decision, error)
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(ctx context.Context, lastTask, newTask string) (Decision, error)

// Classify calls the function.
func (f ClassifierFunc) Classify(ctx context.Context, lastTask, newTask string) (Decision, error) {
	return f(ctx, lastTask, newTask)
}

const classifyPrompt = `A coding session on a repository previously worked on this task:

%s

A new task arrived:

%s

Decide whether the new task continues the same line of work (same feature,
follow-up, fix to the previous change) or starts something unrelated.

Reply with strict JSON only, no prose. Either:
{"action": "continue"}
or:
{"action": "new", "branch": "<prefix>/<short-slug>"}`

// AnthropicClassifier asks a fast model for the continuation decision.
type AnthropicClassifier struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClassifier creates a classifier over the fast model.
func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	return &AnthropicClassifier{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Classify returns the model's decision. Transport or parse failures are
// returned so the caller can fall back to a fresh branch.
func (c *AnthropicClassifier) Classify(ctx context.Context, lastTask, newTask string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 200,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(classifyPrompt, lastTask, newTask))),
		},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("classify request: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		text.WriteString(block.Text)
	}
	return ParseDecision(text.String())
}

// ParseDecision extracts a strict-JSON decision from model output.
func ParseDecision(text string) (Decision, error) {
	text = strings.TrimSpace(text)
	// Tolerate fenced output; the contract is strict JSON but models drift.
	if start := strings.IndexByte(text, '{'); start >= 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			text = text[start : end+1]
		}
	}
	var decision Decision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return Decision{}, fmt.Errorf("unparseable decision: %w", err)
	}
	if decision.Action != "continue" && decision.Action != "new" {
		return Decision{}, fmt.Errorf("unknown action %q", decision.Action)
	}
	return decision, nil
}
