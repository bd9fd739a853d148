package memorytools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/memory"
	"github.com/haasonsaas/outie/internal/memory/embeddings"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/pkg/models"
)

// TopicWriteTool creates or overwrites a named topic.
type TopicWriteTool struct {
	store    *storage.Store
	embedder *embeddings.Embedder
	logger   *observability.Logger
}

// NewTopicWriteTool creates the topic_write tool.
func NewTopicWriteTool(store *storage.Store, embedder *embeddings.Embedder, logger *observability.Logger) *TopicWriteTool {
	return &TopicWriteTool{store: store, embedder: embedder, logger: logger}
}

func (t *TopicWriteTool) Name() string { return "topic_write" }

func (t *TopicWriteTool) Description() string {
	return "Create or overwrite a named topic: a distilled piece of knowledge, searchable by meaning."
}

func (t *TopicWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Unique topic name"},
			"content": {"type": "string", "description": "The distilled knowledge"}
		},
		"required": ["name", "content"]
	}`)
}

type topicWriteInput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (t *TopicWriteTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input topicWriteInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	now := models.Now()
	topic := &models.Topic{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Content:   input.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Overwriting preserves the original creation time.
	if existing, err := t.store.GetTopic(ctx, input.Name); err == nil {
		topic.ID = existing.ID
		topic.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	vec, err := t.embedder.EmbedDocument(ctx, input.Content)
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		t.logger.Warn(ctx, "embedder unavailable, storing topic without embedding", "error", err)
	case err != nil:
		return nil, err
	default:
		topic.Embedding = vec
	}

	if err := t.store.UpsertTopic(ctx, topic); err != nil {
		return nil, fmt.Errorf("upsert topic: %w", err)
	}
	return tools.Textf("Topic %q saved.", input.Name), nil
}

// TopicGetTool reads one topic by name.
type TopicGetTool struct {
	store *storage.Store
}

// NewTopicGetTool creates the topic_get tool.
func NewTopicGetTool(store *storage.Store) *TopicGetTool {
	return &TopicGetTool{store: store}
}

func (t *TopicGetTool) Name() string { return "topic_get" }

func (t *TopicGetTool) Description() string {
	return "Read the full content of a topic by name."
}

func (t *TopicGetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "Topic name"}
		},
		"required": ["name"]
	}`)
}

func (t *TopicGetTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	topic, err := t.store.GetTopic(ctx, input.Name)
	if errors.Is(err, storage.ErrNotFound) {
		return tools.Errorf("No topic named %q.", input.Name), nil
	}
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: topic.Content}, nil
}

// TopicListTool lists all topic names.
type TopicListTool struct {
	store *storage.Store
}

// NewTopicListTool creates the topic_list tool.
func NewTopicListTool(store *storage.Store) *TopicListTool {
	return &TopicListTool{store: store}
}

func (t *TopicListTool) Name() string { return "topic_list" }

func (t *TopicListTool) Description() string {
	return "List all topic names."
}

func (t *TopicListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *TopicListTool) Execute(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
	topics, err := t.store.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return tools.Textf("No topics yet."), nil
	}
	names := make([]string, len(topics))
	for i, topic := range topics {
		names[i] = topic.Name
	}
	return &tools.Result{Content: strings.Join(names, "\n")}, nil
}

// TopicSearchTool searches topics by meaning.
type TopicSearchTool struct {
	searcher *memory.Searcher
}

// NewTopicSearchTool creates the topic_search tool.
func NewTopicSearchTool(searcher *memory.Searcher) *TopicSearchTool {
	return &TopicSearchTool{searcher: searcher}
}

func (t *TopicSearchTool) Name() string { return "topic_search" }

func (t *TopicSearchTool) Description() string {
	return "Search topics by meaning. Returns the most relevant topics with scores."
}

func (t *TopicSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum results (default 5)"}
		},
		"required": ["query"]
	}`)
}

func (t *TopicSearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Limit <= 0 {
		input.Limit = defaultSearchLimit
	}

	results, err := t.searcher.SearchTopics(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("search topics: %w", err)
	}
	if len(results) == 0 {
		return tools.Textf("No topics matched %q.", input.Query), nil
	}

	var sb strings.Builder
	for _, result := range results {
		fmt.Fprintf(&sb, "[%.2f] %s: %s\n", result.Score, result.Topic.Name, result.Topic.Content)
	}
	return &tools.Result{Content: sb.String()}, nil
}
