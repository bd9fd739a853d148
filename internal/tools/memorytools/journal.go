// Package memorytools exposes the journal, topic and state-file memory over
// the tool contract.
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

const defaultSearchLimit = 5

// JournalWriteTool appends an observation to the journal.
type JournalWriteTool struct {
	store    *storage.Store
	embedder *embeddings.Embedder
	logger   *observability.Logger
}

// NewJournalWriteTool creates the journal_write tool.
func NewJournalWriteTool(store *storage.Store, embedder *embeddings.Embedder, logger *observability.Logger) *JournalWriteTool {
	return &JournalWriteTool{store: store, embedder: embedder, logger: logger}
}

func (t *JournalWriteTool) Name() string { return "journal_write" }

func (t *JournalWriteTool) Description() string {
	return "Append an observation to the journal. Entries are permanent and searchable by meaning."
}

func (t *JournalWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"topic": {"type": "string", "description": "Short topic label for the entry"},
			"content": {"type": "string", "description": "The observation to record"}
		},
		"required": ["topic", "content"]
	}`)
}

type journalWriteInput struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

// Execute writes the entry. An unavailable embedder is not fatal: the entry
// is stored without an embedding and stays out of semantic search.
func (t *JournalWriteTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input journalWriteInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	entry := &models.JournalEntry{
		ID:        uuid.NewString(),
		Timestamp: models.Now(),
		Topic:     input.Topic,
		Content:   input.Content,
	}

	vec, err := t.embedder.EmbedDocument(ctx, input.Content)
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		t.logger.Warn(ctx, "embedder unavailable, storing journal entry without embedding", "error", err)
	case err != nil:
		return nil, err
	default:
		entry.Embedding = vec
	}

	if err := t.store.WriteJournal(ctx, entry); err != nil {
		return nil, fmt.Errorf("write journal: %w", err)
	}
	return tools.Textf("Journal entry recorded under %q.", input.Topic), nil
}

// JournalSearchTool searches the journal by meaning.
type JournalSearchTool struct {
	searcher *memory.Searcher
}

// NewJournalSearchTool creates the journal_search tool.
func NewJournalSearchTool(searcher *memory.Searcher) *JournalSearchTool {
	return &JournalSearchTool{searcher: searcher}
}

func (t *JournalSearchTool) Name() string { return "journal_search" }

func (t *JournalSearchTool) Description() string {
	return "Search the journal by meaning. Returns the most relevant entries with scores."
}

func (t *JournalSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to look for"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Maximum results (default 5)"}
		},
		"required": ["query"]
	}`)
}

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *JournalSearchTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Limit <= 0 {
		input.Limit = defaultSearchLimit
	}

	results, err := t.searcher.SearchJournal(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("search journal: %w", err)
	}
	if len(results) == 0 {
		return tools.Textf("No journal entries matched %q.", input.Query), nil
	}

	var sb strings.Builder
	for _, result := range results {
		fmt.Fprintf(&sb, "[%.2f] %s: %s\n", result.Score, result.Entry.Topic, result.Entry.Content)
	}
	return &tools.Result{Content: sb.String()}, nil
}
