// Package summary exposes conversation-window compaction as tools.
package summary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/pkg/models"
)

// absorbFraction is how much of the window a summary absorbs, oldest first.
const absorbFraction = 0.7

// SaveTool writes a summary and atomically prunes the absorbed messages.
type SaveTool struct {
	store *storage.Store
}

// NewSaveTool creates the save_conversation_summary tool.
func NewSaveTool(store *storage.Store) *SaveTool {
	return &SaveTool{store: store}
}

func (t *SaveTool) Name() string { return "save_conversation_summary" }

func (t *SaveTool) Description() string {
	return "Compact the conversation window: save a summary and delete the oldest messages it absorbs."
}

func (t *SaveTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "description": "Narrative summary of the absorbed conversation"},
			"notes": {"type": "string", "description": "Optional free-form notes"},
			"key_decisions": {"type": "array", "items": {"type": "string"}, "description": "Decisions worth keeping"},
			"open_threads": {"type": "array", "items": {"type": "string"}, "description": "Unfinished threads to pick back up"},
			"learned_patterns": {"type": "array", "items": {"type": "string"}, "description": "Recurring patterns observed"}
		},
		"required": ["summary"]
	}`)
}

type saveInput struct {
	Summary         string   `json:"summary"`
	Notes           string   `json:"notes"`
	KeyDecisions    []string `json:"key_decisions"`
	OpenThreads     []string `json:"open_threads"`
	LearnedPatterns []string `json:"learned_patterns"`
}

func (t *SaveTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input saveInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	messages, err := t.store.RecentMessages(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}

	now := models.Now()
	record := &models.Summary{
		ID:              uuid.NewString(),
		Timestamp:       now,
		Content:         input.Summary,
		Notes:           input.Notes,
		KeyDecisions:    input.KeyDecisions,
		OpenThreads:     input.OpenThreads,
		LearnedPatterns: input.LearnedPatterns,
	}

	absorbed := 0
	if len(messages) > 0 {
		absorbed = int(float64(len(messages)) * absorbFraction)
		if absorbed < 1 {
			absorbed = 1
		}
		record.FromTimestamp = messages[0].Timestamp
		record.ToTimestamp = messages[absorbed-1].Timestamp
		record.MessageCount = absorbed
	}

	if err := t.store.SaveSummary(ctx, record); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}
	return tools.Textf("Summary saved; %d messages absorbed.", absorbed), nil
}

// RecentTool returns the latest summaries.
type RecentTool struct {
	store *storage.Store
}

// NewRecentTool creates the get_recent_summaries tool.
func NewRecentTool(store *storage.Store) *RecentTool {
	return &RecentTool{store: store}
}

func (t *RecentTool) Name() string { return "get_recent_summaries" }

func (t *RecentTool) Description() string {
	return "Read the most recent conversation summaries, newest first."
}

func (t *RecentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "How many summaries (default 3)"}
		}
	}`)
}

func (t *RecentTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input.Count <= 0 {
		input.Count = 3
	}

	summaries, err := t.store.RecentSummaries(ctx, input.Count)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	if len(summaries) == 0 {
		return tools.Textf("No summaries yet."), nil
	}

	payload, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("format summaries: %w", err)
	}
	return &tools.Result{Content: string(payload)}, nil
}
