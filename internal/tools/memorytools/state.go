package memorytools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/pkg/models"
)

// StateReadTool reads a named state file.
type StateReadTool struct {
	store *storage.Store
}

// NewStateReadTool creates the state_read tool.
func NewStateReadTool(store *storage.Store) *StateReadTool {
	return &StateReadTool{store: store}
}

func (t *StateReadTool) Name() string { return "state_read" }

func (t *StateReadTool) Description() string {
	return "Read a state file. Reserved names: identity, today, user. Any other name works too."
}

func (t *StateReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "State file name"}
		},
		"required": ["name"]
	}`)
}

func (t *StateReadTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	file, err := t.store.ReadStateFile(ctx, input.Name)
	if errors.Is(err, storage.ErrNotFound) {
		return tools.Errorf("No state file named %q.", input.Name), nil
	}
	if err != nil {
		return nil, err
	}
	return &tools.Result{Content: file.Content}, nil
}

// StateWriteTool overwrites a named state file.
type StateWriteTool struct {
	store *storage.Store
}

// NewStateWriteTool creates the state_write tool.
func NewStateWriteTool(store *storage.Store) *StateWriteTool {
	return &StateWriteTool{store: store}
}

func (t *StateWriteTool) Name() string { return "state_write" }

func (t *StateWriteTool) Description() string {
	return "Overwrite a state file. State files are injected into every prompt; keep them short."
}

func (t *StateWriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "State file name"},
			"content": {"type": "string", "description": "Full replacement content"}
		},
		"required": ["name", "content"]
	}`)
}

func (t *StateWriteTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	file := &models.StateFile{Name: input.Name, Content: input.Content, UpdatedAt: models.Now()}
	if err := t.store.WriteStateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("write state file: %w", err)
	}
	return tools.Textf("State file %q updated.", input.Name), nil
}
