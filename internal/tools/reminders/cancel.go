package reminders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
)

// CancelTool deletes a reminder by id. Cancelling a missing id is benign.
type CancelTool struct {
	store *storage.Store
	sched *scheduler.Scheduler
}

// NewCancelTool creates the cancel_reminder tool.
func NewCancelTool(store *storage.Store, sched *scheduler.Scheduler) *CancelTool {
	return &CancelTool{store: store, sched: sched}
}

func (t *CancelTool) Name() string { return "cancel_reminder" }

func (t *CancelTool) Description() string {
	return "Cancel a reminder by id."
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "Reminder id to cancel"}
		},
		"required": ["id"]
	}`)
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	deleted, err := t.store.DeleteReminder(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("delete reminder: %w", err)
	}
	if err := t.sched.Reschedule(ctx); err != nil {
		return nil, fmt.Errorf("reschedule: %w", err)
	}
	if !deleted {
		return tools.Textf("No reminder with id %s (already gone).", input.ID), nil
	}
	return tools.Textf("Reminder %s cancelled.", input.ID), nil
}
