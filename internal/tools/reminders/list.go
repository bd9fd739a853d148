package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
)

// ListTool lists all reminders.
type ListTool struct {
	store *storage.Store
}

// NewListTool creates the list_reminders tool.
func NewListTool(store *storage.Store) *ListTool {
	return &ListTool{store: store}
}

func (t *ListTool) Name() string { return "list_reminders" }

func (t *ListTool) Description() string {
	return "List all reminders with their schedules."
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTool) Execute(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
	reminders, err := t.store.ListReminders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	if len(reminders) == 0 {
		return tools.Textf("No reminders scheduled."), nil
	}

	var sb strings.Builder
	for _, r := range reminders {
		if r.Recurring() {
			fmt.Fprintf(&sb, "%s: %s (cron %s)\n", r.ID, r.Description, r.CronExpression)
			continue
		}
		fmt.Fprintf(&sb, "%s: %s (once at %s)\n", r.ID, r.Description,
			time.UnixMilli(r.ScheduledTime).UTC().Format(time.RFC3339))
	}
	return &tools.Result{Content: sb.String()}, nil
}
