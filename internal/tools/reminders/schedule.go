// Package reminders provides tools for scheduling, cancelling and listing
// reminders.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/cron"
	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/pkg/models"
)

// ScheduleRecurringTool creates a cron reminder.
type ScheduleRecurringTool struct {
	store *storage.Store
	sched *scheduler.Scheduler
}

// NewScheduleRecurringTool creates the schedule_recurring tool.
func NewScheduleRecurringTool(store *storage.Store, sched *scheduler.Scheduler) *ScheduleRecurringTool {
	return &ScheduleRecurringTool{store: store, sched: sched}
}

func (t *ScheduleRecurringTool) Name() string { return "schedule_recurring" }

func (t *ScheduleRecurringTool) Description() string {
	return "Schedule a recurring reminder with a 5-field cron expression (minute hour day-of-month month day-of-week, 0=Sunday)."
}

func (t *ScheduleRecurringTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"description": {"type": "string", "description": "Short human-readable label"},
			"payload": {"type": "string", "description": "What to do when the reminder fires"},
			"cron": {"type": "string", "description": "5-field cron expression, e.g. \"0 9 * * 1-5\""}
		},
		"required": ["description", "payload", "cron"]
	}`)
}

func (t *ScheduleRecurringTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Description string `json:"description"`
		Payload     string `json:"payload"`
		Cron        string `json:"cron"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	if _, err := cron.Parse(input.Cron); err != nil {
		return tools.Errorf("Invalid cron expression %q: %v. Supported: 5 fields of *, integers, ranges, steps and lists.", input.Cron, err), nil
	}

	reminder := &models.Reminder{
		ID:             uuid.NewString(),
		Description:    input.Description,
		Payload:        input.Payload,
		CronExpression: input.Cron,
		CreatedAt:      models.Now(),
	}
	if err := t.store.SaveReminder(ctx, reminder); err != nil {
		return nil, fmt.Errorf("save reminder: %w", err)
	}
	if err := t.sched.Reschedule(ctx); err != nil {
		return nil, fmt.Errorf("reschedule: %w", err)
	}

	next, _ := cron.Next(input.Cron, time.Now())
	return tools.Textf("Recurring reminder %s scheduled (%s), next fire %s.",
		reminder.ID, input.Cron, next.UTC().Format(time.RFC3339)), nil
}

// ScheduleOnceTool creates a one-shot reminder at an ISO datetime.
type ScheduleOnceTool struct {
	store *storage.Store
	sched *scheduler.Scheduler
	clock func() time.Time
}

// NewScheduleOnceTool creates the schedule_once tool. clock may be nil for
// time.Now.
func NewScheduleOnceTool(store *storage.Store, sched *scheduler.Scheduler, clock func() time.Time) *ScheduleOnceTool {
	if clock == nil {
		clock = time.Now
	}
	return &ScheduleOnceTool{store: store, sched: sched, clock: clock}
}

func (t *ScheduleOnceTool) Name() string { return "schedule_once" }

func (t *ScheduleOnceTool) Description() string {
	return "Schedule a one-shot reminder at an ISO 8601 datetime. The reminder is deleted after it fires."
}

func (t *ScheduleOnceTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"description": {"type": "string", "description": "Short human-readable label"},
			"payload": {"type": "string", "description": "What to do when the reminder fires"},
			"datetime": {"type": "string", "description": "ISO 8601 datetime, e.g. 2026-03-10T09:00:00Z"}
		},
		"required": ["description", "payload", "datetime"]
	}`)
}

func (t *ScheduleOnceTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Description string `json:"description"`
		Payload     string `json:"payload"`
		Datetime    string `json:"datetime"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	at, err := time.Parse(time.RFC3339, input.Datetime)
	if err != nil {
		return tools.Errorf("Invalid datetime %q: expected ISO 8601 like 2026-03-10T09:00:00Z.", input.Datetime), nil
	}
	now := t.clock()
	if at.Before(now.Add(-scheduler.FireWindow)) {
		return tools.Errorf("Cannot schedule a reminder in the past (%s).", at.UTC().Format(time.RFC3339)), nil
	}

	reminder := &models.Reminder{
		ID:            uuid.NewString(),
		Description:   input.Description,
		Payload:       input.Payload,
		ScheduledTime: at.UnixMilli(),
		CreatedAt:     now.UnixMilli(),
	}
	if err := t.store.SaveReminder(ctx, reminder); err != nil {
		return nil, fmt.Errorf("save reminder: %w", err)
	}
	if err := t.sched.Reschedule(ctx); err != nil {
		return nil, fmt.Errorf("reschedule: %w", err)
	}
	return tools.Textf("Reminder %s set for %s.", reminder.ID, at.UTC().Format(time.RFC3339)), nil
}
