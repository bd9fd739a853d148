// Package models defines the entities shared across the orchestrator:
// conversation messages, journal entries, state files, topics, reminders,
// summaries and coding-task state. All timestamps are integer milliseconds
// since the Unix epoch.
package models

import "time"

// TriggerType identifies what caused a reasoning turn.
type TriggerType string

const (
	TriggerMessage TriggerType = "message"
	TriggerAlarm   TriggerType = "alarm"
	TriggerAmbient TriggerType = "ambient"
)

// Source identifies where a user message entered the system.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceWeb      Source = "web"
	SourceAPI      Source = "api"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation window. Messages are append-only
// until a Summary absorbs a prefix of the window.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Trigger   TriggerType `json:"trigger"`
	Source    Source      `json:"source,omitempty"`
}

// JournalEntry is an append-only observation. Entries are never mutated after
// write; an entry without an embedding is invisible to semantic search but
// still listed by recency.
type JournalEntry struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// StateFile is a named, overwritable short text injected into every prompt.
// The orchestrator reserves the names "identity", "today" and one name per
// user persona; unknown names round-trip untouched.
type StateFile struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updated_at"`
}

// Topic is a mutable, named distillation of knowledge. Overwriting preserves
// CreatedAt, bumps UpdatedAt and re-embeds.
type Topic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
	Embedding []float32 `json:"-"`
}

// Reminder is a scheduled trigger. Exactly one of CronExpression and
// ScheduledTime is set: cron reminders recur, scheduled-time reminders fire
// once and are deleted.
type Reminder struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	Payload        string `json:"payload"`
	CronExpression string `json:"cron_expression,omitempty"`
	ScheduledTime  int64  `json:"scheduled_time,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// Recurring reports whether the reminder fires on a cron schedule.
func (r Reminder) Recurring() bool { return r.CronExpression != "" }

// Summary is a compressed record replacing a prefix of the message buffer.
type Summary struct {
	ID              string   `json:"id"`
	Timestamp       int64    `json:"timestamp"`
	Content         string   `json:"content"`
	Notes           string   `json:"notes,omitempty"`
	KeyDecisions    []string `json:"key_decisions,omitempty"`
	OpenThreads     []string `json:"open_threads,omitempty"`
	LearnedPatterns []string `json:"learned_patterns,omitempty"`
	FromTimestamp   int64    `json:"from_timestamp"`
	ToTimestamp     int64    `json:"to_timestamp"`
	MessageCount    int      `json:"message_count"`
}

// CodingTaskState records the continuation handle for a per-repo long-running
// coding session.
type CodingTaskState struct {
	RepoURL       string `json:"repo_url"`
	Branch        string `json:"branch"`
	SessionID     string `json:"session_id"`
	LastTask      string `json:"last_task"`
	LastTimestamp int64  `json:"last_timestamp"`
}

// ConversationStats describes the size of the conversation window.
type ConversationStats struct {
	Count           int  `json:"count"`
	ApproxTokens    int  `json:"approx_tokens"`
	NeedsCompaction bool `json:"needs_compaction"`
}

// Trigger is an input that causes the orchestrator to run one reasoning turn.
type Trigger struct {
	Type        TriggerType `json:"type"`
	Payload     string      `json:"payload"`
	Source      Source      `json:"source,omitempty"`
	ChatID      string      `json:"chat_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Now returns the current time in epoch milliseconds.
func Now() int64 { return time.Now().UnixMilli() }
