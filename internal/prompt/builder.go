// Package prompt assembles the system prompt and the dynamic context
// envelope for each reasoning turn.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

const (
	// CompactThreshold is the approximate token count above which the
	// envelope asks the engine to summarise.
	CompactThreshold = 50000

	// RecentJournalCount is how many journal entries the envelope carries.
	RecentJournalCount = 40

	// RecentMessageCount is how many conversation messages the envelope
	// carries.
	RecentMessageCount = 30

	// MessageTruncateChars caps each quoted conversation message.
	MessageTruncateChars = 5000
)

// operatingPrinciples is appended to the identity file to form the system
// prompt. The combined string is stable across turns while identity is
// unchanged, so downstream prompt caching stays warm.
const operatingPrinciples = `

# Operating principles

- Your durable memory lives in the journal, topics and state files; the
  conversation window is ephemeral and will be compacted.
- Record observations worth keeping with journal_write; distill stable
  knowledge into topics with topic_write.
- Keep the identity, today and user state files current with state_write.
- Schedule future work with schedule_once and schedule_recurring.
- Replies to alarm and ambient triggers are not delivered to the user;
  use send_telegram when the user should see something.`

const defaultIdentity = `You are Outie, a personal assistant with persistent memory, running as a long-lived process on behalf of a single user.`

// reservedStateFiles are the names the envelope always surfaces, in order.
var reservedStateFiles = []string{"identity", "today", "user"}

// Builder reads the store and produces prompt strings.
type Builder struct {
	store *storage.Store
	clock func() time.Time
}

// NewBuilder creates a Builder. clock may be nil for time.Now.
func NewBuilder(store *storage.Store, clock func() time.Time) *Builder {
	if clock == nil {
		clock = time.Now
	}
	return &Builder{store: store, clock: clock}
}

// SystemPrompt returns the identity state file (or a default) plus the fixed
// operating-principles block. The result is byte-identical across calls while
// the identity file is unchanged.
func (b *Builder) SystemPrompt(ctx context.Context) (string, error) {
	identity := defaultIdentity
	file, err := b.store.ReadStateFile(ctx, "identity")
	switch {
	case err == nil:
		identity = file.Content
	case errors.Is(err, storage.ErrNotFound):
	default:
		return "", err
	}
	return identity + operatingPrinciples, nil
}

// Envelope returns the dynamic context block: current time, window status,
// state files, recent journal, last summary and recent conversation.
func (b *Builder) Envelope(ctx context.Context) (string, error) {
	now := b.clock()
	var sb strings.Builder

	sb.WriteString("<current_time>\n")
	fmt.Fprintf(&sb, "%s\n%s\n", now.UTC().Format(time.RFC3339), now.Format("Monday, January 2 2006, 15:04 MST"))
	sb.WriteString("</current_time>\n\n")

	stats, err := b.store.ConversationStats(ctx, CompactThreshold)
	if err != nil {
		return "", err
	}
	sb.WriteString("<context_status>\n")
	fmt.Fprintf(&sb, "messages: %d\napprox_tokens: %d\ncompact_threshold: %d\nneeds_compaction: %t\n",
		stats.Count, stats.ApproxTokens, CompactThreshold, stats.NeedsCompaction)
	sb.WriteString("</context_status>\n\n")

	sb.WriteString("<state_files>\n")
	for _, name := range reservedStateFiles {
		file, err := b.store.ReadStateFile(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(&sb, "<%s>(empty)</%s>\n", name, name)
			continue
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "<%s>\n%s\n</%s>\n", name, file.Content, name)
	}
	sb.WriteString("</state_files>\n\n")

	entries, err := b.store.RecentJournal(ctx, RecentJournalCount)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "<recent_journal count=\"%d\">\n", RecentJournalCount)
	for _, entry := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", formatMillis(entry.Timestamp), entry.Topic, entry.Content)
	}
	sb.WriteString("</recent_journal>\n\n")

	sb.WriteString("<last_summary>\n")
	last, err := b.store.LastSummary(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sb.WriteString("(none)\n")
	case err != nil:
		return "", err
	default:
		fmt.Fprintf(&sb, "[%s] %s\n", formatMillis(last.Timestamp), last.Content)
		if len(last.OpenThreads) > 0 {
			fmt.Fprintf(&sb, "open threads: %s\n", strings.Join(last.OpenThreads, "; "))
		}
	}
	sb.WriteString("</last_summary>\n\n")

	messages, err := b.store.RecentMessages(ctx, RecentMessageCount)
	if err != nil {
		return "", err
	}
	sb.WriteString("<recent_conversation>\n")
	for _, msg := range messages {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", formatMillis(msg.Timestamp), msg.Role, truncate(msg.Content, MessageTruncateChars))
	}
	sb.WriteString("</recent_conversation>\n")

	if stats.NeedsCompaction {
		sb.WriteString("\nThe conversation window is over the compaction threshold. Call save_conversation_summary now to absorb the oldest messages into a summary.\n")
	}

	return sb.String(), nil
}

// ForTrigger renders the trigger-specific tail appended after the envelope.
func ForTrigger(trigger *models.Trigger) string {
	switch trigger.Type {
	case models.TriggerAlarm:
		return fmt.Sprintf(
			"A scheduled reminder fired.\nDescription: %s\nPayload: %s\n\nYour reply is NOT delivered to the chat channel. If the user should see anything, call send_telegram.",
			trigger.Description, trigger.Payload)
	case models.TriggerAmbient:
		return "Ambient tick. Review your state and act if something needs doing. Your reply is NOT delivered to the chat channel; use send_telegram for anything user-visible. A brief response for the log is fine."
	default:
		return fmt.Sprintf("User message: %s", trigger.Payload)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func formatMillis(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}
