package prompt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

func newBuilder(t *testing.T) (*Builder, *storage.Store) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	clock := func() time.Time { return time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC) }
	return NewBuilder(store, clock), store
}

func TestSystemPromptStableAcrossCalls(t *testing.T) {
	builder, _ := newBuilder(t)
	ctx := context.Background()

	first, err := builder.SystemPrompt(ctx)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	second, err := builder.SystemPrompt(ctx)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if first != second {
		t.Fatalf("system prompt must be identical across calls with unchanged identity")
	}
	if !strings.Contains(first, "Operating principles") {
		t.Fatalf("system prompt missing operating principles block")
	}
}

func TestSystemPromptUsesIdentityFile(t *testing.T) {
	builder, store := newBuilder(t)
	ctx := context.Background()

	err := store.WriteStateFile(ctx, &models.StateFile{
		Name: "identity", Content: "You are a test fixture.", UpdatedAt: 1,
	})
	if err != nil {
		t.Fatalf("WriteStateFile() error = %v", err)
	}

	got, err := builder.SystemPrompt(ctx)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}
	if !strings.HasPrefix(got, "You are a test fixture.") {
		t.Fatalf("system prompt must start with the identity file, got %q", got[:40])
	}
}

func TestEnvelopeSectionOrder(t *testing.T) {
	builder, store := newBuilder(t)
	ctx := context.Background()

	err := store.AppendMessage(ctx, &models.Message{
		ID: uuid.NewString(), Role: models.RoleUser, Content: "hello",
		Timestamp: 1000, Trigger: models.TriggerMessage,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	envelope, err := builder.Envelope(ctx)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	sections := []string{
		"<current_time>",
		"<context_status>",
		"<state_files>",
		"<recent_journal",
		"<last_summary>",
		"<recent_conversation>",
	}
	last := -1
	for _, section := range sections {
		idx := strings.Index(envelope, section)
		if idx < 0 {
			t.Fatalf("envelope missing section %s", section)
		}
		if idx < last {
			t.Fatalf("section %s out of order", section)
		}
		last = idx
	}
	if !strings.Contains(envelope, "(none)") {
		t.Fatalf("empty summary must render as (none)")
	}
	if !strings.Contains(envelope, "hello") {
		t.Fatalf("envelope missing the conversation message")
	}
	if strings.Contains(envelope, "save_conversation_summary") {
		t.Fatalf("compaction notice must not appear below threshold")
	}
}

func TestEnvelopeCompactionNotice(t *testing.T) {
	builder, store := newBuilder(t)
	ctx := context.Background()

	// One message over 200k chars crosses the 50k-token threshold.
	err := store.AppendMessage(ctx, &models.Message{
		ID: uuid.NewString(), Role: models.RoleUser,
		Content:   strings.Repeat("a", 4*CompactThreshold+4),
		Timestamp: 1000, Trigger: models.TriggerMessage,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	envelope, err := builder.Envelope(ctx)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if !strings.Contains(envelope, "needs_compaction: true") {
		t.Fatalf("envelope must flag compaction")
	}
	if !strings.Contains(envelope, "save_conversation_summary") {
		t.Fatalf("envelope must request a summary above threshold")
	}
}

func TestEnvelopeTruncatesLongMessages(t *testing.T) {
	builder, store := newBuilder(t)
	ctx := context.Background()

	long := strings.Repeat("x", MessageTruncateChars+100)
	err := store.AppendMessage(ctx, &models.Message{
		ID: uuid.NewString(), Role: models.RoleUser, Content: long,
		Timestamp: 1000, Trigger: models.TriggerMessage,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	envelope, err := builder.Envelope(ctx)
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if strings.Contains(envelope, long) {
		t.Fatalf("long message must be truncated")
	}
	if !strings.Contains(envelope, strings.Repeat("x", MessageTruncateChars)+"…") {
		t.Fatalf("truncated message must end with an ellipsis marker")
	}
}

func TestForTrigger(t *testing.T) {
	msg := ForTrigger(&models.Trigger{Type: models.TriggerMessage, Payload: "hi"})
	if msg != "User message: hi" {
		t.Fatalf("unexpected message tail: %q", msg)
	}

	alarm := ForTrigger(&models.Trigger{
		Type: models.TriggerAlarm, Description: "water", Payload: "drink water",
	})
	if !strings.Contains(alarm, "drink water") || !strings.Contains(alarm, "send_telegram") {
		t.Fatalf("alarm tail must carry payload and the delivery caveat: %q", alarm)
	}

	ambient := ForTrigger(&models.Trigger{Type: models.TriggerAmbient})
	if !strings.Contains(ambient, "send_telegram") {
		t.Fatalf("ambient tail must carry the delivery caveat")
	}
}
