package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/prompt"
	"github.com/haasonsaas/outie/internal/sandbox"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools/websearch"
	"github.com/haasonsaas/outie/pkg/models"
)

type fakeEngine struct {
	mu        sync.Mutex
	created   int
	aborted   []string
	prompts   []engine.PromptRequest
	reply     string
	failAll   bool
	blockCh   chan struct{} // when set, first Prompt blocks until abort
	blockOnce bool
}

func (f *fakeEngine) CreateSession(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return "", engine.ErrUnavailable
	}
	f.created++
	return fmt.Sprintf("session-%d", f.created), nil
}

func (f *fakeEngine) Prompt(ctx context.Context, req engine.PromptRequest) (*engine.PromptResponse, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	block := f.blockOnce
	f.blockOnce = false
	ch := f.blockCh
	f.mu.Unlock()

	if block && ch != nil {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
		}
	}
	if f.failAll {
		return nil, engine.ErrUnavailable
	}
	return &engine.PromptResponse{Parts: []engine.Part{{Type: "text", Text: f.reply}}}, nil
}

func (f *fakeEngine) Abort(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionID)
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		default:
			close(f.blockCh)
		}
	}
	return true, nil
}

type readySandbox struct{}

func (readySandbox) Wake(context.Context) error { return nil }
func (readySandbox) Exec(context.Context, string) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Stdout: "ready"}, nil
}
func (readySandbox) SetEnv(context.Context, string, string) error { return nil }
func (readySandbox) Host() string                                 { return "sandbox" }

type fakeUplink struct{}

func (fakeUplink) Connect(context.Context, string, int) error { return nil }
func (fakeUplink) Connected() bool                            { return true }

type recordingSink struct {
	mu    sync.Mutex
	sends []string
	ch    chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan string, 16)}
}

func (s *recordingSink) Send(_ context.Context, text string, _ outbound.SendOptions) error {
	s.mu.Lock()
	s.sends = append(s.sends, text)
	s.mu.Unlock()
	s.ch <- text
	return nil
}

func (s *recordingSink) wait(t *testing.T) string {
	t.Helper()
	select {
	case text := <-s.ch:
		return text
	case <-time.After(3 * time.Second):
		t.Fatalf("sink never received a message")
		return ""
	}
}

func newCoordinatorFixture(t *testing.T, eng *fakeEngine) (*Coordinator, *storage.Store, *recordingSink) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	sink := newRecordingSink()
	coord := New(Config{
		Store:     store,
		Prompts:   prompt.NewBuilder(store, nil),
		Engine:    eng,
		Sandbox:   readySandbox{},
		Uplink:    fakeUplink{},
		Sink:      sink,
		Allowlist: websearch.NewAllowlist(),
		Logger:    logger,
		WSPort:    9920,
	})
	return coord, store, sink
}

func TestMessageTriggerRoundTrip(t *testing.T) {
	eng := &fakeEngine{reply: "Nice to meet you, Ada."}
	coord, store, sink := newCoordinatorFixture(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Handle(&models.Trigger{
		Type: models.TriggerMessage, Payload: "My name is Ada.",
		Source: models.SourceTelegram, Timestamp: models.Now(),
	})

	if got := sink.wait(t); got != "Nice to meet you, Ada." {
		t.Fatalf("sink received %q", got)
	}

	messages, err := store.RecentMessages(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[0].Content != "My name is Ada." {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}

	waitIdle(t, coord)
}

func TestInterruptReusesSession(t *testing.T) {
	eng := &fakeEngine{reply: "results for Y", blockCh: make(chan struct{}), blockOnce: true}
	coord, store, sink := newCoordinatorFixture(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Handle(&models.Trigger{
		Type: models.TriggerMessage, Payload: "search the web for X",
		Source: models.SourceTelegram, Timestamp: models.Now(),
	})
	// Give the first turn time to reach its (blocking) prompt.
	waitFor(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.prompts) == 1
	})

	coord.Handle(&models.Trigger{
		Type: models.TriggerMessage, Payload: "cancel, search for Y",
		Source: models.SourceWeb, Timestamp: models.Now(),
	})

	// Both turns complete; both responses hit the sink.
	sink.wait(t)
	sink.wait(t)

	eng.mu.Lock()
	aborted := len(eng.aborted)
	created := eng.created
	firstSession := eng.prompts[0].SessionID
	lastSession := eng.prompts[len(eng.prompts)-1].SessionID
	eng.mu.Unlock()

	if aborted != 1 {
		t.Fatalf("expected 1 abort, got %d", aborted)
	}
	if created != 1 {
		t.Fatalf("abort succeeded, the second turn must reuse the session; created %d", created)
	}
	if firstSession != lastSession {
		t.Fatalf("session not reused: %s then %s", firstSession, lastSession)
	}

	messages, err := store.RecentMessages(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	var userContents []string
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			userContents = append(userContents, msg.Content)
		}
	}
	if len(userContents) != 2 || userContents[0] != "search the web for X" || userContents[1] != "cancel, search for Y" {
		t.Fatalf("user messages must survive in arrival order: %v", userContents)
	}

	waitIdle(t, coord)
}

func TestEngineFailureSendsPlaceholder(t *testing.T) {
	eng := &fakeEngine{failAll: true}
	coord, _, sink := newCoordinatorFixture(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Handle(&models.Trigger{
		Type: models.TriggerMessage, Payload: "hello", Timestamp: models.Now(),
	})

	if got := sink.wait(t); got != "[No response]" {
		t.Fatalf("expected placeholder reply, got %q", got)
	}
	waitIdle(t, coord)
}

func TestAlarmResponseNotDelivered(t *testing.T) {
	eng := &fakeEngine{reply: "noted"}
	coord, store, sink := newCoordinatorFixture(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Dispatch(&models.Reminder{ID: "r1", Description: "water", Payload: "drink water"})

	// The assistant message lands in the store without touching the sink.
	waitFor(t, func() bool {
		messages, err := store.RecentMessages(context.Background(), 0)
		return err == nil && len(messages) == 1
	})
	select {
	case text := <-sink.ch:
		t.Fatalf("alarm reply must not be auto-delivered, sink got %q", text)
	case <-time.After(100 * time.Millisecond):
	}
	waitIdle(t, coord)
}

func TestUserMessageURLsEnterAllowlist(t *testing.T) {
	eng := &fakeEngine{reply: "ok"}
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	allowlist := websearch.NewAllowlist()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	sink := newRecordingSink()
	coord := New(Config{
		Store: store, Prompts: prompt.NewBuilder(store, nil), Engine: eng,
		Sandbox: readySandbox{}, Uplink: fakeUplink{}, Sink: sink,
		Allowlist: allowlist, Logger: logger, WSPort: 9920,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Handle(&models.Trigger{
		Type: models.TriggerMessage, Payload: "read https://example.com/post please",
		Timestamp: models.Now(),
	})
	sink.wait(t)

	if !allowlist.Allowed("https://example.com/post") {
		t.Fatalf("URL from user message must enter the allow-list")
	}
	if allowlist.Allowed("https://evil.example/") {
		t.Fatalf("unseen URL must not be allowed")
	}
	waitIdle(t, coord)
}

func waitIdle(t *testing.T, coord *Coordinator) {
	t.Helper()
	waitFor(t, func() bool { return !coord.IsProcessing() })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition never became true")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
