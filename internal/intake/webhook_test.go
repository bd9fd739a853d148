package intake

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

type recordingHandler struct {
	mu       sync.Mutex
	triggers []*models.Trigger
}

func (h *recordingHandler) Handle(trigger *models.Trigger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.triggers = append(h.triggers, trigger)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.triggers)
}

type stubBot struct {
	mu    sync.Mutex
	sends []*bot.SendMessageParams
}

func (s *stubBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, params)
	return &tgmodels.Message{ID: len(s.sends)}, nil
}

func newWebhookFixture(t *testing.T) (*Webhook, *recordingHandler, *storage.Store, *stubBot) {
	t.Helper()
	store, err := storage.Open(storage.Config{Path: ":memory:", Dimension: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	handler := &recordingHandler{}
	tgbot := &stubBot{}
	sink := outbound.NewTelegramSinkWithClient(tgbot, "100", logger)

	webhook := New(Config{
		Secret:         "hunter2",
		AllowedUserIDs: []int64{7},
		Handler:        handler,
		Store:          store,
		Sink:           sink,
		Logger:         logger,
	})
	return webhook, handler, store, tgbot
}

func postUpdate(t *testing.T, webhook *Webhook, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	recorder := httptest.NewRecorder()
	webhook.ServeHTTP(recorder, req)
	return recorder
}

const updateBody = `{"update_id":1,"message":{"message_id":10,"date":1,"text":"hello there","chat":{"id":100},"from":{"id":7}}}`

func TestWebhookRejectsBadSecret(t *testing.T) {
	webhook, handler, _, _ := newWebhookFixture(t)

	recorder := postUpdate(t, webhook, "wrong", updateBody)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	if handler.count() != 0 {
		t.Fatalf("rejected update must not produce a trigger")
	}
}

func TestWebhookAcceptsAllowedUser(t *testing.T) {
	webhook, handler, _, _ := newWebhookFixture(t)

	recorder := postUpdate(t, webhook, "hunter2", updateBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if handler.count() != 1 {
		t.Fatalf("expected 1 trigger, got %d", handler.count())
	}
	trigger := handler.triggers[0]
	if trigger.Type != models.TriggerMessage || trigger.Payload != "hello there" {
		t.Fatalf("unexpected trigger: %+v", trigger)
	}
	if trigger.ChatID != "100" || trigger.Source != models.SourceTelegram {
		t.Fatalf("unexpected trigger envelope: %+v", trigger)
	}
}

func TestWebhookIgnoresDisallowedUser(t *testing.T) {
	webhook, handler, _, _ := newWebhookFixture(t)

	body := `{"update_id":2,"message":{"message_id":11,"date":1,"text":"hi","chat":{"id":100},"from":{"id":999}}}`
	recorder := postUpdate(t, webhook, "hunter2", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("disallowed users still get 200, got %d", recorder.Code)
	}
	if handler.count() != 0 {
		t.Fatalf("disallowed user must not produce a trigger")
	}
}

func TestWebhookMalformedBodyStill200(t *testing.T) {
	webhook, handler, _, _ := newWebhookFixture(t)

	recorder := postUpdate(t, webhook, "hunter2", `{broken`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("malformed body still gets 200, got %d", recorder.Code)
	}
	if handler.count() != 0 {
		t.Fatalf("malformed body must not produce a trigger")
	}
}

func TestWebhookClearCommand(t *testing.T) {
	webhook, handler, store, tgbot := newWebhookFixture(t)
	ctx := context.Background()

	err := store.AppendMessage(ctx, &models.Message{
		ID: uuid.NewString(), Role: models.RoleUser, Content: "old",
		Timestamp: 1, Trigger: models.TriggerMessage,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	body := `{"update_id":3,"message":{"message_id":12,"date":1,"text":"/clear","chat":{"id":100},"from":{"id":7}}}`
	recorder := postUpdate(t, webhook, "hunter2", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	if handler.count() != 0 {
		t.Fatalf("/clear must not reach the coordinator")
	}
	messages, err := store.RecentMessages(ctx, 0)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("conversation must be empty after /clear, got %d", len(messages))
	}
	tgbot.mu.Lock()
	defer tgbot.mu.Unlock()
	if len(tgbot.sends) != 1 {
		t.Fatalf("/clear must be confirmed to the chat")
	}
}
