// Package intake authenticates and normalises incoming chat webhooks into
// triggers.
package intake

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/pkg/models"
)

// secretHeader is the shared-secret header Telegram echoes back on webhook
// deliveries.
const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TriggerHandler receives normalised triggers. Satisfied by the coordinator.
type TriggerHandler interface {
	Handle(trigger *models.Trigger)
}

// Webhook is the HTTP surface for the chat platform.
type Webhook struct {
	secret       string
	allowedUsers map[int64]struct{}
	handler      TriggerHandler
	store        *storage.Store
	sink         *outbound.TelegramSink
	logger       *observability.Logger
}

// Config wires a Webhook.
type Config struct {
	Secret         string
	AllowedUserIDs []int64
	Handler        TriggerHandler
	Store          *storage.Store
	Sink           *outbound.TelegramSink
	Logger         *observability.Logger
}

// New creates the webhook handler.
func New(cfg Config) *Webhook {
	allowed := make(map[int64]struct{}, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = struct{}{}
	}
	return &Webhook{
		secret:       cfg.Secret,
		allowedUsers: allowed,
		handler:      cfg.Handler,
		store:        cfg.Store,
		sink:         cfg.Sink,
		logger:       cfg.Logger,
	}
}

// ServeHTTP verifies the shared secret, enforces the user allow-list and
// enqueues a message trigger. The platform always gets 200 for authenticated
// deliveries, whatever the payload.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(w.secret)) != 1 {
		w.logger.Warn(ctx, "webhook secret mismatch")
		rw.WriteHeader(http.StatusUnauthorized)
		return
	}

	// From here on the platform gets 200 no matter what, or it retries the
	// same update forever.
	defer rw.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.logger.Warn(ctx, "failed to read webhook body", "error", err)
		return
	}
	var update tgmodels.Update
	if err := json.Unmarshal(body, &update); err != nil {
		w.logger.Warn(ctx, "malformed webhook body", "error", err)
		return
	}
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message

	userID := int64(0)
	if msg.From != nil {
		userID = msg.From.ID
	}
	if _, ok := w.allowedUsers[userID]; !ok {
		w.logger.Warn(ctx, "message from disallowed user ignored", "user_id", userID)
		return
	}

	chatID := fmt.Sprintf("%d", msg.Chat.ID)
	if strings.TrimSpace(msg.Text) == "/clear" {
		w.handleClear(ctx, chatID)
		return
	}

	w.handler.Handle(&models.Trigger{
		Type:      models.TriggerMessage,
		Payload:   msg.Text,
		Source:    models.SourceTelegram,
		ChatID:    chatID,
		Timestamp: models.Now(),
	})
}

// handleClear resets the conversation window and confirms.
func (w *Webhook) handleClear(ctx context.Context, chatID string) {
	if err := w.store.DeleteAllMessages(ctx); err != nil {
		w.logger.Error(ctx, "failed to clear conversation", "error", err)
		return
	}
	if err := w.sink.Send(ctx, "Conversation cleared.", outbound.SendOptions{ChatID: chatID}); err != nil {
		w.logger.Error(ctx, "failed to confirm clear", "error", err)
	}
}
