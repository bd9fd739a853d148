// Package outbound delivers assistant text to the chat channel.
package outbound

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/outie/internal/observability"
)

// BotClient is the subset of Telegram bot operations the sink uses. The
// interface allows mock injection in tests while wrapping the actual
// bot.Bot methods.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

// SendOptions customizes one delivery.
type SendOptions struct {
	// ChatID overrides the configured owner chat id.
	ChatID string

	// ReplyTo quotes an existing message.
	ReplyTo int

	// ParseMode is the Telegram formatting mode ("MarkdownV2", "HTML").
	// On a formatting failure the send is retried once with no parse mode.
	ParseMode string
}

// TelegramSink sends messages through a Telegram bot. A sink without a bot
// (no token configured) logs and drops sends instead of failing callers.
type TelegramSink struct {
	client      BotClient
	ownerChatID string
	logger      *observability.Logger
}

// NewTelegramSink creates a sink over a bot token. An empty token produces a
// disabled sink.
func NewTelegramSink(token, ownerChatID string, logger *observability.Logger) (*TelegramSink, error) {
	sink := &TelegramSink{ownerChatID: ownerChatID, logger: logger}
	if strings.TrimSpace(token) == "" {
		return sink, nil
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	sink.client = &realBotClient{bot: b}
	return sink, nil
}

// NewTelegramSinkWithClient creates a sink over an existing client (tests).
func NewTelegramSinkWithClient(client BotClient, ownerChatID string, logger *observability.Logger) *TelegramSink {
	return &TelegramSink{client: client, ownerChatID: ownerChatID, logger: logger}
}

// Send delivers text to the chat. A missing chat id falls back to the owner
// chat id; a disabled sink is a silent no-op with an error log.
func (s *TelegramSink) Send(ctx context.Context, text string, opts SendOptions) error {
	if s.client == nil {
		s.logger.Error(ctx, "telegram sink disabled: no bot token configured, dropping message")
		return nil
	}

	chatID := opts.ChatID
	if chatID == "" {
		chatID = s.ownerChatID
	}
	if chatID == "" {
		return fmt.Errorf("no chat id available for outbound message")
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if opts.ParseMode != "" {
		params.ParseMode = tgmodels.ParseMode(opts.ParseMode)
	}
	if opts.ReplyTo != 0 {
		params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: opts.ReplyTo}
	}

	_, err := s.client.SendMessage(ctx, params)
	if err != nil && opts.ParseMode != "" {
		// Formatting errors are recoverable: resend as plain text.
		s.logger.Warn(ctx, "send with parse mode failed, retrying as plain text",
			"parse_mode", opts.ParseMode, "error", err)
		params.ParseMode = ""
		_, err = s.client.SendMessage(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Enabled reports whether the sink has a usable bot client.
func (s *TelegramSink) Enabled() bool { return s.client != nil }
