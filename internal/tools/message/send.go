// Package message exposes outbound chat delivery as a tool.
package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/tools"
)

// SendTelegramTool delivers a message to the Telegram channel. Alarm and
// ambient replies are not auto-delivered; this tool is how the engine makes
// something user-visible.
type SendTelegramTool struct {
	sink *outbound.TelegramSink
}

// NewSendTelegramTool creates the send_telegram tool.
func NewSendTelegramTool(sink *outbound.TelegramSink) *SendTelegramTool {
	return &SendTelegramTool{sink: sink}
}

func (t *SendTelegramTool) Name() string { return "send_telegram" }

func (t *SendTelegramTool) Description() string {
	return "Send a message to the user on Telegram. Omit chat_id to reach the owner."
}

func (t *SendTelegramTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "Text to send"},
			"chat_id": {"type": "string", "description": "Optional chat id override"}
		},
		"required": ["message"]
	}`)
}

func (t *SendTelegramTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		Message string `json:"message"`
		ChatID  string `json:"chat_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	if err := t.sink.Send(ctx, input.Message, outbound.SendOptions{ChatID: input.ChatID}); err != nil {
		return nil, fmt.Errorf("send telegram: %w", err)
	}
	return tools.Textf("Message sent."), nil
}
