// Package coordinator serializes reasoning turns: it owns the at-most-one
// active engine session, preempts it when newer triggers arrive and relays
// results to the chat channel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/mcp"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/prompt"
	"github.com/haasonsaas/outie/internal/retry"
	"github.com/haasonsaas/outie/internal/sandbox"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools/websearch"
	"github.com/haasonsaas/outie/pkg/models"
)

// EngineClient is the slice of the engine API the coordinator drives.
type EngineClient interface {
	CreateSession(ctx context.Context, title, directory string) (string, error)
	Prompt(ctx context.Context, req engine.PromptRequest) (*engine.PromptResponse, error)
	Abort(ctx context.Context, sessionID string) (bool, error)
}

// Sink delivers assistant text to the chat channel.
type Sink interface {
	Send(ctx context.Context, text string, opts outbound.SendOptions) error
}

// Uplink opens the MCP channel into the sandbox.
type Uplink interface {
	Connect(ctx context.Context, host string, port int) error
	Connected() bool
}

var _ Uplink = (*mcp.Uplink)(nil)

// Config wires a Coordinator.
type Config struct {
	Store     *storage.Store
	Prompts   *prompt.Builder
	Engine    EngineClient
	Sandbox   sandbox.Sandbox
	Uplink    Uplink
	Sink      Sink
	Allowlist *websearch.Allowlist
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	// WSPort is the bridge's uplink port inside the sandbox.
	WSPort int

	// Secrets are environment variables installed into the sandbox before
	// each session (API keys, installation tokens).
	Secrets map[string]string

	// QueueSize bounds the trigger queue (default 32).
	QueueSize int
}

// Coordinator is the single logical actor driving reasoning turns.
type Coordinator struct {
	cfg Config

	queue chan *models.Trigger

	mu               sync.Mutex
	currentSessionID string
	isProcessing     bool
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &Coordinator{
		cfg:   cfg,
		queue: make(chan *models.Trigger, cfg.QueueSize),
	}
}

// Handle enqueues a trigger. A full queue drops the trigger with an error
// log rather than blocking the caller.
func (c *Coordinator) Handle(trigger *models.Trigger) {
	select {
	case c.queue <- trigger:
	default:
		c.cfg.Logger.Error(context.Background(), "trigger queue full, dropping trigger",
			"type", string(trigger.Type))
	}
}

// Dispatch adapts Handle for the scheduler: a fired reminder becomes a
// synthetic alarm trigger.
func (c *Coordinator) Dispatch(reminder *models.Reminder) {
	c.Handle(&models.Trigger{
		Type:        models.TriggerAlarm,
		Payload:     reminder.Payload,
		Description: reminder.Description,
		Timestamp:   models.Now(),
	})
}

// Run receives triggers until the context ends. Each trigger preempts any
// in-flight session (best-effort abort) and then runs after the in-flight
// turn has actually returned, so at most one engine call is ever active.
func (c *Coordinator) Run(ctx context.Context) {
	var prevDone chan struct{}
	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-c.queue:
			trigger = c.coalesce(trigger)
			reuseID := c.preempt(ctx)

			done := make(chan struct{})
			prev := prevDone
			prevDone = done
			go func() {
				defer close(done)
				if prev != nil {
					// The aborted turn may still be draining to its own
					// deadline; the new prompt waits it out.
					select {
					case <-prev:
					case <-ctx.Done():
						return
					}
				}
				c.process(ctx, trigger, reuseID)
			}()
		}
	}
}

// coalesce merges consecutively queued triggers of the same type and source.
// User-message payloads concatenate; other payloads are last-write-wins.
func (c *Coordinator) coalesce(trigger *models.Trigger) *models.Trigger {
	for {
		select {
		case next := <-c.queue:
			if next.Type == trigger.Type && next.Source == trigger.Source {
				if trigger.Type == models.TriggerMessage {
					trigger.Payload = trigger.Payload + "\n" + next.Payload
				} else {
					trigger.Payload = next.Payload
					trigger.Description = next.Description
				}
				trigger.Timestamp = next.Timestamp
				continue
			}
			// Different kind: process it on its own turn.
			c.Handle(next)
			return trigger
		default:
			return trigger
		}
	}
}

// preempt aborts the in-flight session if there is one. The session id is
// returned for reuse when the engine acknowledged the abort, preserving the
// interrupted turn's context for the new trigger.
func (c *Coordinator) preempt(ctx context.Context) string {
	c.mu.Lock()
	processing := c.isProcessing
	sessionID := c.currentSessionID
	c.mu.Unlock()
	if !processing || sessionID == "" {
		return ""
	}

	ok, err := c.cfg.Engine.Abort(ctx, sessionID)
	if err != nil {
		c.cfg.Logger.Warn(ctx, "session abort failed, will use a fresh session",
			"session_id", sessionID, "error", err)
	}
	c.countAbort(ok)
	if ok {
		return sessionID
	}
	return ""
}

// process runs one reasoning turn. isProcessing is cleared on every exit
// path.
func (c *Coordinator) process(ctx context.Context, trigger *models.Trigger, reuseSessionID string) {
	ctx = observability.AddTrigger(ctx, string(trigger.Type))

	c.mu.Lock()
	c.isProcessing = true
	c.mu.Unlock()
	status := "ok"
	defer func() {
		c.mu.Lock()
		c.isProcessing = false
		c.mu.Unlock()
		c.countTrigger(trigger.Type, status)
	}()

	response, err := c.runTurn(ctx, trigger, reuseSessionID)
	if err != nil {
		status = "error"
		c.cfg.Logger.Error(ctx, "reasoning turn failed", "error", err)
		if trigger.Type == models.TriggerMessage {
			if sendErr := c.cfg.Sink.Send(ctx, "[No response]", outbound.SendOptions{ChatID: trigger.ChatID}); sendErr != nil {
				c.cfg.Logger.Error(ctx, "failed to deliver failure notice", "error", sendErr)
			}
		}
		return
	}

	if response == "" {
		return
	}
	// Alarm and ambient replies are log-only; the engine reaches the user
	// through send_telegram.
	if trigger.Type != models.TriggerMessage {
		c.cfg.Logger.Info(ctx, "assistant response (not delivered)", "response", response)
		return
	}
	if err := c.cfg.Sink.Send(ctx, response, outbound.SendOptions{ChatID: trigger.ChatID}); err != nil {
		c.cfg.Logger.Error(ctx, "failed to deliver assistant response", "error", err)
	}
}

// runTurn is the invocation protocol: context assembly, sandbox readiness,
// uplink, session resolution, prompt, persistence.
func (c *Coordinator) runTurn(ctx context.Context, trigger *models.Trigger, reuseSessionID string) (string, error) {
	systemPrompt, err := c.cfg.Prompts.SystemPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("build system prompt: %w", err)
	}

	// The user's message is part of the durable window before the engine
	// ever sees it, and any URLs it carries become fetchable.
	if trigger.Type == models.TriggerMessage {
		c.cfg.Allowlist.AddFromText(trigger.Payload)
		msg := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleUser,
			Content:   trigger.Payload,
			Timestamp: models.Now(),
			Trigger:   trigger.Type,
			Source:    trigger.Source,
		}
		if err := c.appendWithRetry(ctx, msg); err != nil {
			return "", fmt.Errorf("append user message: %w", err)
		}
	}

	envelope, err := c.cfg.Prompts.Envelope(ctx)
	if err != nil {
		return "", fmt.Errorf("build envelope: %w", err)
	}
	dynamic := envelope + "\n\n" + prompt.ForTrigger(trigger)

	if err := c.ensureSandbox(ctx); err != nil {
		return "", err
	}

	sessionID := reuseSessionID
	if sessionID == "" {
		sessionID, err = c.cfg.Engine.CreateSession(ctx, "outie", "")
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
	}
	c.mu.Lock()
	c.currentSessionID = sessionID
	c.mu.Unlock()
	ctx = observability.AddSessionID(ctx, sessionID)

	result, err := c.cfg.Engine.Prompt(ctx, engine.PromptRequest{
		SessionID: sessionID,
		Body: engine.PromptBody{Parts: []engine.Part{
			engine.TextPart(systemPrompt),
			engine.TextPart(dynamic),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("prompt session: %w", err)
	}

	response := result.Text()
	if response != "" {
		msg := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   response,
			Timestamp: models.Now(),
			Trigger:   trigger.Type,
		}
		if err := c.appendWithRetry(ctx, msg); err != nil {
			return "", fmt.Errorf("append assistant message: %w", err)
		}
	}
	return response, nil
}

// appendWithRetry retries lock-contention failures on the storage schedule
// (100 ms, 500 ms, 2 s) before surfacing.
func (c *Coordinator) appendWithRetry(ctx context.Context, msg *models.Message) error {
	return retry.Do(ctx, retry.Storage(), func() error {
		return c.cfg.Store.AppendMessage(ctx, msg)
	})
}

// ensureSandbox wakes the sandbox, waits for readiness, installs secrets and
// opens the MCP uplink.
func (c *Coordinator) ensureSandbox(ctx context.Context) error {
	if err := c.cfg.Sandbox.Wake(ctx); err != nil {
		return fmt.Errorf("wake sandbox: %w", err)
	}
	if err := sandbox.WaitReady(ctx, c.cfg.Sandbox); err != nil {
		if errors.Is(err, sandbox.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("sandbox readiness: %w", err)
	}
	for key, value := range c.cfg.Secrets {
		if err := c.cfg.Sandbox.SetEnv(ctx, key, value); err != nil {
			return fmt.Errorf("install secret %s: %w", key, err)
		}
	}
	if !c.cfg.Uplink.Connected() {
		if err := c.cfg.Uplink.Connect(ctx, c.cfg.Sandbox.Host(), c.cfg.WSPort); err != nil {
			return fmt.Errorf("open uplink: %w", err)
		}
	}
	return nil
}

// IsProcessing reports whether a turn is in flight.
func (c *Coordinator) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isProcessing
}

func (c *Coordinator) countTrigger(trigger models.TriggerType, status string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.TriggerCounter.WithLabelValues(string(trigger), status).Inc()
	}
}

func (c *Coordinator) countAbort(ok bool) {
	if c.cfg.Metrics == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	c.cfg.Metrics.EngineAborts.WithLabelValues(result).Inc()
}
