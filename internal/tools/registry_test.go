package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/haasonsaas/outie/internal/observability"
)

type addTool struct{}

func (addTool) Name() string        { return "add" }
func (addTool) Description() string { return "Add two integers." }

func (addTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"a": {"type": "integer"},
			"b": {"type": "integer"}
		},
		"required": ["a", "b"]
	}`)
}

func (addTool) Execute(_ context.Context, params json.RawMessage) (*Result, error) {
	var input struct{ A, B int }
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}
	return Textf("%d", input.A+input.B), nil
}

type failingTool struct{}

func (failingTool) Name() string        { return "boom" }
func (failingTool) Description() string { return "Always fails." }
func (failingTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}
func (failingTool) Execute(context.Context, json.RawMessage) (*Result, error) {
	return nil, fmt.Errorf("handler exploded")
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	registry := NewRegistry(logger, nil)
	registry.Register(addTool{})
	registry.Register(failingTool{})
	return registry
}

func TestCallDispatches(t *testing.T) {
	registry := newRegistry(t)
	result, err := registry.Call(context.Background(), "add", json.RawMessage(`{"a":2,"b":3}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result.IsError || result.Content != "5" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCallUnknownTool(t *testing.T) {
	registry := newRegistry(t)
	_, err := registry.Call(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestCallEnforcesRequiredFields(t *testing.T) {
	registry := newRegistry(t)
	result, err := registry.Call(context.Background(), "add", json.RawMessage(`{"a":2}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("missing required field must produce an error result")
	}
}

func TestCallRejectsWrongTypes(t *testing.T) {
	registry := newRegistry(t)
	result, err := registry.Call(context.Background(), "add", json.RawMessage(`{"a":"two","b":3}`))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !result.IsError {
		t.Fatalf("type mismatch must produce an error result")
	}
}

func TestHandlerErrorDoesNotCrashDispatcher(t *testing.T) {
	registry := newRegistry(t)
	result, err := registry.Call(context.Background(), "boom", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("handler errors must convert to error results, got %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result from failing handler")
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	registry := newRegistry(t)
	descriptors := registry.List()
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}
	if descriptors[0].Name != "add" || descriptors[1].Name != "boom" {
		t.Fatalf("descriptors out of registration order: %+v", descriptors)
	}
}
