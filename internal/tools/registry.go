package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/outie/internal/observability"
)

// ErrUnknownTool is returned when no tool with the requested name is
// registered. The MCP service maps it to JSON-RPC −32601.
var ErrUnknownTool = errors.New("unknown tool")

// MaxParamsSize is the maximum size of tool parameters JSON (1MB).
const MaxParamsSize = 1 << 20

// Descriptor is the wire form of a tool for tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Registry manages tools with thread-safe registration and lookup. Arguments
// are validated against each tool's advertised schema before dispatch.
type Registry struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		logger:  logger,
		metrics: metrics,
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. The tool's schema must compile; a broken schema is a
// programming error and panics at startup.
func (r *Registry) Register(tool Tool) {
	compiler := jsonschema.NewCompiler()
	name := tool.Name()
	resource := fmt.Sprintf("tool://%s", name)
	if err := compiler.AddResource(resource, bytes.NewReader(tool.Schema())); err != nil {
		panic(fmt.Sprintf("tool %s: invalid schema: %v", name, err))
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		panic(fmt.Sprintf("tool %s: schema does not compile: %v", name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
}

// List returns descriptors for all registered tools in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descriptors := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return descriptors
}

// Call validates args against the tool's schema and dispatches. Unknown
// tools return ErrUnknownTool; every other failure becomes an error Result
// so the dispatcher itself never fails on handler errors.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	if len(args) > MaxParamsSize {
		return Errorf("tool parameters exceed maximum size of %d bytes", MaxParamsSize), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return Errorf("invalid arguments: %v", err), nil
	}
	if err := schema.Validate(decoded); err != nil {
		return Errorf("arguments do not match schema for %s: %v", name, compactValidationError(err)), nil
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		r.logger.Error(ctx, "tool handler failed", "tool", name, "error", err)
		r.count(name, "error")
		return Errorf("%s failed: %v", name, err), nil
	}
	if result == nil {
		result = Textf("")
	}
	if result.IsError {
		r.count(name, "error")
	} else {
		r.count(name, "success")
	}
	return result, nil
}

func (r *Registry) count(tool, status string) {
	if r.metrics != nil {
		r.metrics.ToolCallCounter.WithLabelValues(tool, status).Inc()
	}
}

// compactValidationError flattens jsonschema's multi-line detail output into
// one line for the tool-result envelope.
func compactValidationError(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return strings.Join(strings.Fields(ve.Error()), " ")
	}
	return err.Error()
}
