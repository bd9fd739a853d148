package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/tools"
)

// Service speaks JSON-RPC 2.0 over any byte transport. It owns MCP session
// ids and dispatches tools/call into the registry.
type Service struct {
	registry *tools.Registry
	logger   *observability.Logger

	mu       sync.Mutex
	sessions map[string]struct{}
}

// NewService creates an MCP service over a tool registry.
func NewService(registry *tools.Registry, logger *observability.Logger) *Service {
	return &Service{
		registry: registry,
		logger:   logger,
		sessions: make(map[string]struct{}),
	}
}

// HandleResult is the outcome of processing one raw JSON-RPC payload.
type HandleResult struct {
	// Body is the serialized response (single object or batch array).
	// Empty when the payload was all notifications.
	Body []byte

	// SessionID is set when an initialize call allocated a session.
	SessionID string
}

// HandleRaw processes a JSON-RPC payload: a single request, a notification
// or a batch array. Notifications produce no response element; a batch of
// only notifications produces an empty body.
func (s *Service) HandleRaw(ctx context.Context, raw []byte) HandleResult {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return HandleResult{Body: marshalResponse(errorResponse(nil, ErrCodeParseError, "empty request"))}
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return HandleResult{Body: marshalResponse(errorResponse(nil, ErrCodeParseError, "invalid JSON batch"))}
		}
		if len(batch) == 0 {
			return HandleResult{Body: marshalResponse(errorResponse(nil, ErrCodeInvalidRequest, "empty batch"))}
		}
		var result HandleResult
		responses := make([]*JSONRPCResponse, 0, len(batch))
		for _, element := range batch {
			response, sessionID := s.handleOne(ctx, element)
			if sessionID != "" {
				result.SessionID = sessionID
			}
			if response != nil {
				responses = append(responses, response)
			}
		}
		if len(responses) > 0 {
			result.Body, _ = json.Marshal(responses)
		}
		return result
	}

	response, sessionID := s.handleOne(ctx, trimmed)
	result := HandleResult{SessionID: sessionID}
	if response != nil {
		result.Body = marshalResponse(response)
	}
	return result
}

// handleOne processes a single request object. It returns a nil response for
// notifications.
func (s *Service) handleOne(ctx context.Context, raw json.RawMessage) (*JSONRPCResponse, string) {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, ErrCodeParseError, "invalid JSON"), ""
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.IsNotification() {
			return nil, ""
		}
		return errorResponse(req.ID, ErrCodeInvalidRequest, "not a JSON-RPC 2.0 request"), ""
	}

	switch req.Method {
	case "initialize":
		sessionID := s.newSession()
		result := InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			ServerInfo:      ServerInfo{Name: "outie", Version: "1.0.0"},
		}
		return resultResponse(req.ID, result), sessionID

	case "initialized", "notifications/initialized":
		return nil, ""

	case "ping":
		return resultResponse(req.ID, struct{}{}), ""

	case "tools/list":
		if req.IsNotification() {
			return nil, ""
		}
		return resultResponse(req.ID, map[string]any{"tools": s.registry.List()}), ""

	case "tools/call":
		if req.IsNotification() {
			return nil, ""
		}
		return s.handleToolCall(ctx, &req), ""

	default:
		if req.IsNotification() {
			return nil, ""
		}
		return errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)), ""
	}
}

func (s *Service) handleToolCall(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, ErrCodeInvalidParams, "invalid tools/call params")
	}
	if params.Name == "" {
		return errorResponse(req.ID, ErrCodeInvalidParams, "tool name is required")
	}

	result, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if errors.Is(err, tools.ErrUnknownTool) {
		return errorResponse(req.ID, ErrCodeMethodNotFound, err.Error())
	}
	if err != nil {
		s.logger.Error(ctx, "tool dispatch failed", "tool", params.Name, "error", err)
		return errorResponse(req.ID, ErrCodeInternalError, err.Error())
	}

	return resultResponse(req.ID, ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: result.Content}},
		IsError: result.IsError,
	})
}

func (s *Service) newSession() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = struct{}{}
	s.mu.Unlock()
	return id
}

// EndSession terminates a session. Ending an unknown session reports false.
func (s *Service) EndSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

func resultResponse(id any, result any) *JSONRPCResponse {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, ErrCodeInternalError, "failed to marshal result")
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: data}
}

func errorResponse(id any, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
}

func marshalResponse(response *JSONRPCResponse) []byte {
	data, err := json.Marshal(response)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"marshal failure"}}`)
	}
	return data
}
