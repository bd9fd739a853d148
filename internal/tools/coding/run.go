// Package coding exposes delegated coding work as a tool.
package coding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/outie/internal/codingtask"
	"github.com/haasonsaas/outie/internal/tools"
)

// RunTaskTool hands a coding task to the sandboxed engine session for a
// repository.
type RunTaskTool struct {
	orchestrator *codingtask.Orchestrator
}

// NewRunTaskTool creates the run_coding_task tool.
func NewRunTaskTool(orchestrator *codingtask.Orchestrator) *RunTaskTool {
	return &RunTaskTool{orchestrator: orchestrator}
}

func (t *RunTaskTool) Name() string { return "run_coding_task" }

func (t *RunTaskTool) Description() string {
	return "Run a coding task against a git repository. Related follow-up tasks continue the same branch and session."
}

func (t *RunTaskTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"repo_url": {"type": "string", "description": "HTTPS clone URL of the repository"},
			"task": {"type": "string", "description": "What to implement"}
		},
		"required": ["repo_url", "task"]
	}`)
}

func (t *RunTaskTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		RepoURL string `json:"repo_url"`
		Task    string `json:"task"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	outcome, err := t.orchestrator.Run(ctx, input.RepoURL, input.Task)
	if err != nil {
		return nil, fmt.Errorf("run coding task: %w", err)
	}
	return &tools.Result{Content: outcome}, nil
}
