package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/turn"
)

// controllerTurnInputSchema describes the single argument shape every
// controller_turn call accepts (spec §6's single-tool surface): a verb,
// its verb-specific args, the session tuple (minted by the server on the
// first call of a work unit if omitted), and the originality-guarantee
// prompt.
const controllerTurnInputSchema = `{
  "type": "object",
  "required": ["verb"],
  "properties": {
    "verb": {"type": "string"},
    "args": {"type": "object"},
    "originalPrompt": {"type": "string"},
    "runSessionId": {"type": "string"},
    "workId": {"type": "string"},
    "agentId": {"type": "string"},
    "traceMeta": {"type": "object"}
  }
}`

// ControllerTool is the single MCP tool exposed by this server: every
// agent action, regardless of verb, flows through one controller_turn
// call (spec §6). It adapts the registry's generic Tool interface to
// turn.Controller.Handle.
type ControllerTool struct {
	Controller *turn.Controller
}

// Name implements Tool.
func (t *ControllerTool) Name() string { return "controller_turn" }

// Description implements Tool.
func (t *ControllerTool) Description() string {
	return "Executes one policy-gated turn against the active work unit: submit a plan, apply a patch, escalate, or any other registered verb."
}

// InputSchema implements Tool.
func (t *ControllerTool) InputSchema() json.RawMessage {
	return json.RawMessage(controllerTurnInputSchema)
}

// toolArgs mirrors the JSON shape callers send; it is decoded once here
// and translated into turn.Request rather than exposing turn's internal
// types directly over the wire.
type toolArgs struct {
	Verb           string         `json:"verb"`
	Args           map[string]any `json:"args"`
	OriginalPrompt string         `json:"originalPrompt"`
	RunSessionID   string         `json:"runSessionId"`
	WorkID         string         `json:"workId"`
	AgentID        string         `json:"agentId"`
	TraceMeta      map[string]any `json:"traceMeta"`
}

// Execute implements Tool by decoding params into a turn.Request and
// running it through the controller.
func (t *ControllerTool) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	var a toolArgs
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a); err != nil {
			return ErrorResult(fmt.Sprintf("invalid controller_turn arguments: %v", err)), nil
		}
	}
	if a.Verb == "" {
		return ErrorResult("controller_turn requires a non-empty \"verb\""), nil
	}

	resp, err := t.Controller.Handle(ctx, turn.Request{
		Verb:           capability.Verb(a.Verb),
		Args:           a.Args,
		OriginalPrompt: a.OriginalPrompt,
		RunSessionID:   a.RunSessionID,
		WorkID:         a.WorkID,
		AgentID:        a.AgentID,
		TraceMeta:      a.TraceMeta,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("controller_turn failed: %v", err)), nil
	}
	return JSONResult(resp)
}
