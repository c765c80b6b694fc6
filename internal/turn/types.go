// Package turn implements the turn controller (spec §4.1): the finite
// state machine, per-turn budget accounting, capability gate, verb
// dispatch, and the response envelope assembly that composes every other
// package behind the single `controller_turn` operation.
package turn

import (
	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

// Request is one controller_turn call, already decoded from the MCP
// tool's arguments (spec §6).
type Request struct {
	RunSessionID   string         `json:"runSessionId,omitempty"`
	WorkID         string         `json:"workId,omitempty"`
	AgentID        string         `json:"agentId,omitempty"`
	Verb           capability.Verb `json:"verb"`
	Args           map[string]any `json:"args,omitempty"`
	OriginalPrompt string         `json:"originalPrompt,omitempty"`
	TraceMeta      map[string]any `json:"traceMeta,omitempty"`
}

// Scope is the repository/scratch root pair surfaced to the agent.
type Scope struct {
	WorktreeRoot string `json:"worktreeRoot"`
	ScratchRoot  string `json:"scratchRoot"`
}

// KnowledgeStrategy echoes the accepted plan's strategy, once one exists.
type KnowledgeStrategy struct {
	ID              string                       `json:"id,omitempty"`
	Reasons         []string                     `json:"reasons,omitempty"`
	ContextSignature *contextpack.ContextSignature `json:"contextSignature,omitempty"`
}

// BudgetStatus reports the per-agent token accounting (spec §4.1 step 2).
type BudgetStatus struct {
	Max       int  `json:"max"`
	Used      int  `json:"used"`
	Threshold int  `json:"threshold"`
	Blocked   bool `json:"blocked"`
}

// SubAgentHints suggests whether the current work would benefit from
// splitting across sub-agents. The distilled spec names this field in
// the envelope shape but leaves its derivation open; we derive it
// deterministically from plan node fan-out (see hints.go).
type SubAgentHints struct {
	Recommended     bool     `json:"recommended"`
	SuggestedSplits []string `json:"suggestedSplits,omitempty"`
}

// Progress reports plan-node completion counters.
type Progress struct {
	Total              int      `json:"total"`
	Completed          int      `json:"completed"`
	Remaining          int      `json:"remaining"`
	PendingValidations []string `json:"pendingValidations,omitempty"`
}

// Response is the envelope returned from every controller_turn call,
// shape-identical across verbs (spec §6).
type Response struct {
	RunSessionID string `json:"runSessionId"`
	WorkID       string `json:"workId"`
	AgentID      string `json:"agentId"`

	State   capability.State `json:"state"`
	Outcome string           `json:"outcome,omitempty"`

	Capabilities    []capability.Verb                     `json:"capabilities"`
	VerbDescriptions map[capability.Verb]capability.Descriptor `json:"verbDescriptions"`

	Scope Scope `json:"scope"`

	Result      any      `json:"result,omitempty"`
	DenyReasons []string `json:"denyReasons,omitempty"`

	SuggestedAction string `json:"suggestedAction,omitempty"`

	KnowledgeStrategy KnowledgeStrategy `json:"knowledgeStrategy"`
	BudgetStatus      BudgetStatus      `json:"budgetStatus"`

	TraceRef      string `json:"traceRef"`
	SchemaVersion string `json:"schemaVersion"`

	SubAgentHints SubAgentHints `json:"subAgentHints"`
	Progress      Progress      `json:"progress"`

	PackInsufficiency *contextpack.Insufficiency `json:"packInsufficiency,omitempty"`

	OriginalPrompt string `json:"originalPrompt"`
}
