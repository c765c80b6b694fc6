// Package capability is the verb catalog: the constant table of lifecycle
// states, the verbs permitted in each, and the human-readable descriptors
// returned to the agent in every response envelope.
package capability

// State is a session lifecycle state.
type State string

const (
	Uninitialized State = "UNINITIALIZED"
	Planning      State = "PLANNING"
	PlanAccepted  State = "PLAN_ACCEPTED"
	Completed     State = "COMPLETED"
	Failed        State = "FAILED"
	BlockedBudget State = "BLOCKED_BUDGET"
)

// Verb is a controller_turn operation name.
type Verb string

const (
	InitializeWork         Verb = "initialize_work"
	ReadFileLines          Verb = "read_file_lines"
	LookupSymbolDefinition Verb = "lookup_symbol_definition"
	TraceSymbolGraph       Verb = "trace_symbol_graph"
	SearchCodebaseText     Verb = "search_codebase_text"
	WriteScratchFile       Verb = "write_scratch_file"
	SubmitExecutionPlan    Verb = "submit_execution_plan"
	Escalate               Verb = "escalate"
	SignalTaskComplete     Verb = "signal_task_complete"
	ApplyCodePatch         Verb = "apply_code_patch"
	RunSandboxedCode       Verb = "run_sandboxed_code"
	ExecuteGatedSideEffect Verb = "execute_gated_side_effect"
	RunAutomationRecipe    Verb = "run_automation_recipe"
)

var readVerbs = []Verb{ReadFileLines, LookupSymbolDefinition, TraceSymbolGraph, SearchCodebaseText}

var planningVerbs = append(append([]Verb{}, readVerbs...), WriteScratchFile, SubmitExecutionPlan, Escalate, SignalTaskComplete)

var planAcceptedVerbs = append(append([]Verb{}, planningVerbs...), ApplyCodePatch, RunSandboxedCode, ExecuteGatedSideEffect, RunAutomationRecipe)

// BudgetSafeVerbs remain permitted even in BLOCKED_BUDGET.
var BudgetSafeVerbs = map[Verb]bool{
	InitializeWork:     true,
	Escalate:           true,
	SignalTaskComplete: true,
}

// catalog maps each state to its permitted verbs.
var catalog = map[State][]Verb{
	Uninitialized: {InitializeWork},
	Planning:      planningVerbs,
	PlanAccepted:  planAcceptedVerbs,
	Completed:     {SignalTaskComplete},
	Failed:        {SignalTaskComplete},
	BlockedBudget: {InitializeWork, Escalate, SignalTaskComplete},
}

// Allowed returns the set of verbs permitted in the given state.
func Allowed(s State) []Verb {
	return catalog[s]
}

// IsAllowed reports whether verb is permitted in state s.
func IsAllowed(s State, v Verb) bool {
	for _, allowed := range catalog[s] {
		if allowed == v {
			return true
		}
	}
	return false
}

// IsBudgetSafe reports whether v remains permitted under BLOCKED_BUDGET.
func IsBudgetSafe(v Verb) bool {
	return BudgetSafeVerbs[v]
}
