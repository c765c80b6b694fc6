package capability

// Descriptor documents a verb's contract so the agent never needs
// out-of-band knowledge of it: description, when to use it, and its
// required/optional argument names.
type Descriptor struct {
	Description     string   `json:"description"`
	WhenToUse       string   `json:"whenToUse"`
	RequiredArgs    []string `json:"requiredArgs,omitempty"`
	OptionalArgs    []string `json:"optionalArgs,omitempty"`
}

// Descriptors is returned, filtered to the verbs permitted in the current
// state, in every controller_turn response envelope.
var Descriptors = map[Verb]Descriptor{
	InitializeWork: {
		Description:  "Create or resume a work unit and seal its initial ContextPack.",
		WhenToUse:    "First turn of a session, or to recover from BLOCKED_BUDGET with a fresh budget.",
		RequiredArgs: []string{"originalPrompt"},
		OptionalArgs: []string{"workId"},
	},
	ReadFileLines: {
		Description:  "Read a contiguous range of lines from a file in the ContextPack allow-list.",
		WhenToUse:    "Inspecting code already surfaced by the pack before proposing a change.",
		RequiredArgs: []string{"path", "startLine", "endLine"},
	},
	LookupSymbolDefinition: {
		Description:  "Resolve a symbol name to its declaring file and kind via the symbol inventory.",
		WhenToUse:    "Confirming a symbol exists and where it's declared before citing it in a plan.",
		RequiredArgs: []string{"symbol"},
	},
	TraceSymbolGraph: {
		Description:  "Walk the dependency/usage graph outward from a symbol.",
		WhenToUse:    "Understanding blast radius of a prospective change.",
		RequiredArgs: []string{"symbol"},
		OptionalArgs: []string{"depth"},
	},
	SearchCodebaseText: {
		Description:  "Lexical search over the allow-listed files.",
		WhenToUse:    "Locating candidate files/symbols not yet in the pack (may require escalate first).",
		RequiredArgs: []string{"query"},
	},
	WriteScratchFile: {
		Description:  "Write a file under the session's scratch root, outside the target repository.",
		WhenToUse:    "Recording notes, drafts, or intermediate artifacts that are not part of the change.",
		RequiredArgs: []string{"path", "content"},
	},
	SubmitExecutionPlan: {
		Description:  "Submit a PlanGraph document for validation and, if accepted, transition to PLAN_ACCEPTED.",
		WhenToUse:    "Once enough context has been gathered to propose a concrete, atomic set of changes.",
		RequiredArgs: []string{"plan"},
	},
	Escalate: {
		Description:  "Request ContextPack enrichment given a need and typed required evidence.",
		WhenToUse:    "The pack is insufficient (pack_insufficient result) or a plan needs evidence not yet in scope.",
		RequiredArgs: []string{"need", "requestedEvidence"},
	},
	SignalTaskComplete: {
		Description:  "Declare the turn's work finished; accepted only when all plan nodes have completed and validated.",
		WhenToUse:    "After all planned change/validate/side_effect nodes report completion.",
	},
	ApplyCodePatch: {
		Description:  "Apply a structured patch (replace_text or ast_codemod) to a file named by an accepted plan node.",
		WhenToUse:    "Executing a `change` plan node once the plan has been accepted.",
		RequiredArgs: []string{"nodeId", "operation", "targetFile"},
		OptionalArgs: []string{"find", "replace", "codemodId", "codemodParams"},
	},
	RunSandboxedCode: {
		Description:  "Evaluate an async self-invoking expression in an isolated execution context.",
		WhenToUse:    "Executing a `validate` plan node that requires computed verification.",
		RequiredArgs: []string{"nodeId", "expression", "timeoutMs"},
		OptionalArgs: []string{"inputs", "memoryCapMb", "expectedReturnShape"},
	},
	ExecuteGatedSideEffect: {
		Description:  "Perform an external side effect gated by a plan node's approved commit gate.",
		WhenToUse:    "Executing a `side_effect` plan node after its dependent `validate` node has passed.",
		RequiredArgs: []string{"nodeId", "commitGateId"},
	},
	RunAutomationRecipe: {
		Description:  "Run a named, pre-approved automation recipe against the scoped repository.",
		WhenToUse:    "A repeatable multi-step operation already captured as a recipe in the ContextPack.",
		RequiredArgs: []string{"recipeName"},
		OptionalArgs: []string{"params"},
	},
}

// DescriptorsFor returns descriptors for exactly the verbs permitted in state s.
func DescriptorsFor(s State) map[Verb]Descriptor {
	out := make(map[Verb]Descriptor, len(catalog[s]))
	for _, v := range catalog[s] {
		out[v] = Descriptors[v]
	}
	return out
}
