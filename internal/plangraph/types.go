// Package plangraph implements the PlanGraph document model and the
// submission-time validator described in spec §3 and §4.3: a DAG of plan
// nodes (change, validate, escalate, side_effect) validated against an
// enforcement bundle, returning the complete set of typed deny codes in one
// pass rather than short-circuiting on the first failure.
package plangraph

// Kind is a plan node kind.
type Kind string

const (
	KindChange     Kind = "change"
	KindValidate   Kind = "validate"
	KindEscalate   Kind = "escalate"
	KindSideEffect Kind = "side_effect"
)

// AtomicityBoundary scopes a node's declared blast radius.
type AtomicityBoundary struct {
	InScopeAcceptanceIDs  []string `json:"inScopeAcceptanceIds,omitempty"`
	OutOfScopeAcceptanceIDs []string `json:"outOfScopeAcceptanceIds,omitempty"`
	Modules               []string `json:"modules,omitempty"`
}

// EvidenceItem is one citation backing a node or a strategy reason.
type EvidenceItem struct {
	Category          string `json:"category"` // requirement | code | policy
	Source            string `json:"source"`   // a file path or identifier; distinct-source dedup is by this value
	SingleSourceGuard bool   `json:"singleSourceGuard,omitempty"`
}

// Node is one vertex of a PlanGraph.
type Node struct {
	ID                        string            `json:"id"`
	Kind                      Kind              `json:"kind"`
	DependsOn                 []string          `json:"dependsOn,omitempty"`
	AtomicityBoundary         AtomicityBoundary `json:"atomicityBoundary"`
	ExpectedFailureSignatures []string          `json:"expectedFailureSignatures,omitempty"`

	// change-specific
	TargetFile    string         `json:"targetFile,omitempty"`
	TargetSymbols []string       `json:"targetSymbols,omitempty"`
	Citations     []string       `json:"citations,omitempty"`
	ArtifactRefs  []string       `json:"artifactRefs,omitempty"`
	Evidence      []EvidenceItem `json:"evidence,omitempty"`
	Operation     string         `json:"operation,omitempty"` // replace_text | ast_codemod
	CodemodID     string         `json:"codemodId,omitempty"`
	OperationParams map[string]any `json:"operationParams,omitempty"`

	// validate-specific: the change node IDs this validate node covers.
	Validates []string `json:"validates,omitempty"`

	// side_effect-specific
	CommitGateID string `json:"commitGateId,omitempty"`

	// escalate-specific
	Need              string   `json:"need,omitempty"`
	RequestedEvidence []string `json:"requestedEvidence,omitempty"`
}

// StrategyReason is one justification for the chosen knowledge strategy.
type StrategyReason struct {
	Text         string   `json:"text"`
	EvidenceRefs []string `json:"evidenceRefs,omitempty"`
}

// Strategy names the knowledge strategy the plan was built under.
type Strategy struct {
	ID      string           `json:"id"`
	Reasons []StrategyReason `json:"reasons"`
}

// EvidencePolicy declares per-category minima for distinct evidence sources.
type EvidencePolicy struct {
	Requirement int `json:"requirement"`
	Code        int `json:"code"`
	Policy      int `json:"policy"`
}

// Document is the submitted plan envelope (spec §4.3 "Envelope completeness").
type Document struct {
	Identity          Identity          `json:"identity"`
	Snapshot          map[string]any    `json:"snapshot,omitempty"`
	PackRef           string            `json:"packRef"`
	PackHash          string            `json:"packHash"`
	PolicyVersions    map[string]string `json:"policyVersions"`
	ScopeAllowListRef string            `json:"scopeAllowListRef"`
	Strategy          Strategy          `json:"strategy"`
	EvidencePolicy    EvidencePolicy    `json:"evidencePolicy"`
	SchemaVersion     string            `json:"schemaVersion"`
	WorktreeRoot      string            `json:"worktreeRoot"`
	Nodes             []Node            `json:"nodes"`
}

// Identity identifies who submitted the plan.
type Identity struct {
	RunSessionID string `json:"runSessionId"`
	WorkID       string `json:"workId"`
	AgentID      string `json:"agentId"`
}

// Graph is the accepted, in-memory representation of a validated plan,
// stored on the WorkUnit once accepted.
type Graph struct {
	Document Document `json:"document"`
	Nodes    map[string]*Node
}

// NewGraph indexes a document's nodes by ID.
func NewGraph(doc Document) *Graph {
	g := &Graph{Document: doc, Nodes: make(map[string]*Node, len(doc.Nodes))}
	for i := range doc.Nodes {
		g.Nodes[doc.Nodes[i].ID] = &doc.Nodes[i]
	}
	return g
}
