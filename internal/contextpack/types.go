// Package contextpack implements the sealed ContextPack artifact described
// in spec §3/§4.2: a monotonically-growing file allow-list plus the
// retrieval/proof-chain/policy material a submitted plan is checked
// against.
package contextpack

import "time"

// RetrievalLane names one of the five assembly lanes from §4.2 step 5.
type RetrievalLane string

const (
	LaneLexical  RetrievalLane = "lexical"
	LaneSymbol   RetrievalLane = "symbol"
	LanePolicy   RetrievalLane = "policy"
	LaneArtifact RetrievalLane = "artifact"
	LaneEpisodic RetrievalLane = "episodic_memory"
)

// RetrievalHit is one reranked result from a lane, carrying the reason the
// reranker kept it (for the retrieval_trace event).
type RetrievalHit struct {
	Lane   RetrievalLane `json:"lane"`
	Path   string        `json:"path"`
	Symbol string        `json:"symbol,omitempty"`
	Score  float64       `json:"score"`
	Reason string        `json:"reason"`
}

// ProofChainKind names one of the two proof chains §4.2 step 6 resolves.
type ProofChainKind string

const (
	ProofChainUIOrigin   ProofChainKind = "ui_origin"
	ProofChainFederation ProofChainKind = "federation"
)

// ProofChainLink is one hop of a resolved proof chain.
type ProofChainLink struct {
	Stage string `json:"stage"`
	Ref   string `json:"ref"`
}

// ProofChainResult is the outcome of resolving one proof chain: either a
// complete ordered link sequence, or absent (Resolved=false) when the
// required signal was not present or the chain could not be completed.
type ProofChainResult struct {
	Kind     ProofChainKind   `json:"kind"`
	Resolved bool             `json:"resolved"`
	Links    []ProofChainLink `json:"links,omitempty"`
}

// ContextSignature is the boolean-feature signature computed in §4.2 step 3
// and overridable by strategy_signal memories in step 4.
type ContextSignature struct {
	UIGrid          bool `json:"uiGrid"`
	Federation      bool `json:"federation"`
	MigrationInPlay bool `json:"migrationInPlay"`
	APIContract     bool `json:"apiContract"`
	DebugSymptom    bool `json:"debugSymptom"`
}

// PlanGraphSchemaDescriptor is computed in §4.2 step 8: the active
// validators/node kinds/required fields/evidence policy the submitted plan
// will be checked against, echoed to the agent so it can self-validate
// before submitting.
type PlanGraphSchemaDescriptor struct {
	ActiveValidators   []string         `json:"activeValidators"`
	ExpectedNodeKinds  []string         `json:"expectedNodeKinds"`
	RequiredFields     map[string][]string `json:"requiredFields"`
	EvidencePolicy     map[string]int   `json:"evidencePolicy"`
	RequiredCitations  []string         `json:"requiredCitations,omitempty"`
}

// Pack is the sealed artifact. Once Write has sealed it no field may shrink;
// Enrich only unions new entries in and recomputes the hash.
type Pack struct {
	WorkID  string `json:"workId"`
	PackRef string `json:"packRef"`

	AllowList    []string        `json:"allowList"`
	allowListSet map[string]bool `json:"-"`

	SymbolInventory   []string                    `json:"symbolInventory"`
	RetrievalTrace    []RetrievalHit              `json:"retrievalTrace"`
	ActivePolicies    []string                    `json:"activePolicies"`
	ActiveMemoryIDs   []string                    `json:"activeMemoryIds"`
	AttachmentRefs    []string                    `json:"attachmentRefs"`
	ProofChains       []ProofChainResult          `json:"proofChains"`
	Signature         ContextSignature            `json:"signature"`
	PlanGraphSchema   PlanGraphSchemaDescriptor   `json:"planGraphSchema"`

	ContentHash string    `json:"contentHash"`
	SealedAt    time.Time `json:"sealedAt"`
	sealed      bool
}

// Contains implements plangraph.PackScope: membership in the sealed
// allow-list.
func (p *Pack) Contains(path string) bool {
	if p == nil {
		return false
	}
	if p.allowListSet == nil {
		p.rebuildIndex()
	}
	return p.allowListSet[path]
}

func (p *Pack) rebuildIndex() {
	p.allowListSet = make(map[string]bool, len(p.AllowList))
	for _, f := range p.AllowList {
		p.allowListSet[f] = true
	}
}

// Sealed reports whether the pack has been written and hashed at least
// once.
func (p *Pack) Sealed() bool { return p.sealed }
