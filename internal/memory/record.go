// Package memory implements the memory record lifecycle, friction
// detection, auto-promotion lane, and drop-folder override ingestion
// described in spec §4.5.
package memory

import "time"

// LifecycleState is one stage of a memory record's life (spec §4.5).
// "rejected" is terminal; every other transition flows forward.
type LifecycleState string

const (
	StatePending     LifecycleState = "pending"
	StateProvisional LifecycleState = "provisional"
	StateApproved    LifecycleState = "approved"
	StateRetired     LifecycleState = "retired"
	StateRejected    LifecycleState = "rejected"
)

// EnforcementType classifies what kind of policy a record carries. Only
// the non-destructive, low-risk types are eligible for auto-promotion
// (spec §4.5).
type EnforcementType string

const (
	TypePlanRule         EnforcementType = "plan_rule"
	TypeLexicalAlias      EnforcementType = "lexical_alias"
	TypeRetrievalTuning   EnforcementType = "retrieval_tuning"
	TypeStrategySignal    EnforcementType = "strategy_signal"
	TypeFewShot           EnforcementType = "few_shot"
	TypeInformational     EnforcementType = "informational"
)

// autoPromotionEligible is the closed set of types the auto-promotion
// lane may advance without human action (spec §4.5: "only for low-risk
// enforcement types: lexical aliases, retrieval tuning, non-destructive
// strategy hints"). plan_rule is deliberately absent.
var autoPromotionEligible = map[EnforcementType]bool{
	TypeLexicalAlias:    true,
	TypeRetrievalTuning: true,
	TypeStrategySignal:  true,
	TypeFewShot:         true,
	TypeInformational:   true,
}

// Provenance records where a memory record came from: a human override
// file, an auto-scaffolded friction candidate, or a promoted prior record.
type Provenance struct {
	Source    string    `json:"source"` // "override" | "friction" | "promotion"
	CreatedAt time.Time `json:"createdAt"`
	RunSessionID string `json:"runSessionId,omitempty"`
	WorkID    string    `json:"workId,omitempty"`
	AgentID   string    `json:"agentId,omitempty"`
	TriggerCode string  `json:"triggerCode,omitempty"`
}

// Record is one memory entry (spec §4.5, §9 "memory plan_rule
// satisfaction").
type Record struct {
	ID              string          `json:"id"`
	EnforcementType EnforcementType `json:"enforcementType"`
	LifecycleState  LifecycleState  `json:"lifecycleState"`
	DomainAnchors   []string        `json:"domainAnchors"`
	Provenance      Provenance      `json:"provenance"`

	// RequiredSteps/DenyCode are populated only for plan_rule records;
	// they are converted into plangraph.Rule at plan-submission time.
	RequiredSteps []RequiredStepSpec `json:"requiredSteps,omitempty"`
	DenyCode      string             `json:"denyCode,omitempty"`

	// EnforcementPayload carries type-specific data: strategy_signal
	// boolean overrides, lexical_alias source/target pairs, etc. Left
	// blank on friction-scaffolded candidates for human completion.
	EnforcementPayload map[string]any `json:"enforcementPayload,omitempty"`

	ContestDeadline time.Time `json:"contestDeadline,omitempty"`
}

// RequiredStepSpec mirrors plangraph.RequiredStep without importing
// plangraph, so memory has no dependency on the validator package;
// internal/turn converts these at the boundary.
type RequiredStepSpec struct {
	Kind             string `json:"kind,omitempty"`
	CitationPrefix   string `json:"citationPrefix,omitempty"`
	TargetFilePrefix string `json:"targetFilePrefix,omitempty"`
}

// Active reports whether a record currently participates in pack
// assembly / enforcement (approved and provisional records do;
// pending/rejected/retired do not).
func (r Record) Active() bool {
	return r.LifecycleState == StateApproved || r.LifecycleState == StateProvisional
}
