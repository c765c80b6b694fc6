package plangraph

import (
	"testing"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/stretchr/testify/require"
)

type fakePack struct{ files map[string]bool }

func (p fakePack) Contains(path string) bool { return p.files[path] }

func baseDoc() Document {
	return Document{
		Identity:          Identity{RunSessionID: "rs1", WorkID: "w1", AgentID: "a1"},
		PackRef:           "pack-1",
		PackHash:          "abc123",
		PolicyVersions:    map[string]string{"default": "v1"},
		ScopeAllowListRef: "pack-1",
		Strategy: Strategy{
			ID: "default",
			Reasons: []StrategyReason{
				{Text: "targeted rename", EvidenceRefs: []string{"req-1"}},
			},
		},
		EvidencePolicy: EvidencePolicy{Requirement: 1, Code: 1, Policy: 0},
		SchemaVersion:  "1",
		WorktreeRoot:   "/repo",
		Nodes: []Node{
			{
				ID:                "change-1",
				Kind:              KindChange,
				TargetFile:        "/repo/target.ts",
				Operation:         "ast_codemod",
				CodemodID:         "rename_identifier_in_file",
				Citations:         []string{"codemod:rename_identifier_in_file"},
				Evidence: []EvidenceItem{
					{Category: "requirement", Source: "req.md"},
					{Category: "code", Source: "target.ts"},
				},
			},
			{
				ID:        "validate-1",
				Kind:      KindValidate,
				DependsOn: []string{"change-1"},
				Validates: []string{"change-1"},
			},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(baseDoc(), pack, codemods, Bundle{})
	require.True(t, res.Accepted, "codes: %v", res.Codes)
}

func TestValidateRejectsUnregisteredCodemod(t *testing.T) {
	doc := baseDoc()
	doc.Nodes[0].Citations = []string{"codemod:invented_custom_transform"}
	doc.Nodes[0].CodemodID = "invented_custom_transform"

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, Bundle{})
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodePolicyViolation)
}

func TestValidateRejectsMissingCodemodCitation(t *testing.T) {
	doc := baseDoc()
	doc.Nodes[0].Citations = nil // omits codemod:rename_identifier_in_file

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, Bundle{})
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodePolicyViolation)
}

func TestValidateRejectsScopeViolation(t *testing.T) {
	doc := baseDoc()
	doc.Nodes[0].TargetFile = "/not/in/pack.ts"

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, Bundle{})
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodeScopeViolation)
}

func TestValidateRejectsUngatedSideEffect(t *testing.T) {
	doc := baseDoc()
	doc.Nodes = append(doc.Nodes, Node{
		ID:           "side-1",
		Kind:         KindSideEffect,
		CommitGateID: "gate-1",
		// no DependsOn on a validate node
	})

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, Bundle{})
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodeUngatedSideEffect)
}

func TestValidateRejectsCyclicPlan(t *testing.T) {
	doc := baseDoc()
	doc.Nodes[0].DependsOn = []string{"validate-1"}

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, Bundle{})
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodeNotAtomic)
}

func TestValidateEnforcesMemoryPlanRule(t *testing.T) {
	doc := baseDoc()
	bundle := Bundle{Rules: []Rule{
		{
			ID:            "must-have-escalate-kind",
			RequiredSteps: []RequiredStep{{Kind: KindEscalate}},
			DenyCode:      CodeEvidenceInsufficient,
		},
	}}

	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()

	res := Validate(doc, pack, codemods, bundle)
	require.False(t, res.Accepted)
	require.Contains(t, res.Codes, CodeEvidenceInsufficient)
}

func TestValidateRevalidationIsIdempotent(t *testing.T) {
	pack := fakePack{files: map[string]bool{"/repo/target.ts": true}}
	codemods := codemod.NewBuiltinRegistry()
	bundle := Bundle{}

	doc := baseDoc()
	first := Validate(doc, pack, codemods, bundle)
	second := Validate(doc, pack, codemods, bundle)
	require.Equal(t, first, second)
}
