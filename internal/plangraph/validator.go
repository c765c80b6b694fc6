package plangraph

import (
	"strings"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
)

// PackScope is the narrow view of a ContextPack the validator needs: the
// sealed file allow-list. Kept as an interface so this package does not
// import contextpack (avoiding an import cycle; contextpack does not need
// plangraph).
type PackScope interface {
	Contains(path string) bool
}

// Validate runs every check from spec §4.3 against doc and returns the
// complete, deduplicated set of violation codes. Acceptance is
// all-or-nothing but every matching code is reported in one pass.
func Validate(doc Document, pack PackScope, codemods *codemod.Registry, bundle Bundle) Result {
	rb := newResultBuilder()

	if err := validateEnvelope(doc); err != nil {
		rb.add(CodeMissingRequiredFields)
	}

	checkStructural(doc, rb)
	checkKindSpecificFields(doc, rb)
	checkScope(doc, pack, rb)
	checkEvidencePolicy(doc, rb)
	checkStrategyReasons(doc, rb)
	checkCitationAllowList(doc, codemods, rb)
	checkAttachmentLinkage(doc, rb)
	checkEnforcementBundle(doc, bundle, rb)

	return rb.build()
}

// checkStructural enforces: unique node IDs, resolvable dependsOn, no
// cycles, every change maps to >=1 validate, every side_effect transitively
// depends on a validate.
func checkStructural(doc Document, rb *resultBuilder) {
	byID := make(map[string]*Node, len(doc.Nodes))
	seen := make(map[string]bool, len(doc.Nodes))
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if seen[n.ID] {
			rb.add(CodeNotAtomic)
			continue
		}
		seen[n.ID] = true
		byID[n.ID] = n
	}

	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				rb.add(CodeNotAtomic)
			}
		}
	}

	if hasCycle(doc.Nodes) {
		rb.add(CodeNotAtomic)
	}

	// Every change node must be covered by >=1 validate node.
	validatedChanges := make(map[string]bool)
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind == KindValidate {
			for _, v := range n.Validates {
				validatedChanges[v] = true
			}
		}
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind == KindChange && !validatedChanges[n.ID] {
			rb.add(CodeNotAtomic)
		}
	}

	// Every side_effect node must transitively depend on a validate node.
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind == KindSideEffect && !dependsOnValidate(n, byID, make(map[string]bool)) {
			rb.add(CodeUngatedSideEffect)
		}
	}
}

func dependsOnValidate(n *Node, byID map[string]*Node, visiting map[string]bool) bool {
	if visiting[n.ID] {
		return false // cycle guard; reported separately by hasCycle
	}
	visiting[n.ID] = true
	for _, depID := range n.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		if dep.Kind == KindValidate {
			return true
		}
		if dependsOnValidate(dep, byID, visiting) {
			return true
		}
	}
	return false
}

func hasCycle(nodes []Node) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := make(map[string]*Node, len(nodes))
	color := make(map[string]int, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
		color[nodes[i].ID] = white
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		n, ok := byID[id]
		if ok {
			for _, dep := range n.DependsOn {
				if _, ok := byID[dep]; !ok {
					continue // unresolved dep reported elsewhere
				}
				switch color[dep] {
				case gray:
					return true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}

	for i := range nodes {
		if color[nodes[i].ID] == white {
			if visit(nodes[i].ID) {
				return true
			}
		}
	}
	return false
}

// checkKindSpecificFields enforces the per-kind required fields from §3.
func checkKindSpecificFields(doc Document, rb *resultBuilder) {
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		switch n.Kind {
		case KindChange:
			if n.TargetFile == "" || n.Operation == "" {
				rb.add(CodeMissingRequiredFields)
			}
		case KindValidate:
			if len(n.Validates) == 0 {
				rb.add(CodeMissingRequiredFields)
			}
		case KindSideEffect:
			if n.CommitGateID == "" {
				rb.add(CodeMissingRequiredFields)
			}
		case KindEscalate:
			if n.Need == "" || len(n.RequestedEvidence) == 0 {
				rb.add(CodeMissingRequiredFields)
			}
		}
	}
}

// checkScope enforces targetFile within worktreeRoot and within the pack
// allow-list, and forbids wildcard symbols.
func checkScope(doc Document, pack PackScope, rb *resultBuilder) {
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind != KindChange {
			continue
		}
		if n.TargetFile == "" {
			continue // already flagged by checkKindSpecificFields
		}
		if doc.WorktreeRoot != "" && !strings.HasPrefix(n.TargetFile, doc.WorktreeRoot) {
			rb.add(CodeScopeViolation)
		}
		if pack != nil && !pack.Contains(n.TargetFile) {
			rb.add(CodeScopeViolation)
		}
		for _, sym := range n.TargetSymbols {
			if strings.Contains(sym, "*") {
				rb.add(CodeScopeViolation)
			}
		}
	}
}

// checkEvidencePolicy enforces per-category minima over distinct sources,
// with the single-source-guard escape hatch.
func checkEvidencePolicy(doc Document, rb *resultBuilder) {
	minima := map[string]int{
		"requirement": doc.EvidencePolicy.Requirement,
		"code":        doc.EvidencePolicy.Code,
		"policy":      doc.EvidencePolicy.Policy,
	}

	sources := map[string]map[string]bool{"requirement": {}, "code": {}, "policy": {}}
	guarded := map[string]bool{"requirement": true, "code": true, "policy": true}

	for i := range doc.Nodes {
		for _, ev := range doc.Nodes[i].Evidence {
			set, ok := sources[ev.Category]
			if !ok {
				continue
			}
			set[ev.Source] = true
			if !ev.SingleSourceGuard {
				guarded[ev.Category] = false
			}
		}
	}

	for category, minimum := range minima {
		if minimum <= 0 {
			continue
		}
		distinct := len(sources[category])
		if distinct >= minimum {
			continue
		}
		if distinct == 1 && guarded[category] {
			continue
		}
		rb.add(CodeEvidenceInsufficient)
	}
}

// checkStrategyReasons enforces that every strategy reason carries
// non-empty evidence references.
func checkStrategyReasons(doc Document, rb *resultBuilder) {
	if len(doc.Strategy.Reasons) == 0 {
		rb.add(CodeStrategyMismatch)
		return
	}
	for _, r := range doc.Strategy.Reasons {
		if len(r.EvidenceRefs) == 0 {
			rb.add(CodeStrategyMismatch)
		}
	}
}

// checkCitationAllowList enforces that any codemod:<id> citation resolves
// to a registered codemod, and that apply_code_patch ast_codemod nodes cite
// the codemod they invoke.
func checkCitationAllowList(doc Document, codemods *codemod.Registry, rb *resultBuilder) {
	if codemods == nil {
		return
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]

		for _, c := range n.Citations {
			id, version, ok := codemod.ParseCitation(c)
			if !ok {
				continue
			}
			if !codemods.Has(id, version) {
				rb.add(CodePolicyViolation)
			}
		}

		if n.Kind == KindChange && n.Operation == "ast_codemod" && n.CodemodID != "" {
			cited := false
			for _, c := range n.Citations {
				id, _, ok := codemod.ParseCitation(c)
				if ok && id == n.CodemodID {
					cited = true
					break
				}
			}
			if !cited {
				rb.add(CodePolicyViolation)
			}
		}
	}
}

// checkAttachmentLinkage enforces that a change node citing an attachment
// lists it in artifactRefs.
func checkAttachmentLinkage(doc Document, rb *resultBuilder) {
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if n.Kind != KindChange {
			continue
		}
		for _, c := range n.Citations {
			if !strings.HasPrefix(c, "attachment:") {
				continue
			}
			listed := false
			for _, ref := range n.ArtifactRefs {
				if ref == c {
					listed = true
					break
				}
			}
			if !listed {
				rb.add(CodeMissingArtifactRef)
			}
		}
	}
}

// checkEnforcementBundle evaluates every rule in bundle and emits each
// unmet rule's configured deny code. The bundle internal/turn passes in
// holds memory plan_rule records only.
func checkEnforcementBundle(doc Document, bundle Bundle, rb *resultBuilder) {
	for _, rule := range unmetRules(doc.Nodes, bundle.Rules) {
		rb.add(rule.DenyCode)
	}
}
