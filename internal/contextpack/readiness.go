package contextpack

// Code is a PACK_… deny reason (spec §7). Readiness is evaluated once per
// invariant and the code of every failing invariant is returned; every
// missing anchor is listed as well.
type Code string

const (
	CodeMissingAnchors      Code = "PACK_MISSING_ANCHORS"
	CodeProofChainMissing   Code = "PACK_PROOF_CHAIN_MISSING"
	CodeValidationPlanAbsent Code = "PACK_VALIDATION_PLAN_ABSENT"
)

// Insufficiency is the typed pack_insufficient result from spec §4.2.
type Insufficiency struct {
	Codes             []Code   `json:"codes"`
	MissingAnchors    []string `json:"missingAnchors,omitempty"`
	EscalationPlan    string   `json:"escalationPlan"`
	BlockedCommands   []string `json:"blockedCommands"`
	NextRequiredState string   `json:"nextRequiredState"`
}

// checkReadiness evaluates the three invariants from §4.2: at least one
// entrypoint anchor and one definition anchor, proof chain present when
// the corresponding signal is set, and a validation plan declared (taken
// from the caller's validationPlanDeclared flag; the pack's schema
// descriptor is not inspected). Returns nil when ready.
func checkReadiness(p *Pack, validationPlanDeclared bool) *Insufficiency {
	var codes []Code
	var missing []string

	hasEntrypoint := false
	hasDefinition := false
	for _, hit := range p.RetrievalTrace {
		switch hit.Lane {
		case LaneSymbol:
			hasDefinition = true
		case LaneLexical, LaneArtifact:
			hasEntrypoint = true
		}
	}
	if !hasEntrypoint {
		missing = append(missing, "entrypoint")
	}
	if !hasDefinition {
		missing = append(missing, "definition")
	}
	if len(missing) > 0 {
		codes = append(codes, CodeMissingAnchors)
	}

	if p.Signature.UIGrid {
		if !proofChainResolved(p, ProofChainUIOrigin) {
			codes = append(codes, CodeProofChainMissing)
		}
	}
	if p.Signature.Federation {
		if !proofChainResolved(p, ProofChainFederation) {
			codes = append(codes, CodeProofChainMissing)
		}
	}

	if !validationPlanDeclared {
		codes = append(codes, CodeValidationPlanAbsent)
	}

	if len(codes) == 0 {
		return nil
	}

	return &Insufficiency{
		Codes:             codes,
		MissingAnchors:    missing,
		EscalationPlan:    "call escalate with a typed need and requestedEvidence[]",
		BlockedCommands:   []string{"submit_execution_plan"},
		NextRequiredState: "PLANNING",
	}
}

func proofChainResolved(p *Pack, kind ProofChainKind) bool {
	for _, pc := range p.ProofChains {
		if pc.Kind == kind && pc.Resolved {
			return true
		}
	}
	return false
}
