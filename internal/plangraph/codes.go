package plangraph

// Code is a typed deny reason, one of the closed families described in
// spec §7: PLAN_… (planning-phase), EXEC_… (execution-phase). PACK_… codes
// are defined alongside the ContextPack package.
type Code string

const (
	CodeMissingRequiredFields Code = "PLAN_MISSING_REQUIRED_FIELDS"
	CodeNotAtomic             Code = "PLAN_NOT_ATOMIC"
	CodeUngatedSideEffect     Code = "EXEC_UNGATED_SIDE_EFFECT"
	CodeScopeViolation        Code = "PLAN_SCOPE_VIOLATION"
	CodeEvidenceInsufficient  Code = "PLAN_EVIDENCE_INSUFFICIENT"
	CodeStrategyMismatch      Code = "PLAN_STRATEGY_MISMATCH"
	CodePolicyViolation       Code = "PLAN_POLICY_VIOLATION"
	CodeMissingArtifactRef    Code = "PLAN_MISSING_ARTIFACT_REF"
	CodeVerificationWeak      Code = "PLAN_VERIFICATION_WEAK"
	CodeInternalError         Code = "PLAN_INTERNAL_ERROR"
)

// Result is the outcome of validating a plan document. Acceptance is
// all-or-nothing, but Codes always carries the complete set of matching
// violations (spec §4.3) so the client can fix in one pass.
type Result struct {
	Accepted bool   `json:"accepted"`
	Codes    []Code `json:"codes,omitempty"`
}

// resultBuilder accumulates codes across all checks without short-circuiting.
type resultBuilder struct {
	codes map[Code]bool
}

func newResultBuilder() *resultBuilder {
	return &resultBuilder{codes: make(map[Code]bool)}
}

func (b *resultBuilder) add(c Code) {
	b.codes[c] = true
}

func (b *resultBuilder) build() Result {
	if len(b.codes) == 0 {
		return Result{Accepted: true}
	}
	codes := make([]Code, 0, len(b.codes))
	for c := range b.codes {
		codes = append(codes, c)
	}
	// Deterministic ordering for stable client-facing output.
	sortCodes(codes)
	return Result{Accepted: false, Codes: codes}
}

// codeOrder fixes a stable display order matching the §7 family grouping.
var codeOrder = map[Code]int{
	CodeMissingRequiredFields: 0,
	CodeNotAtomic:             1,
	CodeUngatedSideEffect:     2,
	CodeScopeViolation:        3,
	CodeEvidenceInsufficient:  4,
	CodeStrategyMismatch:      5,
	CodePolicyViolation:       6,
	CodeMissingArtifactRef:    7,
	CodeVerificationWeak:      8,
	CodeInternalError:         9,
}

func sortCodes(codes []Code) {
	for i := 1; i < len(codes); i++ {
		for j := i; j > 0 && codeOrder[codes[j-1]] > codeOrder[codes[j]]; j-- {
			codes[j-1], codes[j] = codes[j], codes[j-1]
		}
	}
}
