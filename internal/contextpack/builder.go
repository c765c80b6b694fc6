package contextpack

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// OverrideIngestor runs the drop-folder scan from spec §4.5 "override
// ingestion". It must run before any memory query in the same turn
// (§4.2 step 1) — internal/memory implements this against
// `<root>/memory/overrides/*.json`.
type OverrideIngestor interface {
	IngestOverrides(ctx context.Context, workID string) (ingested int, err error)
}

// Builder assembles a Pack from its six collaborators in the exact
// nine-step order spec §4.2 mandates. Each collaborator is optional; a
// nil collaborator simply contributes nothing to its step (useful for
// tests and for deployments that omit a collaborator, e.g. no graph
// adapter configured).
type Builder struct {
	Overrides OverrideIngestor
	Memory    MemorySource
	Index     IndexSource
	Graph     GraphSource
	External  ExternalSource
	Rerank    Reranker
}

// Input carries the per-turn data the builder needs beyond its
// collaborators.
type Input struct {
	WorkID                 string
	PackRef                string
	Prompt                 string
	ActiveValidators       []string
	ValidationPlanDeclared bool
}

var lexemePattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]{2,}`)

func lexemes(prompt string) []string {
	matches := lexemePattern.FindAllString(prompt, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		lower := strings.ToLower(m)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}

// Build runs the nine-step construction order and returns either a
// sealed (but not yet persisted) Pack, or an Insufficiency describing
// what is missing. Callers should persist the returned Pack via Write.
func (b *Builder) Build(ctx context.Context, in Input) (*Pack, *Insufficiency, error) {
	// Step 1: ingest side-channel overrides before any memory query.
	if b.Overrides != nil {
		if _, err := b.Overrides.IngestOverrides(ctx, in.WorkID); err != nil {
			return nil, nil, err
		}
	}

	lex := lexemes(in.Prompt)

	// Step 2: query active memories for in-scope domain anchors.
	var anchors []MemoryAnchor
	if b.Memory != nil {
		var err error
		anchors, err = b.Memory.ActiveAnchors(ctx, in.WorkID, lex)
		if err != nil {
			return nil, nil, err
		}
	}

	// Step 3: base ContextSignature from prompt + lexemes.
	sig := baseSignature(lex)

	// Step 4: apply strategy_signal memory overrides to the signature.
	activeMemoryIDs := make([]string, 0, len(anchors))
	for _, a := range anchors {
		activeMemoryIDs = append(activeMemoryIDs, a.ID)
		if a.EnforcementType == "strategy_signal" {
			applyStrategySignalOverride(&sig, a)
		}
	}

	// Step 5: assemble retrieval lanes and rerank.
	var hits []RetrievalHit
	if b.Index != nil {
		lexHits, err := b.Index.Lexical(ctx, lex)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range lexHits {
			hits = append(hits, RetrievalHit{Lane: LaneLexical, Path: h.Path, Score: h.Score, Reason: "lexical match"})
		}
		symHits, err := b.Index.Symbols(ctx, lex)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range symHits {
			hits = append(hits, RetrievalHit{Lane: LaneSymbol, Path: h.Path, Symbol: h.Symbol, Score: h.Score, Reason: "symbol match"})
		}
	}
	var policySeeds []string
	if b.Graph != nil {
		seeds, err := b.Graph.PolicySeeds(ctx, lex)
		if err != nil {
			return nil, nil, err
		}
		policySeeds = seeds
		for _, s := range seeds {
			hits = append(hits, RetrievalHit{Lane: LanePolicy, Path: s, Score: 1, Reason: "policy seed"})
		}
	}
	for _, a := range anchors {
		for _, anchor := range a.DomainAnchors {
			hits = append(hits, RetrievalHit{Lane: LaneEpisodic, Path: anchor, Score: 1, Reason: "memory:" + a.ID})
		}
	}
	if b.Rerank != nil {
		hits = b.Rerank.Rerank(hits)
	} else {
		hits = defaultRerank(hits)
	}

	// Step 6: resolve proof chains when the corresponding signal is set.
	var chains []ProofChainResult
	if b.Graph != nil {
		if sig.UIGrid {
			pc, err := b.Graph.ResolveUIOriginChain(ctx, lex)
			if err != nil {
				return nil, nil, err
			}
			chains = append(chains, pc)
		}
		if sig.Federation {
			pc, err := b.Graph.ResolveFederationChain(ctx, lex)
			if err != nil {
				return nil, nil, err
			}
			chains = append(chains, pc)
		}
	}

	// Step 7: fetch external artifacts when the prompt matches a ticket
	// or API reference pattern.
	var attachmentRefs []string
	if b.External != nil {
		if ref, ok := b.External.Match(in.Prompt); ok {
			path, err := b.External.Fetch(ctx, ref)
			if err != nil {
				return nil, nil, err
			}
			attachmentRefs = append(attachmentRefs, path)
		}
	}

	// Step 8: compute the planGraphSchema descriptor.
	schema := PlanGraphSchemaDescriptor{
		ActiveValidators:  in.ActiveValidators,
		ExpectedNodeKinds: []string{"change", "validate", "escalate", "side_effect"},
		RequiredFields: map[string][]string{
			"change":      {"targetFile", "operation"},
			"validate":    {"validates"},
			"side_effect": {"commitGateId"},
			"escalate":    {"need", "requestedEvidence"},
		},
		EvidencePolicy: map[string]int{"requirement": 1, "code": 1, "policy": 0},
	}

	allowList := make([]string, 0, len(hits)+len(attachmentRefs))
	for _, h := range hits {
		if h.Lane == LanePolicy || h.Path == "" {
			continue
		}
		allowList = append(allowList, h.Path)
	}
	allowList = append(allowList, attachmentRefs...)
	allowList = dedupSorted(allowList)

	symbolInventory := make([]string, 0)
	for _, h := range hits {
		if h.Lane == LaneSymbol && h.Symbol != "" {
			symbolInventory = append(symbolInventory, h.Symbol)
		}
	}

	p := &Pack{
		WorkID:          in.WorkID,
		PackRef:         in.PackRef,
		AllowList:       allowList,
		SymbolInventory: dedupSorted(symbolInventory),
		RetrievalTrace:  hits,
		ActivePolicies:  dedupSorted(policySeeds),
		ActiveMemoryIDs: activeMemoryIDs,
		AttachmentRefs:  attachmentRefs,
		ProofChains:     chains,
		Signature:       sig,
		PlanGraphSchema: schema,
	}
	p.rebuildIndex()

	// Readiness invariants (spec §4.2).
	if insuff := checkReadiness(p, in.ValidationPlanDeclared); insuff != nil {
		return p, insuff, nil
	}

	// Step 9 (serialize/hash/write) is the caller's responsibility via
	// Write, so enrichment can run against an in-memory Pack without
	// forcing a disk round-trip for every escalation step.
	return p, nil, nil
}

func baseSignature(lex []string) ContextSignature {
	has := func(words ...string) bool {
		for _, w := range words {
			for _, l := range lex {
				if l == w {
					return true
				}
			}
		}
		return false
	}
	return ContextSignature{
		UIGrid:          has("grid", "table", "column", "cellrenderer", "navtrigger"),
		Federation:      has("federation", "remote", "expose", "host", "mapping"),
		MigrationInPlay: has("migration", "migrate", "migrating"),
		APIContract:     has("endpoint", "contract", "openapi", "schema"),
		DebugSymptom:    has("error", "crash", "bug", "fails", "failing", "exception"),
	}
}

func applyStrategySignalOverride(sig *ContextSignature, a MemoryAnchor) {
	set := func(key string, dst *bool) {
		if v, ok := a.Payload[key]; ok {
			if b, ok := v.(bool); ok {
				*dst = b
			}
		}
	}
	set("uiGrid", &sig.UIGrid)
	set("federation", &sig.Federation)
	set("migrationInPlay", &sig.MigrationInPlay)
	set("apiContract", &sig.APIContract)
	set("debugSymptom", &sig.DebugSymptom)
}

// defaultRerank applies a stable sort by (lane priority, score desc, path)
// when no Reranker collaborator is wired — deterministic tie-breaking per
// spec §4.2 step 5.
func defaultRerank(hits []RetrievalHit) []RetrievalHit {
	lanePriority := map[RetrievalLane]int{
		LaneSymbol: 0, LaneLexical: 1, LaneArtifact: 2, LanePolicy: 3, LaneEpisodic: 4,
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if lanePriority[hits[i].Lane] != lanePriority[hits[j].Lane] {
			return lanePriority[hits[i].Lane] < lanePriority[hits[j].Lane]
		}
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits
}

func dedupSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
