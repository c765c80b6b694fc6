package contextpack

import "context"

// MemoryAnchor is the subset of a memory record the pack builder needs:
// enough to decide whether it bears on the current prompt and whether it
// is a strategy_signal override.
type MemoryAnchor struct {
	ID              string
	EnforcementType string
	DomainAnchors   []string
	Payload         map[string]any
}

// MemorySource is the narrow view of internal/memory the builder consumes
// (spec §4.2 steps 2 and 4). It never sees plan_rule satisfaction — that
// stays inside the enforcement bundle built at plan-submission time.
type MemorySource interface {
	ActiveAnchors(ctx context.Context, workID string, lexemes []string) ([]MemoryAnchor, error)
}

// IndexHit is one raw lexical or symbol match before reranking.
type IndexHit struct {
	Path   string
	Symbol string
	Score  float64
}

// IndexSource is the narrow view of internal/index (spec §6 "index
// adapter supplies lexical/symbol lookups").
type IndexSource interface {
	Lexical(ctx context.Context, lexemes []string) ([]IndexHit, error)
	Symbols(ctx context.Context, lexemes []string) ([]IndexHit, error)
}

// GraphSource is the narrow view of internal/graphadapter (spec §6
// "graph adapter supplies proof chains, policy seeds, component
// contracts").
type GraphSource interface {
	ResolveUIOriginChain(ctx context.Context, lexemes []string) (ProofChainResult, error)
	ResolveFederationChain(ctx context.Context, lexemes []string) (ProofChainResult, error)
	PolicySeeds(ctx context.Context, lexemes []string) ([]string, error)
}

// ExternalSource is the narrow view of internal/external (spec §6
// "ticket and API-spec fetchers supply raw artifacts").
type ExternalSource interface {
	// Match reports whether the prompt matches a ticket-key or
	// API-reference pattern this fetcher owns.
	Match(prompt string) (ref string, ok bool)
	Fetch(ctx context.Context, ref string) (path string, err error)
}

// Reranker is the narrow view of internal/rerank (spec §6 "glossary/
// reranker supplies normalized query expansion").
type Reranker interface {
	Rerank(hits []RetrievalHit) []RetrievalHit
}
