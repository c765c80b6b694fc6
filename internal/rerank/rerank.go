// Package rerank implements the glossary/reranker collaborator (spec §6
// "glossary/reranker supplies normalized query expansion"). No pack
// library does deterministic, stable-tie-break lexical reranking over a
// fixed domain glossary; this is the small hand-rolled matching logic the
// spec's Non-goals insist stays free of NL interpretation, so a
// comparator plus a synonym table is the correct and only appropriate
// choice (see DESIGN.md).
package rerank

import (
	"sort"
	"strings"

	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

// synonyms maps a glossary term to the set of path/symbol fragments it
// should be treated as equivalent to when scoring a hit's relevance —
// e.g. a hit mentioning "cfg" scores as if it matched "config".
var synonyms = map[string][]string{
	"config":    {"cfg", "configuration", "settings"},
	"auth":      {"authn", "authentication", "authorization"},
	"db":        {"database", "datastore", "store"},
	"err":       {"error", "failure", "exception"},
	"endpoint":  {"route", "handler", "controller"},
	"migration": {"migrate", "schema"},
}

var lanePriority = map[contextpack.RetrievalLane]int{
	contextpack.LaneSymbol:   0,
	contextpack.LaneLexical:  1,
	contextpack.LaneArtifact: 2,
	contextpack.LanePolicy:   3,
	contextpack.LaneEpisodic: 4,
}

// GlossaryReranker implements contextpack.Reranker: stable sort by (lane
// priority, glossary-boosted score desc, path), expanding each hit's
// score by a fixed bonus per glossary synonym its path or symbol
// contains.
type GlossaryReranker struct {
	Glossary map[string][]string
}

// NewGlossaryReranker creates a reranker seeded with the built-in domain
// glossary.
func NewGlossaryReranker() *GlossaryReranker {
	return &GlossaryReranker{Glossary: synonyms}
}

// Rerank implements contextpack.Reranker.
func (g *GlossaryReranker) Rerank(hits []contextpack.RetrievalHit) []contextpack.RetrievalHit {
	boosted := make([]contextpack.RetrievalHit, len(hits))
	copy(boosted, hits)
	for i := range boosted {
		boosted[i].Score += g.glossaryBonus(boosted[i])
	}
	sort.SliceStable(boosted, func(i, j int) bool {
		if lanePriority[boosted[i].Lane] != lanePriority[boosted[j].Lane] {
			return lanePriority[boosted[i].Lane] < lanePriority[boosted[j].Lane]
		}
		if boosted[i].Score != boosted[j].Score {
			return boosted[i].Score > boosted[j].Score
		}
		return boosted[i].Path < boosted[j].Path
	})
	return boosted
}

// glossaryBonus adds 0.1 per distinct glossary term whose synonym set
// matches a substring of the hit's path or symbol, normalized expansion
// of the raw retrieval score rather than a raw lexical match.
func (g *GlossaryReranker) glossaryBonus(h contextpack.RetrievalHit) float64 {
	needle := strings.ToLower(h.Path + " " + h.Symbol)
	var bonus float64
	for _, terms := range g.Glossary {
		for _, term := range terms {
			if strings.Contains(needle, term) {
				bonus += 0.1
				break
			}
		}
	}
	return bonus
}
