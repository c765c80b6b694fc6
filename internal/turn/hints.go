package turn

import "github.com/emergent-company/ctrlmcp/internal/plangraph"

// subAgentHints derives a split suggestion from the accepted plan's
// module fan-out: when change nodes touch three or more distinct
// modules, a split per module is suggested. This is a deterministic
// heuristic, not a spec-mandated algorithm — the distilled spec names
// the field but leaves its derivation open (see DESIGN.md).
func subAgentHints(graph *plangraph.Graph) SubAgentHints {
	if graph == nil {
		return SubAgentHints{}
	}
	seen := make(map[string]bool)
	var modules []string
	for _, n := range graph.Nodes {
		if n.Kind != plangraph.KindChange {
			continue
		}
		for _, m := range n.AtomicityBoundary.Modules {
			if !seen[m] {
				seen[m] = true
				modules = append(modules, m)
			}
		}
	}
	if len(modules) < 3 {
		return SubAgentHints{}
	}
	return SubAgentHints{Recommended: true, SuggestedSplits: modules}
}
