package plangraph

// RequiredStep is one matching criterion a plan node must satisfy for a
// rule to be considered met. All non-empty fields must match.
type RequiredStep struct {
	Kind               Kind   `json:"kind,omitempty"`
	CitationPrefix     string `json:"citationPrefix,omitempty"`
	TargetFilePrefix   string `json:"targetFilePrefix,omitempty"`
}

func (s RequiredStep) matches(n *Node) bool {
	if s.Kind != "" && n.Kind != s.Kind {
		return false
	}
	if s.CitationPrefix != "" {
		found := false
		for _, c := range n.Citations {
			if len(c) >= len(s.CitationPrefix) && c[:len(s.CitationPrefix)] == s.CitationPrefix {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.TargetFilePrefix != "" {
		if len(n.TargetFile) < len(s.TargetFilePrefix) || n.TargetFile[:len(s.TargetFilePrefix)] != s.TargetFilePrefix {
			return false
		}
	}
	return true
}

// Rule is one required-steps rule in the enforcement bundle. internal/turn
// builds the bundle from memory plan_rule records only; graph policy
// seeds are not converted into rules.
type Rule struct {
	ID            string         `json:"id"`
	RequiredSteps []RequiredStep `json:"requiredSteps"`
	DenyCode      Code           `json:"denyCode"`
}

// Bundle is the ephemeral set of rules applied at plan-submission time.
// It is built fresh per submission and never persisted (spec §3).
type Bundle struct {
	Rules []Rule `json:"rules"`
}

// unmetRules returns every rule in the bundle for which at least one
// required step is not matched by any node in the graph.
func unmetRules(nodes []Node, rules []Rule) []Rule {
	var unmet []Rule
	for _, rule := range rules {
		for _, step := range rule.RequiredSteps {
			matched := false
			for i := range nodes {
				if step.matches(&nodes[i]) {
					matched = true
					break
				}
			}
			if !matched {
				unmet = append(unmet, rule)
				break
			}
		}
	}
	return unmet
}
