package turn

import (
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
	"github.com/emergent-company/ctrlmcp/internal/session"
)

// progress computes the Progress counters from the accepted graph and the
// work unit's completion/validation tracking.
func progress(unit *session.WorkUnit) Progress {
	if unit.Graph == nil {
		return Progress{}
	}
	p := Progress{Total: len(unit.Graph.Nodes)}
	for id := range unit.Graph.Nodes {
		if unit.CompletedNodes[id] {
			p.Completed++
		}
	}
	p.Remaining = p.Total - p.Completed
	for id, n := range unit.Graph.Nodes {
		if n.Kind == plangraph.KindValidate && !unit.ValidatedNodes[id] {
			p.PendingValidations = append(p.PendingValidations, id)
		}
	}
	return p
}

// allNodesDone reports whether every plan node has completed and every
// validate node has passed (spec §4.1 transition
// PLAN_ACCEPTED -> COMPLETED guard).
func allNodesDone(unit *session.WorkUnit) bool {
	if unit.Graph == nil || len(unit.Graph.Nodes) == 0 {
		return false
	}
	for id, n := range unit.Graph.Nodes {
		if !unit.CompletedNodes[id] {
			return false
		}
		if n.Kind == plangraph.KindValidate && !unit.ValidatedNodes[id] {
			return false
		}
	}
	return true
}
