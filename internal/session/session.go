// Package session is the per-turn state block described in spec §3: a
// work unit shared by every agent collaborating under one
// (runSessionId, workId), and per-agent state scoped to token accounting
// and rejection counters. Grounded on the teacher's `mcp.Registry`
// mutex-guarded map shape (`internal/mcp/registry.go`), generalized from
// "named tool" to "work unit keyed by session tuple".
package session

import (
	"sync"
	"time"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
)

// AgentSession is the per-agent slice of a work unit's state: token
// accounting and rejection counters (spec §3 "per-agent state holds only
// token accounting and rejection counters").
type AgentSession struct {
	AgentID         string
	JoinedAt        time.Time
	TokensUsed      int
	RejectionCounts map[string]int
}

func newAgentSession(agentID string, now time.Time) *AgentSession {
	return &AgentSession{AgentID: agentID, JoinedAt: now, RejectionCounts: make(map[string]int)}
}

// WorkUnit is the shared scope under one (runSessionId, workId): the
// ContextPack, the accepted PlanGraph, the lifecycle state, and the set
// of agents collaborating on it. A single mutex serializes turn handling
// for the whole work unit (spec §3, §5: "serialized-per-session-tuple
// turn handling" — multiple agents of the same work unit never mutate
// state concurrently).
type WorkUnit struct {
	mu sync.Mutex

	RunSessionID   string
	WorkID         string
	State          capability.State
	OriginalPrompt string
	PromptSet      bool

	Pack  *contextpack.Pack
	Graph *plangraph.Graph

	// CompletedNodes/ValidatedNodes track per-node execution outcomes
	// against the accepted PlanGraph, used for signal_task_complete's
	// "all plan nodes report completion and all validate nodes have
	// passed" transition guard and for progress counters.
	CompletedNodes map[string]bool
	ValidatedNodes map[string]bool

	Agents map[string]*AgentSession

	CreatedAt time.Time
}

// Lock serializes turn handling for this work unit; callers must Unlock
// when the turn's dispatch (steps 1-8 of spec §4.1) completes.
func (w *WorkUnit) Lock() { w.mu.Lock() }

// Unlock releases the work unit's turn-handling lock.
func (w *WorkUnit) Unlock() { w.mu.Unlock() }

// EnsureAgent returns the AgentSession for agentID, creating it (and
// reporting joined=true) if this is the first turn from that agent under
// the work unit. Callers must hold the WorkUnit's lock.
func (w *WorkUnit) EnsureAgent(agentID string, now time.Time) (agent *AgentSession, joined bool) {
	if a, ok := w.Agents[agentID]; ok {
		return a, false
	}
	a := newAgentSession(agentID, now)
	w.Agents[agentID] = a
	return a, true
}

// SetOriginalPromptOnce stores prompt verbatim the first time a
// non-empty prompt is seen, and never again (spec §4.1 "Originality
// guarantees"). Returns true if prompt differs from the stored value on
// a call after the first (a prompt_mismatch event candidate).
func (w *WorkUnit) SetOriginalPromptOnce(prompt string) (mismatch bool) {
	if prompt == "" {
		return false
	}
	if !w.PromptSet {
		w.OriginalPrompt = prompt
		w.PromptSet = true
		return false
	}
	return prompt != w.OriginalPrompt
}

// Store is the process-wide table of work units, keyed by
// (runSessionId, workId).
type Store struct {
	mu    sync.Mutex
	units map[string]*WorkUnit
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{units: make(map[string]*WorkUnit)}
}

func key(runSessionID, workID string) string { return runSessionID + ":" + workID }

// EnsureWorkUnit returns the WorkUnit for (runSessionID, workID),
// creating it in state UNINITIALIZED if this is the first turn for that
// tuple.
func (s *Store) EnsureWorkUnit(runSessionID, workID string, now time.Time) (unit *WorkUnit, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(runSessionID, workID)
	if u, ok := s.units[k]; ok {
		return u, false
	}
	u := &WorkUnit{
		RunSessionID:   runSessionID,
		WorkID:         workID,
		State:          capability.Uninitialized,
		Agents:         make(map[string]*AgentSession),
		CompletedNodes: make(map[string]bool),
		ValidatedNodes: make(map[string]bool),
		CreatedAt:      now,
	}
	s.units[k] = u
	return u, true
}

// Get returns the WorkUnit for (runSessionID, workID) if it exists.
func (s *Store) Get(runSessionID, workID string) (*WorkUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[key(runSessionID, workID)]
	return u, ok
}

// All returns every known work unit, for the eventreplay cache rebuild.
func (s *Store) All() []*WorkUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkUnit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	return out
}
