package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/eventlog"
	"github.com/emergent-company/ctrlmcp/internal/execution"
	"github.com/emergent-company/ctrlmcp/internal/memory"
	"github.com/emergent-company/ctrlmcp/internal/session"
)

const schemaVersion = "1"

// Config holds the turn controller's tunables (spec §4.1 step 2, §4.5).
type Config struct {
	BudgetMax       int
	BudgetThreshold int
	WorktreeRoot    string
	ScratchRoot     string
}

// Controller composes every collaborating package behind the single
// controller_turn dispatcher (spec §4.1). One Controller serves every
// session in a process.
type Controller struct {
	cfg Config

	Sessions *session.Store
	Packs    *contextpack.Builder
	Codemods *codemod.Registry

	Memory    *memory.Store
	Friction  *memory.FrictionDetector
	Promoter  *memory.Promoter

	Patch       *execution.PatchService
	Sandbox     *execution.SandboxService
	SideEffects *execution.SideEffectService
	Collision   *execution.CollisionGuard

	Events  *eventlog.Log
	Logger  *slog.Logger
	Metrics MetricsRecorder

	nowFn  func() time.Time
	nextID func() string
}

// MetricsRecorder is the narrow view of internal/metrics.Recorder the
// controller reports turn outcomes to. Nil-tolerant: a Controller with no
// Metrics set simply skips reporting, same as a nil Promoter or Events log.
type MetricsRecorder interface {
	ObserveTurn(verb string, d time.Duration)
	RecordRejection(code string)
	RecordBudgetTrip()
	RecordCollisionDenial()
	RecordPromotion(from, to string)
}

// NewController wires the turn controller from its collaborators.
func NewController(cfg Config, sessions *session.Store, packs *contextpack.Builder, codemods *codemod.Registry,
	mem *memory.Store, friction *memory.FrictionDetector, promoter *memory.Promoter,
	patch *execution.PatchService, sandbox *execution.SandboxService, sideEffects *execution.SideEffectService,
	collision *execution.CollisionGuard, events *eventlog.Log, logger *slog.Logger) *Controller {
	return &Controller{
		cfg: cfg, Sessions: sessions, Packs: packs, Codemods: codemods,
		Memory: mem, Friction: friction, Promoter: promoter,
		Patch: patch, Sandbox: sandbox, SideEffects: sideEffects, Collision: collision,
		Events: events, Logger: logger,
		nowFn:  time.Now,
		nextID: func() string { return uuid.NewString() },
	}
}

// Handle runs one controller_turn call through the full per-turn
// algorithm (spec §4.1 steps 1-8).
func (c *Controller) Handle(ctx context.Context, req Request) (*Response, error) {
	now := c.nowFn()
	if c.Metrics != nil {
		defer func(start time.Time) { c.Metrics.ObserveTurn(string(req.Verb), c.nowFn().Sub(start)) }(now)
	}

	// Step 1: resolve or mint the session tuple.
	if req.RunSessionID == "" {
		req.RunSessionID = c.nextID()
	}
	if req.WorkID == "" {
		req.WorkID = c.nextID()
	}
	unit, _ := c.Sessions.EnsureWorkUnit(req.RunSessionID, req.WorkID, now)

	unit.Lock()
	defer unit.Unlock()

	agentJoined := false
	if req.AgentID == "" {
		req.AgentID = c.nextID()
		agentJoined = true
	}
	agent, joined := unit.EnsureAgent(req.AgentID, now)
	agentJoined = agentJoined || joined
	if agentJoined {
		c.logEvent(eventlog.SubAgentJoined, req, map[string]any{"agentId": req.AgentID})
	}

	if mismatch := unit.SetOriginalPromptOnce(req.OriginalPrompt); mismatch {
		c.logEvent(eventlog.PromptMismatch, req, map[string]any{"prompt": req.OriginalPrompt})
	}

	c.logEvent(eventlog.InputEnvelope, req, map[string]any{"verb": req.Verb, "args": req.Args})

	resp := c.newResponse(req, unit)

	// Step 2: token budget. Budget state is per-agent (spec §3, §9): a
	// co-agent under the same work unit with tokens under threshold must
	// not inherit another agent's block, so the BLOCKED_BUDGET overlay is
	// computed from agent.TokensUsed alone and never written to the
	// shared unit.State — only the response this blocked agent receives
	// reflects it.
	cost := estimateTokens(req)
	agent.TokensUsed += cost
	budgetMax, threshold := c.resolveBudget()
	blocked := agent.TokensUsed >= threshold
	effectiveState := unit.State
	if blocked {
		effectiveState = capability.BlockedBudget
	}
	if blocked && !capability.IsBudgetSafe(req.Verb) {
		resp.State = effectiveState
		resp.DenyReasons = []string{"BUDGET_THRESHOLD_EXCEEDED"}
		c.trackRejectionAndFinish(ctx, req, unit, agent, resp, budgetMax, threshold, agent.TokensUsed, true, effectiveState)
		return resp, nil
	}

	// Step 3: capability gate, checked against this agent's effective
	// state (shared unit.State, overlaid with its own budget block).
	if !capability.IsAllowed(effectiveState, req.Verb) {
		resp.DenyReasons = []string{"PLAN_SCOPE_VIOLATION"}
		c.trackRejectionAndFinish(ctx, req, unit, agent, resp, budgetMax, threshold, agent.TokensUsed, blocked, effectiveState)
		return resp, nil
	}

	// Step 4: dispatch.
	outcome := c.dispatch(ctx, req, unit)
	resp.Result = outcome.Result
	resp.DenyReasons = outcome.DenyReasons
	resp.PackInsufficiency = outcome.Insufficiency
	resp.SuggestedAction = outcome.SuggestedAction
	if outcome.StateOverride != "" {
		unit.State = outcome.StateOverride
	}
	// A budget-safe handler (e.g. initialize_work) may have reset this
	// agent's own token count, so recompute the overlay post-dispatch.
	blocked = agent.TokensUsed >= threshold
	effectiveState = unit.State
	if blocked {
		effectiveState = capability.BlockedBudget
	}
	resp.State = effectiveState

	c.trackRejectionAndFinish(ctx, req, unit, agent, resp, budgetMax, threshold, agent.TokensUsed, blocked, effectiveState)
	return resp, nil
}

// resolveBudget applies the configured defaults for budgetMax/threshold
// (spec §4.1 step 2).
func (c *Controller) resolveBudget() (budgetMax, threshold int) {
	budgetMax = c.cfg.BudgetMax
	if budgetMax <= 0 {
		budgetMax = 200000
	}
	threshold = c.cfg.BudgetThreshold
	if threshold <= 0 {
		threshold = budgetMax
	}
	return budgetMax, threshold
}

// trackRejectionAndFinish runs steps 5-8: event logging, rejection
// tracking, auto-promotion, and envelope assembly. effectiveState is the
// calling agent's own state overlay (shared unit.State, plus its private
// budget block if any) — capabilities and verb descriptions in the
// response are scoped to it, while the event log and unit.State itself
// track only the genuine shared FSM transition.
func (c *Controller) trackRejectionAndFinish(ctx context.Context, req Request, unit *session.WorkUnit, agent *session.AgentSession, resp *Response, budgetMax, threshold, used int, blocked bool, effectiveState capability.State) {
	// Step 6: rejection tracking -> friction detector.
	for _, code := range resp.DenyReasons {
		agent.RejectionCounts[code]++
		if c.Metrics != nil {
			c.Metrics.RecordRejection(code)
			switch code {
			case "BUDGET_THRESHOLD_EXCEEDED":
				c.Metrics.RecordBudgetTrip()
			case "EXEC_COLLISION", "EXEC_SIDE_EFFECT_COLLISION":
				c.Metrics.RecordCollisionDenial()
			}
		}
		if c.Friction != nil {
			if candidate := c.Friction.Observe(req.RunSessionID, req.WorkID, req.AgentID, code); candidate != nil {
				if c.Promoter != nil {
					c.Promoter.StampDeadline(candidate)
				}
				c.Memory.Put(*candidate)
				c.logEvent(eventlog.PendingCorrectionCreated, req, map[string]any{"recordId": candidate.ID, "triggerCode": code})
			}
		}
	}

	// Step 7: auto-promotion lane.
	if c.Promoter != nil {
		for _, t := range c.Promoter.Sweep(ctx) {
			c.logEvent(eventlog.MemoryPromotionTransition, req, map[string]any{"recordId": t.RecordID, "from": t.From, "to": t.To})
			if c.Metrics != nil {
				c.Metrics.RecordPromotion(string(t.From), string(t.To))
			}
		}
	}

	// Step 8: assemble response envelope.
	resp.BudgetStatus = BudgetStatus{Max: budgetMax, Used: used, Threshold: threshold, Blocked: blocked}
	resp.Progress = progress(unit)
	resp.SubAgentHints = subAgentHints(unit.Graph)
	resp.Capabilities = capability.Allowed(effectiveState)
	resp.VerbDescriptions = capability.DescriptorsFor(effectiveState)

	c.logEvent(eventlog.OutputEnvelope, req, map[string]any{"state": unit.State, "denyReasons": resp.DenyReasons})
}

func (c *Controller) newResponse(req Request, unit *session.WorkUnit) *Response {
	return &Response{
		RunSessionID:   req.RunSessionID,
		WorkID:         req.WorkID,
		AgentID:        req.AgentID,
		State:          unit.State,
		Scope:          Scope{WorktreeRoot: c.cfg.WorktreeRoot, ScratchRoot: c.cfg.ScratchRoot},
		TraceRef:       c.nextID(),
		SchemaVersion:  schemaVersion,
		OriginalPrompt: unit.OriginalPrompt,
	}
}

func (c *Controller) logEvent(typ eventlog.Type, req Request, payload map[string]any) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Append(eventlog.Event{
		Type:         typ,
		RunSessionID: req.RunSessionID,
		WorkID:       req.WorkID,
		AgentID:      req.AgentID,
		Payload:      payload,
	}); err != nil {
		c.Logger.Error("failed to append event", "type", typ, "error", err)
	}
}

// handlerOutcome is the intermediate shape verb handlers return before
// step 5-8 assembly.
type handlerOutcome struct {
	Result        any
	DenyReasons   []string
	Insufficiency *contextpack.Insufficiency
	SuggestedAction string
	StateOverride capability.State
}

func denyOutcome(codes ...string) handlerOutcome {
	return handlerOutcome{DenyReasons: codes}
}

func internalError(verb capability.Verb, err error) handlerOutcome {
	code := "PLAN_INTERNAL_ERROR"
	if verb == capability.ApplyCodePatch || verb == capability.RunSandboxedCode || verb == capability.ExecuteGatedSideEffect || verb == capability.RunAutomationRecipe {
		code = "EXEC_INTERNAL_ERROR"
	}
	return handlerOutcome{DenyReasons: []string{code}, SuggestedAction: fmt.Sprintf("internal error: %v", err)}
}
