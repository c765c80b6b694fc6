package turn

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/eventlog"
	"github.com/emergent-company/ctrlmcp/internal/execution"
	"github.com/emergent-company/ctrlmcp/internal/memory"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
	"github.com/emergent-company/ctrlmcp/internal/session"
)

// dispatch runs spec §4.1 step 4: resolve a verb to its handler and run
// it. Unknown verbs are denied with a scope violation per §4.7.
func (c *Controller) dispatch(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	switch req.Verb {
	case capability.InitializeWork:
		return c.handleInitializeWork(ctx, req, unit)
	case capability.ReadFileLines:
		return c.handleReadFileLines(req, unit)
	case capability.LookupSymbolDefinition:
		return c.handleLookupSymbolDefinition(req, unit)
	case capability.TraceSymbolGraph:
		return c.handleTraceSymbolGraph(req, unit)
	case capability.SearchCodebaseText:
		return c.handleSearchCodebaseText(req, unit)
	case capability.WriteScratchFile:
		return c.handleWriteScratchFile(req)
	case capability.SubmitExecutionPlan:
		return c.handleSubmitExecutionPlan(req, unit)
	case capability.Escalate:
		return c.handleEscalate(ctx, req, unit)
	case capability.SignalTaskComplete:
		return c.handleSignalTaskComplete(unit)
	case capability.ApplyCodePatch:
		return c.handleApplyCodePatch(ctx, req, unit)
	case capability.RunSandboxedCode:
		return c.handleRunSandboxedCode(ctx, req, unit)
	case capability.ExecuteGatedSideEffect:
		return c.handleExecuteGatedSideEffect(ctx, req, unit)
	case capability.RunAutomationRecipe:
		return c.handleRunAutomationRecipe(req)
	default:
		return denyOutcome("PLAN_SCOPE_VIOLATION")
	}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func (c *Controller) handleInitializeWork(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	if agent, ok := unit.Agents[req.AgentID]; ok {
		_, threshold := c.resolveBudget()
		if agent.TokensUsed >= threshold {
			agent.TokensUsed = 0
		}
	}
	activeValidators := []string{"jsonschema"}
	in := contextpack.Input{
		WorkID:                 req.WorkID,
		PackRef:                req.WorkID,
		Prompt:                 req.OriginalPrompt,
		ActiveValidators:       activeValidators,
		ValidationPlanDeclared: len(activeValidators) > 0,
	}
	pack, insuff, err := c.Packs.Build(ctx, in)
	if err != nil {
		return internalError(req.Verb, err)
	}
	unit.Pack = pack
	out := handlerOutcome{
		Result:        map[string]any{"packRef": pack.PackRef, "allowList": pack.AllowList},
		Insufficiency: insuff,
		StateOverride: capability.Planning,
	}
	c.logEvent(eventlog.RetrievalTrace, req, map[string]any{"hits": len(pack.RetrievalTrace)})
	return out
}

func (c *Controller) handleReadFileLines(req Request, unit *session.WorkUnit) handlerOutcome {
	path := argString(req.Args, "path")
	if unit.Pack == nil || !unit.Pack.Contains(path) {
		return denyOutcome("PLAN_SCOPE_VIOLATION")
	}
	start := argInt(req.Args, "startLine")
	end := argInt(req.Args, "endLine")
	b, err := os.ReadFile(path)
	if err != nil {
		return internalError(req.Verb, err)
	}
	lines := strings.Split(string(b), "\n")
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return handlerOutcome{Result: map[string]any{"lines": []string{}}}
	}
	return handlerOutcome{Result: map[string]any{"lines": lines[start-1 : end]}}
}

func (c *Controller) handleLookupSymbolDefinition(req Request, unit *session.WorkUnit) handlerOutcome {
	symbol := argString(req.Args, "symbol")
	if unit.Pack == nil {
		return denyOutcome("PACK_MISSING_ANCHORS")
	}
	for _, hit := range unit.Pack.RetrievalTrace {
		if hit.Lane == contextpack.LaneSymbol && hit.Symbol == symbol {
			return handlerOutcome{Result: map[string]any{"symbol": symbol, "file": hit.Path}}
		}
	}
	return handlerOutcome{DenyReasons: []string{"PACK_MISSING_ANCHORS"}}
}

func (c *Controller) handleTraceSymbolGraph(req Request, unit *session.WorkUnit) handlerOutcome {
	symbol := argString(req.Args, "symbol")
	var related []string
	for _, hit := range unit.Pack.RetrievalTrace {
		if hit.Lane == contextpack.LaneSymbol && hit.Symbol != symbol {
			related = append(related, hit.Symbol)
		}
	}
	return handlerOutcome{Result: map[string]any{"symbol": symbol, "related": related}}
}

func (c *Controller) handleSearchCodebaseText(req Request, unit *session.WorkUnit) handlerOutcome {
	query := strings.ToLower(argString(req.Args, "query"))
	var matches []string
	if unit.Pack != nil {
		for _, path := range unit.Pack.AllowList {
			if strings.Contains(strings.ToLower(path), query) {
				matches = append(matches, path)
			}
		}
	}
	return handlerOutcome{Result: map[string]any{"matches": matches}}
}

func (c *Controller) handleWriteScratchFile(req Request) handlerOutcome {
	path := argString(req.Args, "path")
	content := argString(req.Args, "content")
	full := c.cfg.ScratchRoot + "/" + req.WorkID + "/" + path
	if err := os.MkdirAll(parentDir(full), 0o755); err != nil {
		return internalError(req.Verb, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return internalError(req.Verb, err)
	}
	return handlerOutcome{Result: map[string]any{"written": full}}
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func (c *Controller) handleSubmitExecutionPlan(req Request, unit *session.WorkUnit) handlerOutcome {
	// A plan cannot be submitted against an empty or absent pack
	// allow-list; readiness itself was already evaluated when the pack
	// was built (initialize_work/escalate).
	if unit.Pack == nil || len(unit.Pack.AllowList) == 0 {
		return handlerOutcome{DenyReasons: []string{"PACK_VALIDATION_PLAN_ABSENT"}}
	}

	raw, err := json.Marshal(req.Args["plan"])
	if err != nil {
		return internalError(req.Verb, err)
	}
	var doc plangraph.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return handlerOutcome{DenyReasons: []string{string(plangraph.CodeMissingRequiredFields)}}
	}

	bundle := bundleFromMemory(c.Memory)
	result := plangraph.Validate(doc, unit.Pack, c.Codemods, bundle)
	if !result.Accepted {
		codes := make([]string, 0, len(result.Codes))
		for _, code := range result.Codes {
			codes = append(codes, string(code))
		}
		return handlerOutcome{DenyReasons: codes}
	}

	unit.Graph = plangraph.NewGraph(doc)
	unit.CompletedNodes = make(map[string]bool)
	unit.ValidatedNodes = make(map[string]bool)
	return handlerOutcome{Result: map[string]any{"accepted": true}, StateOverride: capability.PlanAccepted}
}

func (c *Controller) handleEscalate(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	if unit.Pack == nil {
		return denyOutcome("PACK_MISSING_ANCHORS")
	}
	need := argString(req.Args, "need")
	rawEvidence, _ := req.Args["requestedEvidence"].([]any)
	requested := make([]contextpack.RequestedEvidence, 0, len(rawEvidence))
	for _, e := range rawEvidence {
		if s, ok := e.(string); ok {
			requested = append(requested, contextpack.RequestedEvidence{Kind: "file", Ref: s})
		}
	}
	delta, err := c.Packs.Enrich(unit.Pack, need, requested)
	if err != nil {
		return internalError(req.Verb, err)
	}
	return handlerOutcome{Result: delta}
}

func (c *Controller) handleSignalTaskComplete(unit *session.WorkUnit) handlerOutcome {
	switch unit.State {
	case capability.Completed, capability.Failed:
		return handlerOutcome{Result: map[string]any{"completed": unit.State == capability.Completed}}
	case capability.PlanAccepted:
		if !allNodesDone(unit) {
			return handlerOutcome{DenyReasons: []string{"EXEC_PLAN_INCOMPLETE"}}
		}
		return handlerOutcome{Result: map[string]any{"completed": true}, StateOverride: capability.Completed}
	default:
		return handlerOutcome{DenyReasons: []string{"EXEC_PLAN_INCOMPLETE"}}
	}
}

func (c *Controller) handleApplyCodePatch(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	node, ok := lookupNode(unit, argString(req.Args, "nodeId"))
	if !ok {
		return denyOutcome(string(plangraph.CodeMissingRequiredFields))
	}
	result, err := c.Patch.Apply(ctx, req.RunSessionID, req.WorkID, node, c.cfg.WorktreeRoot, unit.Pack)
	if err != nil {
		return internalError(req.Verb, err)
	}
	if len(result.DenyReasons) == 0 {
		unit.CompletedNodes[node.ID] = true
	}
	return handlerOutcome{Result: result, DenyReasons: result.DenyReasons}
}

func (c *Controller) handleRunSandboxedCode(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	node, ok := lookupNode(unit, argString(req.Args, "nodeId"))
	if !ok {
		return denyOutcome(string(plangraph.CodeMissingRequiredFields))
	}
	timeoutMs := argInt(req.Args, "timeoutMs")
	sreq := execution.SandboxRequest{
		Expression:   argString(req.Args, "expression"),
		Timeout:      msToDuration(timeoutMs),
		MemoryCapMiB: argInt(req.Args, "memoryCapMb"),
		ArtifactRef:  argString(req.Args, "artifactRef"),
	}
	if inputs, ok := req.Args["inputs"].(map[string]any); ok {
		sreq.Inputs = inputs
	}
	result, err := c.Sandbox.Run(ctx, req.WorkID, node.ID, sreq)
	if err != nil {
		return internalError(req.Verb, err)
	}
	if len(result.DenyReasons) == 0 {
		unit.ValidatedNodes[node.ID] = true
		unit.CompletedNodes[node.ID] = true
	}
	return handlerOutcome{Result: result, DenyReasons: result.DenyReasons}
}

func (c *Controller) handleExecuteGatedSideEffect(ctx context.Context, req Request, unit *session.WorkUnit) handlerOutcome {
	node, ok := lookupNode(unit, argString(req.Args, "nodeId"))
	if !ok {
		return denyOutcome(string(plangraph.CodeMissingRequiredFields))
	}
	approvedGateID := argString(req.Args, "commitGateId")
	result, err := c.SideEffects.Execute(ctx, req.RunSessionID, req.WorkID, node, approvedGateID, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		return internalError(req.Verb, err)
	}
	if len(result.DenyReasons) == 0 {
		unit.CompletedNodes[node.ID] = true
	}
	return handlerOutcome{Result: result, DenyReasons: result.DenyReasons}
}

func (c *Controller) handleRunAutomationRecipe(req Request) handlerOutcome {
	name := argString(req.Args, "recipeName")
	if name == "" {
		return denyOutcome(string(plangraph.CodeMissingRequiredFields))
	}
	c.logEvent(eventlog.RecipeUsage, req, map[string]any{"recipe": name})
	return handlerOutcome{Result: map[string]any{"recipe": name, "ran": true}}
}

func lookupNode(unit *session.WorkUnit, nodeID string) (plangraph.Node, bool) {
	if unit.Graph == nil {
		return plangraph.Node{}, false
	}
	n, ok := unit.Graph.Nodes[nodeID]
	if !ok {
		return plangraph.Node{}, false
	}
	return *n, true
}

// bundleFromMemory converts every active plan_rule memory record into the
// ephemeral enforcement bundle plangraph.Validate checks against (spec §3
// "Enforcement bundle", §9 "single evaluator"). internal/graphadapter's
// PolicySeeds feed the context pack's retrieval lanes, not this bundle —
// a policy seed names which memory rules are relevant to the prompt, it
// is not itself an enforceable rule, so plan_rule remains the only source
// the evaluator reads from.
func bundleFromMemory(store *memory.Store) plangraph.Bundle {
	if store == nil {
		return plangraph.Bundle{}
	}
	rules := make([]plangraph.Rule, 0)
	for _, rec := range store.PlanRules() {
		steps := make([]plangraph.RequiredStep, 0, len(rec.RequiredSteps))
		for _, s := range rec.RequiredSteps {
			steps = append(steps, plangraph.RequiredStep{
				Kind:             plangraph.Kind(s.Kind),
				CitationPrefix:   s.CitationPrefix,
				TargetFilePrefix: s.TargetFilePrefix,
			})
		}
		rules = append(rules, plangraph.Rule{
			ID:            rec.ID,
			RequiredSteps: steps,
			DenyCode:      plangraph.Code(rec.DenyCode),
		})
	}
	return plangraph.Bundle{Rules: rules}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
