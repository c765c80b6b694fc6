package turn

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/execution"
	"github.com/emergent-company/ctrlmcp/internal/memory"
	"github.com/emergent-company/ctrlmcp/internal/session"
)

type fakeIndex struct{ path string }

func (f fakeIndex) Lexical(ctx context.Context, lexemes []string) ([]contextpack.IndexHit, error) {
	return []contextpack.IndexHit{{Path: f.path, Score: 1}}, nil
}
func (f fakeIndex) Symbols(ctx context.Context, lexemes []string) ([]contextpack.IndexHit, error) {
	return []contextpack.IndexHit{{Path: f.path, Symbol: "TargetSymbol", Score: 1}}, nil
}

func newTestController(t *testing.T, worktree string) *Controller {
	t.Helper()
	target := filepath.Join(worktree, "target.ts")
	require.NoError(t, os.WriteFile(target, []byte("const TargetSymbol = 1;\nuse(TargetSymbol);"), 0o644))

	builder := &contextpack.Builder{Index: fakeIndex{path: target}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	memStore := memory.NewStore()
	friction := memory.NewFrictionDetector(memory.DefaultFrictionThreshold, func() string { return "rec-1" })
	promoter := memory.NewPromoter(memStore, memory.DefaultContestWindow, logger)

	guard := execution.NewCollisionGuard()
	patch := execution.NewPatchService(guard, codemod.NewBuiltinRegistry(), t.TempDir())
	sandbox := execution.NewSandboxService(t.TempDir())
	sideEffects := execution.NewSideEffectService(guard, t.TempDir())

	cfg := Config{BudgetMax: 100000, BudgetThreshold: 100000, WorktreeRoot: worktree, ScratchRoot: t.TempDir()}
	c := NewController(cfg, session.NewStore(), builder, codemod.NewBuiltinRegistry(), memStore, friction, promoter,
		patch, sandbox, sideEffects, guard, nil, logger)
	c.nowFn = func() time.Time { return time.Now() }
	return c
}

func TestInitializeWorkTransitionsToPlanning(t *testing.T) {
	c := newTestController(t, t.TempDir())
	resp, err := c.Handle(context.Background(), Request{
		Verb:           capability.InitializeWork,
		OriginalPrompt: "rename TargetSymbol",
	})
	require.NoError(t, err)
	require.Equal(t, capability.Planning, resp.State)
	require.Equal(t, "rename TargetSymbol", resp.OriginalPrompt)
	require.NotEmpty(t, resp.RunSessionID)
	require.NotEmpty(t, resp.WorkID)
	require.NotEmpty(t, resp.AgentID)
}

func TestUnknownVerbDeniesWithScopeViolation(t *testing.T) {
	c := newTestController(t, t.TempDir())
	resp, err := c.Handle(context.Background(), Request{Verb: "not_a_real_verb", OriginalPrompt: "x"})
	require.NoError(t, err)
	require.Contains(t, resp.DenyReasons, "PLAN_SCOPE_VIOLATION")
}

func TestVerbNotAllowedInStateIsDenied(t *testing.T) {
	c := newTestController(t, t.TempDir())
	resp, err := c.Handle(context.Background(), Request{Verb: capability.ApplyCodePatch, OriginalPrompt: "x"})
	require.NoError(t, err)
	require.Contains(t, resp.DenyReasons, "PLAN_SCOPE_VIOLATION")
	require.Equal(t, capability.Uninitialized, resp.State)
}

type fakeMetricsRecorder struct {
	turns       int
	rejections  []string
	budgetTrips int
}

func (f *fakeMetricsRecorder) ObserveTurn(verb string, d time.Duration) { f.turns++ }
func (f *fakeMetricsRecorder) RecordRejection(code string)              { f.rejections = append(f.rejections, code) }
func (f *fakeMetricsRecorder) RecordBudgetTrip()                        { f.budgetTrips++ }
func (f *fakeMetricsRecorder) RecordCollisionDenial()                   {}
func (f *fakeMetricsRecorder) RecordPromotion(from, to string)          {}

func TestHandleReportsMetricsWhenWired(t *testing.T) {
	c := newTestController(t, t.TempDir())
	rec := &fakeMetricsRecorder{}
	c.Metrics = rec

	_, err := c.Handle(context.Background(), Request{Verb: "not_a_real_verb", OriginalPrompt: "x"})
	require.NoError(t, err)
	require.Equal(t, 1, rec.turns)
	require.Contains(t, rec.rejections, "PLAN_SCOPE_VIOLATION")
	require.Equal(t, 0, rec.budgetTrips)
}

func TestFullTurnLifecycleAcceptsPlanAndExecutesPatch(t *testing.T) {
	worktree := t.TempDir()
	c := newTestController(t, worktree)
	target := filepath.Join(worktree, "target.ts")
	ctx := context.Background()

	initResp, err := c.Handle(ctx, Request{Verb: capability.InitializeWork, OriginalPrompt: "rename TargetSymbol"})
	require.NoError(t, err)
	require.Equal(t, capability.Planning, initResp.State)

	runSessionID, workID, agentID := initResp.RunSessionID, initResp.WorkID, initResp.AgentID

	plan := map[string]any{
		"identity":          map[string]any{"runSessionId": runSessionID, "workId": workID, "agentId": agentID},
		"packRef":           workID,
		"packHash":          "hash1",
		"policyVersions":    map[string]any{},
		"scopeAllowListRef": workID,
		"strategy": map[string]any{
			"id":      "direct-rename",
			"reasons": []any{map[string]any{"text": "rename is localized", "evidenceRefs": []any{"req:1"}}},
		},
		"evidencePolicy": map[string]any{"requirement": 0, "code": 0, "policy": 0},
		"schemaVersion":  "1",
		"worktreeRoot":   worktree,
		"nodes": []any{
			map[string]any{
				"id":        "change-1",
				"kind":      "change",
				"dependsOn": []any{},
				"atomicityBoundary": map[string]any{},
				"targetFile": target,
				"operation":  "replace_text",
				"operationParams": map[string]any{
					"find":    "TargetSymbol",
					"replace": "RenamedSymbol",
				},
			},
			map[string]any{
				"id":                "validate-1",
				"kind":              "validate",
				"dependsOn":         []any{"change-1"},
				"atomicityBoundary": map[string]any{},
				"validates":         []any{"change-1"},
			},
		},
	}

	submitResp, err := c.Handle(ctx, Request{
		RunSessionID: runSessionID, WorkID: workID, AgentID: agentID,
		Verb: capability.SubmitExecutionPlan, Args: map[string]any{"plan": plan},
	})
	require.NoError(t, err)
	require.Empty(t, submitResp.DenyReasons, "plan should be accepted")
	require.Equal(t, capability.PlanAccepted, submitResp.State)

	patchResp, err := c.Handle(ctx, Request{
		RunSessionID: runSessionID, WorkID: workID, AgentID: agentID,
		Verb: capability.ApplyCodePatch, Args: map[string]any{"nodeId": "change-1"},
	})
	require.NoError(t, err)
	require.Empty(t, patchResp.DenyReasons)

	sandboxResp, err := c.Handle(ctx, Request{
		RunSessionID: runSessionID, WorkID: workID, AgentID: agentID,
		Verb: capability.RunSandboxedCode,
		Args: map[string]any{
			"nodeId":     "validate-1",
			"expression": "(async () => { return true; })()",
			"timeoutMs":  float64(2000),
		},
	})
	require.NoError(t, err)
	require.Empty(t, sandboxResp.DenyReasons)

	completeResp, err := c.Handle(ctx, Request{
		RunSessionID: runSessionID, WorkID: workID, AgentID: agentID,
		Verb: capability.SignalTaskComplete,
	})
	require.NoError(t, err)
	require.Empty(t, completeResp.DenyReasons)
	require.Equal(t, capability.Completed, completeResp.State)
}

func TestBudgetThresholdBlocksNonSafeVerbs(t *testing.T) {
	c := newTestController(t, t.TempDir())
	c.cfg.BudgetMax = 1
	c.cfg.BudgetThreshold = 1

	initResp, err := c.Handle(context.Background(), Request{Verb: capability.InitializeWork, OriginalPrompt: "x"})
	require.NoError(t, err)

	resp, err := c.Handle(context.Background(), Request{
		RunSessionID: initResp.RunSessionID, WorkID: initResp.WorkID, AgentID: initResp.AgentID,
		Verb: capability.ReadFileLines, Args: map[string]any{"path": "whatever", "startLine": 1, "endLine": 1},
	})
	require.NoError(t, err)
	require.Contains(t, resp.DenyReasons, "BUDGET_THRESHOLD_EXCEEDED")
	require.Equal(t, capability.BlockedBudget, resp.State)
}

func TestBudgetBlockDoesNotLeakToCoAgent(t *testing.T) {
	c := newTestController(t, t.TempDir())
	c.cfg.BudgetMax = 1000
	c.cfg.BudgetThreshold = 30

	initResp, err := c.Handle(context.Background(), Request{Verb: capability.InitializeWork, OriginalPrompt: "x"})
	require.NoError(t, err)

	// initialize_work alone keeps agent A under threshold; the read call
	// pushes its cumulative usage over it.
	blockedResp, err := c.Handle(context.Background(), Request{
		RunSessionID: initResp.RunSessionID, WorkID: initResp.WorkID, AgentID: initResp.AgentID,
		Verb: capability.ReadFileLines, Args: map[string]any{"path": "whatever", "startLine": 1, "endLine": 1},
	})
	require.NoError(t, err)
	require.Contains(t, blockedResp.DenyReasons, "BUDGET_THRESHOLD_EXCEEDED")

	// A second agent joining the same work unit has its own token budget
	// (spec §9): it must not inherit the first agent's block.
	coAgentResp, err := c.Handle(context.Background(), Request{
		RunSessionID: initResp.RunSessionID, WorkID: initResp.WorkID,
		Verb: capability.ReadFileLines, Args: map[string]any{"path": "whatever", "startLine": 1, "endLine": 1},
	})
	require.NoError(t, err)
	require.NotEqual(t, initResp.AgentID, coAgentResp.AgentID)
	require.Empty(t, coAgentResp.DenyReasons)
	require.Equal(t, capability.Planning, coAgentResp.State)
	require.NotEqual(t, capability.BlockedBudget, coAgentResp.State)
}
