package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/contextpack"
	"github.com/emergent-company/ctrlmcp/internal/execution"
	"github.com/emergent-company/ctrlmcp/internal/memory"
	"github.com/emergent-company/ctrlmcp/internal/session"
	"github.com/emergent-company/ctrlmcp/internal/turn"
)

func newTestControllerTool(t *testing.T) *ControllerTool {
	t.Helper()
	worktree := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	memStore := memory.NewStore()
	friction := memory.NewFrictionDetector(memory.DefaultFrictionThreshold, func() string { return "rec-1" })
	promoter := memory.NewPromoter(memStore, memory.DefaultContestWindow, logger)
	guard := execution.NewCollisionGuard()

	c := turn.NewController(
		turn.Config{BudgetMax: 100000, BudgetThreshold: 100000, WorktreeRoot: worktree, ScratchRoot: t.TempDir()},
		session.NewStore(),
		&contextpack.Builder{},
		codemod.NewBuiltinRegistry(),
		memStore, friction, promoter,
		execution.NewPatchService(guard, codemod.NewBuiltinRegistry(), t.TempDir()),
		execution.NewSandboxService(t.TempDir()),
		execution.NewSideEffectService(guard, t.TempDir()),
		guard, nil, logger,
	)
	return &ControllerTool{Controller: c}
}

func TestControllerToolNameAndSchema(t *testing.T) {
	tool := newTestControllerTool(t)
	require.Equal(t, "controller_turn", tool.Name())
	require.NotEmpty(t, tool.Description())
	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.InputSchema(), &schema))
	require.Equal(t, "object", schema["type"])
}

func TestControllerToolExecuteRejectsMissingVerb(t *testing.T) {
	tool := newTestControllerTool(t)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestControllerToolExecuteRunsInitializeWork(t *testing.T) {
	tool := newTestControllerTool(t)
	params, err := json.Marshal(map[string]any{
		"verb":           "initialize_work",
		"originalPrompt": "add a health check endpoint",
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var resp turn.Response
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &resp))
	require.Equal(t, "PLANNING", string(resp.State))
	require.Equal(t, "add a health check endpoint", resp.OriginalPrompt)
}
