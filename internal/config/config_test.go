package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "stdio", cfg.Transport.Mode)
	require.Equal(t, 200000, cfg.Controller.BudgetMax)
	require.Equal(t, 3, cfg.Memory.FrictionThreshold)
	require.Equal(t, 48, cfg.Memory.ContestWindowHours)
	require.False(t, cfg.Metrics.Enabled)
}

func TestLoadRepoFileOverridesBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"controller": {"budgetMax": 50000, "budgetThreshold": 40000, "worktreeRoot": "/repo", "scratchRoot": "/repo/.scratch"},
		"log": {"level": "debug"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 50000, cfg.Controller.BudgetMax)
	require.Equal(t, "/repo", cfg.Controller.WorktreeRoot)
	require.Equal(t, "debug", cfg.Log.Level)
	// sibling key untouched by the partial override
	require.Equal(t, "json", cfg.Log.Format)
}

func TestEnvLocalOverridesRepoFile(t *testing.T) {
	dir := t.TempDir()
	repoPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(repoPath, []byte(`{"log": {"level": "warn"}}`), 0o644))

	localPath := filepath.Join(dir, "local.json")
	require.NoError(t, os.WriteFile(localPath, []byte(`{"log": {"level": "debug"}}`), 0o644))
	t.Setenv("CTRLMCP_CONFIG_LOCAL", localPath)

	cfg, err := Load(repoPath)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvVarOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"level": "warn"}}`), 0o644))
	t.Setenv("CTRLMCP_LOG_LEVEL", "error")
	t.Setenv("CTRLMCP_BUDGET_MAX", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Log.Level)
	require.Equal(t, 9999, cfg.Controller.BudgetMax)
}

func TestUnknownKeyFailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transport": {"mode": "stdio", "bogusField": true}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestGraphEnvVarsOverrideDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CTRLMCP_GRAPH_URI", "neo4j://prod:7687")
	t.Setenv("CTRLMCP_GRAPH_USERNAME", "ctrlmcp")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "neo4j://prod:7687", cfg.Graph.URI)
	require.Equal(t, "ctrlmcp", cfg.Graph.Username)
}

func TestInvalidTransportModeFailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transport": {"mode": "carrier-pigeon"}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
