package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
)

func TestCollisionGuardAcquireAndRelease(t *testing.T) {
	g := NewCollisionGuard()

	release, err := g.Acquire("rs1", "w1", []Reservation{{Kind: ReservationFile, Ref: "a.go"}})
	require.NoError(t, err)

	_, err = g.Acquire("rs1", "w1", []Reservation{{Kind: ReservationFile, Ref: "a.go"}})
	require.Error(t, err)
	var collision *ErrCollision
	require.ErrorAs(t, err, &collision)
	require.Len(t, collision.Conflicting, 1)

	release()

	_, err = g.Acquire("rs1", "w1", []Reservation{{Kind: ReservationFile, Ref: "a.go"}})
	require.NoError(t, err)
}

func TestCollisionGuardIsolatesWorkUnits(t *testing.T) {
	g := NewCollisionGuard()
	_, err := g.Acquire("rs1", "w1", []Reservation{{Kind: ReservationFile, Ref: "a.go"}})
	require.NoError(t, err)

	_, err = g.Acquire("rs1", "w2", []Reservation{{Kind: ReservationFile, Ref: "a.go"}})
	require.NoError(t, err, "reservations are namespaced per work unit")
}

func TestPatchServiceReplaceText(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.ts")
	require.NoError(t, os.WriteFile(target, []byte("const TargetSymbol = 1;\nuse(TargetSymbol);"), 0o644))

	guard := NewCollisionGuard()
	svc := NewPatchService(guard, codemod.NewBuiltinRegistry(), t.TempDir())

	node := plangraph.Node{
		ID:         "change-1",
		Kind:       plangraph.KindChange,
		TargetFile: target,
		Operation:  "replace_text",
		OperationParams: map[string]any{
			"find":    "TargetSymbol",
			"replace": "RenamedSymbol",
		},
	}

	pack := fakeScope{files: map[string]bool{target: true}}
	result, err := svc.Apply(context.Background(), "rs1", "w1", node, dir, pack)
	require.NoError(t, err)
	require.True(t, result.Changed)
	require.Equal(t, 2, result.Replacements)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "const RenamedSymbol = 1;\nuse(RenamedSymbol);", string(b))
}

func TestPatchServiceAstCodemodRequiresCitation(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.ts")
	require.NoError(t, os.WriteFile(target, []byte("const TargetSymbol = 1;\nuse(TargetSymbol);"), 0o644))

	guard := NewCollisionGuard()
	svc := NewPatchService(guard, codemod.NewBuiltinRegistry(), t.TempDir())

	node := plangraph.Node{
		ID:         "change-1",
		Kind:       plangraph.KindChange,
		TargetFile: target,
		Operation:  "ast_codemod",
		CodemodID:  "rename_identifier_in_file",
		// Citations intentionally omitted.
		OperationParams: map[string]any{"from": "TargetSymbol", "to": "RenamedSymbol"},
	}

	pack := fakeScope{files: map[string]bool{target: true}}
	result, err := svc.Apply(context.Background(), "rs1", "w1", node, dir, pack)
	require.NoError(t, err)
	require.Contains(t, result.DenyReasons, string(plangraph.CodePolicyViolation))
}

func TestPatchServiceRejectsOutOfScopeFile(t *testing.T) {
	dir := t.TempDir()
	guard := NewCollisionGuard()
	svc := NewPatchService(guard, codemod.NewBuiltinRegistry(), t.TempDir())

	node := plangraph.Node{
		ID:         "change-1",
		Kind:       plangraph.KindChange,
		TargetFile: filepath.Join(dir, "outside.ts"),
		Operation:  "replace_text",
	}
	pack := fakeScope{files: map[string]bool{}}
	result, err := svc.Apply(context.Background(), "rs1", "w1", node, dir, pack)
	require.NoError(t, err)
	require.Contains(t, result.DenyReasons, string(plangraph.CodeScopeViolation))
}

func TestSandboxServiceRejectsNonAsyncIIFE(t *testing.T) {
	svc := NewSandboxService(t.TempDir())
	result, err := svc.Run(context.Background(), "w1", "n1", SandboxRequest{
		Expression: "1 + 1",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, result.DenyReasons, string(plangraph.CodeMissingRequiredFields))
}

func TestSandboxServiceRunsAsyncIIFE(t *testing.T) {
	svc := NewSandboxService(t.TempDir())
	result, err := svc.Run(context.Background(), "w1", "n2", SandboxRequest{
		Expression: "(async () => { return 2 + 2; })()",
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	require.Empty(t, result.DenyReasons)
}

func TestSandboxServiceRejectsPlaceholderResult(t *testing.T) {
	svc := NewSandboxService(t.TempDir())
	result, err := svc.Run(context.Background(), "w1", "n3", SandboxRequest{
		Expression: `(async () => { return "placeholder result"; })()`,
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, result.DenyReasons, string(plangraph.CodeVerificationWeak))
}

func TestSideEffectServiceRejectsGateMismatch(t *testing.T) {
	guard := NewCollisionGuard()
	svc := NewSideEffectService(guard, t.TempDir())

	node := plangraph.Node{ID: "se-1", Kind: plangraph.KindSideEffect, CommitGateID: "gate-a"}
	result, err := svc.Execute(context.Background(), "rs1", "w1", node, "gate-b", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.Contains(t, result.DenyReasons, string(plangraph.CodePolicyViolation))
}

func TestSideEffectServiceExecutesOnMatchingGate(t *testing.T) {
	guard := NewCollisionGuard()
	svc := NewSideEffectService(guard, t.TempDir())

	performed := false
	node := plangraph.Node{ID: "se-1", Kind: plangraph.KindSideEffect, CommitGateID: "gate-a"}
	result, err := svc.Execute(context.Background(), "rs1", "w1", node, "gate-a", func(ctx context.Context) error {
		performed = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, result.Executed)
	require.True(t, performed)
}

type fakeScope struct{ files map[string]bool }

func (f fakeScope) Contains(path string) bool { return f.files[path] }
