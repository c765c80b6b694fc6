package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emergent-company/ctrlmcp/internal/capability"
)

func TestEnsureWorkUnitCreatesOnceAndStartsUninitialized(t *testing.T) {
	store := NewStore()
	now := time.Now()

	u1, created1 := store.EnsureWorkUnit("rs1", "w1", now)
	require.True(t, created1)
	require.Equal(t, capability.Uninitialized, u1.State)

	u2, created2 := store.EnsureWorkUnit("rs1", "w1", now)
	require.False(t, created2)
	require.Same(t, u1, u2)
}

func TestEnsureAgentReportsJoinOnlyOnce(t *testing.T) {
	store := NewStore()
	u, _ := store.EnsureWorkUnit("rs1", "w1", time.Now())

	_, joined1 := u.EnsureAgent("a1", time.Now())
	require.True(t, joined1)

	_, joined2 := u.EnsureAgent("a1", time.Now())
	require.False(t, joined2)
}

func TestSetOriginalPromptOnceStoresFirstAndFlagsMismatch(t *testing.T) {
	store := NewStore()
	u, _ := store.EnsureWorkUnit("rs1", "w1", time.Now())

	require.False(t, u.SetOriginalPromptOnce(""))
	require.False(t, u.PromptSet)

	require.False(t, u.SetOriginalPromptOnce("fix the login bug"))
	require.True(t, u.PromptSet)
	require.Equal(t, "fix the login bug", u.OriginalPrompt)

	require.False(t, u.SetOriginalPromptOnce("fix the login bug"))
	require.True(t, u.SetOriginalPromptOnce("do something else entirely"))
	require.Equal(t, "fix the login bug", u.OriginalPrompt, "stored prompt never replaced")
}

func TestWorkUnitsAreIsolatedByTuple(t *testing.T) {
	store := NewStore()
	_, _ = store.EnsureWorkUnit("rs1", "w1", time.Now())
	_, _ = store.EnsureWorkUnit("rs1", "w2", time.Now())
	_, _ = store.EnsureWorkUnit("rs2", "w1", time.Now())

	require.Len(t, store.All(), 3)
}
