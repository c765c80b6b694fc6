package memory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrictionDetectorScaffoldsAtThreshold(t *testing.T) {
	var n int
	fd := NewFrictionDetector(3, func() string { n++; return "mem-1" })

	require.Nil(t, fd.Observe("rs1", "w1", "a1", "PLAN_SCOPE_VIOLATION"))
	require.Nil(t, fd.Observe("rs1", "w1", "a1", "PLAN_SCOPE_VIOLATION"))
	rec := fd.Observe("rs1", "w1", "a1", "PLAN_SCOPE_VIOLATION")
	require.NotNil(t, rec)
	require.Equal(t, StatePending, rec.LifecycleState)
	require.Equal(t, "PLAN_SCOPE_VIOLATION", rec.Provenance.TriggerCode)
	require.Nil(t, rec.EnforcementPayload)

	// Does not re-scaffold on further occurrences of the same code.
	require.Nil(t, fd.Observe("rs1", "w1", "a1", "PLAN_SCOPE_VIOLATION"))
}

func TestFrictionDetectorIsPerSessionAndPerCode(t *testing.T) {
	fd := NewFrictionDetector(2, func() string { return "mem-x" })

	require.Nil(t, fd.Observe("rs1", "w1", "a1", "PLAN_NOT_ATOMIC"))
	rec := fd.Observe("rs1", "w1", "a1", "PLAN_NOT_ATOMIC")
	require.NotNil(t, rec)

	// Different agent session, same code: independent counter.
	require.Nil(t, fd.Observe("rs1", "w1", "a2", "PLAN_NOT_ATOMIC"))
}

func TestPromoterSweepsOnlyEligibleElapsedRecords(t *testing.T) {
	store := NewStore()
	store.Put(Record{ID: "r1", EnforcementType: TypeLexicalAlias, LifecycleState: StatePending, ContestDeadline: time.Now().Add(-time.Hour)})
	store.Put(Record{ID: "r2", EnforcementType: TypePlanRule, LifecycleState: StatePending, ContestDeadline: time.Now().Add(-time.Hour)})
	store.Put(Record{ID: "r3", EnforcementType: TypeFewShot, LifecycleState: StatePending, ContestDeadline: time.Now().Add(time.Hour)})

	p := NewPromoter(store, time.Hour, discardLogger())
	transitions := p.Sweep(context.Background())

	require.Len(t, transitions, 1)
	require.Equal(t, "r1", transitions[0].RecordID)

	r1, _ := store.Get("r1")
	require.Equal(t, StateProvisional, r1.LifecycleState)

	r2, _ := store.Get("r2")
	require.Equal(t, StatePending, r2.LifecycleState, "plan_rule must never auto-promote")

	r3, _ := store.Get("r3")
	require.Equal(t, StatePending, r3.LifecycleState, "contest window not yet elapsed")
}

func TestOverrideIngestionAppendsApprovedRecordAndMarksProcessed(t *testing.T) {
	root := t.TempDir()
	dropDir := filepath.Join(root, "memory", "overrides")
	require.NoError(t, os.MkdirAll(dropDir, 0o755))

	overrideJSON := `{"enforcementType":"plan_rule","domainAnchors":["internal/foo"],"denyCode":"PLAN_POLICY_VIOLATION","requiredSteps":[{"kind":"validate"}]}`
	path := filepath.Join(dropDir, "001-require-validate.json")
	require.NoError(t, os.WriteFile(path, []byte(overrideJSON), 0o644))

	store := NewStore()
	ing := NewOverrideIngestor(root, store, discardLogger(), func() string { return "override-1" })

	n, err := ing.IngestOverrides(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, ok := store.Get("override-1")
	require.True(t, ok)
	require.Equal(t, StateApproved, rec.LifecycleState)
	require.Equal(t, TypePlanRule, rec.EnforcementType)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".processed")
	require.NoError(t, err)

	// Second ingestion pass finds nothing new to process.
	n2, err := ing.IngestOverrides(context.Background(), "w1")
	require.NoError(t, err)
	require.Equal(t, 0, n2)
}

func TestStoreActiveFiltersByLexemeAndState(t *testing.T) {
	store := NewStore()
	store.Put(Record{ID: "a", LifecycleState: StateApproved, DomainAnchors: []string{"internal/foo"}})
	store.Put(Record{ID: "b", LifecycleState: StatePending, DomainAnchors: []string{"internal/foo"}})
	store.Put(Record{ID: "c", LifecycleState: StateProvisional, DomainAnchors: []string{"internal/bar"}})

	active := store.Active([]string{"internal/foo"})
	require.Len(t, active, 1)
	require.Equal(t, "a", active[0].ID)
}
