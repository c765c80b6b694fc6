package execution

import (
	"context"

	"github.com/emergent-company/ctrlmcp/internal/guards"
)

// GateMatchGuard enforces spec §4.4's "commitGateId matches the approved
// gate" for execute_gated_side_effect. External gates are never derived
// from the agent's request — only from the plan's side_effect node.
var GateMatchGuard = guards.NewGuardFunc("gate_match", func(ctx context.Context, g *guards.GuardContext) guards.Result {
	if g.CommitGateID == "" || g.ApprovedGateID == "" || g.CommitGateID != g.ApprovedGateID {
		return guards.Fail("gate_match", guards.HardBlock,
			"commitGateId does not match the approved plan gate",
			"resubmit a plan whose side_effect node declares the commitGateId you intend to execute")
	}
	return guards.Pass("gate_match")
})

// ReservationGuard hard-blocks when GuardContext.ReservationConflict is
// set. It runs as part of GatedSideEffectGuards, ahead of the
// authoritative collision-guard Acquire call; the patch service runs no
// guards and relies on Acquire alone.
var ReservationGuard = guards.NewGuardFunc("reservation_available", func(ctx context.Context, g *guards.GuardContext) guards.Result {
	if g.ReservationConflict {
		return guards.Fail("reservation_available", guards.HardBlock,
			"a declared file, symbol, or gate is already reserved by a concurrent operation",
			"retry once the other operation on this work unit completes")
	}
	return guards.Pass("reservation_available")
})

// SandboxTimeoutGuard enforces the wall-clock timeout rejection from
// spec §4.4.
var SandboxTimeoutGuard = guards.NewGuardFunc("sandbox_timeout", func(ctx context.Context, g *guards.GuardContext) guards.Result {
	if g.SandboxTimedOut {
		return guards.Fail("sandbox_timeout", guards.HardBlock,
			"sandboxed evaluation exceeded its wall-clock timeout", "")
	}
	return guards.Pass("sandbox_timeout")
})

// SandboxPlaceholderGuard enforces the post-run placeholder-result
// rejection from spec §4.4.
var SandboxPlaceholderGuard = guards.NewGuardFunc("sandbox_placeholder_result", func(ctx context.Context, g *guards.GuardContext) guards.Result {
	if g.SandboxPlaceholderResult {
		return guards.Fail("sandbox_placeholder_result", guards.HardBlock,
			`sandboxed evaluation returned a placeholder value ("placeholder result")`,
			"implement the evaluation body so it returns a real computed result")
	}
	return guards.Pass("sandbox_placeholder_result")
})

// GatedSideEffectGuards is the guard set run before executing a
// side_effect plan node.
var GatedSideEffectGuards = []guards.Guard{GateMatchGuard, ReservationGuard}

// SandboxGuards is the guard set run after a sandboxed evaluation
// completes, before its result is accepted into the artifact bundle.
var SandboxGuards = []guards.Guard{SandboxTimeoutGuard, SandboxPlaceholderGuard}

// Runner is shared across execution services.
var Runner = guards.NewRunner()
