package execution

import (
	"context"
	"fmt"

	"github.com/emergent-company/ctrlmcp/internal/guards"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
)

// SideEffectResult is what execute_gated_side_effect returns.
type SideEffectResult struct {
	Executed    bool     `json:"executed"`
	DenyReasons []string `json:"denyReasons,omitempty"`
}

// SideEffectService implements execute_gated_side_effect (spec §4.4):
// verifies commitGateId against the approved gate, runs the same
// collision acquisition path as patches, and writes a bundle. External
// gates are never derived from the agent's request — only from the
// plan's side_effect node, which is why approvedGateID here must come
// from the accepted plan document, not from call arguments.
type SideEffectService struct {
	Guard   *CollisionGuard
	TmpRoot string
}

// NewSideEffectService constructs a side-effect service.
func NewSideEffectService(guard *CollisionGuard, tmpRoot string) *SideEffectService {
	return &SideEffectService{Guard: guard, TmpRoot: tmpRoot}
}

// Execute runs the gated side-effect for node, which must be an accepted
// KindSideEffect node. perform is the actual external action invoked
// once every guard and the collision reservation clear.
func (s *SideEffectService) Execute(ctx context.Context, runSessionID, workID string, node plangraph.Node, approvedGateID string, perform func(ctx context.Context) error) (SideEffectResult, error) {
	if node.Kind != plangraph.KindSideEffect {
		return SideEffectResult{}, fmt.Errorf("execute_gated_side_effect: node %s is not a side_effect node", node.ID)
	}

	gctx := &guards.GuardContext{
		NodeID:         node.ID,
		CommitGateID:   node.CommitGateID,
		ApprovedGateID: approvedGateID,
	}
	if outcome := Runner.Run(ctx, gctx, GatedSideEffectGuards); outcome.Blocked {
		return SideEffectResult{DenyReasons: []string{string(plangraph.CodePolicyViolation)}}, nil
	}

	release, err := s.Guard.Acquire(runSessionID, workID, []Reservation{{Kind: ReservationExternalGate, Ref: node.CommitGateID}})
	if err != nil {
		if _, ok := err.(*ErrCollision); ok {
			return SideEffectResult{DenyReasons: []string{"EXEC_SIDE_EFFECT_COLLISION"}}, nil
		}
		return SideEffectResult{}, err
	}
	defer release()

	if err := perform(ctx); err != nil {
		return SideEffectResult{}, fmt.Errorf("performing gated side effect: %w", err)
	}

	bundle, err := OpenBundle(s.TmpRoot, workID, node.ID)
	if err != nil {
		return SideEffectResult{}, err
	}
	result := SideEffectResult{Executed: true}
	if err := bundle.WriteResult(result); err != nil {
		return SideEffectResult{}, err
	}
	if err := bundle.AppendOpLog(fmt.Sprintf("execute_gated_side_effect gate=%s", node.CommitGateID)); err != nil {
		return SideEffectResult{}, err
	}

	return result, nil
}
