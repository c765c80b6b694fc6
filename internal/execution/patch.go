package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
)

// PackScope mirrors plangraph.PackScope so execution does not need to
// import contextpack directly beyond this narrow check.
type PackScope interface {
	Contains(path string) bool
}

// PatchResult is what apply_code_patch returns in the response envelope.
type PatchResult struct {
	Changed      bool     `json:"changed"`
	Replacements int      `json:"replacements"`
	LineDelta    int      `json:"lineDelta"`
	DenyReasons  []string `json:"denyReasons,omitempty"`
}

// PatchService implements apply_code_patch (spec §4.4).
type PatchService struct {
	Guard    *CollisionGuard
	Codemods *codemod.Registry
	TmpRoot  string
}

// NewPatchService constructs a patch service.
func NewPatchService(guard *CollisionGuard, codemods *codemod.Registry, tmpRoot string) *PatchService {
	return &PatchService{Guard: guard, Codemods: codemods, TmpRoot: tmpRoot}
}

// Apply executes node (which must be an accepted KindChange node) against
// the real file at node.TargetFile, which must start with worktreeRoot and
// be in pack.
func (s *PatchService) Apply(ctx context.Context, runSessionID, workID string, node plangraph.Node, worktreeRoot string, pack PackScope) (PatchResult, error) {
	if node.Kind != plangraph.KindChange {
		return PatchResult{}, fmt.Errorf("apply_code_patch: node %s is not a change node", node.ID)
	}

	if !strings.HasPrefix(node.TargetFile, worktreeRoot) || (pack != nil && !pack.Contains(node.TargetFile)) {
		return PatchResult{DenyReasons: []string{string(plangraph.CodeScopeViolation)}}, nil
	}

	if node.Operation == "ast_codemod" {
		cited := false
		for _, c := range node.Citations {
			id, _, ok := codemod.ParseCitation(c)
			if ok && id == node.CodemodID {
				cited = true
				break
			}
		}
		if !cited {
			return PatchResult{DenyReasons: []string{string(plangraph.CodePolicyViolation)}}, nil
		}
	}

	release, err := s.Guard.Acquire(runSessionID, workID, []Reservation{{Kind: ReservationFile, Ref: node.TargetFile}})
	if err != nil {
		var collision *ErrCollision
		if ok := asCollision(err, &collision); ok {
			return PatchResult{DenyReasons: []string{"EXEC_SIDE_EFFECT_COLLISION"}}, nil
		}
		return PatchResult{}, err
	}
	defer release()

	src, err := os.ReadFile(node.TargetFile)
	if err != nil {
		return PatchResult{}, fmt.Errorf("reading target file: %w", err)
	}

	var (
		out     string
		summary codemod.Summary
	)
	switch node.Operation {
	case "replace_text":
		find, _ := node.OperationParams["find"].(string)
		replace, _ := node.OperationParams["replace"].(string)
		out = strings.ReplaceAll(string(src), find, replace)
		summary = codemod.Summary{
			Changed:      out != string(src),
			Replacements: strings.Count(string(src), find),
			LineDelta:    strings.Count(out, "\n") - strings.Count(string(src), "\n"),
		}
	case "ast_codemod":
		version := 0
		for _, c := range node.Citations {
			if id, v, ok := codemod.ParseCitation(c); ok && id == node.CodemodID {
				version = v
			}
		}
		out, summary, err = s.Codemods.Run(node.CodemodID, version, string(src), node.OperationParams)
		if err != nil {
			return PatchResult{}, fmt.Errorf("running codemod %s: %w", node.CodemodID, err)
		}
	default:
		return PatchResult{}, fmt.Errorf("apply_code_patch: unknown operation %q", node.Operation)
	}

	if err := os.WriteFile(node.TargetFile, []byte(out), 0o644); err != nil {
		return PatchResult{}, fmt.Errorf("writing target file: %w", err)
	}

	bundle, err := OpenBundle(s.TmpRoot, workID, node.ID)
	if err != nil {
		return PatchResult{}, err
	}
	if err := bundle.WriteDiffSummary(summary); err != nil {
		return PatchResult{}, err
	}
	if err := bundle.WriteTraceRefs(node.Citations); err != nil {
		return PatchResult{}, err
	}
	if err := bundle.AppendOpLog(fmt.Sprintf("apply_code_patch op=%s file=%s", node.Operation, filepath.Base(node.TargetFile))); err != nil {
		return PatchResult{}, err
	}
	result := PatchResult{Changed: summary.Changed, Replacements: summary.Replacements, LineDelta: summary.LineDelta}
	if err := bundle.WriteResult(result); err != nil {
		return PatchResult{}, err
	}

	return result, nil
}

func asCollision(err error, target **ErrCollision) bool {
	if c, ok := err.(*ErrCollision); ok {
		*target = c
		return true
	}
	return false
}
