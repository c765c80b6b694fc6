package execution

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/emergent-company/ctrlmcp/internal/guards"
	"github.com/emergent-company/ctrlmcp/internal/plangraph"
)

// asyncIIFEPattern matches an async self-invoking expression, e.g.
// `(async () => { ... })()` or `(async function () { ... })()`. This is
// a syntactic gate, not a semantic one — spec §4.4 "Preflight rejects
// expressions that do not match the async-self-invoking form".
var asyncIIFEPattern = regexp.MustCompile(`(?s)^\s*\(\s*async\s*(?:function\s*\*?\s*\w*\s*\([^)]*\)|\([^)]*\)\s*=>)\s*\{.*\}\s*\)\s*\(\s*\)\s*;?\s*$`)

// placeholderResult is the literal rejected by the post-run check.
const placeholderResult = "placeholder result"

// SandboxRequest carries everything run_sandboxed_code needs.
type SandboxRequest struct {
	Expression    string
	Inputs        map[string]any
	Timeout       time.Duration
	MemoryCapMiB  int // advisory only — goja exposes no heap cap; see DESIGN.md
	ArtifactRef   string
}

// SandboxResult is what run_sandboxed_code returns.
type SandboxResult struct {
	Result      any      `json:"result,omitempty"`
	DenyReasons []string `json:"denyReasons,omitempty"`
}

// SandboxService implements run_sandboxed_code (spec §4.4). Each call
// runs in a fresh goja.Runtime — no state survives across calls, so
// "non-replayable runs are rejected" is satisfied by construction: every
// accepted run is exactly what the artifact bundle records.
type SandboxService struct {
	TmpRoot string
}

// NewSandboxService constructs a sandbox service.
func NewSandboxService(tmpRoot string) *SandboxService {
	return &SandboxService{TmpRoot: tmpRoot}
}

// Run executes req.Expression in an isolated goja runtime with a
// wall-clock timeout, then runs the post-run guard checks before
// persisting the result to the node's artifact bundle.
func (s *SandboxService) Run(ctx context.Context, workID, nodeID string, req SandboxRequest) (SandboxResult, error) {
	if !asyncIIFEPattern.MatchString(strings.TrimSpace(req.Expression)) {
		return SandboxResult{DenyReasons: []string{string(plangraph.CodeMissingRequiredFields)}}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	vm := goja.New()
	for k, v := range req.Inputs {
		if err := vm.Set(k, v); err != nil {
			return SandboxResult{}, fmt.Errorf("binding sandbox input %q: %w", k, err)
		}
	}

	type runOutcome struct {
		value goja.Value
		err   error
	}
	done := make(chan runOutcome, 1)

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("wall-clock timeout exceeded")
	})
	defer timer.Stop()

	go func() {
		v, err := vm.RunString(req.Expression)
		done <- runOutcome{value: v, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		vm.Interrupt("context canceled")
		outcome = <-done
	}

	gctx := &guards.GuardContext{NodeID: nodeID}

	if outcome.err != nil {
		if _, ok := outcome.err.(*goja.InterruptedError); ok {
			gctx.SandboxTimedOut = true
		} else {
			return SandboxResult{}, fmt.Errorf("sandboxed evaluation failed: %w", outcome.err)
		}
	}

	var resultValue any
	if outcome.value != nil {
		resultValue = resolvePromise(outcome.value, gctx)
	}

	if str, ok := resultValue.(string); ok && str == placeholderResult {
		gctx.SandboxPlaceholderResult = true
	}

	result := Runner.Run(ctx, gctx, SandboxGuards)
	if result.Blocked {
		var reasons []string
		for _, r := range result.HardBlocks() {
			reasons = append(reasons, r.GuardName)
		}
		return SandboxResult{DenyReasons: denyCodesForSandboxGuards(reasons)}, nil
	}

	bundle, err := OpenBundle(s.TmpRoot, workID, nodeID)
	if err != nil {
		return SandboxResult{}, err
	}
	out := SandboxResult{Result: resultValue}
	if err := bundle.WriteResult(out); err != nil {
		return SandboxResult{}, err
	}
	if req.ArtifactRef != "" {
		if err := bundle.WriteTraceRefs([]string{req.ArtifactRef}); err != nil {
			return SandboxResult{}, err
		}
	}
	if err := bundle.AppendOpLog("run_sandboxed_code completed"); err != nil {
		return SandboxResult{}, err
	}

	return out, nil
}

// resolvePromise unwraps a goja Promise's settled value. An async IIFE
// with no real asynchronous suspension (no timers/I/O, which the sandbox
// has none of) settles synchronously within the same RunString call.
func resolvePromise(v goja.Value, gctx *guards.GuardContext) any {
	exported := v.Export()
	p, ok := exported.(*goja.Promise)
	if !ok {
		return exported
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		if rv := p.Result(); rv != nil {
			return rv.Export()
		}
		return nil
	case goja.PromiseStateRejected:
		gctx.SandboxPlaceholderResult = false
		return nil
	default:
		gctx.SandboxTimedOut = true
		return nil
	}
}

func denyCodesForSandboxGuards(guardNames []string) []string {
	codes := make([]string, 0, len(guardNames))
	for _, n := range guardNames {
		switch n {
		case "sandbox_timeout":
			codes = append(codes, string(plangraph.CodeVerificationWeak))
		case "sandbox_placeholder_result":
			codes = append(codes, string(plangraph.CodeVerificationWeak))
		}
	}
	return codes
}
