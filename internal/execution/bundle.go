package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
)

// Bundle is the artifact directory per completed mutation node (spec §3
// "Artifact bundle"): result.json, op.log, trace.refs.json, and (for
// patches) diff.summary.json and validation.json.
type Bundle struct {
	dir string
}

// BundleDir returns the on-disk path for a node's artifact bundle.
func BundleDir(tmpRoot, workID, nodeID string) string {
	return filepath.Join(tmpRoot, "work", workID, "nodes", nodeID)
}

// OpenBundle creates (or reuses) the bundle directory for a node.
func OpenBundle(tmpRoot, workID, nodeID string) (*Bundle, error) {
	dir := BundleDir(tmpRoot, workID, nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact bundle dir: %w", err)
	}
	return &Bundle{dir: dir}, nil
}

func (b *Bundle) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(b.dir, name), data, 0o644)
}

// WriteResult writes result.json.
func (b *Bundle) WriteResult(v any) error { return b.writeJSON("result.json", v) }

// AppendOpLog appends one line to op.log (append-only per-node
// operation trace, mirroring the event log's own append-only discipline).
func (b *Bundle) AppendOpLog(line string) error {
	f, err := os.OpenFile(filepath.Join(b.dir, "op.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening op.log: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), line)
	return err
}

// WriteTraceRefs writes trace.refs.json: the citations/evidence refs the
// executed node relied on.
func (b *Bundle) WriteTraceRefs(refs []string) error {
	return b.writeJSON("trace.refs.json", map[string]any{"refs": refs})
}

// DiffSummary mirrors codemod.Summary with the field names spec §4.4
// names explicitly (changed/replacements/lineDelta).
type DiffSummary struct {
	Changed      bool `json:"changed"`
	Replacements int  `json:"replacements"`
	LineDelta    int  `json:"lineDelta"`
}

func diffSummaryFrom(s codemod.Summary) DiffSummary {
	return DiffSummary{Changed: s.Changed, Replacements: s.Replacements, LineDelta: s.LineDelta}
}

// WriteDiffSummary writes diff.summary.json (patches only).
func (b *Bundle) WriteDiffSummary(s codemod.Summary) error {
	return b.writeJSON("diff.summary.json", diffSummaryFrom(s))
}

// WriteValidation writes validation.json (patches only): the result of
// re-checking the written file against the plan's declared expectations.
func (b *Bundle) WriteValidation(v any) error { return b.writeJSON("validation.json", v) }
