package turn

import (
	"encoding/json"

	"github.com/emergent-company/ctrlmcp/internal/capability"
)

// estimateTokens implements spec §4.1 step 2: "serialize verb+prompt+args,
// divide by 4" — the teacher's rough chars/4 heuristic, generalized from
// a single string field to the whole request payload.
func estimateTokens(req Request) int {
	payload := struct {
		Verb   capability.Verb `json:"verb"`
		Prompt string          `json:"prompt"`
		Args   map[string]any  `json:"args"`
	}{Verb: req.Verb, Prompt: req.OriginalPrompt, Args: req.Args}

	b, err := json.Marshal(payload)
	if err != nil {
		return (len(req.OriginalPrompt) + 3) / 4
	}
	n := (len(b) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
