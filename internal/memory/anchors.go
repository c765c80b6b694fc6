package memory

import (
	"context"

	"github.com/emergent-company/ctrlmcp/internal/contextpack"
)

// ActiveAnchors implements contextpack.MemorySource directly against the
// store, so the builder can be wired with *Store without a separate
// adapter type.
func (s *Store) ActiveAnchors(ctx context.Context, workID string, lexemes []string) ([]contextpack.MemoryAnchor, error) {
	records := s.Active(lexemes)
	out := make([]contextpack.MemoryAnchor, 0, len(records))
	for _, r := range records {
		out = append(out, contextpack.MemoryAnchor{
			ID:              r.ID,
			EnforcementType: string(r.EnforcementType),
			DomainAnchors:   r.DomainAnchors,
			Payload:         r.EnforcementPayload,
		})
	}
	return out, nil
}
