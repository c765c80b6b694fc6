package contextpack

import "fmt"

// RequestedEvidence names one piece of evidence an escalate node asks the
// builder to resolve (spec §4.2 "enrichment (escalate path)").
type RequestedEvidence struct {
	Kind string // "file" | "symbol"
	Ref  string
}

// EnrichDelta summarizes what an Enrich call added.
type EnrichDelta struct {
	AddedFiles   []string `json:"addedFiles"`
	AddedSymbols []string `json:"addedSymbols"`
	PreviousHash string   `json:"previousHash"`
	NewHash      string   `json:"newHash"`
}

// Enrich resolves additional files/symbols for a typed need and unions
// them into the pack's allow-list. The allow-list never shrinks: Enrich
// only appends. Does not persist; callers must call Write afterward.
func (b *Builder) Enrich(p *Pack, need string, requested []RequestedEvidence) (EnrichDelta, error) {
	if p == nil {
		return EnrichDelta{}, fmt.Errorf("enrich: nil pack")
	}
	prevHash := p.ContentHash

	if p.allowListSet == nil {
		p.rebuildIndex()
	}

	var addedFiles, addedSymbols []string
	for _, r := range requested {
		switch r.Kind {
		case "file":
			if !p.allowListSet[r.Ref] {
				p.allowListSet[r.Ref] = true
				p.AllowList = append(p.AllowList, r.Ref)
				addedFiles = append(addedFiles, r.Ref)
			}
		case "symbol":
			found := false
			for _, s := range p.SymbolInventory {
				if s == r.Ref {
					found = true
					break
				}
			}
			if !found {
				p.SymbolInventory = append(p.SymbolInventory, r.Ref)
				addedSymbols = append(addedSymbols, r.Ref)
			}
		}
	}
	p.AllowList = dedupSorted(p.AllowList)
	p.SymbolInventory = dedupSorted(p.SymbolInventory)
	p.rebuildIndex()

	newHash, err := hash(*p)
	if err != nil {
		return EnrichDelta{}, err
	}
	p.ContentHash = newHash

	return EnrichDelta{
		AddedFiles:   addedFiles,
		AddedSymbols: addedSymbols,
		PreviousHash: prevHash,
		NewHash:      newHash,
	}, nil
}
