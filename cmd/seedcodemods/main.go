// Command seedcodemods exports the built-in codemod catalog as JSON to the
// path configured as controller.codemodRegistryPath, so external tooling
// (an agent's system prompt builder, a docs generator) can enumerate valid
// `codemod:<id>[@v<N>]` citations without linking against the registry.
// Adapted from the teacher's seed.go, which published a template pack to a
// live Emergent project over the network; the private SDK it depended on
// is dropped (see DESIGN.md), and the analogous "publish a catalog" act
// here is a local file write instead of a remote API call.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/emergent-company/ctrlmcp/internal/codemod"
	"github.com/emergent-company/ctrlmcp/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("seedcodemods failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := codemod.NewBuiltinRegistry()
	catalog := registry.Catalog()

	out := cfg.Controller.CodemodRegistryPath
	if out == "" {
		out = ".ctrlmcp/codemods.json"
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("creating codemod registry directory: %w", err)
	}

	b, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling codemod catalog: %w", err)
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("writing codemod catalog to %s: %w", out, err)
	}

	log.Printf("wrote %d codemod catalog entries to %s", len(catalog), out)
	return nil
}
