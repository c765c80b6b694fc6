package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// overrideFile is the on-disk shape of a human override drop (spec §6
// "<root>/memory/overrides/*.json"). Human overrides bypass directly to
// approved (spec §4.5).
type overrideFile struct {
	ID                 string             `json:"id,omitempty"`
	EnforcementType    EnforcementType    `json:"enforcementType"`
	DomainAnchors      []string           `json:"domainAnchors"`
	RequiredSteps      []RequiredStepSpec `json:"requiredSteps,omitempty"`
	DenyCode           string             `json:"denyCode,omitempty"`
	EnforcementPayload map[string]any     `json:"enforcementPayload,omitempty"`
}

// OverrideIngestor scans the drop folder at `<root>/memory/overrides` and
// ingests any `*.json` file found there into the store, renaming each
// processed file with a `.processed` suffix so it is not re-ingested.
// Implements contextpack.OverrideIngestor.
type OverrideIngestor struct {
	root    string
	store   *Store
	logger  *slog.Logger
	nowFn   func() time.Time
	nextID  func() string
}

// NewOverrideIngestor creates an ingestor rooted at root (the project
// root, not the work-unit scratch root — overrides are shared across
// work units).
func NewOverrideIngestor(root string, store *Store, logger *slog.Logger, nextID func() string) *OverrideIngestor {
	return &OverrideIngestor{root: root, store: store, logger: logger, nowFn: time.Now, nextID: nextID}
}

func (o *OverrideIngestor) dropFolder() string {
	return filepath.Join(o.root, "memory", "overrides")
}

// IngestOverrides scans the drop folder, in filename order, parsing and
// storing each unprocessed *.json file before renaming it with a
// processed suffix. Must run before any memory query in the same turn
// (spec §4.2 step 1) — callers wire this as the Builder's Overrides
// collaborator so the ordering is structural rather than convention.
func (o *OverrideIngestor) IngestOverrides(ctx context.Context, workID string) (int, error) {
	dir := o.dropFolder()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading override drop folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	ingested := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			o.logger.Warn("failed reading override file", "path", path, "error", err)
			continue
		}

		var of overrideFile
		if err := json.Unmarshal(b, &of); err != nil {
			o.logger.Warn("invalid override file, skipping", "path", path, "error", err)
			continue
		}

		id := of.ID
		if id == "" {
			id = o.nextID()
		}
		rec := Record{
			ID:              id,
			EnforcementType: of.EnforcementType,
			LifecycleState:  StateApproved,
			DomainAnchors:   of.DomainAnchors,
			Provenance: Provenance{
				Source:    "override",
				CreatedAt: o.nowFn(),
				WorkID:    workID,
			},
			RequiredSteps:      of.RequiredSteps,
			DenyCode:           of.DenyCode,
			EnforcementPayload: of.EnforcementPayload,
		}
		o.store.Put(rec)
		ingested++

		processedPath := path + ".processed"
		if err := os.Rename(path, processedPath); err != nil {
			o.logger.Warn("failed marking override as processed", "path", path, "error", err)
		}
	}

	if ingested > 0 {
		o.logger.Info("ingested memory overrides", "count", ingested, "work_id", workID)
	}
	return ingested, nil
}

// InboxJob wraps the ingestor as a scheduler.Job so the drop folder is
// also swept on a fixed interval, independent of turn traffic — a human
// override dropped while no agent is active is still picked up before
// the next turn runs, instead of sitting unprocessed until then.
type InboxJob struct {
	ingestor *OverrideIngestor
}

// NewInboxJob creates a periodic override drop-folder sweep job.
func NewInboxJob(o *OverrideIngestor) *InboxJob { return &InboxJob{ingestor: o} }

func (j *InboxJob) Name() string { return "memory-override-inbox" }

func (j *InboxJob) Run(ctx context.Context) error {
	ingested, err := j.ingestor.IngestOverrides(ctx, "")
	if err != nil {
		return err
	}
	if ingested > 0 {
		j.ingestor.logger.Info("background override sweep ingested records", "count", ingested)
	}
	return nil
}
