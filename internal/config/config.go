// Package config loads the controller's layered configuration: an
// embedded base, a repo-local override, an env-local override file, and
// finally environment variables (spec §10.3 "layered JSON... unknown or
// missing keys fail fast"). Generalized from the teacher's
// defaults-then-file-then-env TOML loader (`internal/config/config.go`)
// to JSON layering validated against a schema.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration for the controller process.
// Precedence, lowest to highest: embedded base -> repo config file ->
// env-local override file -> environment variables.
type Config struct {
	Graph      GraphConfig      `json:"graph"`
	External   ExternalConfig   `json:"external"`
	Server     ServerConfig     `json:"server"`
	Transport  TransportConfig  `json:"transport"`
	Log        LogConfig        `json:"log"`
	Controller ControllerConfig `json:"controller"`
	Memory     MemoryConfig     `json:"memory"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// GraphConfig holds the internal/graphadapter Neo4j connection details,
// generalized from the teacher's upstream Emergent connection block (same
// precedence shape, different backing store: a real open-source graph
// driver instead of the teacher's private SDK).
type GraphConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// ExternalConfig holds the base URLs and cache directory for
// internal/external's ticket/API-spec fetchers.
type ExternalConfig struct {
	TicketTrackerURL string `json:"ticketTrackerUrl"`
	TicketToken      string `json:"ticketToken"`
	APISpecRegistry  string `json:"apiSpecRegistry"`
	CacheDir         string `json:"cacheDir"`
}

// ServerConfig holds process identity metadata reported in the MCP
// initialize handshake.
type ServerConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TransportConfig holds transport-related settings.
type TransportConfig struct {
	Mode        string `json:"mode"` // "stdio" or "http"
	Port        string `json:"port"`
	Host        string `json:"host"`
	CORSOrigins string `json:"corsOrigins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json or text
}

// ControllerConfig holds the turn controller's tunables (spec §4.1 step 2,
// §4.5, §4.2's worktree/scratch scope roots).
type ControllerConfig struct {
	BudgetMax           int    `json:"budgetMax"`
	BudgetThreshold     int    `json:"budgetThreshold"`
	WorktreeRoot        string `json:"worktreeRoot"`
	ScratchRoot         string `json:"scratchRoot"`
	EventLogPath        string `json:"eventLogPath"`
	CodemodRegistryPath string `json:"codemodRegistryPath"`
}

// MemoryConfig holds friction-detection and auto-promotion tunables (spec
// §9's rejection threshold and contest-window defaults).
type MemoryConfig struct {
	FrictionThreshold int    `json:"frictionThreshold"`
	ContestWindowHours int   `json:"contestWindowHours"`
	PromotionCron     string `json:"promotionCron"`
}

// MetricsConfig holds the Prometheus side-channel exporter's settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

const baseConfigJSON = `{
  "graph": {"uri": "neo4j://localhost:7687", "username": "neo4j", "database": ""},
  "external": {"cacheDir": ".ctrlmcp/fetch-cache"},
  "server": {"name": "ctrlmcp", "version": "0.1.0"},
  "transport": {"mode": "stdio", "port": "21452", "host": "0.0.0.0", "corsOrigins": "*"},
  "log": {"level": "info", "format": "json"},
  "controller": {
    "budgetMax": 200000,
    "budgetThreshold": 180000,
    "worktreeRoot": ".",
    "scratchRoot": ".ctrlmcp/scratch",
    "eventLogPath": ".ctrlmcp/events.jsonl",
    "codemodRegistryPath": ".ctrlmcp/codemods.json"
  },
  "memory": {
    "frictionThreshold": 3,
    "contestWindowHours": 48,
    "promotionCron": "*/15 * * * *"
  },
  "metrics": {"enabled": false, "addr": ":9090"}
}`

// Load builds a Config by merging the embedded base document with a
// repo-local config file, an env-local override file, and environment
// variables, then validates the merged result against the embedded
// schema. explicitPath, if non-empty, overrides repo config discovery.
func Load(explicitPath string) (*Config, error) {
	merged := map[string]any{}
	if err := mergeJSON(&merged, []byte(baseConfigJSON)); err != nil {
		return nil, fmt.Errorf("parsing embedded base config: %w", err)
	}

	repoPath := resolveRepoConfigPath(explicitPath)
	if repoPath != "" {
		b, err := os.ReadFile(repoPath)
		if err != nil {
			return nil, fmt.Errorf("reading repo config %s: %w", repoPath, err)
		}
		if err := mergeJSON(&merged, b); err != nil {
			return nil, fmt.Errorf("parsing repo config %s: %w", repoPath, err)
		}
	}

	if envLocal := os.Getenv("CTRLMCP_CONFIG_LOCAL"); envLocal != "" {
		b, err := os.ReadFile(envLocal)
		if err != nil {
			return nil, fmt.Errorf("reading CTRLMCP_CONFIG_LOCAL file %s: %w", envLocal, err)
		}
		if err := mergeJSON(&merged, b); err != nil {
			return nil, fmt.Errorf("parsing CTRLMCP_CONFIG_LOCAL file %s: %w", envLocal, err)
		}
	}

	applyEnv(merged)

	if err := validateMerged(merged); err != nil {
		return nil, fmt.Errorf("config failed schema validation: %w", err)
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("re-marshaling merged config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("decoding merged config: %w", err)
	}
	return cfg, nil
}

// resolveRepoConfigPath determines which repo-local config file to use,
// if any. Unlike the teacher's specmcp.toml search, the repo file is
// scoped under a dotdir so it can sit alongside other controller state
// (event log, scratch root) without cluttering the target repo's root.
func resolveRepoConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("CTRLMCP_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(".ctrlmcp/config.json"); err == nil {
		return ".ctrlmcp/config.json"
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "ctrlmcp", "config.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// mergeJSON decodes b and shallow-merges each top-level section (graph,
// server, ...) into dst, merging nested keys one level deep so a layer can
// override a single field (e.g. "log": {"level": "debug"}) without
// repeating every sibling key.
func mergeJSON(dst *map[string]any, b []byte) error {
	var layer map[string]any
	if err := json.Unmarshal(b, &layer); err != nil {
		return err
	}
	for section, v := range layer {
		vObj, ok := v.(map[string]any)
		if !ok {
			(*dst)[section] = v
			continue
		}
		existing, _ := (*dst)[section].(map[string]any)
		if existing == nil {
			existing = map[string]any{}
		}
		for k, vv := range vObj {
			existing[k] = vv
		}
		(*dst)[section] = existing
	}
	return nil
}

// applyEnv overlays environment variables on top of the merged document,
// exactly like the teacher's envOverride but JSON-section-aware.
func applyEnv(m map[string]any) {
	set := func(section, key, envVar string) {
		v := os.Getenv(envVar)
		if v == "" {
			return
		}
		sec, _ := m[section].(map[string]any)
		if sec == nil {
			sec = map[string]any{}
		}
		sec[key] = v
		m[section] = sec
	}

	set("graph", "uri", "CTRLMCP_GRAPH_URI")
	set("graph", "username", "CTRLMCP_GRAPH_USERNAME")
	set("graph", "password", "CTRLMCP_GRAPH_PASSWORD")
	set("graph", "database", "CTRLMCP_GRAPH_DATABASE")

	set("external", "ticketTrackerUrl", "CTRLMCP_TICKET_TRACKER_URL")
	set("external", "ticketToken", "CTRLMCP_TICKET_TOKEN")
	set("external", "apiSpecRegistry", "CTRLMCP_API_SPEC_REGISTRY")
	set("external", "cacheDir", "CTRLMCP_FETCH_CACHE_DIR")

	set("transport", "mode", "CTRLMCP_TRANSPORT")
	set("transport", "port", "CTRLMCP_PORT")
	set("transport", "host", "CTRLMCP_HOST")
	set("transport", "corsOrigins", "CTRLMCP_CORS_ORIGINS")

	set("log", "level", "CTRLMCP_LOG_LEVEL")
	set("log", "format", "CTRLMCP_LOG_FORMAT")

	set("controller", "worktreeRoot", "CTRLMCP_WORKTREE_ROOT")
	set("controller", "scratchRoot", "CTRLMCP_SCRATCH_ROOT")
	set("controller", "eventLogPath", "CTRLMCP_EVENT_LOG_PATH")

	if v := os.Getenv("CTRLMCP_BUDGET_MAX"); v != "" {
		setInt(m, "controller", "budgetMax", v)
	}
	if v := os.Getenv("CTRLMCP_BUDGET_THRESHOLD"); v != "" {
		setInt(m, "controller", "budgetThreshold", v)
	}
	if v := os.Getenv("CTRLMCP_METRICS_ENABLED"); v != "" {
		sec, _ := m["metrics"].(map[string]any)
		if sec == nil {
			sec = map[string]any{}
		}
		sec["enabled"] = v == "true" || v == "1"
		m["metrics"] = sec
	}
}

func setInt(m map[string]any, section, key, raw string) {
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return
	}
	sec, _ := m[section].(map[string]any)
	if sec == nil {
		sec = map[string]any{}
	}
	sec[key] = n
	m[section] = sec
}
