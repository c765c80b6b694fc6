package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// configSchemaJSON is the JSON Schema the fully-merged config document
// must satisfy before Load returns it (spec §10.3 "unknown/missing keys
// fail fast"). additionalProperties: false at every level rejects typos
// in a repo or env-local override file immediately, rather than silently
// ignoring them the way the teacher's TOML decoder does for unknown keys.
const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["graph", "external", "server", "transport", "log", "controller", "memory", "metrics"],
  "additionalProperties": false,
  "properties": {
    "graph": {
      "type": "object",
      "additionalProperties": false,
      "required": ["uri"],
      "properties": {
        "uri": {"type": "string", "minLength": 1},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "database": {"type": "string"}
      }
    },
    "external": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "ticketTrackerUrl": {"type": "string"},
        "ticketToken": {"type": "string"},
        "apiSpecRegistry": {"type": "string"},
        "cacheDir": {"type": "string"}
      }
    },
    "server": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "version"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "version": {"type": "string", "minLength": 1}
      }
    },
    "transport": {
      "type": "object",
      "additionalProperties": false,
      "required": ["mode"],
      "properties": {
        "mode": {"type": "string", "enum": ["stdio", "http"]},
        "port": {"type": "string"},
        "host": {"type": "string"},
        "corsOrigins": {"type": "string"}
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "required": ["level"],
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    },
    "controller": {
      "type": "object",
      "additionalProperties": false,
      "required": ["budgetMax", "budgetThreshold", "worktreeRoot", "scratchRoot"],
      "properties": {
        "budgetMax": {"type": "integer", "minimum": 1},
        "budgetThreshold": {"type": "integer", "minimum": 1},
        "worktreeRoot": {"type": "string", "minLength": 1},
        "scratchRoot": {"type": "string", "minLength": 1},
        "eventLogPath": {"type": "string"},
        "codemodRegistryPath": {"type": "string"}
      }
    },
    "memory": {
      "type": "object",
      "additionalProperties": false,
      "required": ["frictionThreshold", "contestWindowHours"],
      "properties": {
        "frictionThreshold": {"type": "integer", "minimum": 1},
        "contestWindowHours": {"type": "integer", "minimum": 1},
        "promotionCron": {"type": "string"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "required": ["enabled"],
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func configSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(configSchemaJSON)))
		if err != nil {
			compileErr = fmt.Errorf("parsing embedded config schema: %w", err)
			return
		}
		const url = "mem://config/config.json"
		if err := compiler.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("adding embedded config schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(url)
	})
	return compiledSchema, compileErr
}

// validateMerged checks the fully-merged config map against the embedded
// schema.
func validateMerged(m map[string]any) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling merged config: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("unmarshaling merged config for validation: %w", err)
	}
	return schema.Validate(inst)
}
