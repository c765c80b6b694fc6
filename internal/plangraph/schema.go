package plangraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaJSON is the JSON Schema for "envelope completeness"
// (spec §4.3): the top-level fields every submitted plan document must
// carry, independent of node-level checks.
const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["identity", "packRef", "packHash", "policyVersions", "scopeAllowListRef", "strategy", "evidencePolicy", "schemaVersion", "nodes"],
  "properties": {
    "identity": {
      "type": "object",
      "required": ["runSessionId", "workId", "agentId"],
      "properties": {
        "runSessionId": {"type": "string", "minLength": 1},
        "workId": {"type": "string", "minLength": 1},
        "agentId": {"type": "string", "minLength": 1}
      }
    },
    "packRef": {"type": "string", "minLength": 1},
    "packHash": {"type": "string", "minLength": 1},
    "policyVersions": {"type": "object"},
    "scopeAllowListRef": {"type": "string", "minLength": 1},
    "strategy": {
      "type": "object",
      "required": ["id", "reasons"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "reasons": {"type": "array"}
      }
    },
    "evidencePolicy": {
      "type": "object",
      "required": ["requirement", "code", "policy"]
    },
    "schemaVersion": {"type": "string", "minLength": 1},
    "nodes": {"type": "array"}
  }
}`

var (
	compileOnce     sync.Once
	compiledSchema  *jsonschema.Schema
	compileErr      error
)

func envelopeSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(envelopeSchemaJSON)))
		if err != nil {
			compileErr = fmt.Errorf("parsing embedded envelope schema: %w", err)
			return
		}
		const url = "mem://plangraph/envelope.json"
		if err := compiler.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("adding embedded envelope schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(url)
	})
	return compiledSchema, compileErr
}

// validateEnvelope checks a document against the envelope schema, returning
// nil if it passes. Validation runs against the document's re-serialized
// form, in which every field the Document struct declares is present even
// if the submitted JSON omitted it: empty strings are caught by minLength
// rules and nil slices or maps (serialized as null) by type rules, not by
// required.
func validateEnvelope(doc Document) error {
	schema, err := envelopeSchema()
	if err != nil {
		return err
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling plan document: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("unmarshaling plan document for validation: %w", err)
	}
	return schema.Validate(inst)
}
