package inference

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Pass names one kind of inference call. Each pass has its own response
// schema and model settings.
type Pass string

const (
	PassContext Pass = "context"
	PassDetails Pass = "details"
	PassScan    Pass = "scan"
	PassExtract Pass = "extract"
	PassDedup   Pass = "dedup"
)

// passOrder lists every pass in pipeline order.
var passOrder = []Pass{PassContext, PassScan, PassDetails, PassExtract, PassDedup}

// listKey is the field a bare top-level array is wrapped under.
func (p Pass) listKey() string {
	switch p {
	case PassDetails:
		return "details"
	case PassDedup:
		return "duplicate_groups"
	case PassExtract:
		return "quantities"
	default:
		return ""
	}
}

// Schemas are deliberately loose: they reject wrong shapes, not missing
// optional fields. Numbers may arrive as strings.
var schemaSources = map[Pass]string{
	PassContext: `{
		"type": "object",
		"properties": {
			"document_type": {"type": ["string", "null"]},
			"trade": {"type": ["string", "null"]},
			"project_name": {"type": ["string", "null"]},
			"legend_items": {"type": ["array", "null"], "items": {"type": "object"}},
			"key_specifications": {"type": ["array", "null"], "items": {"type": "string"}},
			"detail_references": {"type": ["array", "null"], "items": {"type": "object"}},
			"standards_referenced": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	PassDetails: `{
		"type": "object",
		"required": ["details"],
		"properties": {
			"details": {"type": ["array", "null"], "items": {"type": "object"}}
		}
	}`,
	PassScan: `{
		"type": "object",
		"required": ["relevant"],
		"properties": {
			"relevant": {"type": "boolean"},
			"topics_found": {"type": ["array", "null"], "items": {"type": "string"}},
			"keywords_found": {"type": ["array", "null"], "items": {"type": "string"}},
			"page_type": {"type": ["string", "null"]},
			"confidence": {"type": ["number", "string", "null"]},
			"brief_description": {"type": ["string", "null"]}
		}
	}`,
	PassExtract: `{
		"type": "object",
		"properties": {
			"page_type": {"type": ["string", "null"]},
			"quantities": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["item"],
					"properties": {
						"item": {"type": "string"},
						"value": {"type": ["number", "string", "null"]},
						"unit": {"type": ["string", "null"]}
					}
				}
			},
			"materials": {"type": ["array", "null"], "items": {"type": "object"}},
			"scope_items": {"type": ["array", "null"]},
			"specifications": {"type": ["array", "null"]},
			"notes": {"type": ["array", "null"]},
			"cross_references": {"type": ["array", "null"]}
		}
	}`,
	PassDedup: `{
		"type": "object",
		"required": ["duplicate_groups"],
		"properties": {
			"duplicate_groups": {
				"type": ["array", "null"],
				"items": {
					"type": "object",
					"required": ["keep_page", "remove_pages"],
					"properties": {
						"keep_page": {"type": "integer"},
						"remove_pages": {"type": "array", "items": {"type": "integer"}},
						"confidence": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`,
}

// compileSchemas compiles every pass schema once.
func compileSchemas() (map[Pass]*jsonschema.Schema, error) {
	return compileSchemaSet(passOrder, schemaSources)
}

// compileSchemaSet compiles one schema per pass and fails when a pass has
// no source, so a new pass cannot ship unvalidated.
func compileSchemaSet(passes []Pass, sources map[Pass]string) (map[Pass]*jsonschema.Schema, error) {
	out := make(map[Pass]*jsonschema.Schema, len(passes))
	for _, pass := range passes {
		src, ok := sources[pass]
		if !ok {
			return nil, eris.Errorf("inference: no schema for pass %s", pass)
		}
		compiler := jsonschema.NewCompiler()
		name := string(pass) + ".json"
		if err := compiler.AddResource(name, bytes.NewReader([]byte(src))); err != nil {
			return nil, eris.Wrapf(err, "inference: add schema %s", pass)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, eris.Wrapf(err, "inference: compile schema %s", pass)
		}
		out[pass] = schema
	}
	return out, nil
}

// validate checks data against the pass schema. Passes without a schema
// accept any object.
func validate(schemas map[Pass]*jsonschema.Schema, pass Pass, data []byte) error {
	schema, ok := schemas[pass]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "inference: unmarshal for validation")
	}
	if err := schema.Validate(v); err != nil {
		return eris.Wrapf(err, "inference: %s response does not match schema", pass)
	}
	return nil
}
