package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// configSchema constrains the shape of a PolicyConfig bundle before any
// rule gets as far as pattern compilation — catching a malformed bundle
// (wrong field types, an unrecognized decision value) as a single
// ConfigInvalidError instead of a confusing failure partway through
// compileRule.
const configSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"defaultPolicy": {"enum": ["allow", "warn", "deny"]},
		"enforce": {"type": "boolean"},
		"preset": {"type": "string"},
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "name", "priority", "decision", "match"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"name": {"type": "string"},
					"priority": {"type": "integer"},
					"decision": {"enum": ["allow", "warn", "deny"]},
					"reason": {"type": "string"},
					"match": {
						"type": "object",
						"properties": {
							"tools": {"type": "array", "items": {"type": "string"}},
							"categories": {"type": "array", "items": {"type": "string"}},
							"targetPatterns": {"type": "array", "items": {"type": "string"}},
							"targetPatternsAreRegex": {"type": "boolean"},
							"rateLimit": {
								"type": "object",
								"required": ["maxCount", "windowMs"],
								"properties": {
									"maxCount": {"type": "integer", "minimum": 1},
									"windowMs": {"type": "integer", "minimum": 1}
								}
							},
							"timeWindow": {
								"type": "object",
								"properties": {
									"allowedHours": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
									"allowedDays": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 6}},
									"timezone": {"type": "string"}
								}
							}
						}
					}
				}
			}
		}
	}
}`

var compiledConfigSchema *jsonschema.Schema

func init() {
	var schemaObj any
	if err := json.Unmarshal([]byte(configSchema), &schemaObj); err != nil {
		panic(fmt.Sprintf("policy: embedded config schema is invalid JSON: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("policy-config.json", schemaObj); err != nil {
		panic(fmt.Sprintf("policy: compiling embedded config schema: %v", err))
	}
	sch, err := c.Compile("policy-config.json")
	if err != nil {
		panic(fmt.Sprintf("policy: compiling embedded config schema: %v", err))
	}
	compiledConfigSchema = sch
}

// ValidateConfigSchema validates cfg's JSON encoding against the
// PolicyConfig JSON Schema contract. New runs it on the resolved config
// (after ResolveConfig has expanded any preset, so a bundle that takes
// its defaultPolicy from a preset passes) and before any rule is
// compiled, so a malformed bundle is reported as a single
// ConfigInvalidError rather than surfacing as a confusing downstream
// panic or nil-pointer issue.
func ValidateConfigSchema(cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return &ConfigInvalidError{Reason: fmt.Sprintf("marshaling config for validation: %v", err)}
	}

	var asAny any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&asAny); err != nil {
		return &ConfigInvalidError{Reason: fmt.Sprintf("decoding config for validation: %v", err)}
	}

	if err := compiledConfigSchema.Validate(asAny); err != nil {
		return &ConfigInvalidError{Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}
	return nil
}
