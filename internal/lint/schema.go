package lint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// blockSchema describes a complete block body.
const blockSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["what", "why", "guardrails", "deps", "history"],
  "properties": {
    "what": {"type": "string", "minLength": 1},
    "why": {"type": "string", "minLength": 1},
    "guardrails": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "change_summary": {"type": "string"},
    "deps": {
      "type": "object",
      "additionalProperties": false,
      "required": ["calls", "imports", "decorators", "raises", "metrics"],
      "properties": {
        "calls": {"$ref": "#/definitions/names"},
        "imports": {"$ref": "#/definitions/names"},
        "decorators": {"$ref": "#/definitions/names"},
        "raises": {"$ref": "#/definitions/names"},
        "metrics": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "lines": {"$ref": "#/definitions/count"},
            "branches": {"$ref": "#/definitions/count"},
            "complexity": {"type": "integer", "minimum": 1},
            "params": {"$ref": "#/definitions/count"},
            "typed_params": {"$ref": "#/definitions/count"},
            "typed_return": {"type": "boolean"}
          }
        }
      }
    },
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["date", "hash", "subject"],
        "properties": {
          "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
          "hash": {"type": "string", "minLength": 1},
          "subject": {"type": "string"}
        }
      }
    }
  },
  "definitions": {
    "names": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "count": {"type": "integer", "minimum": 0}
  }
}`

var (
	schemaOnce sync.Once
	schemaErr  error
	schema     *jsonschema.Schema
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("block.json", blockSchema)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("lint: compile block schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// validateBody checks the YAML between the markers against blockSchema and
// returns one message per violation.
func validateBody(body string) ([]string, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return []string{fmt.Sprintf("body is not valid YAML: %v", err)}, nil
	}
	// Round-trip through JSON so the validator sees JSON value types.
	data, err := json.Marshal(doc)
	if err != nil {
		return []string{fmt.Sprintf("body cannot be represented as JSON: %v", err)}, nil
	}
	var inst any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&inst); err != nil {
		return nil, fmt.Errorf("lint: decode body: %w", err)
	}
	if err := s.Validate(inst); err != nil {
		return messages(err), nil
	}
	return nil, nil
}

// body returns the lines between the markers of dedented block text.
func body(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return ""
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func messages(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
