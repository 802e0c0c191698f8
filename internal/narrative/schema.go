package narrative

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dshills/agentspec/internal/llm"
)

// recordSchema is the response contract for unit narratives. %s is replaced
// by the guardrails array constraints of the selected style.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["what", "why", "guardrails"],
  "properties": {
    "what": {"type": "string", "minLength": 1},
    "why": {"type": "string", "minLength": 1},
    "guardrails": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}%s
    }
  }
}`

const summarySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["change_summary"],
  "properties": {
    "change_summary": {"type": "string", "minLength": 1}
  }
}`

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

// compiled returns the schema for key, compiling it on first use.
func compiled(key, text string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	if s, ok := schemaCache[key]; ok {
		return s, nil
	}
	s, err := jsonschema.CompileString(key+".json", text)
	if err != nil {
		return nil, fmt.Errorf("narrative: compile schema %s: %w", key, err)
	}
	schemaCache[key] = s
	return s, nil
}

func recordSchemaFor(style Style) (*jsonschema.Schema, error) {
	extra := ""
	if style.MaxGuardrails > 0 {
		extra = fmt.Sprintf(",\n      \"maxItems\": %d", style.MaxGuardrails)
	}
	return compiled("record-"+style.Name, fmt.Sprintf(recordSchema, extra))
}

// decode cleans raw model output, validates it against schema and decodes it
// into out. The returned strings describe every violation; nil means out
// holds a valid response.
func decode(raw string, schema *jsonschema.Schema, out any) []string {
	cleaned := llm.StripFences(raw)
	doc, err := parseJSON(cleaned)
	if err != nil {
		// Unescaped regex backslashes are the common failure; fix them only
		// when the response does not parse as sent.
		fixed := llm.FixJSONEscapes(cleaned)
		if doc, err = parseJSON(fixed); err != nil {
			return []string{err.Error()}
		}
		cleaned = fixed
	}
	if err := schema.Validate(doc); err != nil {
		return validationMessages(err)
	}
	strict := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	if err := strict.Decode(out); err != nil {
		return []string{fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// parseJSON decodes exactly one JSON value with numbers kept as json.Number.
func parseJSON(text string) (any, error) {
	var doc any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("response contains more than one JSON value")
	}
	return doc, nil
}

// validationMessages flattens a jsonschema error tree into leaf messages
// prefixed by the offending instance location.
func validationMessages(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(msgs)
	return msgs
}
